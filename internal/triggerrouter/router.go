// Package triggerrouter resolves an inbound platform event into a ranked
// list of candidate FlowBindings and turns the winner into a Resolved
// Execution Context ready to hand to the Orchestrator. Grounded almost
// verbatim in algorithm on original_source's
// crates/aof-triggers/src/flow/binding_router.rs (trigger match → binding
// match → score → sort) and crates/aof-core/src/binding.rs's match_score
// formula, Go-idiomized with the teacher's compiled-regex-cache idiom
// from internal/multiagent/router.go.
package triggerrouter

import (
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/agenticdevops/aof/internal/aoftypes"
)

// Message is one inbound platform event to route.
type Message struct {
	Channel   string
	User      string
	UserName  string
	Text      string
	ThreadID  string
	Event     string
	Metadata  map[string]any
}

// TriggerLookup resolves a Trigger by name.
type TriggerLookup interface {
	Get(name string) (*aoftypes.Trigger, bool)
}

// ContextLookup resolves a Context by name.
type ContextLookup interface {
	Get(name string) (*aoftypes.Context, bool)
}

// BindingLister returns every FlowBinding in declaration order. Order
// matters: Route breaks score ties by declaration order.
type BindingLister interface {
	GetAll() []*aoftypes.FlowBinding
}

// TargetResolver reports whether a binding's target resource exists, so
// Route can skip bindings that point at nothing.
type TargetResolver interface {
	ResolveTarget(kind aoftypes.TargetKind, name string) bool
}

// Match is one binding that matched an inbound Message, carrying its
// resolved Trigger and (optional) Context plus the combined score.
type Match struct {
	Binding *aoftypes.FlowBinding
	Trigger *aoftypes.Trigger
	Context *aoftypes.Context
	Score   int
}

// ResolvedExecutionContext is everything the Orchestrator needs to
// execute a matched binding's target.
type ResolvedExecutionContext struct {
	TargetKind       aoftypes.TargetKind
	TargetName       string
	EnvVars          map[string]string
	RequiresApproval bool
	AllowedApprovers []string
	ContextName      string
	TriggerName      string
	BindingName      string
	TriggerPayload   map[string]any
}

// Router routes inbound platform events to FlowBindings.
type Router struct {
	bindings       BindingLister
	triggers       TriggerLookup
	contexts       ContextLookup
	targets        TargetResolver
	defaultContext string

	mu               sync.Mutex
	compiledPatterns map[string]*regexp.Regexp
}

// New returns a Router over the given lookups. A nil contexts lookup is
// valid for deployments that don't use Context resources.
func New(bindings BindingLister, triggers TriggerLookup, contexts ContextLookup, targets TargetResolver) *Router {
	return &Router{
		bindings:         bindings,
		triggers:         triggers,
		contexts:         contexts,
		targets:          targets,
		compiledPatterns: make(map[string]*regexp.Regexp),
	}
}

// SetDefaultContext sets the Context used by bindings that don't name one.
func (r *Router) SetDefaultContext(name string) {
	r.defaultContext = name
}

// Route returns every enabled binding matching msg on platform, sorted by
// score descending, stable on ties by declaration order. A nil slice
// means no binding matched.
func (r *Router) Route(platform string, msg Message) []Match {
	var matches []Match

	for _, binding := range r.bindings.GetAll() {
		if !binding.Spec.Enabled {
			continue
		}

		trigger, ok := r.triggers.Get(binding.Spec.Trigger)
		if !ok || trigger.Spec.Platform != platform {
			continue
		}

		triggerScore, ok := r.scoreTrigger(trigger, msg)
		if !ok {
			continue
		}

		bindingScore, ok := scoreBinding(binding, msg)
		if !ok {
			continue
		}

		kind, name, hasTarget := binding.Spec.Target()
		if !hasTarget || (r.targets != nil && !r.targets.ResolveTarget(kind, name)) {
			continue
		}

		var ctx *aoftypes.Context
		if r.contexts != nil {
			ctxName := binding.Spec.Context
			if ctxName == "" {
				ctxName = r.defaultContext
			}
			if ctxName != "" {
				ctx, _ = r.contexts.Get(ctxName)
			}
		}

		matches = append(matches, Match{
			Binding: binding,
			Trigger: trigger,
			Context: ctx,
			Score:   triggerScore + bindingScore,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})

	return matches
}

// RouteBest returns the top-scoring Match, if any.
func (r *Router) RouteBest(platform string, msg Message) (Match, bool) {
	matches := r.Route(platform, msg)
	if len(matches) == 0 {
		return Match{}, false
	}
	return matches[0], true
}

// Resolve converts a Match into the execution context its target needs.
func (m Match) Resolve(msg Message) ResolvedExecutionContext {
	kind, name, _ := m.Binding.Spec.Target()

	rec := ResolvedExecutionContext{
		TargetKind:  kind,
		TargetName:  name,
		TriggerName: m.Trigger.MetadataField.Name,
		BindingName: m.Binding.MetadataField.Name,
		TriggerPayload: map[string]any{
			"channel":  msg.Channel,
			"user":     msg.User,
			"username": msg.UserName,
			"text":     msg.Text,
			"thread":   msg.ThreadID,
			"event":    msg.Event,
			"metadata": msg.Metadata,
		},
	}

	if m.Context != nil {
		rec.EnvVars = m.Context.GetEnvVars()
		rec.RequiresApproval = m.Context.RequiresApproval(msg.Text)
		rec.ContextName = m.Context.MetadataField.Name
		if m.Context.Spec.Approval != nil {
			rec.AllowedApprovers = m.Context.Spec.Approval.AllowedUsers
		}
	}

	return rec
}

// CanApprove reports whether user may approve actions under this match's
// Context. A binding with no Context has no approval restrictions.
func (m Match) CanApprove(user string) bool {
	if m.Context == nil {
		return true
	}
	return m.Context.IsApprover(user)
}

// MatchCommand checks trigger's literal command_bindings for a pattern
// that matches text directly, bypassing match-score routing entirely.
// Returns the highest-priority match.
func (r *Router) MatchCommand(platform string, msg Message) (*aoftypes.CommandBinding, *aoftypes.Trigger, bool) {
	var best *aoftypes.CommandBinding
	var bestTrigger *aoftypes.Trigger

	for _, binding := range r.bindings.GetAll() {
		trigger, ok := r.triggers.Get(binding.Spec.Trigger)
		if !ok || trigger.Spec.Platform != platform {
			continue
		}
		for i := range trigger.Spec.CommandBindings {
			cb := &trigger.Spec.CommandBindings[i]
			if !r.patternMatches(cb.Pattern, msg.Text) {
				continue
			}
			if best == nil || cb.Priority > best.Priority {
				best = cb
				bestTrigger = trigger
			}
		}
	}

	return best, bestTrigger, best != nil
}

func (r *Router) patternMatches(pattern, text string) bool {
	if pattern == "" || text == "" {
		return false
	}

	r.mu.Lock()
	re, ok := r.compiledPatterns[pattern]
	if !ok {
		var err error
		re, err = regexp.Compile("(?i)" + pattern)
		if err != nil {
			r.mu.Unlock()
			return strings.Contains(strings.ToLower(text), strings.ToLower(pattern))
		}
		r.compiledPatterns[pattern] = re
	}
	r.mu.Unlock()

	return re.MatchString(text)
}

// scoreTrigger reports the match score for trigger against msg, and
// whether trigger's filters allow it at all.
func (r *Router) scoreTrigger(trigger *aoftypes.Trigger, msg Message) (int, bool) {
	f := trigger.Spec.Filters

	if !matchesList(f.Channels, msg.Channel) {
		return 0, false
	}
	if !matchesList(f.Users, msg.User) {
		return 0, false
	}
	if len(f.Patterns) > 0 && !r.anyPatternMatches(f.Patterns, msg.Text) {
		return 0, false
	}
	if !containsAllKeywords(f.RequiredKeywords, msg.Text) {
		return 0, false
	}
	if containsAnyKeyword(f.ExcludedKeywords, msg.Text) {
		return 0, false
	}
	if len(trigger.Spec.Events) > 0 && !stringInList(trigger.Spec.Events, msg.Event) {
		return 0, false
	}

	score := 0
	if len(f.Channels) > 0 {
		score += 100
	}
	if len(f.Users) > 0 {
		score += 80
	}
	if len(f.Patterns) > 0 {
		score += 60
	}
	score += 40 * len(f.RequiredKeywords)
	score += 10

	return score, true
}

// scoreBinding reports the match score for binding against msg, and
// whether binding's match config allows it at all. An absent match
// config matches unconditionally with only the base score.
func scoreBinding(binding *aoftypes.FlowBinding, msg Message) (int, bool) {
	m := binding.Spec.Match

	if !matchesList(m.Channels, msg.Channel) {
		return 0, false
	}
	if !matchesList(m.Users, msg.User) {
		return 0, false
	}
	if len(m.Patterns) > 0 && !anyPatternMatchesUncached(m.Patterns, msg.Text) {
		return 0, false
	}
	if !containsAllKeywords(m.RequiredKeywords, msg.Text) {
		return 0, false
	}
	if containsAnyKeyword(m.ExcludedKeywords, msg.Text) {
		return 0, false
	}
	if len(m.Events) > 0 && !stringInList(m.Events, msg.Event) {
		return 0, false
	}

	score := m.Priority
	if len(m.Channels) > 0 {
		score += 100
	}
	if len(m.Users) > 0 {
		score += 80
	}
	if len(m.Patterns) > 0 {
		score += 60
	}
	score += 40 * len(m.RequiredKeywords)
	score += 10

	return score, true
}

func matchesList(allowed []string, value string) bool {
	if len(allowed) == 0 {
		return true
	}
	if value == "" {
		return false
	}
	return stringInList(allowed, value)
}

func stringInList(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}

func (r *Router) anyPatternMatches(patterns []string, text string) bool {
	for _, p := range patterns {
		if r.patternMatches(p, text) {
			return true
		}
	}
	return false
}

func anyPatternMatchesUncached(patterns []string, text string) bool {
	for _, p := range patterns {
		if re, err := regexp.Compile("(?i)" + p); err == nil {
			if re.MatchString(text) {
				return true
			}
			continue
		}
		if strings.Contains(strings.ToLower(text), strings.ToLower(p)) {
			return true
		}
	}
	return false
}

func containsAllKeywords(keywords []string, text string) bool {
	if len(keywords) == 0 {
		return true
	}
	if text == "" {
		return false
	}
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if !strings.Contains(lower, strings.ToLower(kw)) {
			return false
		}
	}
	return true
}

func containsAnyKeyword(keywords []string, text string) bool {
	if len(keywords) == 0 || text == "" {
		return false
	}
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
