package safety

import (
	"fmt"
	"strings"
	"sync"
)

// PolicyDecision is the outcome of evaluating an ActionClass against a
// PlatformPolicy.
type PolicyDecision struct {
	Allow           bool
	RequireApproval bool
	Blocked         bool
	Reason          string
	Suggestion      string
	TimeoutMinutes  int
}

// PlatformPolicy declares which ActionClasses a platform may execute
// outright, which require human approval, and which are blocked entirely.
// Grounded on original_source crates/aof-triggers/src/safety/policy.rs.
type PlatformPolicy struct {
	BlockedClasses         []ActionClass `yaml:"blocked_classes,omitempty" json:"blocked_classes,omitempty"`
	ApprovalClasses        []ActionClass `yaml:"approval_classes,omitempty" json:"approval_classes,omitempty"`
	AllowedClasses         []ActionClass `yaml:"allowed_classes,omitempty" json:"allowed_classes,omitempty"`
	BlockedMessage         string        `yaml:"blocked_message,omitempty" json:"blocked_message,omitempty"`
	ApprovalTimeoutMinutes int           `yaml:"approval_timeout_minutes,omitempty" json:"approval_timeout_minutes,omitempty"`
}

const defaultApprovalTimeoutMinutes = 30

// ReadOnlyPolicy blocks every mutation, allowing only reads. Used as the
// fail-secure default for unknown platforms.
func ReadOnlyPolicy() PlatformPolicy {
	return PlatformPolicy{
		BlockedClasses:         []ActionClass{ActionWrite, ActionDelete, ActionDangerous},
		AllowedClasses:         []ActionClass{ActionRead},
		BlockedMessage:         "this platform is read-only",
		ApprovalTimeoutMinutes: defaultApprovalTimeoutMinutes,
	}
}

// RequireWriteApprovalPolicy allows reads, gates writes/deletes behind
// approval, and blocks dangerous operations outright.
func RequireWriteApprovalPolicy() PlatformPolicy {
	return PlatformPolicy{
		BlockedClasses:         []ActionClass{ActionDangerous},
		ApprovalClasses:        []ActionClass{ActionWrite, ActionDelete},
		AllowedClasses:         []ActionClass{ActionRead},
		ApprovalTimeoutMinutes: defaultApprovalTimeoutMinutes,
	}
}

// PermissivePolicy allows every action class outright.
func PermissivePolicy() PlatformPolicy {
	return PlatformPolicy{
		AllowedClasses:         []ActionClass{ActionRead, ActionWrite, ActionDelete, ActionDangerous},
		ApprovalTimeoutMinutes: defaultApprovalTimeoutMinutes,
	}
}

// Evaluate applies blocked -> approval -> allowed precedence, falling
// through to blocked for any class not explicitly allowed.
func (p PlatformPolicy) Evaluate(class ActionClass) PolicyDecision {
	timeout := p.ApprovalTimeoutMinutes
	if timeout <= 0 {
		timeout = defaultApprovalTimeoutMinutes
	}

	if classIn(p.BlockedClasses, class) {
		return PolicyDecision{
			Blocked:    true,
			Reason:     fmt.Sprintf("%s operations are blocked on this platform", class),
			Suggestion: p.BlockedMessage,
		}
	}

	if classIn(p.ApprovalClasses, class) {
		return PolicyDecision{
			RequireApproval: true,
			Reason:          fmt.Sprintf("%s operations require approval on this platform", class),
			TimeoutMinutes:  timeout,
		}
	}

	if classIn(p.AllowedClasses, class) {
		return PolicyDecision{Allow: true}
	}

	return PolicyDecision{
		Blocked: true,
		Reason:  fmt.Sprintf("%s operations are not explicitly allowed on this platform", class),
	}
}

func classIn(classes []ActionClass, class ActionClass) bool {
	for _, c := range classes {
		if c == class {
			return true
		}
	}
	return false
}

// PolicyEngine holds per-platform policies plus the set of users allowed to
// approve gated operations, applying a fail-secure default to platforms it
// has no policy for.
type PolicyEngine struct {
	mu                   sync.RWMutex
	policies             map[string]PlatformPolicy
	defaultPolicy        PlatformPolicy
	approvalAllowedUsers []string
}

// NewPolicyEngine returns a PolicyEngine preloaded with the platform
// defaults: CLI permissive, Slack/Discord require approval on writes and
// block dangerous operations, Telegram/WhatsApp read-only, and a
// read-only fail-secure default for anything unlisted.
func NewPolicyEngine() *PolicyEngine {
	return &PolicyEngine{
		policies: map[string]PlatformPolicy{
			"cli":      PermissivePolicy(),
			"slack":    RequireWriteApprovalPolicy(),
			"discord":  RequireWriteApprovalPolicy(),
			"telegram": ReadOnlyPolicy(),
			"whatsapp": ReadOnlyPolicy(),
		},
		defaultPolicy: ReadOnlyPolicy(),
	}
}

// SetPolicy installs the policy for a platform, replacing any default.
func (e *PolicyEngine) SetPolicy(platform string, policy PlatformPolicy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.policies[strings.ToLower(platform)] = policy
}

// SetDefaultPolicy replaces the fail-secure policy used for platforms with
// no explicit entry.
func (e *PolicyEngine) SetDefaultPolicy(policy PlatformPolicy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.defaultPolicy = policy
}

// SetApprovalUsers replaces the list of users/roles allowed to approve
// gated operations. An empty list means anyone may approve.
func (e *PolicyEngine) SetApprovalUsers(users []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.approvalAllowedUsers = users
}

// CanUserApprove reports whether userID may approve a pending operation.
// Entries prefixed with "@" match as a role/group substring (e.g. "@oncall"
// matches "oncall-engineer").
func (e *PolicyEngine) CanUserApprove(userID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if len(e.approvalAllowedUsers) == 0 {
		return true
	}
	for _, u := range e.approvalAllowedUsers {
		if strings.HasPrefix(u, "@") {
			if strings.Contains(userID, u[1:]) {
				return true
			}
			continue
		}
		if u == userID {
			return true
		}
	}
	return false
}

// GetPolicy returns the policy in effect for platform, falling back to the
// engine's default policy.
func (e *PolicyEngine) GetPolicy(platform string) PlatformPolicy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if p, ok := e.policies[strings.ToLower(platform)]; ok {
		return p
	}
	return e.defaultPolicy
}

// Evaluate classifies command and evaluates it against platform's policy.
func (e *PolicyEngine) Evaluate(platform string, classifier *ToolClassifier, command string) (ClassificationResult, PolicyDecision) {
	result := classifier.Classify(command)
	return result, e.GetPolicy(platform).Evaluate(result.Class)
}
