// Package channels defines the abstract Platform contract inbound webhooks
// are parsed against and outbound responses are sent through. Concrete wire
// parsing for any one platform is a collaborator concern (spec.md §1); this
// package only carries the contract plus thin shims for the three
// highest-traffic platforms, grounded on the teacher's
// internal/channels/{channel.go,registry.go}.
package channels

import (
	"context"
	"fmt"
	"sync"

	"github.com/agenticdevops/aof/internal/triggerrouter"
)

// Platform is the minimal contract a chat/event adapter implements: turn a
// raw webhook body into a routable Message, and send text back.
type Platform interface {
	// Name identifies the platform as triggers reference it
	// (trigger.spec.platform), e.g. "slack", "discord", "telegram".
	Name() string

	// ParseEvent turns a raw webhook body into a Message the Trigger
	// Router can match. A body that carries no user-facing event (a
	// challenge ping, a bot's own echo) returns ok=false with no error.
	ParseEvent(ctx context.Context, body []byte) (msg triggerrouter.Message, ok bool, err error)

	// Send delivers text to channel on this platform.
	Send(ctx context.Context, channel, text string) error
}

// Registry is a name-keyed lookup of registered Platforms.
type Registry struct {
	mu        sync.RWMutex
	platforms map[string]Platform
}

// NewRegistry returns an empty platform Registry.
func NewRegistry() *Registry {
	return &Registry{platforms: make(map[string]Platform)}
}

// Register adds p under p.Name(), replacing any existing entry.
func (r *Registry) Register(p Platform) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.platforms[p.Name()] = p
}

// Get returns the Platform named name, if registered.
func (r *Registry) Get(name string) (Platform, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.platforms[name]
	return p, ok
}

// Send resolves platform by name and sends text to channel through it.
func (r *Registry) Send(ctx context.Context, platform, channel, text string) error {
	p, ok := r.Get(platform)
	if !ok {
		return fmt.Errorf("channels: unknown platform %q", platform)
	}
	return p.Send(ctx, channel, text)
}

// Names returns every registered platform name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.platforms))
	for name := range r.platforms {
		out = append(out, name)
	}
	return out
}
