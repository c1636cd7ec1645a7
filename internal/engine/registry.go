package engine

import (
	"fmt"
	"sync"

	"github.com/petrijr/sconcur/internal/flow"
	"github.com/petrijr/sconcur/pkg/api"
)

type flowRegistry struct {
	mu        sync.RWMutex
	byKey     map[string]*flow.Flow
	destroyed bool

	// released remembers keys whose stopped flow was released, so they
	// stay known after their flow is gone. Nil unless tracking is on.
	released map[string]struct{}

	policy  api.StoppedFlowPolicy
	newFlow func(key string) *flow.Flow
}

func newFlowRegistry(policy api.StoppedFlowPolicy, trackReleased bool, newFlow func(key string) *flow.Flow) *flowRegistry {
	r := &flowRegistry{
		byKey:   make(map[string]*flow.Flow),
		policy:  policy,
		newFlow: newFlow,
	}
	if trackReleased {
		r.released = make(map[string]struct{})
	}
	return r
}

// resolveOrCreate returns the flow for key, creating it when missing. A
// flow that is no longer Active is replaced under the recreate policy.
func (r *flowRegistry) resolveOrCreate(key string) (*flow.Flow, bool, error) {
	r.mu.RLock()
	if r.destroyed {
		r.mu.RUnlock()
		return nil, false, fmt.Errorf("resolve flow %q: %w", key, api.ErrRegistryDestroyed)
	}
	f := r.byKey[key]
	r.mu.RUnlock()

	if f != nil && r.usable(f) {
		return f, false, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.destroyed {
		return nil, false, fmt.Errorf("resolve flow %q: %w", key, api.ErrRegistryDestroyed)
	}
	if f = r.byKey[key]; f != nil && r.usable(f) {
		return f, false, nil
	}

	prev := f
	f = r.newFlow(key)
	if prev != nil {
		// Outcomes stored before the stop stay deliverable under the key.
		f.Adopt(prev)
	}
	delete(r.released, key)
	r.byKey[key] = f
	return f, true, nil
}

func (r *flowRegistry) usable(f *flow.Flow) bool {
	return r.policy == api.StoppedFlowReject || f.State() == api.FlowActive
}

// lookup returns the flow for key or nil. It never creates. known is true
// for a registered flow and for a key whose flow was released.
func (r *flowRegistry) lookup(key string) (f *flow.Flow, known bool, err error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.destroyed {
		return nil, false, fmt.Errorf("lookup flow %q: %w", key, api.ErrRegistryDestroyed)
	}
	if f = r.byKey[key]; f != nil {
		return f, true, nil
	}
	_, known = r.released[key]
	return nil, known, nil
}

// release forgets f if it is still the flow registered under its key.
func (r *flowRegistry) release(f *flow.Flow) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.byKey[f.Key()] != f {
		return
	}
	delete(r.byKey, f.Key())
	if r.released != nil {
		r.released[f.Key()] = struct{}{}
	}
}

// destroy marks the registry destroyed and hands back every flow it held.
// Only the first call returns flows.
func (r *flowRegistry) destroy() []*flow.Flow {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.destroyed {
		return nil
	}
	r.destroyed = true

	out := make([]*flow.Flow, 0, len(r.byKey))
	for _, f := range r.byKey {
		out = append(out, f)
	}
	r.byKey = make(map[string]*flow.Flow)
	r.released = nil
	return out
}

func (r *flowRegistry) isDestroyed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.destroyed
}

func (r *flowRegistry) size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byKey)
}
