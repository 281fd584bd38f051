package contracts

import "sync"

// Registry holds contracts in registration order. Re-registering an id
// replaces the prior definition in place, keeping its evaluation position.
type Registry struct {
	mu      sync.Mutex
	ordered []*Contract
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register validates and stores a contract. A contract with a known id
// replaces the existing definition.
func (r *Registry) Register(c Contract) error {
	if err := c.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.ordered {
		if existing.ID == c.ID {
			r.ordered[i] = &c
			return nil
		}
	}
	r.ordered = append(r.ordered, &c)
	return nil
}

// Get returns the contract with the given id, or nil.
func (r *Registry) Get(id string) *Contract {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.ordered {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// Snapshot returns the current registration-order list. Evaluations iterate
// over a snapshot, so mid-evaluation re-registration affects the next
// emission only.
func (r *Registry) Snapshot() []*Contract {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out = make([]*Contract, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Reset drops every contract.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ordered = nil
}
