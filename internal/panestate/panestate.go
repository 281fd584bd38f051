// Package panestate tracks the per-recipient state vector: activity, gates,
// connectivity and overlay. Updates are partial merges at the shallow
// leaves; structurally identical writes produce no change.
package panestate

import "sync"

// Activity describes what a pane is currently doing.
type Activity string

const (
	ActivityIdle       Activity = "idle"
	ActivityInjecting  Activity = "injecting"
	ActivityResizing   Activity = "resizing"
	ActivityRecovering Activity = "recovering"
	ActivityError      Activity = "error"
)

// Compacting is the context-compaction gate state.
type Compacting string

const (
	CompactingNone      Compacting = "none"
	CompactingSuspected Compacting = "suspected"
	CompactingConfirmed Compacting = "confirmed"
	CompactingCooldown  Compacting = "cooldown"
)

// Link is a connectivity leg status.
type Link string

const (
	LinkUp   Link = "up"
	LinkDown Link = "down"
)

// Gates are the conditions contracts gate deliveries on.
type Gates struct {
	FocusLocked bool       `json:"focusLocked"`
	Compacting  Compacting `json:"compacting"`
	SafeMode    bool       `json:"safeMode"`
}

// Connectivity tracks the bridge and pty links.
type Connectivity struct {
	Bridge Link `json:"bridge"`
	PTY    Link `json:"pty"`
}

// Overlay tracks whether a modal overlay is open over the pane.
type Overlay struct {
	Open bool `json:"open"`
}

// Vector is the full per-recipient state. It is a value type; readers
// always receive copies.
type Vector struct {
	Activity     Activity     `json:"activity"`
	Gates        Gates        `json:"gates"`
	Connectivity Connectivity `json:"connectivity"`
	Overlay      Overlay      `json:"overlay"`
}

// DefaultVector is the lazily assigned state for unknown recipients.
func DefaultVector() Vector {
	return Vector{
		Activity: ActivityIdle,
		Gates:    Gates{Compacting: CompactingNone},
		Connectivity: Connectivity{
			Bridge: LinkUp,
			PTY:    LinkUp,
		},
	}
}

// Patch is a partial update. Nil leaves are left untouched.
type Patch struct {
	Activity     *Activity
	Gates        *GatesPatch
	Connectivity *ConnectivityPatch
	Overlay      *OverlayPatch
}

// GatesPatch patches individual gates.
type GatesPatch struct {
	FocusLocked *bool
	Compacting  *Compacting
	SafeMode    *bool
}

// ConnectivityPatch patches individual links.
type ConnectivityPatch struct {
	Bridge *Link
	PTY    *Link
}

// OverlayPatch patches the overlay flag.
type OverlayPatch struct {
	Open *bool
}

// Gate names a condition whose clearing releases deferred events.
type Gate string

const (
	GateFocusLock  Gate = "focusLocked"
	GateCompacting Gate = "compacting"
	GateSafeMode   Gate = "safeMode"
)

// Change is the before/after diff produced by an update.
type Change struct {
	RecipientID string
	Before      Vector
	After       Vector
	// ClearedGates lists gates released by this update: focus-lock
	// released, compacting leaving confirmed, or safe mode released.
	ClearedGates []Gate
}

// Store owns all state vectors. External readers receive copies.
type Store struct {
	mu      sync.Mutex
	vectors map[string]Vector
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{vectors: make(map[string]Vector)}
}

// Get returns a copy of the recipient's vector, lazily defaulting unknown
// recipients.
func (s *Store) Get(recipientID string) Vector {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.vectors[recipientID]; ok {
		return v
	}
	var v = DefaultVector()
	s.vectors[recipientID] = v
	return v
}

// Known returns the ids of all recipients seen so far.
func (s *Store) Known() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids = make([]string, 0, len(s.vectors))
	for id := range s.vectors {
		ids = append(ids, id)
	}
	return ids
}

// Apply merges a patch into the recipient's vector. The second return is
// false when the patch was structurally identical and no change event
// should be emitted.
func (s *Store) Apply(recipientID string, patch Patch) (Change, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var before, ok = s.vectors[recipientID]
	if !ok {
		before = DefaultVector()
	}
	var after = merge(before, patch)
	s.vectors[recipientID] = after

	if after == before {
		return Change{}, false
	}
	return Change{
		RecipientID:  recipientID,
		Before:       before,
		After:        after,
		ClearedGates: clearedGates(before, after),
	}, true
}

// Reset drops every vector.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vectors = make(map[string]Vector)
}

func merge(v Vector, p Patch) Vector {
	if p.Activity != nil {
		v.Activity = *p.Activity
	}
	if p.Gates != nil {
		if p.Gates.FocusLocked != nil {
			v.Gates.FocusLocked = *p.Gates.FocusLocked
		}
		if p.Gates.Compacting != nil {
			v.Gates.Compacting = *p.Gates.Compacting
		}
		if p.Gates.SafeMode != nil {
			v.Gates.SafeMode = *p.Gates.SafeMode
		}
	}
	if p.Connectivity != nil {
		if p.Connectivity.Bridge != nil {
			v.Connectivity.Bridge = *p.Connectivity.Bridge
		}
		if p.Connectivity.PTY != nil {
			v.Connectivity.PTY = *p.Connectivity.PTY
		}
	}
	if p.Overlay != nil && p.Overlay.Open != nil {
		v.Overlay.Open = *p.Overlay.Open
	}
	return v
}

func clearedGates(before, after Vector) []Gate {
	var cleared []Gate
	if before.Gates.FocusLocked && !after.Gates.FocusLocked {
		cleared = append(cleared, GateFocusLock)
	}
	if before.Gates.Compacting == CompactingConfirmed && after.Gates.Compacting != CompactingConfirmed {
		cleared = append(cleared, GateCompacting)
	}
	if before.Gates.SafeMode && !after.Gates.SafeMode {
		cleared = append(cleared, GateSafeMode)
	}
	return cleared
}
