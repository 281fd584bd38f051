package delivery

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/hivemind/orchestrator/internal/clock"
)

// stateVersion is the message-state.json schema version.
const stateVersion = 1

// Sequencer owns the per-sender outbound counters and the
// lastSeen[sender][recipient] watermarks. lastSeen is monotonically
// non-decreasing and advances only on full verified acknowledgement.
type Sequencer struct {
	mu       sync.Mutex
	outbound map[string]uint64
	lastSeen map[string]map[string]uint64 // sender -> recipient -> seq
	path     string                       // message-state.json; "" disables persistence
	clock    clock.Clock
	logger   *log.Entry
}

// NewSequencer returns a sequencer persisting to path (empty for
// in-memory only).
func NewSequencer(path string, c clock.Clock) *Sequencer {
	if c == nil {
		c = clock.Real{}
	}
	return &Sequencer{
		outbound: make(map[string]uint64),
		lastSeen: make(map[string]map[string]uint64),
		path:     path,
		clock:    c,
		logger:   log.WithField("component", "sequencer"),
	}
}

// Next increments and returns the sender's outbound sequence.
func (s *Sequencer) Next(sender string) uint64 {
	s.mu.Lock()
	s.outbound[sender]++
	var n = s.outbound[sender]
	s.mu.Unlock()
	s.persist()
	return n
}

// Outbound returns the sender's last assigned sequence.
func (s *Sequencer) Outbound(sender string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outbound[sender]
}

// LastSeen returns the committed watermark for (sender, recipient).
func (s *Sequencer) LastSeen(sender, recipient string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen[sender][recipient]
}

// Commit raises the watermark to max(current, seq).
func (s *Sequencer) Commit(sender, recipient string, seq uint64) {
	s.mu.Lock()
	var m = s.lastSeen[sender]
	if m == nil {
		m = make(map[string]uint64)
		s.lastSeen[sender] = m
	}
	if seq > m[recipient] {
		m[recipient] = seq
	}
	s.mu.Unlock()
	s.persist()
}

// ResetSession zeroes the watermark for (sender, recipient) on a
// session-reset marker with sequence 1.
func (s *Sequencer) ResetSession(sender, recipient string) {
	s.mu.Lock()
	if m := s.lastSeen[sender]; m != nil {
		m[recipient] = 0
	}
	s.mu.Unlock()
	s.persist()
}

// Reset drops all counters and watermarks (in memory only).
func (s *Sequencer) Reset() {
	s.mu.Lock()
	s.outbound = make(map[string]uint64)
	s.lastSeen = make(map[string]map[string]uint64)
	s.mu.Unlock()
}

// message-state.json wire shape: sequences keyed by role, each with its
// outbound counter and the lastSeen-per-sender watermarks for messages
// addressed TO that role.
type stateFile struct {
	Version     int                  `json:"version"`
	Sequences   map[string]roleState `json:"sequences"`
	LastUpdated int64                `json:"lastUpdated"`
}

type roleState struct {
	Outbound uint64            `json:"outbound"`
	LastSeen map[string]uint64 `json:"lastSeen"`
}

// Load restores state from disk. A missing file is not an error.
func (s *Sequencer) Load() error {
	if s.path == "" {
		return nil
	}
	var data, err = os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read message state: %w", err)
	}
	var f stateFile
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("decode message state: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for role, rs := range f.Sequences {
		if rs.Outbound > s.outbound[role] {
			s.outbound[role] = rs.Outbound
		}
		for sender, seq := range rs.LastSeen {
			var m = s.lastSeen[sender]
			if m == nil {
				m = make(map[string]uint64)
				s.lastSeen[sender] = m
			}
			if seq > m[role] {
				m[role] = seq
			}
		}
	}
	return nil
}

// persist writes the state atomically (temp + rename). Failures are
// logged, never raised: sequencing continues from memory.
func (s *Sequencer) persist() {
	if s.path == "" {
		return
	}
	var f = s.snapshotFile()
	if err := writeAtomic(s.path, f); err != nil {
		s.logger.WithError(err).Warn("failed to persist message state")
	}
}

func (s *Sequencer) snapshotFile() stateFile {
	s.mu.Lock()
	defer s.mu.Unlock()

	var f = stateFile{
		Version:     stateVersion,
		Sequences:   make(map[string]roleState),
		LastUpdated: s.clock.Now().UnixMilli(),
	}
	for role, n := range s.outbound {
		var rs = f.Sequences[role]
		rs.Outbound = n
		f.Sequences[role] = rs
	}
	for sender, m := range s.lastSeen {
		for role, seq := range m {
			var rs = f.Sequences[role]
			if rs.LastSeen == nil {
				rs.LastSeen = make(map[string]uint64)
			}
			rs.LastSeen[sender] = seq
			f.Sequences[role] = rs
		}
	}
	return f
}

func writeAtomic(path string, v interface{}) error {
	var data, err = json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	var tmp = path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
