// Package promotion graduates shadow contracts to enforced once their
// observation record earns it: enough sessions watched, zero confirmed
// false positives, and explicit agent sign-offs.
package promotion

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/hivemind/orchestrator/internal/clock"
	"github.com/hivemind/orchestrator/internal/contracts"
	"github.com/hivemind/orchestrator/internal/event"
)

// Readiness thresholds.
const (
	DefaultMinSessions = 5
	DefaultMinSignoffs = 2
)

// statsVersion is the contract-stats.json schema version.
const statsVersion = 1

// Kernel is the surface the promotion engine needs from the event kernel.
type Kernel interface {
	RegisterContract(c contracts.Contract) error
	Contracts() *contracts.Registry
	Publish(eventType, recipientID string, payload map[string]interface{}) *event.Envelope
}

// Stats is one contract's observation record.
type Stats struct {
	Mode             string   `json:"mode"`
	SessionsTracked  int      `json:"sessionsTracked"`
	ShadowViolations int      `json:"shadowViolations"`
	FalsePositives   int      `json:"falsePositives"`
	AgentSignoffs    []string `json:"agentSignoffs"`
	LastUpdated      int64    `json:"lastUpdated"`
}

func (s Stats) hasSignoff(agent string) bool {
	for _, a := range s.AgentSignoffs {
		if a == agent {
			return true
		}
	}
	return false
}

// Engine tracks shadow-contract observation stats and performs promotion.
type Engine struct {
	mu    sync.Mutex
	stats map[string]*Stats

	kernel      Kernel
	clock       clock.Clock
	path        string // contract-stats.json; "" disables persistence
	minSessions int
	minSignoffs int
	logger      *log.Entry
}

// Options configures an Engine. Zero fields select defaults.
type Options struct {
	Kernel      Kernel
	Clock       clock.Clock
	Path        string
	MinSessions int
	MinSignoffs int
}

// NewEngine returns a promotion engine bound to the kernel.
func NewEngine(opts Options) *Engine {
	var c = opts.Clock
	if c == nil {
		c = clock.Real{}
	}
	var minSessions = opts.MinSessions
	if minSessions <= 0 {
		minSessions = DefaultMinSessions
	}
	var minSignoffs = opts.MinSignoffs
	if minSignoffs <= 0 {
		minSignoffs = DefaultMinSignoffs
	}
	return &Engine{
		stats:       make(map[string]*Stats),
		kernel:      opts.Kernel,
		clock:       c,
		path:        opts.Path,
		minSessions: minSessions,
		minSignoffs: minSignoffs,
		logger:      log.WithField("component", "promotion"),
	}
}

// HandleShadowViolation is the subscriber for contract.shadow.violation
// events; wire it with kernel.Subscribe.
func (e *Engine) HandleShadowViolation(ev *event.Envelope) {
	var id, _ = ev.Payload["contractId"].(string)
	if id == "" {
		return
	}
	e.RecordViolation(id)
}

// RecordViolation counts one shadow violation for the contract.
func (e *Engine) RecordViolation(contractID string) {
	e.mutate(contractID, func(s *Stats) {
		s.ShadowViolations++
	})
}

// RecordFalsePositive marks one observed violation as spurious. Any false
// positive resets the contract's readiness until it is cleared manually.
func (e *Engine) RecordFalsePositive(contractID string) {
	e.mutate(contractID, func(s *Stats) {
		s.FalsePositives++
	})
}

// AddSignoff records an agent's approval. Signoffs are a set; repeated
// approvals by the same agent count once.
func (e *Engine) AddSignoff(contractID, agent string) {
	e.mutate(contractID, func(s *Stats) {
		if !s.hasSignoff(agent) {
			s.AgentSignoffs = append(s.AgentSignoffs, agent)
			sort.Strings(s.AgentSignoffs)
		}
	})
}

// IncrementSession bumps the session counter for every tracked shadow
// contract; call it once per orchestrator session.
func (e *Engine) IncrementSession() {
	var now = e.clock.Now().UnixMilli()
	e.mu.Lock()
	for _, c := range e.shadowContracts() {
		var s = e.statsLocked(c.ID)
		s.SessionsTracked++
		s.LastUpdated = now
	}
	e.mu.Unlock()
	e.persist()
}

// Stats returns a copy of the contract's observation record.
func (e *Engine) Stats(contractID string) Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	var s = e.stats[contractID]
	if s == nil {
		return Stats{Mode: string(contracts.ModeShadow)}
	}
	var out = *s
	out.AgentSignoffs = append([]string(nil), s.AgentSignoffs...)
	return out
}

// Ready reports whether the contract meets every promotion criterion:
// still in shadow mode, enough sessions observed, no false positives, and
// enough distinct sign-offs.
func (e *Engine) Ready(contractID string) bool {
	var c = e.kernel.Contracts().Get(contractID)
	if c == nil || c.Mode != contracts.ModeShadow {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	var s = e.stats[contractID]
	if s == nil {
		return false
	}
	return s.SessionsTracked >= e.minSessions &&
		s.FalsePositives == 0 &&
		len(s.AgentSignoffs) >= e.minSignoffs
}

// Promote re-registers the contract as enforced and announces it. It
// fails when the contract is unknown, already enforced, or not ready.
func (e *Engine) Promote(contractID string) error {
	var c = e.kernel.Contracts().Get(contractID)
	if c == nil {
		return fmt.Errorf("promote: unknown contract %s", contractID)
	}
	if c.Mode != contracts.ModeShadow {
		return fmt.Errorf("promote: contract %s is not in shadow mode", contractID)
	}
	if !e.Ready(contractID) {
		return fmt.Errorf("promote: contract %s does not meet promotion criteria", contractID)
	}

	var promoted = *c
	promoted.Mode = contracts.ModeEnforced
	if err := e.kernel.RegisterContract(promoted); err != nil {
		return fmt.Errorf("promote: %w", err)
	}

	e.mutate(contractID, func(s *Stats) {
		s.Mode = string(contracts.ModeEnforced)
	})

	var s = e.Stats(contractID)
	e.kernel.Publish(event.TypeContractPromoted, event.RecipientSystem, map[string]interface{}{
		"contractId":       contractID,
		"sessionsTracked":  s.SessionsTracked,
		"shadowViolations": s.ShadowViolations,
		"signoffs":         s.AgentSignoffs,
	})
	e.logger.WithFields(log.Fields{
		"contractId": contractID,
		"sessions":   s.SessionsTracked,
		"violations": s.ShadowViolations,
	}).Info("contract promoted to enforced")
	return nil
}

// CheckAndPromote promotes every shadow contract that is ready, returning
// the promoted ids.
func (e *Engine) CheckAndPromote() []string {
	var promoted []string
	for _, c := range e.kernel.Contracts().Snapshot() {
		if c.Mode != contracts.ModeShadow || !e.Ready(c.ID) {
			continue
		}
		if err := e.Promote(c.ID); err != nil {
			e.logger.WithError(err).WithField("contractId", c.ID).Warn("promotion failed")
			continue
		}
		promoted = append(promoted, c.ID)
	}
	return promoted
}

// contract-stats.json wire shape.
type statsFile struct {
	Version   int               `json:"version"`
	Contracts map[string]*Stats `json:"contracts"`
}

// Load merges persisted stats into memory: enforced mode wins over
// shadow, counters take the maximum, sign-off sets union, and the newer
// lastUpdated is kept. A missing file is not an error.
func (e *Engine) Load() error {
	if e.path == "" {
		return nil
	}
	var data, err = os.ReadFile(e.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read contract stats: %w", err)
	}
	var f statsFile
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("decode contract stats: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for id, incoming := range f.Contracts {
		if incoming == nil {
			continue
		}
		var s = e.statsLocked(id)
		mergeStats(s, incoming)
	}
	return nil
}

func mergeStats(dst, src *Stats) {
	if src.Mode == string(contracts.ModeEnforced) {
		dst.Mode = src.Mode
	}
	if src.SessionsTracked > dst.SessionsTracked {
		dst.SessionsTracked = src.SessionsTracked
	}
	if src.ShadowViolations > dst.ShadowViolations {
		dst.ShadowViolations = src.ShadowViolations
	}
	if src.FalsePositives > dst.FalsePositives {
		dst.FalsePositives = src.FalsePositives
	}
	for _, agent := range src.AgentSignoffs {
		if !dst.hasSignoff(agent) {
			dst.AgentSignoffs = append(dst.AgentSignoffs, agent)
		}
	}
	sort.Strings(dst.AgentSignoffs)
	if src.LastUpdated > dst.LastUpdated {
		dst.LastUpdated = src.LastUpdated
	}
}

// mutate applies fn to the contract's stats and persists.
func (e *Engine) mutate(contractID string, fn func(*Stats)) {
	e.mu.Lock()
	var s = e.statsLocked(contractID)
	fn(s)
	s.LastUpdated = e.clock.Now().UnixMilli()
	e.mu.Unlock()
	e.persist()
}

// statsLocked returns the record, creating a shadow-mode default. Caller
// holds e.mu.
func (e *Engine) statsLocked(contractID string) *Stats {
	var s = e.stats[contractID]
	if s == nil {
		s = &Stats{Mode: string(contracts.ModeShadow)}
		e.stats[contractID] = s
	}
	return s
}

// persist writes stats atomically (temp + rename). Failures are logged,
// never raised.
func (e *Engine) persist() {
	if e.path == "" {
		return
	}
	e.mu.Lock()
	var f = statsFile{Version: statsVersion, Contracts: make(map[string]*Stats, len(e.stats))}
	for id, s := range e.stats {
		var cp = *s
		cp.AgentSignoffs = append([]string(nil), s.AgentSignoffs...)
		f.Contracts[id] = &cp
	}
	e.mu.Unlock()

	var data, err = json.MarshalIndent(f, "", "  ")
	if err != nil {
		e.logger.WithError(err).Warn("failed to encode contract stats")
		return
	}
	var tmp = e.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(e.path), 0o755); err == nil {
		err = os.WriteFile(tmp, data, 0o644)
	}
	if err == nil {
		err = os.Rename(tmp, e.path)
	}
	if err != nil {
		e.logger.WithError(err).Warn("failed to persist contract stats")
	}
}

// shadowContracts lists registered shadow contracts. Caller holds e.mu;
// the registry carries its own lock.
func (e *Engine) shadowContracts() []*contracts.Contract {
	var out []*contracts.Contract
	for _, c := range e.kernel.Contracts().Snapshot() {
		if c.Mode == contracts.ModeShadow {
			out = append(out, c)
		}
	}
	return out
}
