// Package trigger turns atomic file drops into sequenced, tracked
// messages with at-most-once semantics: claim by rename, decode, dedupe,
// then dispatch through the kernel.
package trigger

import (
	"fmt"
	"sort"
	"strings"
)

// Canonical role names.
const (
	RoleArchitect = "architect"
	RoleBuilder   = "builder"
	RoleOracle    = "oracle"
)

// Target is one resolved recipient of a trigger file.
type Target struct {
	Role   string
	PaneID string
	Worker bool
}

// Kind classifies how the filename addressed its targets.
type Kind string

const (
	KindDirect    Kind = "direct"
	KindBroadcast Kind = "broadcast"
	KindOthers    Kind = "others"
)

// Table resolves trigger filenames to recipients using the canonical role
// vocabulary: `<role>.txt`, `workers.txt` (alias `implementers.txt`),
// `all.txt` and `others-<role>.txt`.
type Table struct {
	panes   map[string]string // role -> pane id
	workers map[string]bool   // roles in the worker pool
	aliases map[string]string // filename stem -> stem
}

// DefaultTable returns the role bindings of a standard four-pane session.
func DefaultTable() *Table {
	return NewTable(
		map[string]string{
			RoleArchitect: "1",
			RoleBuilder:   "2",
			RoleOracle:    "4",
		},
		[]string{RoleBuilder},
	)
}

// NewTable builds a table from role→pane bindings and the worker list.
func NewTable(panes map[string]string, workers []string) *Table {
	var t = &Table{
		panes:   make(map[string]string, len(panes)),
		workers: make(map[string]bool, len(workers)),
		aliases: map[string]string{"implementers": "workers"},
	}
	for role, pane := range panes {
		t.panes[strings.ToLower(role)] = pane
	}
	for _, role := range workers {
		t.workers[strings.ToLower(role)] = true
	}
	return t
}

// Pane returns the pane bound to a role.
func (t *Table) Pane(role string) (string, bool) {
	var pane, ok = t.panes[strings.ToLower(role)]
	return pane, ok
}

// Resolve maps a lowercase filename stem to its targets.
func (t *Table) Resolve(stem string) ([]Target, Kind, error) {
	stem = strings.ToLower(stem)
	if alias, ok := t.aliases[stem]; ok {
		stem = alias
	}

	switch {
	case stem == "all":
		return t.all(), KindBroadcast, nil

	case stem == "workers":
		var targets []Target
		for _, tg := range t.all() {
			if tg.Worker {
				targets = append(targets, tg)
			}
		}
		return targets, KindBroadcast, nil

	case strings.HasPrefix(stem, "others-"):
		var excluded = strings.TrimPrefix(stem, "others-")
		if _, ok := t.panes[excluded]; !ok {
			return nil, "", fmt.Errorf("unknown role %q", excluded)
		}
		var targets []Target
		for _, tg := range t.all() {
			if tg.Role != excluded {
				targets = append(targets, tg)
			}
		}
		return targets, KindOthers, nil

	default:
		var pane, ok = t.panes[stem]
		if !ok {
			return nil, "", fmt.Errorf("unknown trigger filename %q", stem)
		}
		return []Target{{Role: stem, PaneID: pane, Worker: t.workers[stem]}}, KindDirect, nil
	}
}

func (t *Table) all() []Target {
	var roles = make([]string, 0, len(t.panes))
	for role := range t.panes {
		roles = append(roles, role)
	}
	sort.Strings(roles)

	var targets = make([]Target, 0, len(roles))
	for _, role := range roles {
		targets = append(targets, Target{
			Role:   role,
			PaneID: t.panes[role],
			Worker: t.workers[role],
		})
	}
	return targets
}

// exclude removes the sender's own role from a broadcast target set.
func exclude(targets []Target, senderRole string) []Target {
	senderRole = strings.ToLower(senderRole)
	var out = targets[:0:0]
	for _, tg := range targets {
		if tg.Role != senderRole {
			out = append(out, tg)
		}
	}
	return out
}
