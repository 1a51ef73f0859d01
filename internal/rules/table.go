// Package rules maps incoming alerts to remediation actions: the rule table,
// the priority gate and the decider, plus loading and hot reload of the table
// from a YAML file.
package rules

import (
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/invisible-tech/autoheal-remediator/internal/types"
)

// Key identifies a rule by alert source and rule name.
type Key struct {
	Source types.Source
	Rule   string
}

// Entry is the action template for a rule.
type Entry struct {
	Action    types.ActionKind
	Threshold string
}

// Rule is a flattened table row, used for listing and for file loading.
type Rule struct {
	Source    types.Source     `json:"source" yaml:"source"`
	Rule      string           `json:"rule" yaml:"rule"`
	Action    types.ActionKind `json:"action" yaml:"action"`
	Threshold string           `json:"threshold" yaml:"threshold"`
}

// Table is an immutable rule table. Build it with NewTable.
type Table struct {
	entries map[Key]Entry
}

// NewTable validates rules and builds a table. Unknown action kinds, unknown
// threshold levels and duplicate keys are rejected.
func NewTable(rules []Rule) (*Table, error) {
	t := &Table{entries: make(map[Key]Entry, len(rules))}
	for i, r := range rules {
		if r.Source == "" || r.Rule == "" {
			return nil, fmt.Errorf("rule %d: source and rule name are required", i)
		}
		if !r.Action.Valid() {
			return nil, fmt.Errorf("rule %s/%q: unknown action %q", r.Source, r.Rule, r.Action)
		}
		if _, ok := ParseLevel(r.Threshold); !ok {
			return nil, fmt.Errorf("rule %s/%q: unknown priority threshold %q", r.Source, r.Rule, r.Threshold)
		}
		key := Key{Source: r.Source, Rule: r.Rule}
		if _, dup := t.entries[key]; dup {
			return nil, fmt.Errorf("rule %s/%q: defined more than once", r.Source, r.Rule)
		}
		t.entries[key] = Entry{Action: r.Action, Threshold: r.Threshold}
	}
	return t, nil
}

// MustNewTable is NewTable that panics on error. Use only for built-in tables.
func MustNewTable(rules []Rule) *Table {
	t, err := NewTable(rules)
	if err != nil {
		panic(err)
	}
	return t
}

// Lookup returns the entry for (source, rule).
func (t *Table) Lookup(source types.Source, rule string) (Entry, bool) {
	e, ok := t.entries[Key{Source: source, Rule: rule}]
	return e, ok
}

// Len returns the number of rules.
func (t *Table) Len() int {
	return len(t.entries)
}

// Rules returns the table rows sorted by source, then rule name.
func (t *Table) Rules() []Rule {
	out := make([]Rule, 0, len(t.entries))
	for k, e := range t.entries {
		out = append(out, Rule{Source: k.Source, Rule: k.Rule, Action: e.Action, Threshold: e.Threshold})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		return out[i].Rule < out[j].Rule
	})
	return out
}

// DefaultRules is the built-in rule set.
func DefaultRules() []Rule {
	return []Rule{
		{Source: types.SourceFalco, Rule: "Container Escape Attempt", Action: types.ActionDeletePod, Threshold: "CRITICAL"},
		{Source: types.SourceFalco, Rule: "Privilege Escalation Attempt", Action: types.ActionDeletePod, Threshold: "ERROR"},
		{Source: types.SourceFalco, Rule: "Unauthorized Process Execution", Action: types.ActionRestartPod, Threshold: "WARNING"},
		{Source: types.SourcePrometheus, Rule: "PodCrashLooping", Action: types.ActionRestartDeployment, Threshold: "critical"},
		{Source: types.SourcePrometheus, Rule: "HighMemoryUsage", Action: types.ActionScaleDown, Threshold: "warning"},
		{Source: types.SourcePrometheus, Rule: "HighCPUUsage", Action: types.ActionScaleDown, Threshold: "warning"},
	}
}

// DefaultTable returns a table built from DefaultRules.
func DefaultTable() *Table {
	return MustNewTable(DefaultRules())
}

// Store holds the active table and lets a reload swap it atomically.
type Store struct {
	current atomic.Pointer[Table]
}

// NewStore returns a store serving t.
func NewStore(t *Table) *Store {
	s := &Store{}
	s.current.Store(t)
	return s
}

// Table returns the active table.
func (s *Store) Table() *Table {
	return s.current.Load()
}

// Swap replaces the active table.
func (s *Store) Swap(t *Table) {
	s.current.Store(t)
}
