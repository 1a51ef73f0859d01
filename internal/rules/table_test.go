package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/invisible-tech/autoheal-remediator/internal/types"
)

func TestDefaultTable(t *testing.T) {
	table := DefaultTable()
	assert.Equal(t, 6, table.Len())

	e, ok := table.Lookup(types.SourceFalco, "Container Escape Attempt")
	require.True(t, ok)
	assert.Equal(t, types.ActionDeletePod, e.Action)
	assert.Equal(t, "CRITICAL", e.Threshold)

	e, ok = table.Lookup(types.SourcePrometheus, "HighMemoryUsage")
	require.True(t, ok)
	assert.Equal(t, types.ActionScaleDown, e.Action)

	_, ok = table.Lookup(types.SourcePrometheus, "Container Escape Attempt")
	assert.False(t, ok, "rules are keyed by source")
}

func TestNewTable_Validation(t *testing.T) {
	tests := []struct {
		name  string
		rules []Rule
	}{
		{"unknown action", []Rule{{Source: types.SourceFalco, Rule: "r", Action: "drain_node", Threshold: "INFO"}}},
		{"unknown threshold", []Rule{{Source: types.SourceFalco, Rule: "r", Action: types.ActionDeletePod, Threshold: "SEVERE"}}},
		{"missing rule name", []Rule{{Source: types.SourceFalco, Action: types.ActionDeletePod, Threshold: "INFO"}}},
		{"duplicate", []Rule{
			{Source: types.SourceFalco, Rule: "r", Action: types.ActionDeletePod, Threshold: "INFO"},
			{Source: types.SourceFalco, Rule: "r", Action: types.ActionRestartPod, Threshold: "INFO"},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTable(tt.rules)
			assert.Error(t, err)
		})
	}
}

func TestTable_RulesSorted(t *testing.T) {
	rules := DefaultTable().Rules()
	require.Len(t, rules, 6)
	assert.Equal(t, types.SourceFalco, rules[0].Source)
	assert.Equal(t, "Container Escape Attempt", rules[0].Rule)
	assert.Equal(t, types.SourcePrometheus, rules[5].Source)
	for i := 1; i < len(rules); i++ {
		if rules[i-1].Source == rules[i].Source {
			assert.Less(t, rules[i-1].Rule, rules[i].Rule)
		}
	}
}

func TestStore_Swap(t *testing.T) {
	s := NewStore(DefaultTable())
	assert.Equal(t, 6, s.Table().Len())
	s.Swap(MustNewTable(nil))
	assert.Equal(t, 0, s.Table().Len())
}
