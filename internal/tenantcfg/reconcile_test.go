package tenantcfg

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDiff(t *testing.T) {
	current := []Station{{Code: "A", Name: "Alpha"}, {Code: "B", Name: "Beta"}, {Code: "C", Name: "Gamma"}}
	desired := []Station{{Code: "D", Name: "Delta"}, {Code: "C", Name: "Gamma"}, {Code: "B", Name: "Beta 2"}}

	plan, _, ok := Diff(current, desired, Station.NaturalKey, func(a, b Station) bool { return a == b })
	assert.True(t, ok)
	assert.Equal(t, []Station{{Code: "D", Name: "Delta"}}, plan.Insert)
	assert.Equal(t, []Station{{Code: "B", Name: "Beta 2"}}, plan.Update)
	assert.Equal(t, []Station{{Code: "A", Name: "Alpha"}}, plan.Delete)
}

func TestDiffNoChanges(t *testing.T) {
	rows := []EmployeeExtension{{Extension: "101", Employee: "Ivan"}}
	plan, _, ok := Diff(rows, rows, EmployeeExtension.NaturalKey, func(a, b EmployeeExtension) bool { return a == b })
	assert.True(t, ok)
	assert.True(t, plan.Empty())
}

func TestDiffRejectsRepeatedKey(t *testing.T) {
	desired := []StationChatID{
		{StationCode: "NN01", ChatID: "-1"},
		{StationCode: "NN01", ChatID: "-2"},
		{StationCode: "NN01", ChatID: "-1"},
	}
	plan, dup, ok := Diff(nil, desired, StationChatID.NaturalKey, func(a, b StationChatID) bool { return a == b })
	assert.False(t, ok)
	assert.Equal(t, ChatKey{Station: "NN01", Chat: "-1"}, dup)
	assert.True(t, plan.Empty())
}

func TestDiffEmptyDesiredDeletesAll(t *testing.T) {
	current := []Prompt{{Type: PromptDefault, Key: DefaultPromptKey, Text: "x"}}
	plan, _, ok := Diff(current, []Prompt{}, Prompt.NaturalKey, func(a, b Prompt) bool { return a == b })
	assert.True(t, ok)
	assert.Equal(t, current, plan.Delete)
	assert.Empty(t, plan.Insert)
}
