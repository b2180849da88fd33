package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunIDs(t *testing.T) {
	tests := []struct {
		name  string
		table RunsTable
		exp   []string
	}{
		{
			name: "Empty",
		},
		{
			name: "MissingColumn",
			table: RunsTable{
				Columns: []string{"sys/name"},
				Rows:    [][]string{{"a"}},
			},
		},
		{
			name: "Normal",
			table: RunsTable{
				Columns: []string{"sys/creation_time", "sys/id"},
				Rows:    [][]string{{"1", "PROJ-1"}, {"2", "PROJ-2"}},
			},
			exp: []string{"PROJ-1", "PROJ-2"},
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.exp, test.table.RunIDs())
		})
	}
}

func TestProjectID(t *testing.T) {
	spec := ProjectSpec{Workspace: "team", Name: "mnist"}
	assert.Equal(t, "team/mnist", spec.ID())
}
