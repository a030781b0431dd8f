package db

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type stubTable struct {
	name  string
	err   error
	order *[]string
}

func (s stubTable) EnsureTable(context.Context) error {
	*s.order = append(*s.order, s.name)
	return s.err
}

func TestEnsureSchemaRunsInOrderAndStops(t *testing.T) {
	var order []string
	boom := errors.New("boom")

	err := EnsureSchema(context.Background(),
		stubTable{"users", nil, &order},
		stubTable{"tasks", boom, &order},
		stubTable{"task_execution", nil, &order},
	)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"users", "tasks"}, order)
}
