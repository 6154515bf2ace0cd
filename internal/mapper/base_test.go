package mapper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/cdc-streams/pkg/types"
)

func TestFilterRecordsPassThroughWithoutExpression(t *testing.T) {
	b, err := NewBase("test", NewOptions(map[string]any{}, "connector.options"))
	require.NoError(t, err)

	records := []*types.Record{{SequenceNumber: "1"}, {SequenceNumber: "2"}}
	assert.Equal(t, records, b.FilterRecords(records))
}

func TestFilterRecordsAppliesExpression(t *testing.T) {
	b, err := NewBase("test", NewOptions(map[string]any{"filter-expression": "metadata.operation == 'INSERT'"}, "connector.options"))
	require.NoError(t, err)

	records := []*types.Record{
		{SequenceNumber: "1", Operation: types.OpInsert, ShardID: "s-0"},
		{SequenceNumber: "2", Operation: types.OpDelete, ShardID: "s-0"},
	}

	out := b.FilterRecords(records)
	require.Len(t, out, 1)
	assert.Equal(t, "1", out[0].SequenceNumber)
}

func TestNewBaseInvalidFilterExpressionFails(t *testing.T) {
	_, err := NewBase("test", NewOptions(map[string]any{"filter-expression": "(("}, "connector.options"))
	assert.Error(t, err)
}
