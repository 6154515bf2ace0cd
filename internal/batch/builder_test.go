package batch

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cuemby/cdc-streams/pkg/types"
)

func sizeOfFixed(n int) func(*types.Record) int {
	return func(*types.Record) int { return n }
}

func TestBuilderRespectsCountCap(t *testing.T) {
	b := NewBuilder(2, 1_000_000)
	records := []*types.Record{{SequenceNumber: "1"}, {SequenceNumber: "2"}, {SequenceNumber: "3"}}

	batches := b.Build(records, sizeOfFixed(10))

	assert.Len(t, batches, 2)
	assert.Len(t, batches[0].Records, 2)
	assert.Len(t, batches[1].Records, 1)
}

func TestBuilderRespectsByteCap(t *testing.T) {
	b := NewBuilder(100, 25)
	records := []*types.Record{{SequenceNumber: "1"}, {SequenceNumber: "2"}, {SequenceNumber: "3"}}

	batches := b.Build(records, sizeOfFixed(10))

	assert.Len(t, batches, 2)
	assert.Len(t, batches[0].Records, 2)
	assert.Len(t, batches[1].Records, 1)
}

func TestBuilderOversizedRecordBecomesOwnBatch(t *testing.T) {
	b := NewBuilder(100, 10)
	records := []*types.Record{{SequenceNumber: "1"}, {SequenceNumber: "2"}}

	sizes := map[string]int{"1": 5, "2": 50}
	batches := b.Build(records, func(r *types.Record) int { return sizes[r.SequenceNumber] })

	assert.Len(t, batches, 2)
	assert.Len(t, batches[0].Records, 1)
	assert.Equal(t, "1", batches[0].Records[0].SequenceNumber)
	assert.Len(t, batches[1].Records, 1)
	assert.Equal(t, "2", batches[1].Records[0].SequenceNumber)
}

func TestBuilderEmptyInput(t *testing.T) {
	b := NewBuilder(10, 100)
	batches := b.Build(nil, sizeOfFixed(1))
	assert.Empty(t, batches)
}
