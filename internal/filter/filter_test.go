package filter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/cdc-streams/pkg/types"
)

func TestFilterIncludesMatchingRecord(t *testing.T) {
	f, err := Compile(`metadata.operation == "INSERT" && newImage.n > 5`)
	require.NoError(t, err)

	records := []*types.Record{
		{Operation: types.OpInsert, NewImage: types.Image{"n": 10}},
		{Operation: types.OpInsert, NewImage: types.Image{"n": 3}},
		{Operation: types.OpDelete, NewImage: types.Image{"n": 10}},
	}

	var included int
	for _, r := range records {
		ok, err := f.Evaluate(r)
		require.NoError(t, err)
		if ok {
			included++
		}
	}
	assert.Equal(t, 1, included)
}

func TestFilterMissingFieldResolvesToNull(t *testing.T) {
	f, err := Compile(`newImage.missing == nil`)
	require.NoError(t, err)

	ok, err := f.Evaluate(&types.Record{NewImage: types.Image{"n": 1}})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFilterEvaluationErrorExcludesRecord(t *testing.T) {
	f, err := Compile(`newImage.n > 5`)
	require.NoError(t, err)

	ok, err := f.Evaluate(&types.Record{
		ArrivalTime: time.Unix(0, 0),
		NewImage:    types.Image{"n": "abc"},
	})
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestCompileInvalidExpression(t *testing.T) {
	_, err := Compile(`this is not valid &&&`)
	assert.Error(t, err)
}
