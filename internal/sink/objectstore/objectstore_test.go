package objectstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/cdc-streams/pkg/types"
)

func TestObjectKeyNoPartition(t *testing.T) {
	s := &Sink{prefix: "p", format: FormatJSON, granularity: GranularityNone}
	tb := &types.TargetBatch{Records: []*types.Record{
		{SequenceNumber: "100", ArrivalTime: time.Unix(0, 0).UTC()},
	}}

	key, err := s.objectKey(tb)
	require.NoError(t, err)
	assert.Equal(t, "p/100-100-0.json", key)
}

func TestObjectKeyHourPartition(t *testing.T) {
	s := &Sink{prefix: "p", format: FormatJSON, granularity: GranularityHours}
	arrival := time.Date(2026, 1, 2, 15, 0, 0, 0, time.UTC)
	tb := &types.TargetBatch{Records: []*types.Record{
		{SequenceNumber: "1", ArrivalTime: arrival},
		{SequenceNumber: "2", ArrivalTime: arrival},
	}}

	key, err := s.objectKey(tb)
	require.NoError(t, err)
	assert.Equal(t, "p/2026/01/02/15/1-2-1767366000000.json", key)
}

func TestEncodeJSONProducesRecordsArray(t *testing.T) {
	s := &Sink{format: FormatJSON}
	records := []*types.Record{
		{
			Operation: types.OpInsert,
			NewImageRaw: types.RawImage{
				"id": {Tag: types.TagText, Value: "x"},
				"n":  {Tag: types.TagInt, Value: int32(7)},
			},
		},
	}

	data, err := s.encodeJSON(records)
	require.NoError(t, err)
	assert.JSONEq(t, `{"records":[{"id":"x","n":7}]}`, string(data))
}

func TestSelectImageFallsBackToOldImageForDelete(t *testing.T) {
	r := &types.Record{
		Operation: types.OpDelete,
		OldImage:  types.Image{"id": "x"},
	}
	assert.Equal(t, map[string]any{"id": "x"}, selectImage(r))
}

func TestSelectImageUsesNewImageForInsert(t *testing.T) {
	r := &types.Record{
		Operation: types.OpInsert,
		NewImage:  types.Image{"id": "x"},
	}
	assert.Equal(t, map[string]any{"id": "x"}, selectImage(r))
}
