package vector

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/cdc-streams/pkg/cdcerrors"
	"github.com/cuemby/cdc-streams/pkg/types"
)

func TestEmbeddingSourceUsesEmbeddingField(t *testing.T) {
	s := &Sink{embeddingField: "text", keyField: "id"}
	r := &types.Record{NewImage: types.Image{"text": "hello", "id": "k1"}}

	text, err := s.embeddingSource(r)
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
}

func TestEmbeddingSourceFallsBackToKeyField(t *testing.T) {
	s := &Sink{embeddingField: "text", keyField: "id"}
	r := &types.Record{NewImage: types.Image{"id": "k1"}}

	text, err := s.embeddingSource(r)
	require.NoError(t, err)
	assert.Equal(t, "k1", text)
}

func TestEmbeddingSourceFailsWhenBothMissing(t *testing.T) {
	s := &Sink{embeddingField: "text", keyField: "id"}
	r := &types.Record{NewImage: types.Image{}}

	_, err := s.embeddingSource(r)
	var cfgErr *cdcerrors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestCoerceMetadataRejectsUnsupportedType(t *testing.T) {
	s := &Sink{metadataFields: []string{"tags"}}
	r := &types.Record{NewImage: types.Image{"tags": []string{"a", "b"}}}

	_, err := s.coerceMetadata(r)
	var unsupported *cdcerrors.UnsupportedType
	require.ErrorAs(t, err, &unsupported)
}

func TestIsTransientStatus(t *testing.T) {
	assert.True(t, isTransientStatus(http.StatusServiceUnavailable))
	assert.True(t, isTransientStatus(http.StatusTooManyRequests))
	assert.False(t, isTransientStatus(http.StatusBadRequest))
}
