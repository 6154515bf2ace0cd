package mapper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptionsStringRequired(t *testing.T) {
	opts := NewOptions(map[string]any{"bucket": "my-bucket"}, "connector.options")
	v, err := opts.String("bucket")
	require.NoError(t, err)
	assert.Equal(t, "my-bucket", v)

	_, err = opts.String("missing")
	assert.Error(t, err)
}

func TestOptionsStringListFromYAMLSlice(t *testing.T) {
	opts := NewOptions(map[string]any{"fields": []any{"id", "v"}}, "connector.options")
	list, err := opts.StringList("fields")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "v"}, list)
}

func TestOptionsIntDefault(t *testing.T) {
	opts := NewOptions(map[string]any{}, "connector.options")
	n, err := opts.Int("max-retries", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	opts = NewOptions(map[string]any{"max-retries": 5}, "connector.options")
	n, err = opts.Int("max-retries", 3)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestOptionsBoolDefault(t *testing.T) {
	opts := NewOptions(map[string]any{}, "connector.options")
	assert.True(t, opts.Bool("include-metadata", true))

	opts = NewOptions(map[string]any{"include-metadata": false}, "connector.options")
	assert.False(t, opts.Bool("include-metadata", true))
}

func TestOptionsStringEnvOverride(t *testing.T) {
	t.Setenv("CONNECTOR_OPTIONS_BUCKET", "env-bucket")
	opts := NewOptions(map[string]any{"bucket": "file-bucket"}, "connector.options")
	v, err := opts.String("bucket")
	require.NoError(t, err)
	assert.Equal(t, "env-bucket", v)
}
