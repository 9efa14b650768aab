package datasource

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strikeoffetl/internal/datasource/file"
	"strikeoffetl/internal/datasource/httpds"
)

func TestForLocation(t *testing.T) {
	t.Parallel()

	src, err := ForLocation("/data/objections.json", httpds.Config{})
	require.NoError(t, err)
	local, ok := src.(*file.Local)
	require.True(t, ok)
	assert.Equal(t, "/data/objections.json", local.Path())

	src, err = ForLocation("file:///data/objections.json", httpds.Config{})
	require.NoError(t, err)
	assert.Equal(t, "/data/objections.json", src.(*file.Local).Path())

	src, err = ForLocation("https://extracts.example/objections.json", httpds.Config{})
	require.NoError(t, err)
	assert.IsType(t, &httpds.Source{}, src)

	_, err = ForLocation("s3://bucket/key", httpds.Config{})
	assert.ErrorContains(t, err, "unsupported scheme")

	_, err = ForLocation("", httpds.Config{})
	assert.Error(t, err)
}
