package blob

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryPutObject(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	uri, err := m.PutObject(context.Background(), "snapshots/co-1/1.html", "text/html", []byte("<html/>"))
	require.NoError(t, err)
	assert.Equal(t, "mem://snapshots/co-1/1.html", uri)

	data, ok := m.Get("snapshots/co-1/1.html")
	require.True(t, ok)
	assert.Equal(t, "<html/>", string(data))

	_, ok = m.Get("missing")
	assert.False(t, ok)
}
