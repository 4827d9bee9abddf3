package storage

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanKey(t *testing.T) {
	ok := map[string]string{
		"media/a.png":       "media/a.png",
		"media//x/../b.pdf": "media/b.pdf",
		`media\c.jpg`:       "media/c.jpg",
	}
	for in, want := range ok {
		got, err := CleanKey(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	for _, bad := range []string{"", "/etc/passwd", "../secret", "media/../../x", "."} {
		_, err := CleanKey(bad)
		assert.ErrorIs(t, err, ErrInvalidKey, bad)
	}
}

func TestNewKey(t *testing.T) {
	k := NewKey("media", "Diagram.PNG")
	assert.True(t, strings.HasPrefix(k, "media/"))
	assert.True(t, strings.HasSuffix(k, ".png"))
	assert.NotEqual(t, k, NewKey("media", "Diagram.PNG"))
}

func TestFSStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewFSStore(t.TempDir())
	require.NoError(t, err)

	key, err := s.Put(ctx, "media/q1/diagram.png", strings.NewReader("png-bytes"), 9, "image/png")
	require.NoError(t, err)
	assert.Equal(t, "media/q1/diagram.png", key)

	rc, err := s.Get(ctx, key)
	require.NoError(t, err)
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "png-bytes", string(b))

	u, err := s.SignedURL(ctx, key)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(u, "file://"))
	assert.True(t, strings.HasSuffix(u, "media/q1/diagram.png"))

	_, err = s.Get(ctx, "media/missing.png")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Put(ctx, "../escape.txt", strings.NewReader("x"), 1, "")
	assert.ErrorIs(t, err, ErrInvalidKey)

	require.NoError(t, s.Delete(ctx, key))
	_, err = s.Get(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, s.Delete(ctx, key))
	assert.ErrorIs(t, s.Delete(ctx, "../escape.txt"), ErrInvalidKey)
}

func TestFSStoreOverwrite(t *testing.T) {
	ctx := context.Background()
	s, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	_, err = s.Put(ctx, "a.txt", strings.NewReader("one"), 3, "")
	require.NoError(t, err)
	_, err = s.Put(ctx, "a.txt", strings.NewReader("two"), 3, "")
	require.NoError(t, err)
	rc, err := s.Get(ctx, "a.txt")
	require.NoError(t, err)
	defer rc.Close()
	b, _ := io.ReadAll(rc)
	assert.Equal(t, "two", string(b))
}
