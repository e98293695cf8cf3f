package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLocal(t *testing.T) *LocalBackend {
	t.Helper()
	b, err := NewLocalBackend(t.TempDir())
	require.NoError(t, err)
	return b
}

func TestLocalBackend_PutGet(t *testing.T) {
	b := newLocal(t)
	ctx := context.Background()

	require.NoError(t, b.Put(ctx, "scan-1/garak.scan-1.report.jsonl", []byte("{}"), "application/jsonl"))

	data, err := b.Get(ctx, "scan-1/garak.scan-1.report.jsonl")
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))
}

func TestLocalBackend_GetMissingReturnsNil(t *testing.T) {
	b := newLocal(t)

	data, err := b.Get(context.Background(), "nope/missing.jsonl")
	require.NoError(t, err)
	assert.Nil(t, data)

	rc, err := b.GetStream(context.Background(), "nope/missing.jsonl")
	require.NoError(t, err)
	assert.Nil(t, rc)
}

func TestLocalBackend_GetStream(t *testing.T) {
	b := newLocal(t)
	ctx := context.Background()

	require.NoError(t, b.Put(ctx, "a/b.html", []byte("<html>"), "text/html"))

	rc, err := b.GetStream(ctx, "a/b.html")
	require.NoError(t, err)
	require.NotNil(t, rc)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "<html>", string(data))
}

func TestLocalBackend_PutFile(t *testing.T) {
	b := newLocal(t)
	ctx := context.Background()

	src := filepath.Join(t.TempDir(), "report.jsonl")
	require.NoError(t, os.WriteFile(src, []byte(`{"entry_type":"digest"}`), 0o644))

	require.NoError(t, b.PutFile(ctx, "scan-2/report.jsonl", src, "application/jsonl"))

	data, err := b.Get(ctx, "scan-2/report.jsonl")
	require.NoError(t, err)
	assert.Contains(t, string(data), "digest")
}

func TestLocalBackend_ExistsAndDelete(t *testing.T) {
	b := newLocal(t)
	ctx := context.Background()

	require.NoError(t, b.Put(ctx, "k", []byte("v"), ""))

	ok, err := b.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, b.Delete(ctx, "k"))

	ok, err = b.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	// Deleting a missing key is not an error.
	require.NoError(t, b.Delete(ctx, "k"))
}

func TestLocalBackend_ListKeys(t *testing.T) {
	b := newLocal(t)
	ctx := context.Background()

	require.NoError(t, b.Put(ctx, "scan-1/a.jsonl", []byte("1"), ""))
	require.NoError(t, b.Put(ctx, "scan-1/b.html", []byte("2"), ""))
	require.NoError(t, b.Put(ctx, "scan-2/c.jsonl", []byte("3"), ""))

	keys, err := b.ListKeys(ctx, "scan-1/")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"scan-1/a.jsonl", "scan-1/b.html"}, keys)

	all, err := b.ListKeys(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestLocalBackend_RejectsTraversal(t *testing.T) {
	b := newLocal(t)
	ctx := context.Background()

	_, err := b.Get(ctx, "../outside")
	assert.Error(t, err)

	err = b.Put(ctx, "../../etc/passwd", []byte("x"), "")
	assert.Error(t, err)
}

func TestContentTypeFor(t *testing.T) {
	assert.Equal(t, "application/jsonl", ContentTypeFor("garak.x.report.jsonl"))
	assert.Equal(t, "text/html", ContentTypeFor("garak.x.report.html"))
	assert.Equal(t, "application/json", ContentTypeFor("meta.json"))
	assert.Equal(t, "application/octet-stream", ContentTypeFor("notes.txt"))
}
