package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/serialbridge/internal/coerce"
	"github.com/drblury/serialbridge/internal/routing"
	"github.com/drblury/serialbridge/storage"
	"github.com/drblury/serialbridge/storage/storetest"
)

func TestStoreAppendsJSONLines(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, nil)
	require.NoError(t, err)

	dst := routing.Destination{Store: "site1", Collection: "power"}
	doc, ok := coerce.Decode([]byte(`{"Watts":"1024","Temperature":"21.5"}`))
	require.True(t, ok)

	require.NoError(t, s.Write(context.Background(), dst, doc))
	require.NoError(t, s.Write(context.Background(), dst, coerce.Document{{Key: "Watts", Value: coerce.IntValue(7)}}))
	require.NoError(t, s.Close())

	data, err := os.ReadFile(filepath.Join(dir, "site1", "power.jsonl"))
	require.NoError(t, err)
	assert.Equal(t, "{\"Watts\":1024,\"Temperature\":21.5}\n{\"Watts\":7}\n", string(data))
}

func TestStoreRejectsPathTraversal(t *testing.T) {
	s, err := New(t.TempDir(), nil)
	require.NoError(t, err)
	defer s.Close()

	for _, dst := range []routing.Destination{
		{Store: "..", Collection: "power"},
		{Store: "site1", Collection: "a/b"},
	} {
		assert.Error(t, s.Write(context.Background(), dst, nil), dst.String())
	}
}

func TestStoreClosed(t *testing.T) {
	s, err := New(t.TempDir(), nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	err = s.Write(context.Background(), routing.Destination{Store: "a", Collection: "b"}, nil)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestBuildUsesStorePath(t *testing.T) {
	dir := t.TempDir()
	st, err := storage.Build(context.Background(), &storetest.Config{Backend: BackendName, Path: dir}, nil)
	require.NoError(t, err)
	defer st.Close()

	fs, ok := st.(*Store)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "s", "c.jsonl"), fs.Path(routing.Destination{Store: "s", Collection: "c"}))
}
