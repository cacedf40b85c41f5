package metadb

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func setupStore(t *testing.T) *Store {
	t.Helper()

	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store, err := NewStore(context.Background(), db)
	require.NoError(t, err)
	return store
}

func record(digest string, ts int64) Record {
	return Record{
		Remote:    "http://us.example.com/hsb",
		Path:      "/cdns",
		Timestamp: ts,
		Digest:    digest,
		Source:    SourceHTTP,
	}
}

var cdnsHeader = []string{"name", "path", "hosts"}

func TestIndexTabular(t *testing.T) {
	assert := require.New(t)
	store := setupStore(t)

	rows := [][]string{
		{"us", "tpr/hs", "us.cdn.example.com"},
		{"eu", "tpr/hs", "eu.cdn.example.com"},
	}
	rec := record("digest-1", 100)
	assert.NoError(store.IndexTabular(context.Background(), rec, cdnsHeader, rows))

	got, err := store.TabularRows(context.Background(), rec.Remote, rec.Path, rec.Digest, cdnsHeader)
	assert.NoError(err)
	assert.Equal(rows, got)

	digest, err := store.LatestDigest(context.Background(), rec.Remote, rec.Path)
	assert.NoError(err)
	assert.Equal("digest-1", digest)

	n, err := store.ResponseCount(context.Background(), rec.Remote, rec.Path)
	assert.NoError(err)
	assert.Equal(1, n)
}

func TestIndexTabular_SameDigestReplaces(t *testing.T) {
	assert := require.New(t)
	store := setupStore(t)

	rec := record("digest-1", 100)
	first := [][]string{{"us", "tpr/hs", "a.example.com"}}
	assert.NoError(store.IndexTabular(context.Background(), rec, cdnsHeader, first))

	rec.Timestamp = 200
	second := [][]string{{"us", "tpr/hs", "b.example.com"}, {"eu", "tpr/hs", "c.example.com"}}
	assert.NoError(store.IndexTabular(context.Background(), rec, cdnsHeader, second))

	got, err := store.TabularRows(context.Background(), rec.Remote, rec.Path, rec.Digest, cdnsHeader)
	assert.NoError(err)
	assert.Equal(second, got)

	// One logical record per (remote, digest), not one per fetch.
	n, err := store.ResponseCount(context.Background(), rec.Remote, rec.Path)
	assert.NoError(err)
	assert.Equal(1, n)
}

func TestIndexTabular_NewDigestKeepsOld(t *testing.T) {
	assert := require.New(t)
	store := setupStore(t)

	old := record("digest-1", 100)
	oldRows := [][]string{{"us", "tpr/hs", "a.example.com"}}
	assert.NoError(store.IndexTabular(context.Background(), old, cdnsHeader, oldRows))

	fresh := record("digest-2", 200)
	freshRows := [][]string{{"eu", "tpr/hs", "b.example.com"}}
	assert.NoError(store.IndexTabular(context.Background(), fresh, cdnsHeader, freshRows))

	got, err := store.TabularRows(context.Background(), old.Remote, old.Path, "digest-1", cdnsHeader)
	assert.NoError(err)
	assert.Equal(oldRows, got)

	got, err = store.TabularRows(context.Background(), old.Remote, old.Path, "digest-2", cdnsHeader)
	assert.NoError(err)
	assert.Equal(freshRows, got)

	digest, err := store.LatestDigest(context.Background(), old.Remote, old.Path)
	assert.NoError(err)
	assert.Equal("digest-2", digest)

	n, err := store.ResponseCount(context.Background(), old.Remote, old.Path)
	assert.NoError(err)
	assert.Equal(2, n)
}

func TestIndexTabular_RowArityMismatch(t *testing.T) {
	assert := require.New(t)
	store := setupStore(t)

	err := store.IndexTabular(context.Background(), record("digest-1", 100), cdnsHeader,
		[][]string{{"us", "tpr/hs"}})
	assert.ErrorContains(err, "fields")

	// The transaction rolled back; nothing was recorded.
	_, err = store.LatestDigest(context.Background(), "http://us.example.com/hsb", "/cdns")
	assert.ErrorIs(err, ErrNotFound)
}

func TestLatestDigest_NotFound(t *testing.T) {
	assert := require.New(t)
	store := setupStore(t)

	_, err := store.LatestDigest(context.Background(), "http://us.example.com/hsb", "/versions")
	assert.ErrorIs(err, ErrNotFound)
}

func TestTableName(t *testing.T) {
	assert := require.New(t)

	name, err := TableName("/cdns")
	assert.NoError(err)
	assert.Equal("cdns", name)

	name, err = TableName("versions")
	assert.NoError(err)
	assert.Equal("versions", name)

	for _, path := range []string{"/", "", "/cdns/extra", "/1cdns", "/cdns;drop"} {
		_, err = TableName(path)
		assert.Error(err, "path %q", path)
	}
}

func TestIndexTabular_RejectsBadColumns(t *testing.T) {
	assert := require.New(t)
	store := setupStore(t)

	rec := record("digest-1", 100)

	err := store.IndexTabular(context.Background(), rec, []string{"name", "bad-col"}, nil)
	assert.ErrorContains(err, "invalid column name")

	err = store.IndexTabular(context.Background(), rec, []string{"name", "Key"}, nil)
	assert.ErrorContains(err, "reserved")
}
