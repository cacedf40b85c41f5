package cdn

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRemote_NoServers(t *testing.T) {
	assert := require.New(t)

	_, err := NewRemote(Descriptor{Path: "tpr/hs"})
	assert.ErrorIs(err, ErrNoServers)
}

func TestRemote_GetItem(t *testing.T) {
	assert := require.New(t)

	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte("blob bytes"))
	}))
	defer srv.Close()

	remote, err := NewRemote(Descriptor{Servers: []string{srv.URL}, Path: "tpr/hs"})
	assert.NoError(err)

	rc, err := remote.GetItem(context.Background(), "/data/ab/cd/abcdef0123")
	assert.NoError(err)
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(rc)
	assert.NoError(err)
	assert.Equal("blob bytes", string(data))
	assert.Equal("/tpr/hs/data/ab/cd/abcdef0123", gotPath)
}

func TestRemote_GetItemNotFound(t *testing.T) {
	assert := require.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	remote, err := NewRemote(Descriptor{Servers: []string{srv.URL}, Path: "tpr/hs"})
	assert.NoError(err)

	_, err = remote.GetItem(context.Background(), "/data/ab/cd/abcdef0123")
	assert.ErrorIs(err, ErrNotFound)
}

func TestRemote_GetItemServerError(t *testing.T) {
	assert := require.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "origin exploded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	remote, err := NewRemote(Descriptor{Servers: []string{srv.URL}, Path: "tpr/hs"})
	assert.NoError(err)

	_, err = remote.GetItem(context.Background(), "/data/ab/cd/abcdef0123")
	assert.ErrorContains(err, "origin returned 500")
	assert.ErrorContains(err, "origin exploded")
}

func TestRemote_UsesFirstServer(t *testing.T) {
	assert := require.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("from first"))
	}))
	defer srv.Close()

	remote, err := NewRemote(Descriptor{
		Servers: []string{srv.URL, "http://unreachable.invalid"},
		Path:    "tpr/hs",
	})
	assert.NoError(err)

	data, err := remote.FetchConfig(context.Background(), "abcdef0123")
	assert.NoError(err)
	assert.Equal("from first", string(data))
}
