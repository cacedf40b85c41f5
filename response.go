package keg

import (
	"crypto/md5"
	"encoding/hex"
	"time"
)

// Response captures one metadata fetch: where it came from, when, and the
// digest its body is addressed by in the state cache.
type Response struct {
	Remote    string
	Path      string
	Timestamp int64 // Unix seconds
	Digest    string
	Body      []byte
}

func newResponse(remote, path string, body []byte) *Response {
	sum := md5.Sum(body)
	return &Response{
		Remote:    remote,
		Path:      path,
		Timestamp: time.Now().Unix(),
		Digest:    hex.EncodeToString(sum[:]),
		Body:      body,
	}
}

// WriteToCache persists the response body in the state cache under cacheDir.
func (r *Response) WriteToCache(cacheDir string) error {
	return NewStateCache(cacheDir).Write(r.Path, r.Digest, r.Body)
}
