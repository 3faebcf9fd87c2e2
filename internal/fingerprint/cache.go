// Package fingerprint computes and memoizes content fingerprints for the
// static assets referenced by rendered pages.
//
// A fingerprint is the lowercase hex SHA-256 of a file's bytes truncated to
// Length characters. It is appended to asset URLs as ?h=<fingerprint> so
// browsers refetch an asset only when a new deployment changes it.
//
// Fingerprints are computed at most once per path for the life of the
// process and are never invalidated: deployed assets are assumed immutable,
// so a file edited on disk keeps its old fingerprint until restart.
package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/spf13/afero"

	tserrors "github.com/conneroisu/tagserve/internal/errors"
)

// Length is the number of hex characters kept from the digest.
const Length = 32

// Cache memoizes fingerprints by file path.
//
// Two goroutines missing the same path concurrently both read the file and
// both store the result. The value is a pure function of the file contents,
// so the last write wins without harm.
type Cache struct {
	fs     afero.Fs
	hashes map[string]string
	mu     sync.RWMutex
}

// New creates an empty cache reading through fs.
func New(fs afero.Fs) *Cache {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Cache{
		fs:     fs,
		hashes: make(map[string]string),
	}
}

// Get returns the fingerprint of the file at path, reading and hashing it
// only on the first request for that path.
func (c *Cache) Get(ctx context.Context, path string) (string, error) {
	c.mu.RLock()
	h, ok := c.hashes[path]
	c.mu.RUnlock()
	if ok {
		return h, nil
	}

	if err := ctx.Err(); err != nil {
		return "", tserrors.NewAssetReadError(path, err)
	}

	data, err := afero.ReadFile(c.fs, path)
	if err != nil {
		return "", tserrors.NewAssetReadError(path, err)
	}

	h = Sum(data)

	c.mu.Lock()
	c.hashes[path] = h
	c.mu.Unlock()

	return h, nil
}

// Len returns the number of memoized fingerprints.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.hashes)
}

// Sum computes the fingerprint of data.
func Sum(data []byte) string {
	digest := sha256.Sum256(data)
	return hex.EncodeToString(digest[:])[:Length]
}
