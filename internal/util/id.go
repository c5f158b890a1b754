// Package util holds the id helper shared by every row-creating component.
package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a prefixed random hex id. The prefix names the owning
// entity ("art", "ver", "cmt", "ses") so an id read from a log or a URL
// identifies its table at a glance.
func NewID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}
