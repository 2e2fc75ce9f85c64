package pionengine

import (
	"crypto/rand"
	"encoding/hex"

	"yankcord/internal/constants"
)

// generateID mirrors the persistence reference service's id scheme: a
// prefix plus crypto/rand hex entropy.
func generateID(prefix string) string {
	b := make([]byte, constants.IDRandomBytes)
	// crypto/rand.Read only fails if the OS entropy source is broken; an
	// all-zero suffix beats threading an error through every id call site.
	_, _ = rand.Read(b)
	return prefix + "_" + hex.EncodeToString(b)
}
