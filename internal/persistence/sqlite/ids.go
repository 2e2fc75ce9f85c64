package sqlite

import (
	"crypto/rand"
	"encoding/hex"

	"yankcord/internal/constants"
)

// generateID mirrors the teacher's db.GenerateID: a prefix plus
// crypto/rand hex entropy, avoiding sequential ids that would leak
// message/user counts.
func generateID(prefix string) (string, error) {
	b := make([]byte, constants.IDRandomBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return prefix + "_" + hex.EncodeToString(b), nil
}
