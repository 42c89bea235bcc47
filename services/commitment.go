// services/commitment.go
package services

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"rps-match-service/models"
)

// CommitDigest binds a choice to a client-chosen salt:
// lowercase hex of sha256("<choice>-<salt>").
func CommitDigest(choice models.Choice, salt string) string {
	sum := sha256.Sum256([]byte(choice.String() + "-" + salt))
	return hex.EncodeToString(sum[:])
}

// VerifyCommit recomputes the digest and compares it byte for byte. Hex case
// is significant: an uppercase digest never verifies.
func VerifyCommit(digest string, choice models.Choice, salt string) bool {
	expected := CommitDigest(choice, salt)
	return subtle.ConstantTimeCompare([]byte(digest), []byte(expected)) == 1
}
