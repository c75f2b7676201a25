// Package billno generates human-readable bill numbers.
package billno

import (
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// New returns an 8-character uppercase hex token (the first segment of a
// random UUID). Uniqueness is enforced by the bills table; callers retry
// on a duplicate.
func New() string {
	id, err := uuid.NewRandom()
	if err != nil {
		buf := make([]byte, 4)
		_, _ = rand.Read(buf)
		return strings.ToUpper(hex.EncodeToString(buf))
	}
	return strings.ToUpper(id.String()[:8])
}
