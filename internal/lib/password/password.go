package password

import "golang.org/x/crypto/bcrypt"

// Hasher produces and checks salted bcrypt digests.
type Hasher struct {
	cost int
}

// New returns a Hasher with the given cost. Costs outside bcrypt's
// supported range fall back to the default.
func New(cost int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}

	return &Hasher{cost: cost}
}

// Hash returns a salted digest of the plaintext. The salt is fresh per
// call, so equal plaintexts yield distinct digests.
func (h *Hasher) Hash(plaintext string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
}

// Verify reports whether plaintext matches the digest. A malformed digest
// verifies as false rather than erroring.
func (h *Hasher) Verify(plaintext string, digest []byte) bool {
	return bcrypt.CompareHashAndPassword(digest, []byte(plaintext)) == nil
}
