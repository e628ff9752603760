package xid

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

// New returns a prefixed opaque identifier, e.g. "sale-3f2a...".
func New(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, strings.ReplaceAll(uuid.NewString(), "-", ""))
}

// SKUAlphabet leaves out I, O and L.
const SKUAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ0123456789"

const SKULength = 7

// NewSKU draws a random product code. Codes are not guaranteed unique.
func NewSKU() string {
	size := big.NewInt(int64(len(SKUAlphabet)))
	var b strings.Builder
	b.Grow(SKULength)
	for i := 0; i < SKULength; i++ {
		n, err := rand.Int(rand.Reader, size)
		if err != nil {
			// fall back to uuid entropy
			n = big.NewInt(int64(uuid.New()[i] % byte(len(SKUAlphabet))))
		}
		b.WriteByte(SKUAlphabet[n.Int64()])
	}
	return b.String()
}

func IsSKU(value string) bool {
	if len(value) != SKULength {
		return false
	}
	for _, r := range strings.ToUpper(value) {
		if !strings.ContainsRune(SKUAlphabet, r) {
			return false
		}
	}
	return true
}
