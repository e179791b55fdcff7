package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"cloud.google.com/go/civil"
)

// Fingerprint derives the deterministic upsert key for a record from its
// normalized fields. The original free text is deliberately excluded, so a
// redelivered or reworded submission of the same event collides with the
// stored one instead of duplicating it.
func Fingerprint(description string, amount float64, currency, account string, date civil.Date) string {
	parts := []string{
		strings.ToLower(strings.TrimSpace(description)),
		fmt.Sprintf("%.2f", amount),
		strings.ToUpper(currency),
		account,
		date.String(),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:])
}
