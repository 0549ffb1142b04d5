// Package chain derives the per-company hash chain of invoices.
package chain

import (
	"crypto/sha256"
	"encoding/hex"
)

// Link computes the document hash for a canonical form linked against the
// previous document hash: hex(SHA-256(canonical || previousHash)). The head
// of a chain uses an empty previousHash.
func Link(canonical []byte, previousHash string) string {
	h := sha256.New()
	h.Write(canonical)
	h.Write([]byte(previousHash))
	return hex.EncodeToString(h.Sum(nil))
}
