package verification

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/goccy/go-json"
)

// Fingerprint computes a SHA-256 hex digest over a canonical, proof-less
// projection of the credential. Two credentials with the same content but
// different proofs share a fingerprint.
func Fingerprint(cred *Credential) string {
	canonical := map[string]any{
		"@context":          cred.Context,
		"id":                cred.ID,
		"type":              cred.Type,
		"issuer":            cred.Issuer.ID,
		"issuanceDate":      cred.IssuanceDate,
		"expirationDate":    cred.ExpirationDate,
		"credentialSubject": cred.CredentialSubject,
	}

	// map keys marshal in sorted order, which is canonical enough here
	canonicalBytes, err := json.Marshal(canonical)
	if err != nil {
		return ""
	}
	digest := sha256.Sum256(canonicalBytes)
	return hex.EncodeToString(digest[:])
}
