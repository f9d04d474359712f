package trust

import "time"

// TrustedIssuer is the local allow-list record for an issuer DID. An issuer
// may exist with Trusted=false, which is distinct from not being present at
// all; both fail the trust check identically.
type TrustedIssuer struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	PublicKey          string    `json:"publicKey"`
	RevocationEndpoint string    `json:"revocationEndpoint,omitempty"`
	Trusted            bool      `json:"trusted"`
	AddedAt            time.Time `json:"addedAt"`
}

// RevocationEntry is a TTL'd memo of whether a credential id is known to be
// revoked. At most one live entry exists per credential id.
type RevocationEntry struct {
	CredentialID string    `json:"vcId"`
	Revoked      bool      `json:"isRevoked"`
	CachedAt     time.Time `json:"cachedAt"`
	ExpiresAt    time.Time `json:"ttl"`
}

// HealthStats summarizes the trust cache contents.
type HealthStats struct {
	TotalIssuers     int `json:"totalIssuers"`
	TrustedIssuers   int `json:"trustedIssuers"`
	UntrustedIssuers int `json:"untrustedIssuers"`
	CacheEntries     int `json:"cacheEntries"`
}
