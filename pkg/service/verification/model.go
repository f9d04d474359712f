package verification

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
)

const (
	// CredentialsContextV1 is the canonical VC context URI every credential must carry.
	CredentialsContextV1 = "https://www.w3.org/2018/credentials/v1"

	// TypeVerifiableCredential is the base type tag every credential must carry.
	TypeVerifiableCredential = "VerifiableCredential"
)

// Status is the overall verdict derived from the check vector.
type Status string

const (
	StatusValid   Status = "valid"
	StatusInvalid Status = "invalid"
	StatusExpired Status = "expired"
	StatusError   Status = "error"
)

// Human-readable failure messages recorded on the result, one per check.
const (
	MsgSchemaValidationFailed    = "credential schema validation failed"
	MsgCredentialExpired         = "credential has expired"
	MsgSignatureVerificationFail = "digital signature verification failed"
	MsgUntrustedIssuer           = "credential issuer is not trusted"
	MsgCredentialRevoked         = "credential has been revoked"
	MsgRevocationStatusUnknown   = "credential revocation status unknown"
	MsgUnrecognizedPayload       = "unrecognized payload for verification"
)

// Issuer accepts both issuer representations from the wire: a bare DID string
// or an object carrying an id.
type Issuer struct {
	ID string `json:"id"`
}

func (i *Issuer) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		i.ID = s
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return errors.Wrap(err, "issuer must be a string or an object with an id")
	}
	i.ID = obj.ID
	return nil
}

func (i Issuer) MarshalJSON() ([]byte, error) {
	return json.Marshal(i.ID)
}

// Proof is the cryptographic envelope attached to a credential.
type Proof struct {
	Type               string `json:"type"`
	Created            string `json:"created"`
	VerificationMethod string `json:"verificationMethod"`
	ProofPurpose       string `json:"proofPurpose"`
	ProofValue         string `json:"proofValue"`
}

// Credential is the external input to the engine. It is treated as an
// immutable value once received; the engine never mutates it.
type Credential struct {
	Context           []string       `json:"@context"`
	ID                string         `json:"id"`
	Type              []string       `json:"type"`
	Issuer            Issuer         `json:"issuer"`
	IssuanceDate      string         `json:"issuanceDate"`
	ExpirationDate    string         `json:"expirationDate,omitempty"`
	CredentialSubject map[string]any `json:"credentialSubject"`
	Proof             *Proof         `json:"proof,omitempty"`
}

// CheckResults is the full check vector. All five are computed on every
// verification; none is ever left unset.
type CheckResults struct {
	SignatureValid bool `json:"signatureValid"`
	SchemaValid    bool `json:"schemaValid"`
	NotExpired     bool `json:"notExpired"`
	NotRevoked     bool `json:"notRevoked"`
	TrustedIssuer  bool `json:"trustedIssuer"`
}

func (c CheckResults) AllPassed() bool {
	return c.SignatureValid && c.SchemaValid && c.NotExpired && c.NotRevoked && c.TrustedIssuer
}

// Metadata is the projection of the credential kept alongside the verdict.
type Metadata struct {
	Issuer         string `json:"issuer"`
	Type           string `json:"type"`
	IssuanceDate   string `json:"issuanceDate"`
	ExpirationDate string `json:"expirationDate,omitempty"`
	SubjectID      string `json:"subjectId,omitempty"`
	Fingerprint    string `json:"vcHash,omitempty"`
}

// VerificationResult is created once per verification call and is immutable
// thereafter, except for the synced flag which transitions false to true
// exactly once when the sync queue confirms remote acceptance.
type VerificationResult struct {
	ID           string       `json:"id"`
	CredentialID string       `json:"vcId"`
	Status       Status       `json:"status"`
	Timestamp    time.Time    `json:"timestamp"`
	Checks       CheckResults `json:"checks"`
	Errors       []string     `json:"errors"`
	Metadata     Metadata     `json:"metadata"`
	Synced       bool         `json:"synced"`
}
