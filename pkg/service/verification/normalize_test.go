package verification

import (
	"encoding/base64"
	"net/url"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func credentialJSON(t *testing.T) string {
	t.Helper()
	credBytes, err := json.Marshal(wellFormedCredential())
	require.NoError(t, err)
	return string(credBytes)
}

func TestDecodeRawJSON(t *testing.T) {
	decoded := DecodeScanPayload(credentialJSON(t))
	require.NotNil(t, decoded.Credential)
	assert.Equal(t, "urn:uuid:credential-1", decoded.Credential.ID)
	assert.Equal(t, "did:example:issuer123", decoded.Credential.Issuer.ID)
}

func TestDecodeJSONWithStringIssuer(t *testing.T) {
	payload := `{
		"@context": ["https://www.w3.org/2018/credentials/v1"],
		"id": "urn:uuid:string-issuer",
		"type": ["VerifiableCredential"],
		"issuer": "did:example:plain",
		"issuanceDate": "2023-01-01T00:00:00Z",
		"credentialSubject": {"id": "did:example:subject"}
	}`
	decoded := DecodeScanPayload(payload)
	require.NotNil(t, decoded.Credential)
	assert.Equal(t, "did:example:plain", decoded.Credential.Issuer.ID)
}

func TestDecodeURLParameter(t *testing.T) {
	credJSON := credentialJSON(t)

	for _, param := range []string{"vc", "vp", "credential"} {
		plain := "https://wallet.example.com/present?" + param + "=" + url.QueryEscape(credJSON)
		decoded := DecodeScanPayload(plain)
		require.NotNil(t, decoded.Credential, "param %s plain", param)

		encoded := base64.StdEncoding.EncodeToString([]byte(credJSON))
		wrapped := "https://wallet.example.com/present?" + param + "=" + url.QueryEscape(encoded)
		decoded = DecodeScanPayload(wrapped)
		require.NotNil(t, decoded.Credential, "param %s base64", param)
	}
}

func TestDecodeURLWithoutCredentialParam(t *testing.T) {
	decoded := DecodeScanPayload("https://example.com/page?foo=bar")
	assert.Nil(t, decoded.Credential)
	assert.Equal(t, "https://example.com/page?foo=bar", decoded.RawText)
}

func TestDecodeBase64(t *testing.T) {
	credJSON := credentialJSON(t)

	standard := base64.StdEncoding.EncodeToString([]byte(credJSON))
	decoded := DecodeScanPayload(standard)
	require.NotNil(t, decoded.Credential)

	urlSafe := base64.RawURLEncoding.EncodeToString([]byte(credJSON))
	decoded = DecodeScanPayload(urlSafe)
	require.NotNil(t, decoded.Credential)
}

func TestDecodeJWTPayloadVCClaim(t *testing.T) {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"EdDSA","typ":"JWT"}`))
	claims := `{"iss":"did:example:issuer123","vc":` + credentialJSON(t) + `}`
	payload := base64.RawURLEncoding.EncodeToString([]byte(claims))
	token := header + "." + payload + "." + base64.RawURLEncoding.EncodeToString([]byte("sig"))

	decoded := DecodeScanPayload(token)
	require.NotNil(t, decoded.Credential)
	assert.Equal(t, "urn:uuid:credential-1", decoded.Credential.ID)
}

func TestDecodeJWTPayloadWholeBody(t *testing.T) {
	// no vc claim but the payload itself is a credential
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"EdDSA"}`))
	payload := base64.RawURLEncoding.EncodeToString([]byte(credentialJSON(t)))
	token := header + "." + payload + "."

	decoded := DecodeScanPayload(token)
	require.NotNil(t, decoded.Credential)
}

func TestDecodeVCScheme(t *testing.T) {
	credJSON := credentialJSON(t)

	decoded := DecodeScanPayload("vc:" + credJSON)
	require.NotNil(t, decoded.Credential)

	decoded = DecodeScanPayload("vc:" + base64.StdEncoding.EncodeToString([]byte(credJSON)))
	require.NotNil(t, decoded.Credential)
}

func TestDecodeUnrecognizedText(t *testing.T) {
	for _, payload := range []string{
		"plain text that is no credential",
		"{\"not\": \"a credential\"}",
		"short b64",
		"vc:garbage!!!",
		"",
	} {
		decoded := DecodeScanPayload(payload)
		assert.Nil(t, decoded.Credential, "payload %q", payload)
	}
}

func TestDecodeTrimsWhitespace(t *testing.T) {
	decoded := DecodeScanPayload("  \n" + credentialJSON(t) + "\t ")
	require.NotNil(t, decoded.Credential)
}

func TestFingerprintIgnoresProof(t *testing.T) {
	a := wellFormedCredential()
	b := wellFormedCredential()
	b.Proof.ProofValue = "a completely different value"
	assert.Equal(t, Fingerprint(a), Fingerprint(b))

	c := wellFormedCredential()
	c.CredentialSubject["name"] = "Bob Example"
	assert.NotEqual(t, Fingerprint(a), Fingerprint(c))
}
