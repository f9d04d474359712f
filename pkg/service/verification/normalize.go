package verification

import (
	"encoding/base64"
	"net/url"
	"strings"

	"github.com/goccy/go-json"
)

// vcScheme is the custom URI scheme accepted from scanners that wrap the
// credential payload, e.g. "vc:<json>" or "vc:<base64>".
const vcScheme = "vc:"

// Decoded is the tagged outcome of payload normalization: either a structured
// credential, or the raw text when nothing in the chain could decode it.
type Decoded struct {
	Credential *Credential
	RawText    string
}

// DecodeScanPayload normalizes a scanned or received string payload into a
// credential through an ordered chain of pure parsing attempts: raw JSON, URL
// query parameter, base64/base64url, JWT payload, and the custom vc: scheme.
func DecodeScanPayload(text string) Decoded {
	text = strings.TrimSpace(text)

	attempts := []func(string) *Credential{
		decodeJSON,
		decodeURL,
		decodeBase64,
		decodeJWTPayload,
		decodeScheme,
	}
	for _, attempt := range attempts {
		if cred := attempt(text); cred != nil {
			return Decoded{Credential: cred}
		}
	}
	return Decoded{RawText: text}
}

func decodeJSON(text string) *Credential {
	return tryParseCredential([]byte(text))
}

func decodeURL(text string) *Credential {
	lower := strings.ToLower(text)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return nil
	}
	parsed, err := url.Parse(text)
	if err != nil {
		return nil
	}
	for _, param := range []string{"vc", "vp", "credential"} {
		value := parsed.Query().Get(param)
		if value == "" {
			continue
		}
		if cred := tryParseCredential([]byte(value)); cred != nil {
			return cred
		}
		if decoded, ok := base64ToText(value); ok {
			if cred := tryParseCredential([]byte(decoded)); cred != nil {
				return cred
			}
		}
	}
	return nil
}

func decodeBase64(text string) *Credential {
	if len(text) <= 20 {
		return nil
	}
	decoded, ok := base64ToText(text)
	if !ok {
		return nil
	}
	return tryParseCredential([]byte(decoded))
}

// decodeJWTPayload extracts the payload segment of a compact JWS/JWT and uses
// its vc or vp claim when present, otherwise the payload itself. No signature
// processing happens here; the engine's checks decide validity.
func decodeJWTPayload(text string) *Credential {
	if !strings.HasPrefix(text, "eyJ") || strings.Count(text, ".") < 2 {
		return nil
	}
	parts := strings.Split(text, ".")
	payload, ok := base64ToText(parts[1])
	if !ok {
		return nil
	}

	var claims map[string]json.RawMessage
	if err := json.Unmarshal([]byte(payload), &claims); err != nil {
		return nil
	}
	for _, claim := range []string{"vc", "vp"} {
		if raw, found := claims[claim]; found {
			if cred := tryParseCredential(raw); cred != nil {
				return cred
			}
		}
	}
	return tryParseCredential([]byte(payload))
}

func decodeScheme(text string) *Credential {
	if !strings.HasPrefix(strings.ToLower(text), vcScheme) {
		return nil
	}
	after := text[len(vcScheme):]
	if cred := tryParseCredential([]byte(after)); cred != nil {
		return cred
	}
	if decoded, ok := base64ToText(after); ok {
		return tryParseCredential([]byte(decoded))
	}
	return nil
}

// tryParseCredential accepts only payloads that carry the minimal credential
// shape: a context, a type set, and a subject.
func tryParseCredential(data []byte) *Credential {
	var cred Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil
	}
	if len(cred.Context) == 0 || len(cred.Type) == 0 || cred.CredentialSubject == nil {
		return nil
	}
	return &cred
}

func base64ToText(encoded string) (string, bool) {
	encoded = strings.TrimRight(encoded, "=")
	decoded, err := base64.RawStdEncoding.DecodeString(encoded)
	if err != nil {
		decoded, err = base64.RawURLEncoding.DecodeString(encoded)
		if err != nil {
			return "", false
		}
	}
	return string(decoded), true
}
