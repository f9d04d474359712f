package verification

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/offline-ssi/vc-verifier/internal/encryption"
	"github.com/offline-ssi/vc-verifier/internal/util"
	"github.com/offline-ssi/vc-verifier/pkg/service/framework"
	"github.com/offline-ssi/vc-verifier/pkg/service/trust"
	"github.com/offline-ssi/vc-verifier/pkg/storage"
)

// RevocationPolicy decides how an unknown revocation status is treated: the
// offline-safe default lets unknown credentials through, a stricter deployment
// can fail closed instead.
type RevocationPolicy string

const (
	RevocationPolicyAllow RevocationPolicy = "allow"
	RevocationPolicyDeny  RevocationPolicy = "deny"

	// DefaultMaxListEntries caps how many stored results a single list call returns.
	DefaultMaxListEntries = 1000
)

// Service is the verification engine: it runs the five independent checks
// over a credential, derives the verdict, persists the sealed result, and
// returns it. It never returns an error for a decodable credential; only
// storage and crypto failures propagate.
type Service struct {
	storage          *Storage
	trust            *trust.Service
	clock            clock.Clock
	revocationPolicy RevocationPolicy
	maxListEntries   int

	// onResult is set once during wiring, before traffic
	onResult func(ctx context.Context, cred *Credential, result *VerificationResult)
}

func (s *Service) Type() framework.Type {
	return framework.Verification
}

func (s *Service) Status() framework.Status {
	if s.storage == nil || s.trust == nil {
		return framework.Status{
			Status:  framework.StatusNotReady,
			Message: "verification service is not ready: missing storage or trust service",
		}
	}
	return framework.Status{Status: framework.StatusReady}
}

func NewVerificationService(db storage.ServiceStorage, enc *encryption.Service, trustService *trust.Service, clk clock.Clock, policy RevocationPolicy, maxListEntries int) (*Service, error) {
	verificationStorage, err := NewVerificationStorage(db, enc)
	if err != nil {
		return nil, util.LoggingErrorMsg(err, "could not instantiate storage for the verification service")
	}
	if clk == nil {
		clk = clock.New()
	}
	if policy == "" {
		policy = RevocationPolicyAllow
	}
	if maxListEntries <= 0 {
		maxListEntries = DefaultMaxListEntries
	}

	service := Service{
		storage:          verificationStorage,
		trust:            trustService,
		clock:            clk,
		revocationPolicy: policy,
		maxListEntries:   maxListEntries,
	}
	if !service.Status().IsReady() {
		return nil, errors.New(service.Status().Message)
	}
	return &service, nil
}

// Verify runs all five checks over the credential, derives the verdict, and
// persists the result. The credential is never mutated. A storage or crypto
// failure is returned alongside the (unsaved) result so callers can react to
// the environment failure distinctly from the verdict.
func (s *Service) Verify(ctx context.Context, cred *Credential) (*VerificationResult, error) {
	result := s.newResult(cred)
	s.evaluate(ctx, cred, result)

	if err := s.storage.StoreResult(ctx, *result); err != nil {
		return nil, err
	}
	s.emitResult(ctx, cred, result)

	logrus.Debugf("verified credential<%s>: %s", util.SanitizeLog(cred.ID), result.Status)
	return result, nil
}

// VerifyPayload normalizes a scanned string payload and verifies it. Text the
// decode chain cannot recognize produces a persisted error-status result
// rather than an exception.
func (s *Service) VerifyPayload(ctx context.Context, payload string) (*VerificationResult, error) {
	decoded := DecodeScanPayload(payload)
	if decoded.Credential != nil {
		return s.Verify(ctx, decoded.Credential)
	}

	result := &VerificationResult{
		ID:           uuid.NewString(),
		CredentialID: "unknown",
		Status:       StatusError,
		Timestamp:    s.clock.Now().UTC(),
		Errors:       []string{MsgUnrecognizedPayload},
		Metadata: Metadata{
			Issuer:       "unknown",
			Type:         "unknown",
			IssuanceDate: s.clock.Now().UTC().Format(time.RFC3339),
		},
	}
	if err := s.storage.StoreResult(ctx, *result); err != nil {
		return nil, err
	}
	s.emitResult(ctx, nil, result)
	return result, nil
}

// OnResult registers a hook invoked after every result is persisted. The
// credential is nil when the payload could not be decoded.
func (s *Service) OnResult(fn func(ctx context.Context, cred *Credential, result *VerificationResult)) {
	s.onResult = fn
}

func (s *Service) emitResult(ctx context.Context, cred *Credential, result *VerificationResult) {
	if s.onResult != nil {
		s.onResult(ctx, cred, result)
	}
}

// ListResults returns persisted results newest first. A non-positive or
// oversized limit falls back to the configured maximum.
func (s *Service) ListResults(ctx context.Context, limit int) ([]VerificationResult, error) {
	if limit <= 0 || limit > s.maxListEntries {
		limit = s.maxListEntries
	}
	return s.storage.ListResults(ctx, limit)
}

func (s *Service) GetResult(ctx context.Context, id string) (*VerificationResult, error) {
	return s.storage.GetResult(ctx, id)
}

// MarkResultSynced records remote acceptance of a result upload.
func (s *Service) MarkResultSynced(ctx context.Context, id string) error {
	return s.storage.MarkSynced(ctx, id)
}

func (s *Service) newResult(cred *Credential) *VerificationResult {
	subjectID, _ := cred.CredentialSubject["id"].(string)
	return &VerificationResult{
		ID:           uuid.NewString(),
		CredentialID: cred.ID,
		Status:       StatusInvalid,
		Timestamp:    s.clock.Now().UTC(),
		Errors:       []string{},
		Metadata: Metadata{
			Issuer:         cred.Issuer.ID,
			Type:           strings.Join(cred.Type, ", "),
			IssuanceDate:   cred.IssuanceDate,
			ExpirationDate: cred.ExpirationDate,
			SubjectID:      subjectID,
			Fingerprint:    Fingerprint(cred),
		},
		Synced: false,
	}
}

// evaluate computes the full check vector before deciding the verdict; no
// check short-circuits another, so the result always reports all five.
func (s *Service) evaluate(ctx context.Context, cred *Credential, result *VerificationResult) {
	defer func() {
		if r := recover(); r != nil {
			logrus.Errorf("verification of credential<%s> panicked: %v", util.SanitizeLog(cred.ID), r)
			result.Status = StatusError
			result.Errors = []string{fmt.Sprintf("internal verification failure: %v", r)}
		}
	}()

	checks := &result.Checks

	checks.SchemaValid = validateSchema(cred)
	if !checks.SchemaValid {
		result.Errors = append(result.Errors, MsgSchemaValidationFailed)
	}

	checks.NotExpired = s.checkExpiration(cred)
	if !checks.NotExpired {
		result.Errors = append(result.Errors, MsgCredentialExpired)
	}

	checks.SignatureValid = verifySignature(cred)
	if !checks.SignatureValid {
		result.Errors = append(result.Errors, MsgSignatureVerificationFail)
	}

	checks.TrustedIssuer = s.trust.IsTrusted(ctx, result.Metadata.Issuer)
	if !checks.TrustedIssuer {
		result.Errors = append(result.Errors, MsgUntrustedIssuer)
	}

	var revocationMsg string
	checks.NotRevoked, revocationMsg = s.checkRevocation(ctx, cred.ID)
	if !checks.NotRevoked {
		result.Errors = append(result.Errors, revocationMsg)
	}

	switch {
	case checks.AllPassed():
		result.Status = StatusValid
		result.Errors = []string{}
	case !checks.NotExpired:
		// expiration takes priority over other failures for user messaging
		result.Status = StatusExpired
	default:
		result.Status = StatusInvalid
	}
}

// validateSchema checks the credential's basic structure: the canonical VC
// context, the base type tag, and the presence of issuer, issuance date,
// subject and proof. Fails closed on anything missing or malformed.
func validateSchema(cred *Credential) bool {
	if len(cred.Context) == 0 || len(cred.Type) == 0 {
		return false
	}
	if cred.Issuer.ID == "" || cred.IssuanceDate == "" {
		return false
	}
	if cred.CredentialSubject == nil || cred.Proof == nil {
		return false
	}

	hasContext := false
	for _, c := range cred.Context {
		if c == CredentialsContextV1 {
			hasContext = true
			break
		}
	}
	if !hasContext {
		return false
	}

	for _, t := range cred.Type {
		if t == TypeVerifiableCredential {
			return true
		}
	}
	return false
}

// checkExpiration passes when the credential carries no expiration date (it
// does not expire) or when the date is in the future. An unparseable date is
// a failure, not a panic.
func (s *Service) checkExpiration(cred *Credential) bool {
	if cred.ExpirationDate == "" {
		return true
	}
	expiration, err := time.Parse(time.RFC3339, cred.ExpirationDate)
	if err != nil {
		logrus.Debugf("unparseable expiration date: %s", util.SanitizeLog(cred.ExpirationDate))
		return false
	}
	return expiration.After(s.clock.Now())
}

// verifySignature is a structural proxy for cryptographic verification: it
// passes when every proof field is a non-empty string. A security-grade
// deployment must swap this for real signature verification against a key
// resolved from the verification method; the check interface stays the same.
func verifySignature(cred *Credential) bool {
	proof := cred.Proof
	if proof == nil {
		return false
	}
	return proof.Type != "" &&
		proof.Created != "" &&
		proof.VerificationMethod != "" &&
		proof.ProofPurpose != "" &&
		proof.ProofValue != ""
}

// checkRevocation consults the TTL'd cache; with no live entry the configured
// policy decides, and the offline-safe default treats unknown as not revoked.
func (s *Service) checkRevocation(ctx context.Context, credentialID string) (bool, string) {
	status := s.trust.RevocationStatus(ctx, credentialID)
	if status != nil {
		return !*status, MsgCredentialRevoked
	}
	if s.revocationPolicy == RevocationPolicyDeny {
		return false, MsgRevocationStatusUnknown
	}
	return true, ""
}
