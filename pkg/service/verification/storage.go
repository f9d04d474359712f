package verification

import (
	"context"
	"sort"
	"time"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/offline-ssi/vc-verifier/internal/encryption"
	"github.com/offline-ssi/vc-verifier/internal/util"
	"github.com/offline-ssi/vc-verifier/pkg/storage"
)

const resultNamespace = "verification-result"

// storedResult is the at-rest envelope for a verification result. The result
// itself is sealed; only the fields needed for ordering and sync bookkeeping
// stay in the clear.
type storedResult struct {
	ID              string     `json:"id"`
	Timestamp       time.Time  `json:"timestamp"`
	EncryptedData   []byte     `json:"encryptedData"`
	IntegrityTag    []byte     `json:"hmac"`
	Synced          bool       `json:"synced"`
	SyncAttempts    int        `json:"syncAttempts"`
	LastSyncAttempt *time.Time `json:"lastSyncAttempt,omitempty"`
}

type Storage struct {
	db  storage.ServiceStorage
	enc *encryption.Service
}

func NewVerificationStorage(db storage.ServiceStorage, enc *encryption.Service) (*Storage, error) {
	if db == nil {
		return nil, errors.New("db reference is nil")
	}
	if enc == nil {
		return nil, errors.New("encryption service reference is nil")
	}
	return &Storage{db: db, enc: enc}, nil
}

// StoreResult seals and persists a result. Crypto failures surface as
// CryptoError; write failures as StorageError.
func (vs *Storage) StoreResult(ctx context.Context, result VerificationResult) error {
	resultBytes, err := json.Marshal(result)
	if err != nil {
		return util.LoggingErrorMsg(err, "marshalling verification result")
	}

	ciphertext, tag, err := vs.enc.Encrypt(resultBytes)
	if err != nil {
		return err
	}

	envelope := storedResult{
		ID:            result.ID,
		Timestamp:     result.Timestamp,
		EncryptedData: ciphertext,
		IntegrityTag:  tag,
		Synced:        result.Synced,
	}
	envelopeBytes, err := json.Marshal(envelope)
	if err != nil {
		return util.LoggingErrorMsg(err, "marshalling result envelope")
	}
	return storage.WrapError("storing verification result", vs.db.Write(ctx, resultNamespace, result.ID, envelopeBytes))
}

func (vs *Storage) GetResult(ctx context.Context, id string) (*VerificationResult, error) {
	envelopeBytes, err := vs.db.Read(ctx, resultNamespace, id)
	if err != nil {
		return nil, storage.WrapError("reading verification result", err)
	}
	if len(envelopeBytes) == 0 {
		return nil, nil
	}

	var envelope storedResult
	if err = json.Unmarshal(envelopeBytes, &envelope); err != nil {
		return nil, util.LoggingErrorMsgf(err, "unmarshalling result envelope with key: %s", id)
	}
	return vs.openEnvelope(envelope)
}

// ListResults returns stored results newest first, up to limit. Rows that can
// no longer be opened are skipped with a warning rather than failing the read.
func (vs *Storage) ListResults(ctx context.Context, limit int) ([]VerificationResult, error) {
	gotEnvelopes, err := vs.db.ReadAll(ctx, resultNamespace)
	if err != nil {
		return nil, storage.WrapError("reading verification results", err)
	}

	envelopes := make([]storedResult, 0, len(gotEnvelopes))
	for _, envelopeBytes := range gotEnvelopes {
		var envelope storedResult
		if err = json.Unmarshal(envelopeBytes, &envelope); err != nil {
			logrus.WithError(err).Warn("unmarshalling result envelope")
			continue
		}
		envelopes = append(envelopes, envelope)
	}

	sort.Slice(envelopes, func(i, j int) bool {
		return envelopes[i].Timestamp.After(envelopes[j].Timestamp)
	})
	if limit > 0 && len(envelopes) > limit {
		envelopes = envelopes[:limit]
	}

	results := make([]VerificationResult, 0, len(envelopes))
	for _, envelope := range envelopes {
		result, err := vs.openEnvelope(envelope)
		if err != nil {
			logrus.WithError(err).Warnf("could not open stored result<%s>", envelope.ID)
			continue
		}
		results = append(results, *result)
	}
	return results, nil
}

// MarkSynced transitions a result's synced flag false to true. The transition
// happens at most once; marking an already-synced result is a no-op.
func (vs *Storage) MarkSynced(ctx context.Context, id string) error {
	envelopeBytes, err := vs.db.Read(ctx, resultNamespace, id)
	if err != nil {
		return storage.WrapError("reading verification result", err)
	}
	if len(envelopeBytes) == 0 {
		return util.LoggingNewError("verification result does not exist")
	}

	var envelope storedResult
	if err = json.Unmarshal(envelopeBytes, &envelope); err != nil {
		return util.LoggingErrorMsgf(err, "unmarshalling result envelope with key: %s", id)
	}
	if envelope.Synced {
		return nil
	}

	now := time.Now().UTC()
	envelope.Synced = true
	envelope.SyncAttempts++
	envelope.LastSyncAttempt = &now

	updatedBytes, err := json.Marshal(envelope)
	if err != nil {
		return util.LoggingErrorMsg(err, "marshalling result envelope")
	}
	return storage.WrapError("updating verification result", vs.db.Write(ctx, resultNamespace, id, updatedBytes))
}

func (vs *Storage) Count(ctx context.Context) (int, error) {
	gotEnvelopes, err := vs.db.ReadAll(ctx, resultNamespace)
	if err != nil {
		return 0, storage.WrapError("reading verification results", err)
	}
	return len(gotEnvelopes), nil
}

func (vs *Storage) openEnvelope(envelope storedResult) (*VerificationResult, error) {
	resultBytes, err := vs.enc.Decrypt(envelope.EncryptedData, envelope.IntegrityTag)
	if err != nil {
		return nil, err
	}
	var result VerificationResult
	if err = json.Unmarshal(resultBytes, &result); err != nil {
		return nil, errors.Wrap(err, "unmarshalling verification result")
	}
	// the envelope owns the sync flag after creation
	result.Synced = envelope.Synced
	return &result, nil
}
