package trust

import (
	"context"
	"sort"
	"time"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/offline-ssi/vc-verifier/internal/util"
	"github.com/offline-ssi/vc-verifier/pkg/storage"
)

const (
	issuerNamespace     = "trusted-issuer"
	revocationNamespace = "revocation-cache"
)

type Storage struct {
	db storage.ServiceStorage
}

func NewTrustStorage(db storage.ServiceStorage) (*Storage, error) {
	if db == nil {
		return nil, errors.New("db reference is nil")
	}
	return &Storage{db: db}, nil
}

func (ts *Storage) StoreIssuer(ctx context.Context, issuer TrustedIssuer) error {
	issuerBytes, err := json.Marshal(issuer)
	if err != nil {
		return util.LoggingErrorMsg(err, "marshalling issuer")
	}
	return storage.WrapError("storing issuer", ts.db.Write(ctx, issuerNamespace, issuer.ID, issuerBytes))
}

func (ts *Storage) GetIssuer(ctx context.Context, id string) (*TrustedIssuer, error) {
	issuerBytes, err := ts.db.Read(ctx, issuerNamespace, id)
	if err != nil {
		return nil, storage.WrapError("reading issuer", err)
	}
	if len(issuerBytes) == 0 {
		return nil, nil
	}
	var issuer TrustedIssuer
	if err = json.Unmarshal(issuerBytes, &issuer); err != nil {
		return nil, util.LoggingErrorMsgf(err, "unmarshalling issuer with key: %s", id)
	}
	return &issuer, nil
}

func (ts *Storage) DeleteIssuer(ctx context.Context, id string) error {
	return storage.WrapError("deleting issuer", ts.db.Delete(ctx, issuerNamespace, id))
}

// ListIssuers returns all issuers ordered by added date, newest first.
func (ts *Storage) ListIssuers(ctx context.Context) ([]TrustedIssuer, error) {
	gotIssuers, err := ts.db.ReadAll(ctx, issuerNamespace)
	if err != nil {
		return nil, storage.WrapError("reading issuers", err)
	}

	issuers := make([]TrustedIssuer, 0, len(gotIssuers))
	for _, issuerBytes := range gotIssuers {
		var issuer TrustedIssuer
		if err = json.Unmarshal(issuerBytes, &issuer); err != nil {
			logrus.WithError(err).Warn("unmarshalling issuer")
			continue
		}
		issuers = append(issuers, issuer)
	}

	sort.Slice(issuers, func(i, j int) bool {
		return issuers[i].AddedAt.After(issuers[j].AddedAt)
	})
	return issuers, nil
}

func (ts *Storage) StoreRevocation(ctx context.Context, entry RevocationEntry) error {
	entryBytes, err := json.Marshal(entry)
	if err != nil {
		return util.LoggingErrorMsg(err, "marshalling revocation entry")
	}
	return storage.WrapError("storing revocation entry", ts.db.Write(ctx, revocationNamespace, entry.CredentialID, entryBytes))
}

func (ts *Storage) GetRevocation(ctx context.Context, credentialID string) (*RevocationEntry, error) {
	entryBytes, err := ts.db.Read(ctx, revocationNamespace, credentialID)
	if err != nil {
		return nil, storage.WrapError("reading revocation entry", err)
	}
	if len(entryBytes) == 0 {
		return nil, nil
	}
	var entry RevocationEntry
	if err = json.Unmarshal(entryBytes, &entry); err != nil {
		return nil, util.LoggingErrorMsgf(err, "unmarshalling revocation entry with key: %s", credentialID)
	}
	return &entry, nil
}

func (ts *Storage) DeleteRevocation(ctx context.Context, credentialID string) error {
	return storage.WrapError("deleting revocation entry", ts.db.Delete(ctx, revocationNamespace, credentialID))
}

// ListRevocations returns every cached revocation entry, live or expired.
func (ts *Storage) ListRevocations(ctx context.Context) ([]RevocationEntry, error) {
	gotEntries, err := ts.db.ReadAll(ctx, revocationNamespace)
	if err != nil {
		return nil, storage.WrapError("reading revocation entries", err)
	}

	entries := make([]RevocationEntry, 0, len(gotEntries))
	for _, entryBytes := range gotEntries {
		var entry RevocationEntry
		if err = json.Unmarshal(entryBytes, &entry); err != nil {
			logrus.WithError(err).Warn("unmarshalling revocation entry")
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// DeleteExpiredRevocations removes every entry whose TTL has passed, returning
// the number deleted. This is the ttl-range sweep over the cache.
func (ts *Storage) DeleteExpiredRevocations(ctx context.Context, now time.Time) (int, error) {
	entries, err := ts.ListRevocations(ctx)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, entry := range entries {
		if entry.ExpiresAt.After(now) {
			continue
		}
		if err = ts.DeleteRevocation(ctx, entry.CredentialID); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}
