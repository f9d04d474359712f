package trust

import (
	"context"
	"fmt"
	gosync "sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/offline-ssi/vc-verifier/internal/util"
	"github.com/offline-ssi/vc-verifier/pkg/service/framework"
	"github.com/offline-ssi/vc-verifier/pkg/storage"
)

const (
	// DefaultRevocationTTL bounds how long a cached revocation status is
	// considered live when the caller does not specify one.
	DefaultRevocationTTL = 7 * 24 * time.Hour
	// DefaultSweepInterval is the cadence of the background sweep of expired
	// revocation entries when none is configured.
	DefaultSweepInterval = time.Hour
)

// Service maintains the local allow-list of trusted issuers and the TTL'd
// revocation-status cache. It is the read path for the verification engine
// and the read/write path for administrative callers.
type Service struct {
	storage    *Storage
	clock      clock.Clock
	defaultTTL time.Duration

	lifecycleMu gosync.Mutex
	running     bool
	stopCh      chan struct{}
	loopDone    chan struct{}
}

func (s *Service) Type() framework.Type {
	return framework.Trust
}

func (s *Service) Status() framework.Status {
	if s.storage == nil {
		return framework.Status{
			Status:  framework.StatusNotReady,
			Message: "trust service is not ready: no storage configured",
		}
	}
	return framework.Status{Status: framework.StatusReady}
}

func NewTrustService(db storage.ServiceStorage, clk clock.Clock, defaultTTL time.Duration) (*Service, error) {
	trustStorage, err := NewTrustStorage(db)
	if err != nil {
		return nil, util.LoggingErrorMsg(err, "could not instantiate storage for the trust service")
	}
	if clk == nil {
		clk = clock.New()
	}
	if defaultTTL <= 0 {
		defaultTTL = DefaultRevocationTTL
	}

	service := Service{
		storage:    trustStorage,
		clock:      clk,
		defaultTTL: defaultTTL,
	}
	if !service.Status().IsReady() {
		return nil, errors.New(service.Status().Message)
	}
	return &service, nil
}

// AddIssuer upserts an issuer record keyed by DID. Adding an existing DID
// updates its name, key material, endpoint and trust flag; the original added
// date is preserved.
func (s *Service) AddIssuer(ctx context.Context, issuer TrustedIssuer) (*TrustedIssuer, error) {
	if issuer.ID == "" {
		return nil, util.LoggingNewError("issuer id cannot be empty")
	}
	logrus.Debugf("adding trusted issuer: %s", util.SanitizeLog(issuer.ID))

	existing, err := s.storage.GetIssuer(ctx, issuer.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		issuer.AddedAt = existing.AddedAt
	} else {
		issuer.AddedAt = s.clock.Now().UTC()
	}

	if err = s.storage.StoreIssuer(ctx, issuer); err != nil {
		return nil, err
	}
	return &issuer, nil
}

func (s *Service) RemoveIssuer(ctx context.Context, id string) error {
	logrus.Debugf("removing trusted issuer: %s", util.SanitizeLog(id))
	return s.storage.DeleteIssuer(ctx, id)
}

func (s *Service) GetIssuer(ctx context.Context, id string) (*TrustedIssuer, error) {
	return s.storage.GetIssuer(ctx, id)
}

func (s *Service) ListIssuers(ctx context.Context) ([]TrustedIssuer, error) {
	return s.storage.ListIssuers(ctx)
}

// SetTrust toggles the trust flag on an existing issuer. Unlike AddIssuer it
// errors when the issuer is absent.
func (s *Service) SetTrust(ctx context.Context, id string, trusted bool) (*TrustedIssuer, error) {
	issuer, err := s.storage.GetIssuer(ctx, id)
	if err != nil {
		return nil, err
	}
	if issuer == nil {
		return nil, util.LoggingNewError(fmt.Sprintf("issuer<%s> does not exist", util.SanitizeLog(id)))
	}

	issuer.Trusted = trusted
	if err = s.storage.StoreIssuer(ctx, *issuer); err != nil {
		return nil, err
	}
	return issuer, nil
}

// IsTrusted reports whether the issuer is present and explicitly trusted.
// Absence and explicit untrust are indistinguishable here by design; storage
// failures degrade to false rather than blocking verification.
func (s *Service) IsTrusted(ctx context.Context, id string) bool {
	issuer, err := s.storage.GetIssuer(ctx, id)
	if err != nil {
		logrus.WithError(err).Warnf("checking trust for issuer<%s>", util.SanitizeLog(id))
		return false
	}
	return issuer != nil && issuer.Trusted
}

// CacheRevocation upserts the revocation status for a credential id with the
// given TTL (the service default when ttl <= 0).
func (s *Service) CacheRevocation(ctx context.Context, credentialID string, revoked bool, ttl time.Duration) error {
	if credentialID == "" {
		return util.LoggingNewError("credential id cannot be empty")
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	now := s.clock.Now().UTC()
	return s.storage.StoreRevocation(ctx, RevocationEntry{
		CredentialID: credentialID,
		Revoked:      revoked,
		CachedAt:     now,
		ExpiresAt:    now.Add(ttl),
	})
}

// RevocationStatus returns the cached status for a credential id, or nil when
// no live entry exists (absent or past its TTL). Storage failures degrade to
// unknown.
func (s *Service) RevocationStatus(ctx context.Context, credentialID string) *bool {
	entry, err := s.storage.GetRevocation(ctx, credentialID)
	if err != nil {
		logrus.WithError(err).Warnf("reading revocation status for credential<%s>", util.SanitizeLog(credentialID))
		return nil
	}
	if entry == nil || !entry.ExpiresAt.After(s.clock.Now()) {
		return nil
	}
	return &entry.Revoked
}

// SweepExpired deletes all revocation entries whose TTL has passed.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	deleted, err := s.storage.DeleteExpiredRevocations(ctx, s.clock.Now())
	if err != nil {
		return deleted, util.LoggingErrorMsg(err, "sweeping expired revocation entries")
	}
	if deleted > 0 {
		logrus.Debugf("swept %d expired revocation cache entries", deleted)
	}
	return deleted, nil
}

// StartSweeper launches the periodic sweep of expired revocation entries.
// Repeated calls while running are no-ops.
func (s *Service) StartSweeper(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.loopDone = make(chan struct{})
	go s.sweepLoop(interval, s.stopCh, s.loopDone)
}

// StopSweeper cancels the periodic sweep. Safe to call when not running.
func (s *Service) StopSweeper() {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	if !s.running {
		return
	}
	close(s.stopCh)
	<-s.loopDone
	s.running = false
}

func (s *Service) sweepLoop(interval time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := s.clock.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if _, err := s.SweepExpired(context.Background()); err != nil {
				logrus.WithError(err).Error("periodic revocation sweep failed")
			}
		}
	}
}

// Health reports issuer and live revocation-cache counts.
func (s *Service) Health(ctx context.Context) (*HealthStats, error) {
	issuers, err := s.storage.ListIssuers(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := s.storage.ListRevocations(ctx)
	if err != nil {
		return nil, err
	}

	stats := HealthStats{TotalIssuers: len(issuers)}
	for _, issuer := range issuers {
		if issuer.Trusted {
			stats.TrustedIssuers++
		}
	}
	stats.UntrustedIssuers = stats.TotalIssuers - stats.TrustedIssuers

	now := s.clock.Now()
	for _, entry := range entries {
		if entry.ExpiresAt.After(now) {
			stats.CacheEntries++
		}
	}
	return &stats, nil
}
