package service

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"github.com/offline-ssi/vc-verifier/config"
	"github.com/offline-ssi/vc-verifier/internal/encryption"
	"github.com/offline-ssi/vc-verifier/internal/util"
	"github.com/offline-ssi/vc-verifier/pkg/service/framework"
	"github.com/offline-ssi/vc-verifier/pkg/service/sync"
	"github.com/offline-ssi/vc-verifier/pkg/service/trust"
	"github.com/offline-ssi/vc-verifier/pkg/service/verification"
	"github.com/offline-ssi/vc-verifier/pkg/storage"
)

// VerifierService represents all services and their dependencies independent of transport
type VerifierService struct {
	Config config.ServicesConfig

	Encryption   *encryption.Service
	Trust        *trust.Service
	Verification *verification.Service
	Sync         *sync.Service

	storage storage.ServiceStorage
}

// InstantiateVerifierService creates a new instance of the verifier which instantiates all services
// and their dependencies independent of transport.
func InstantiateVerifierService(cfg config.ServicesConfig) (*VerifierService, error) {
	if err := validateServiceConfig(cfg); err != nil {
		return nil, util.LoggingErrorMsg(err, "could not instantiate verifier service, invalid config")
	}
	service, err := instantiateServices(cfg)
	if err != nil {
		return nil, util.LoggingErrorMsg(err, "could not instantiate the verifier service")
	}
	return service, nil
}

func validateServiceConfig(cfg config.ServicesConfig) error {
	if !storage.IsStorageAvailable(storage.Type(cfg.StorageProvider)) {
		return fmt.Errorf("%s storage provider configured, but not available", cfg.StorageProvider)
	}
	if cfg.EncryptionConfig.IsEmpty() {
		return fmt.Errorf("%s no config provided", "encryption")
	}
	if cfg.TrustConfig.IsEmpty() {
		return fmt.Errorf("%s no config provided", framework.Trust)
	}
	if cfg.VerificationConfig.IsEmpty() {
		return fmt.Errorf("%s no config provided", framework.Verification)
	}
	if cfg.SyncConfig.IsEmpty() {
		return fmt.Errorf("%s no config provided", framework.Sync)
	}
	return nil
}

// instantiateServices begins all instantiates and their dependencies
func instantiateServices(cfg config.ServicesConfig) (*VerifierService, error) {
	storageProvider, err := storage.NewStorage(storage.Type(cfg.StorageProvider), storageOptions(cfg)...)
	if err != nil {
		return nil, util.LoggingErrorMsgf(err, "could not instantiate storage provider: %s", cfg.StorageProvider)
	}

	encryptionService := encryption.NewService()
	if err = encryptionService.Initialize(cfg.EncryptionConfig.Passphrase); err != nil {
		return nil, util.LoggingErrorMsg(err, "could not initialize the encryption service")
	}

	clk := clock.New()
	revocationTTL := time.Duration(cfg.TrustConfig.RevocationCacheTTLHours) * time.Hour
	trustService, err := trust.NewTrustService(storageProvider, clk, revocationTTL)
	if err != nil {
		return nil, util.LoggingErrorMsg(err, "could not instantiate the trust service")
	}

	verificationService, err := verification.NewVerificationService(
		storageProvider,
		encryptionService,
		trustService,
		clk,
		verification.RevocationPolicy(cfg.VerificationConfig.RevocationPolicy),
		cfg.VerificationConfig.MaxStorageEntries,
	)
	if err != nil {
		return nil, util.LoggingErrorMsg(err, "could not instantiate the verification service")
	}

	client := &http.Client{Timeout: time.Duration(cfg.SyncConfig.RequestTimeoutSeconds) * time.Second}
	syncService, err := sync.NewSyncService(storageProvider, client, sync.AlwaysOnline{}, clk)
	if err != nil {
		return nil, util.LoggingErrorMsg(err, "could not instantiate the sync service")
	}

	if endpoint := cfg.SyncConfig.SyncEndpoint; endpoint != "" {
		wireResultUploads(verificationService, syncService, endpoint)
	}
	trustService.StartSweeper(time.Duration(cfg.TrustConfig.SweepIntervalMinutes) * time.Minute)

	return &VerifierService{
		Config:       cfg,
		Encryption:   encryptionService,
		Trust:        trustService,
		Verification: verificationService,
		Sync:         syncService,
		storage:      storageProvider,
	}, nil
}

// ResultUploadPayload is the body shape posted to the sync endpoint's
// /verifications path for every verification result. VC is null when the
// scanned payload could not be decoded.
type ResultUploadPayload struct {
	VC     *verification.Credential         `json:"vc"`
	Result *verification.VerificationResult `json:"result"`
}

// wireResultUploads connects the verification engine to the sync queue: every
// persisted result is enqueued for upload, and confirmed delivery flips the
// result's synced flag.
func wireResultUploads(verificationService *verification.Service, syncService *sync.Service, endpoint string) {
	uploadURL := strings.TrimSuffix(endpoint, "/") + "/verifications"

	verificationService.OnResult(func(ctx context.Context, cred *verification.Credential, result *verification.VerificationResult) {
		body, err := json.Marshal(ResultUploadPayload{VC: cred, Result: result})
		if err != nil {
			logrus.WithError(err).Errorf("serializing upload for result<%s>", result.ID)
			return
		}
		job := sync.Job{
			URL:      uploadURL,
			Method:   http.MethodPost,
			Body:     body,
			ResultID: result.ID,
		}
		if _, err = syncService.EnqueueJob(ctx, job); err != nil {
			logrus.WithError(err).Errorf("enqueueing upload for result<%s>", result.ID)
		}
	})

	syncService.OnDelivered(func(job sync.Job) {
		if job.ResultID == "" {
			return
		}
		if err := verificationService.MarkResultSynced(context.Background(), job.ResultID); err != nil {
			logrus.WithError(err).Errorf("marking result<%s> synced", job.ResultID)
		}
	})
}

func storageOptions(cfg config.ServicesConfig) []storage.Option {
	value, ok := cfg.StorageOption.(string)
	if !ok || value == "" {
		return nil
	}
	switch storage.Type(cfg.StorageProvider) {
	case storage.Bolt:
		return []storage.Option{{ID: storage.BoltFilePathOption, Option: value}}
	case storage.Redis:
		return []storage.Option{{ID: storage.RedisAddressOption, Option: value}}
	}
	return nil
}

// GetServices returns all services
func (s *VerifierService) GetServices() []framework.Service {
	return []framework.Service{
		s.Trust,
		s.Verification,
		s.Sync,
	}
}

// Shutdown stops the sync queue and the revocation sweeper, then releases the
// storage provider. An in-flight flush is allowed to complete before the
// store closes.
func (s *VerifierService) Shutdown(_ context.Context) error {
	s.Sync.Stop()
	s.Trust.StopSweeper()
	return s.storage.Close()
}
