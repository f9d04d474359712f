package server

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/offline-ssi/vc-verifier/config"
	"github.com/offline-ssi/vc-verifier/pkg/server/router"
	"github.com/offline-ssi/vc-verifier/pkg/service"
	"github.com/offline-ssi/vc-verifier/pkg/service/verification"
)

func testConfig(t *testing.T) config.VerifierConfig {
	return config.VerifierConfig{
		Server: config.ServerConfig{
			Environment:     config.EnvironmentTest,
			APIHost:         "0.0.0.0:0",
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    5 * time.Second,
			ShutdownTimeout: 5 * time.Second,
			LogLevel:        "error",
		},
		Services: config.ServicesConfig{
			StorageProvider: "bolt",
			StorageOption:   filepath.Join(t.TempDir(), "server.db"),
			EncryptionConfig: config.EncryptionServiceConfig{
				BaseServiceConfig: &config.BaseServiceConfig{Name: "encryption"},
				Passphrase:        "test-passphrase",
			},
			TrustConfig: config.TrustServiceConfig{
				BaseServiceConfig:       &config.BaseServiceConfig{Name: "trust"},
				RevocationCacheTTLHours: 168,
				SweepIntervalMinutes:    60,
			},
			VerificationConfig: config.VerificationServiceConfig{
				BaseServiceConfig: &config.BaseServiceConfig{Name: "verification"},
				RevocationPolicy:  "allow",
				MaxStorageEntries: 1000,
			},
			SyncConfig: config.SyncServiceConfig{
				BaseServiceConfig:     &config.BaseServiceConfig{Name: "sync"},
				SyncEndpoint:          "http://localhost:9999/api/sync",
				FlushIntervalSeconds:  30,
				RequestTimeoutSeconds: 5,
			},
		},
	}
}

func setupTestServer(t *testing.T) *VerifierServer {
	shutdown := make(chan os.Signal, 1)
	verifierServer, err := NewVerifierServer(shutdown, testConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, verifierServer.VerifierService.Shutdown(context.Background()))
	})
	return verifierServer
}

func doRequest(server *VerifierServer, method, path string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		bodyBytes, _ := json.Marshal(body)
		reader = bytes.NewReader(bodyBytes)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	server.Server.Handler.ServeHTTP(w, req)
	return w
}

func TestHealthAndReadiness(t *testing.T) {
	server := setupTestServer(t)

	w := doRequest(server, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var health router.GetHealthCheckResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, router.HealthOK, health.Status)

	w = doRequest(server, http.MethodGet, "/readiness", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var readiness router.GetReadinessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &readiness))
	assert.True(t, readiness.Status.IsReady())
	assert.Len(t, readiness.ServiceStatuses, 3)
}

func TestVerifyCredentialAPI(t *testing.T) {
	server := setupTestServer(t)

	credential := map[string]any{
		"@context":     []string{"https://www.w3.org/2018/credentials/v1"},
		"id":           "urn:uuid:api-credential",
		"type":         []string{"VerifiableCredential"},
		"issuer":       "did:example:issuer123",
		"issuanceDate": "2023-01-01T00:00:00Z",
		"credentialSubject": map[string]any{
			"id": "did:example:subject456",
		},
		"proof": map[string]any{
			"type":               "Ed25519Signature2020",
			"created":            "2023-01-01T00:00:00Z",
			"verificationMethod": "did:example:issuer123#key-1",
			"proofPurpose":       "assertionMethod",
			"proofValue":         "z3FXQjecWufY46",
		},
	}

	// unknown issuer verifies as invalid
	w := doRequest(server, http.MethodPost, "/v1/credentials/verify", map[string]any{"credential": credential})
	require.Equal(t, http.StatusOK, w.Code)

	var verifyResponse router.VerifyCredentialResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &verifyResponse))
	require.NotNil(t, verifyResponse.Result)
	assert.Equal(t, verification.StatusInvalid, verifyResponse.Result.Status)
	assert.False(t, verifyResponse.Result.Checks.TrustedIssuer)

	// trust the issuer, verify again
	w = doRequest(server, http.MethodPut, "/v1/issuers", map[string]any{
		"id":      "did:example:issuer123",
		"name":    "Example Issuer",
		"trusted": true,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doRequest(server, http.MethodPost, "/v1/credentials/verify", map[string]any{"credential": credential})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &verifyResponse))
	assert.Equal(t, verification.StatusValid, verifyResponse.Result.Status)
	assert.Empty(t, verifyResponse.Result.Errors)

	// both results are listed, newest first
	w = doRequest(server, http.MethodGet, "/v1/credentials/verifications", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var listResponse router.ListVerificationsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listResponse))
	require.Len(t, listResponse.Results, 2)

	// a single result is retrievable by id
	w = doRequest(server, http.MethodGet, "/v1/credentials/verifications/"+verifyResponse.Result.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	// missing results are a 404
	w = doRequest(server, http.MethodGet, "/v1/credentials/verifications/no-such-id", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// marking a result synced sticks
	w = doRequest(server, http.MethodPut, "/v1/credentials/verifications/"+verifyResponse.Result.ID+"/synced", nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = doRequest(server, http.MethodGet, "/v1/credentials/verifications/"+verifyResponse.Result.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var getResponse router.GetVerificationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &getResponse))
	assert.True(t, getResponse.Result.Synced)
}

func TestVerifyResultUploadSync(t *testing.T) {
	type upload struct {
		path string
		body []byte
	}
	received := make(chan upload, 4)
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received <- upload{path: r.URL.Path, body: body}
		w.WriteHeader(http.StatusOK)
	}))
	defer remote.Close()

	cfg := testConfig(t)
	cfg.Services.SyncConfig.SyncEndpoint = remote.URL + "/api/sync"
	shutdown := make(chan os.Signal, 1)
	server, err := NewVerifierServer(shutdown, cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, server.VerifierService.Shutdown(context.Background()))
	})

	credential := map[string]any{
		"@context":     []string{"https://www.w3.org/2018/credentials/v1"},
		"id":           "urn:uuid:sync-credential",
		"type":         []string{"VerifiableCredential"},
		"issuer":       "did:example:issuer123",
		"issuanceDate": "2023-01-01T00:00:00Z",
		"credentialSubject": map[string]any{
			"id": "did:example:subject456",
		},
		"proof": map[string]any{
			"type":               "Ed25519Signature2020",
			"created":            "2023-01-01T00:00:00Z",
			"verificationMethod": "did:example:issuer123#key-1",
			"proofPurpose":       "assertionMethod",
			"proofValue":         "z3FXQjecWufY46",
		},
	}

	w := doRequest(server, http.MethodPost, "/v1/credentials/verify", map[string]any{"credential": credential})
	require.Equal(t, http.StatusOK, w.Code)

	var verifyResponse router.VerifyCredentialResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &verifyResponse))
	require.NotNil(t, verifyResponse.Result)

	// the verify enqueued an upload and kicked a background flush; acceptance
	// by the remote flips the result's synced flag
	require.Eventually(t, func() bool {
		w := doRequest(server, http.MethodGet, "/v1/credentials/verifications/"+verifyResponse.Result.ID, nil)
		if w.Code != http.StatusOK {
			return false
		}
		var getResponse router.GetVerificationResponse
		if err := json.Unmarshal(w.Body.Bytes(), &getResponse); err != nil {
			return false
		}
		return getResponse.Result.Synced
	}, 5*time.Second, 25*time.Millisecond)

	got := <-received
	assert.Equal(t, "/api/sync/verifications", got.path)

	var payload service.ResultUploadPayload
	require.NoError(t, json.Unmarshal(got.body, &payload))
	require.NotNil(t, payload.Result)
	assert.Equal(t, verifyResponse.Result.ID, payload.Result.ID)
	require.NotNil(t, payload.VC)
	assert.Equal(t, "urn:uuid:sync-credential", payload.VC.ID)

	// the accepted job left the queue
	w = doRequest(server, http.MethodGet, "/v1/sync/status", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var statusResponse router.GetSyncStatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &statusResponse))
	assert.Zero(t, statusResponse.Pending)
}

func TestVerifyRawPayloadAPI(t *testing.T) {
	server := setupTestServer(t)

	w := doRequest(server, http.MethodPost, "/v1/credentials/verify", map[string]any{"payload": "not a credential at all"})
	require.Equal(t, http.StatusOK, w.Code)

	var verifyResponse router.VerifyCredentialResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &verifyResponse))
	assert.Equal(t, verification.StatusError, verifyResponse.Result.Status)
	assert.NotEmpty(t, verifyResponse.Result.Errors)

	// empty requests are rejected
	w = doRequest(server, http.MethodPost, "/v1/credentials/verify", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIssuerAPI(t *testing.T) {
	server := setupTestServer(t)

	w := doRequest(server, http.MethodPut, "/v1/issuers", map[string]any{
		"id":      "did:example:acme",
		"name":    "ACME Corp",
		"trusted": true,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doRequest(server, http.MethodGet, "/v1/issuers/did:example:acme", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var getResponse router.GetIssuerResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &getResponse))
	assert.True(t, getResponse.Issuer.Trusted)

	// untrust, the record survives
	w = doRequest(server, http.MethodPut, "/v1/issuers/did:example:acme/trust", map[string]any{"trusted": false})
	require.Equal(t, http.StatusOK, w.Code)

	var trustResponse router.SetTrustResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &trustResponse))
	assert.False(t, trustResponse.Issuer.Trusted)

	// toggling trust on an unknown issuer fails
	w = doRequest(server, http.MethodPut, "/v1/issuers/did:example:ghost/trust", map[string]any{"trusted": true})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(server, http.MethodGet, "/v1/trust/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var healthResponse router.GetTrustHealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &healthResponse))
	assert.Equal(t, 1, healthResponse.Stats.TotalIssuers)
	assert.Equal(t, 0, healthResponse.Stats.TrustedIssuers)

	w = doRequest(server, http.MethodDelete, "/v1/issuers/did:example:acme", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doRequest(server, http.MethodGet, "/v1/issuers/did:example:acme", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRevocationAPI(t *testing.T) {
	server := setupTestServer(t)

	w := doRequest(server, http.MethodPut, "/v1/revocations", map[string]any{
		"vcId":      "urn:uuid:revoked-credential",
		"isRevoked": true,
		"ttlHours":  24,
	})
	require.Equal(t, http.StatusNoContent, w.Code)

	w = doRequest(server, http.MethodGet, "/v1/revocations/urn:uuid:revoked-credential", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var revocationResponse router.GetRevocationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &revocationResponse))
	require.NotNil(t, revocationResponse.Revoked)
	assert.True(t, *revocationResponse.Revoked)

	// unknown credential has no cached status
	w = doRequest(server, http.MethodGet, "/v1/revocations/urn:uuid:unknown", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &revocationResponse))
	assert.Nil(t, revocationResponse.Revoked)

	// a forced sweep leaves the live entry in place
	w = doRequest(server, http.MethodDelete, "/v1/revocations", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var sweepResponse router.SweepRevocationsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sweepResponse))
	assert.Zero(t, sweepResponse.Removed)

	w = doRequest(server, http.MethodGet, "/v1/revocations/urn:uuid:revoked-credential", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &revocationResponse))
	require.NotNil(t, revocationResponse.Revoked)
}

func TestSyncAPI(t *testing.T) {
	server := setupTestServer(t)

	w := doRequest(server, http.MethodGet, "/v1/sync/status", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var statusResponse router.GetSyncStatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &statusResponse))
	assert.Zero(t, statusResponse.Pending)

	// flushing an empty queue succeeds immediately
	w = doRequest(server, http.MethodPost, "/v1/sync/flush", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var flushResponse router.FlushResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &flushResponse))
	assert.Zero(t, flushResponse.Processed)
	assert.Zero(t, flushResponse.Remaining)
}
