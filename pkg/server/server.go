// Package server contains the full set of handler functions and routes
// supported by the http api
package server

import (
	"os"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/offline-ssi/vc-verifier/config"
	"github.com/offline-ssi/vc-verifier/internal/util"
	"github.com/offline-ssi/vc-verifier/pkg/server/framework"
	"github.com/offline-ssi/vc-verifier/pkg/server/middleware"
	"github.com/offline-ssi/vc-verifier/pkg/server/router"
	"github.com/offline-ssi/vc-verifier/pkg/service"
	svcframework "github.com/offline-ssi/vc-verifier/pkg/service/framework"
	"github.com/offline-ssi/vc-verifier/pkg/service/verification"
)

const (
	HealthPrefix        = "/health"
	ReadinessPrefix     = "/readiness"
	V1Prefix            = "/v1"
	CredentialsPrefix   = "/credentials"
	VerificationsPrefix = "/verifications"
	VerifyPath          = "/verify"
	IssuersPrefix       = "/issuers"
	RevocationsPrefix   = "/revocations"
	TrustPrefix         = "/trust"
	SyncPrefix          = "/sync"
	TrustPath           = "/trust"
	HealthPath          = "/health"
	FlushPath           = "/flush"
	StatusPath          = "/status"
	JobsPath            = "/jobs"
)

// VerifierServer exposes all dependencies needed to run a http server and all its services
type VerifierServer struct {
	*config.ServerConfig
	*service.VerifierService
	*framework.Server
}

// NewVerifierServer does two things: instantiates all services and registers their HTTP bindings
func NewVerifierServer(shutdown chan os.Signal, cfg config.VerifierConfig) (*VerifierServer, error) {
	// creates an HTTP server from the framework, and wrap it to extend it for the verifier
	engine := setUpEngine(cfg.Server, shutdown)
	httpServer := framework.NewHTTPServer(cfg.Server, engine, shutdown)
	verifier, err := service.InstantiateVerifierService(cfg.Services)
	if err != nil {
		return nil, util.LoggingErrorMsg(err, "unable to instantiate verifier service")
	}

	// service-level routers
	engine.GET(HealthPrefix, router.Health)
	engine.GET(ReadinessPrefix, router.Readiness(verifier.GetServices()))

	// register all v1 routers
	v1 := engine.Group(V1Prefix)
	if err = VerificationAPI(v1, verifier.Verification); err != nil {
		return nil, util.LoggingErrorMsg(err, "unable to instantiate Verification API")
	}
	if err = IssuerAPI(v1, verifier.Trust); err != nil {
		return nil, util.LoggingErrorMsg(err, "unable to instantiate Issuer API")
	}
	if err = SyncAPI(v1, verifier.Sync, cfg.Services.SyncConfig.SyncEndpoint); err != nil {
		return nil, util.LoggingErrorMsg(err, "unable to instantiate Sync API")
	}

	return &VerifierServer{
		Server:          httpServer,
		VerifierService: verifier,
		ServerConfig:    &cfg.Server,
	}, nil
}

// setUpEngine creates the gin engine and sets up the middleware based on config
func setUpEngine(cfg config.ServerConfig, _ chan os.Signal) *gin.Engine {
	middlewares := gin.HandlersChain{
		gin.Recovery(),
		middleware.Logger(logrus.StandardLogger()),
	}
	if cfg.EnableAllowAllCORS {
		middlewares = append(middlewares, middleware.CORS())
	}

	// set up engine and middleware
	engine := gin.New()
	engine.Use(middlewares...)

	switch cfg.Environment {
	case config.EnvironmentDev:
		gin.SetMode(gin.DebugMode)
	case config.EnvironmentTest:
		gin.SetMode(gin.TestMode)
	case config.EnvironmentProd:
		gin.SetMode(gin.ReleaseMode)
	}
	return engine
}

// VerificationAPI registers all HTTP routes for the Verification Service
func VerificationAPI(rg *gin.RouterGroup, service *verification.Service) (err error) {
	verificationRouter, err := router.NewVerificationRouter(service)
	if err != nil {
		return util.LoggingErrorMsg(err, "creating verification router")
	}

	credentialAPI := rg.Group(CredentialsPrefix)
	credentialAPI.POST(VerifyPath, verificationRouter.VerifyCredential)
	credentialAPI.GET(VerificationsPrefix, verificationRouter.ListVerifications)
	credentialAPI.GET(VerificationsPrefix+"/:id", verificationRouter.GetVerification)
	credentialAPI.PUT(VerificationsPrefix+"/:id/synced", verificationRouter.MarkVerificationSynced)
	return
}

// IssuerAPI registers all HTTP routes for the Trust Service
func IssuerAPI(rg *gin.RouterGroup, service svcframework.Service) (err error) {
	issuerRouter, err := router.NewIssuerRouter(service)
	if err != nil {
		return util.LoggingErrorMsg(err, "creating issuer router")
	}

	issuerAPI := rg.Group(IssuersPrefix)
	issuerAPI.PUT("", issuerRouter.AddIssuer)
	issuerAPI.GET("", issuerRouter.ListIssuers)
	issuerAPI.GET("/:id", issuerRouter.GetIssuer)
	issuerAPI.DELETE("/:id", issuerRouter.RemoveIssuer)
	issuerAPI.PUT("/:id"+TrustPath, issuerRouter.SetTrust)

	revocationAPI := rg.Group(RevocationsPrefix)
	revocationAPI.PUT("", issuerRouter.CacheRevocation)
	revocationAPI.DELETE("", issuerRouter.SweepRevocations)
	revocationAPI.GET("/:id", issuerRouter.GetRevocation)

	trustAPI := rg.Group(TrustPrefix)
	trustAPI.GET(HealthPath, issuerRouter.GetTrustHealth)
	return
}

// SyncAPI registers all HTTP routes for the Sync Service
func SyncAPI(rg *gin.RouterGroup, service svcframework.Service, endpoint string) (err error) {
	syncRouter, err := router.NewSyncRouter(service, endpoint)
	if err != nil {
		return util.LoggingErrorMsg(err, "creating sync router")
	}

	syncAPI := rg.Group(SyncPrefix)
	syncAPI.POST(JobsPath, syncRouter.EnqueueJob)
	syncAPI.POST(FlushPath, syncRouter.Flush)
	syncAPI.GET(StatusPath, syncRouter.GetSyncStatus)
	return
}
