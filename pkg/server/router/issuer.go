package router

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/offline-ssi/vc-verifier/pkg/server/framework"
	svcframework "github.com/offline-ssi/vc-verifier/pkg/service/framework"
	"github.com/offline-ssi/vc-verifier/pkg/service/trust"
)

type IssuerRouter struct {
	service *trust.Service
}

func NewIssuerRouter(s svcframework.Service) (*IssuerRouter, error) {
	if s == nil {
		return nil, errors.New("service cannot be nil")
	}
	trustService, ok := s.(*trust.Service)
	if !ok {
		return nil, fmt.Errorf("could not create issuer router with service type: %s", s.Type())
	}
	return &IssuerRouter{service: trustService}, nil
}

type AddIssuerRequest struct {
	// The issuer DID. Adding an existing DID updates it rather than duplicating.
	ID                 string `json:"id" binding:"required"`
	Name               string `json:"name"`
	PublicKey          string `json:"publicKey"`
	RevocationEndpoint string `json:"revocationEndpoint,omitempty"`
	Trusted            bool   `json:"trusted"`
}

type AddIssuerResponse struct {
	Issuer *trust.TrustedIssuer `json:"issuer"`
}

// AddIssuer creates or updates a trusted issuer record by DID.
func (ir IssuerRouter) AddIssuer(c *gin.Context) {
	var request AddIssuerRequest
	invalidRequest := "invalid add issuer request"
	if err := c.ShouldBindJSON(&request); err != nil {
		logrus.WithError(err).Error(invalidRequest)
		framework.RespondError(c, framework.NewRequestError(errors.Wrap(err, invalidRequest), http.StatusBadRequest))
		return
	}

	issuer, err := ir.service.AddIssuer(c, trust.TrustedIssuer{
		ID:                 request.ID,
		Name:               request.Name,
		PublicKey:          request.PublicKey,
		RevocationEndpoint: request.RevocationEndpoint,
		Trusted:            request.Trusted,
	})
	if err != nil {
		errMsg := fmt.Sprintf("could not add issuer: %s", request.ID)
		logrus.WithError(err).Error(errMsg)
		framework.RespondError(c, framework.NewRequestError(errors.Wrap(err, errMsg), http.StatusInternalServerError))
		return
	}

	framework.Respond(c, AddIssuerResponse{Issuer: issuer}, http.StatusCreated)
}

type GetIssuerResponse struct {
	Issuer *trust.TrustedIssuer `json:"issuer"`
}

func (ir IssuerRouter) GetIssuer(c *gin.Context) {
	id := c.Param(IDParam)
	if id == "" {
		framework.RespondError(c, framework.NewRequestErrorMsg("cannot get issuer without ID parameter", http.StatusBadRequest))
		return
	}

	issuer, err := ir.service.GetIssuer(c, id)
	if err != nil {
		errMsg := fmt.Sprintf("could not get issuer with id: %s", id)
		logrus.WithError(err).Error(errMsg)
		framework.RespondError(c, framework.NewRequestError(errors.Wrap(err, errMsg), http.StatusInternalServerError))
		return
	}
	if issuer == nil {
		framework.RespondError(c, framework.NewRequestErrorMsg(fmt.Sprintf("issuer with id<%s> not found", id), http.StatusNotFound))
		return
	}

	framework.Respond(c, GetIssuerResponse{Issuer: issuer}, http.StatusOK)
}

type ListIssuersResponse struct {
	Issuers []trust.TrustedIssuer `json:"issuers"`
}

// ListIssuers returns all issuer records, most recently added first.
func (ir IssuerRouter) ListIssuers(c *gin.Context) {
	issuers, err := ir.service.ListIssuers(c)
	if err != nil {
		errMsg := "could not list issuers"
		logrus.WithError(err).Error(errMsg)
		framework.RespondError(c, framework.NewRequestError(errors.Wrap(err, errMsg), http.StatusInternalServerError))
		return
	}

	framework.Respond(c, ListIssuersResponse{Issuers: issuers}, http.StatusOK)
}

// RemoveIssuer deletes an issuer record entirely. Distinct from untrusting,
// which keeps the record with the trusted flag off.
func (ir IssuerRouter) RemoveIssuer(c *gin.Context) {
	id := c.Param(IDParam)
	if id == "" {
		framework.RespondError(c, framework.NewRequestErrorMsg("cannot remove issuer without ID parameter", http.StatusBadRequest))
		return
	}

	if err := ir.service.RemoveIssuer(c, id); err != nil {
		errMsg := fmt.Sprintf("could not remove issuer with id: %s", id)
		logrus.WithError(err).Error(errMsg)
		framework.RespondError(c, framework.NewRequestError(errors.Wrap(err, errMsg), http.StatusInternalServerError))
		return
	}

	framework.Respond(c, nil, http.StatusNoContent)
}

type SetTrustRequest struct {
	Trusted *bool `json:"trusted" binding:"required"`
}

type SetTrustResponse struct {
	Issuer *trust.TrustedIssuer `json:"issuer"`
}

// SetTrust toggles the trusted flag on an existing issuer. Unknown issuers are
// an error; use AddIssuer to create one.
func (ir IssuerRouter) SetTrust(c *gin.Context) {
	id := c.Param(IDParam)
	if id == "" {
		framework.RespondError(c, framework.NewRequestErrorMsg("cannot set trust without ID parameter", http.StatusBadRequest))
		return
	}

	var request SetTrustRequest
	invalidRequest := "invalid set trust request"
	if err := c.ShouldBindJSON(&request); err != nil {
		logrus.WithError(err).Error(invalidRequest)
		framework.RespondError(c, framework.NewRequestError(errors.Wrap(err, invalidRequest), http.StatusBadRequest))
		return
	}

	issuer, err := ir.service.SetTrust(c, id, *request.Trusted)
	if err != nil {
		errMsg := fmt.Sprintf("could not set trust for issuer with id: %s", id)
		logrus.WithError(err).Error(errMsg)
		framework.RespondError(c, framework.NewRequestError(errors.Wrap(err, errMsg), http.StatusBadRequest))
		return
	}

	framework.Respond(c, SetTrustResponse{Issuer: issuer}, http.StatusOK)
}

type CacheRevocationRequest struct {
	CredentialID string `json:"vcId" binding:"required"`
	Revoked      bool   `json:"isRevoked"`
	TTLHours     int    `json:"ttlHours"`
}

// CacheRevocation upserts a revocation status for a credential with a TTL. A
// non-positive TTL falls back to the service default.
func (ir IssuerRouter) CacheRevocation(c *gin.Context) {
	var request CacheRevocationRequest
	invalidRequest := "invalid cache revocation request"
	if err := c.ShouldBindJSON(&request); err != nil {
		logrus.WithError(err).Error(invalidRequest)
		framework.RespondError(c, framework.NewRequestError(errors.Wrap(err, invalidRequest), http.StatusBadRequest))
		return
	}

	ttl := time.Duration(request.TTLHours) * time.Hour
	if err := ir.service.CacheRevocation(c, request.CredentialID, request.Revoked, ttl); err != nil {
		errMsg := fmt.Sprintf("could not cache revocation for credential: %s", request.CredentialID)
		logrus.WithError(err).Error(errMsg)
		framework.RespondError(c, framework.NewRequestError(errors.Wrap(err, errMsg), http.StatusInternalServerError))
		return
	}

	framework.Respond(c, nil, http.StatusNoContent)
}

type GetRevocationResponse struct {
	CredentialID string `json:"vcId"`
	// Revoked is null when no live cache entry exists.
	Revoked *bool `json:"isRevoked"`
}

func (ir IssuerRouter) GetRevocation(c *gin.Context) {
	id := c.Param(IDParam)
	if id == "" {
		framework.RespondError(c, framework.NewRequestErrorMsg("cannot get revocation without ID parameter", http.StatusBadRequest))
		return
	}

	status := ir.service.RevocationStatus(c, id)
	framework.Respond(c, GetRevocationResponse{CredentialID: id, Revoked: status}, http.StatusOK)
}

type GetTrustHealthResponse struct {
	Stats *trust.HealthStats `json:"stats"`
}

/// GetTrustHealth summarizes the trust cache: issuer counts and live
// revocation entries.
func (ir IssuerRouter) GetTrustHealth(c *gin.Context) {
	stats, err := ir.service.Health(c)
	if err != nil {
		errMsg := "could not compute trust cache health"
		logrus.WithError(err).Error(errMsg)
		framework.RespondError(c, framework.NewRequestError(errors.Wrap(err, errMsg), http.StatusInternalServerError))
		return
	}

	framework.Respond(c, GetTrustHealthResponse{Stats: stats}, http.StatusOK)
}

type SweepRevocationsResponse struct {
	Removed int `json:"removed"`
}

// SweepRevocations deletes all revocation cache entries past their TTL. The
// background sweeper does this on a timer; this endpoint forces a pass.
func (ir IssuerRouter) SweepRevocations(c *gin.Context) {
	removed, err := ir.service.SweepExpired(c)
	if err != nil {
		errMsg := "could not sweep revocation cache"
		logrus.WithError(err).Error(errMsg)
		framework.RespondError(c, framework.NewRequestError(errors.Wrap(err, errMsg), http.StatusInternalServerError))
		return
	}

	framework.Respond(c, SweepRevocationsResponse{Removed: removed}, http.StatusOK)
}
