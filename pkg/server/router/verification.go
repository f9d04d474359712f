package router

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/offline-ssi/vc-verifier/pkg/server/framework"
	svcframework "github.com/offline-ssi/vc-verifier/pkg/service/framework"
	"github.com/offline-ssi/vc-verifier/pkg/service/verification"
)

const (
	IDParam    string = "id"
	LimitParam string = "limit"
)

type VerificationRouter struct {
	service *verification.Service
}

func NewVerificationRouter(s svcframework.Service) (*VerificationRouter, error) {
	if s == nil {
		return nil, errors.New("service cannot be nil")
	}
	verificationService, ok := s.(*verification.Service)
	if !ok {
		return nil, fmt.Errorf("could not create verification router with service type: %s", s.Type())
	}
	return &VerificationRouter{service: verificationService}, nil
}

type VerifyCredentialRequest struct {
	// A structured verifiable credential. Exactly one of Credential and
	// Payload must be supplied.
	Credential *verification.Credential `json:"credential,omitempty"`

	// A raw scanned payload: JSON, a URL carrying the credential as a query
	// parameter, base64, a compact JWT, or a vc: scheme string.
	Payload string `json:"payload,omitempty"`
}

type VerifyCredentialResponse struct {
	Result *verification.VerificationResult `json:"result"`
}

// VerifyCredential verifies a structured credential or a raw scanned payload
// and returns the persisted result.
func (vr VerificationRouter) VerifyCredential(c *gin.Context) {
	var request VerifyCredentialRequest
	invalidRequest := "invalid verify credential request"
	if err := c.ShouldBindJSON(&request); err != nil {
		logrus.WithError(err).Error(invalidRequest)
		framework.RespondError(c, framework.NewRequestError(errors.Wrap(err, invalidRequest), http.StatusBadRequest))
		return
	}
	if request.Credential == nil && request.Payload == "" {
		framework.RespondError(c, framework.NewRequestErrorMsg("either credential or payload must be provided", http.StatusBadRequest))
		return
	}
	if request.Credential != nil && request.Payload != "" {
		framework.RespondError(c, framework.NewRequestErrorMsg("credential and payload are mutually exclusive", http.StatusBadRequest))
		return
	}

	var result *verification.VerificationResult
	var err error
	if request.Credential != nil {
		result, err = vr.service.Verify(c, request.Credential)
	} else {
		result, err = vr.service.VerifyPayload(c, request.Payload)
	}
	if err != nil {
		errMsg := "could not verify credential"
		logrus.WithError(err).Error(errMsg)
		framework.RespondError(c, framework.NewRequestError(errors.Wrap(err, errMsg), http.StatusInternalServerError))
		return
	}

	framework.Respond(c, VerifyCredentialResponse{Result: result}, http.StatusOK)
}

type ListVerificationsResponse struct {
	Results []verification.VerificationResult `json:"results"`
}

// ListVerifications returns persisted verification results newest first. An
// optional limit query parameter caps the page size.
func (vr VerificationRouter) ListVerifications(c *gin.Context) {
	limit := 0
	if limitParam := c.Query(LimitParam); limitParam != "" {
		parsed, err := strconv.Atoi(limitParam)
		if err != nil || parsed < 0 {
			framework.RespondError(c, framework.NewRequestErrorMsg("limit must be a non-negative integer", http.StatusBadRequest))
			return
		}
		limit = parsed
	}

	results, err := vr.service.ListResults(c, limit)
	if err != nil {
		errMsg := "could not list verification results"
		logrus.WithError(err).Error(errMsg)
		framework.RespondError(c, framework.NewRequestError(errors.Wrap(err, errMsg), http.StatusInternalServerError))
		return
	}

	framework.Respond(c, ListVerificationsResponse{Results: results}, http.StatusOK)
}

type GetVerificationResponse struct {
	Result *verification.VerificationResult `json:"result"`
}

// GetVerification returns a single persisted verification result by id.
func (vr VerificationRouter) GetVerification(c *gin.Context) {
	id := c.Param(IDParam)
	if id == "" {
		framework.RespondError(c, framework.NewRequestErrorMsg("cannot get verification without ID parameter", http.StatusBadRequest))
		return
	}

	result, err := vr.service.GetResult(c, id)
	if err != nil {
		errMsg := fmt.Sprintf("could not get verification with id: %s", id)
		logrus.WithError(err).Error(errMsg)
		framework.RespondError(c, framework.NewRequestError(errors.Wrap(err, errMsg), http.StatusInternalServerError))
		return
	}
	if result == nil {
		framework.RespondError(c, framework.NewRequestErrorMsg(fmt.Sprintf("verification with id<%s> not found", id), http.StatusNotFound))
		return
	}

	framework.Respond(c, GetVerificationResponse{Result: result}, http.StatusOK)
}

// MarkVerificationSynced records remote acceptance of a result upload. The
// transition happens at most once; repeating it is a no-op.
func (vr VerificationRouter) MarkVerificationSynced(c *gin.Context) {
	id := c.Param(IDParam)
	if id == "" {
		framework.RespondError(c, framework.NewRequestErrorMsg("cannot mark verification without ID parameter", http.StatusBadRequest))
		return
	}

	if err := vr.service.MarkResultSynced(c, id); err != nil {
		errMsg := fmt.Sprintf("could not mark verification with id: %s as synced", id)
		logrus.WithError(err).Error(errMsg)
		framework.RespondError(c, framework.NewRequestError(errors.Wrap(err, errMsg), http.StatusBadRequest))
		return
	}

	framework.Respond(c, nil, http.StatusNoContent)
}
