package router

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/offline-ssi/vc-verifier/pkg/server/framework"
	svcframework "github.com/offline-ssi/vc-verifier/pkg/service/framework"
	"github.com/offline-ssi/vc-verifier/pkg/service/sync"
)

type SyncRouter struct {
	service *sync.Service
	// endpoint is the configured default target for enqueued uploads
	endpoint string
}

func NewSyncRouter(s svcframework.Service, endpoint string) (*SyncRouter, error) {
	if s == nil {
		return nil, errors.New("service cannot be nil")
	}
	syncService, ok := s.(*sync.Service)
	if !ok {
		return nil, fmt.Errorf("could not create sync router with service type: %s", s.Type())
	}
	return &SyncRouter{service: syncService, endpoint: endpoint}, nil
}

type EnqueueJobRequest struct {
	// URL defaults to the configured sync endpoint when empty.
	URL string `json:"url,omitempty"`
	// Method defaults to POST when empty.
	Method  string            `json:"method,omitempty"`
	Body    any               `json:"body,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

type EnqueueJobResponse struct {
	JobID string `json:"jobId"`
}

// EnqueueJob durably records an upload job. The job survives restarts and is
// delivered once connectivity and its retry window allow.
func (sr SyncRouter) EnqueueJob(c *gin.Context) {
	var request EnqueueJobRequest
	invalidRequest := "invalid enqueue job request"
	if err := c.ShouldBindJSON(&request); err != nil {
		logrus.WithError(err).Error(invalidRequest)
		framework.RespondError(c, framework.NewRequestError(errors.Wrap(err, invalidRequest), http.StatusBadRequest))
		return
	}

	url := request.URL
	if url == "" {
		url = sr.endpoint
	}
	method := request.Method
	if method == "" {
		method = http.MethodPost
	}

	jobID, err := sr.service.Enqueue(c, url, method, request.Body, request.Headers)
	if err != nil {
		errMsg := "could not enqueue sync job"
		logrus.WithError(err).Error(errMsg)
		framework.RespondError(c, framework.NewRequestError(errors.Wrap(err, errMsg), http.StatusInternalServerError))
		return
	}

	framework.Respond(c, EnqueueJobResponse{JobID: jobID}, http.StatusCreated)
}

type FlushResponse struct {
	Processed int `json:"processed"`
	Remaining int `json:"remaining"`
}

// Flush drains all currently due jobs. A flush already in progress coalesces
// into a queue-size read.
func (sr SyncRouter) Flush(c *gin.Context) {
	result, err := sr.service.Flush(c)
	if err != nil {
		errMsg := "could not flush sync queue"
		logrus.WithError(err).Error(errMsg)
		framework.RespondError(c, framework.NewRequestError(errors.Wrap(err, errMsg), http.StatusInternalServerError))
		return
	}

	framework.Respond(c, FlushResponse{Processed: result.Processed, Remaining: result.Remaining}, http.StatusOK)
}

type GetSyncStatusResponse struct {
	Status  sync.Status `json:"status"`
	Pending int         `json:"pending"`
}

// GetSyncStatus reports the queue's current state and backlog size.
func (sr SyncRouter) GetSyncStatus(c *gin.Context) {
	pending, err := sr.service.PendingJobs(c)
	if err != nil {
		errMsg := "could not count pending sync jobs"
		logrus.WithError(err).Error(errMsg)
		framework.RespondError(c, framework.NewRequestError(errors.Wrap(err, errMsg), http.StatusInternalServerError))
		return
	}

	framework.Respond(c, GetSyncStatusResponse{
		Status:  sr.service.QueueStatus(),
		Pending: pending,
	}, http.StatusOK)
}
