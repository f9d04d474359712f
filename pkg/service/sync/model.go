package sync

import (
	"time"

	"github.com/goccy/go-json"
)

// Status is the queue's observable state, published to subscribers on every
// transition.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusSyncing Status = "syncing"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Job is a durable delivery record: one HTTP request to replay against the
// remote endpoint until it is accepted or permanently rejected.
type Job struct {
	ID        string            `json:"id"`
	URL       string            `json:"url"`
	Method    string            `json:"method"`
	Body      json.RawMessage   `json:"body,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
	Tries     int               `json:"tries"`
	NextAt    time.Time         `json:"nextAt"`

	// ResultID ties the job to a verification result so confirmed delivery
	// can be recorded against it. Empty for jobs with no associated result.
	ResultID string `json:"resultId,omitempty"`
}

// FlushResult summarizes one drain pass: how many jobs left the queue and how
// many are still waiting.
type FlushResult struct {
	Processed int `json:"processed"`
	Remaining int `json:"remaining"`
}
