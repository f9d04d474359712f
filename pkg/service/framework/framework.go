package framework

type (
	Type        string
	StatusState string
)

const (
	// List of all services

	Verification Type = "verification"
	Trust        Type = "trust"
	Sync         Type = "sync"

	StatusReady    StatusState = "ready"
	StatusNotReady StatusState = "not_ready"
)

// Status is for services reporting on their status
type Status struct {
	Status  StatusState `json:"status,omitempty"`
	Message string      `json:"message,omitempty"`
}

func (s Status) IsReady() bool {
	return s.Status == StatusReady
}

// Service is an interface each service must comply with to be registered and
// orchestrated by the composition root.
type Service interface {
	Type() Type
	Status() Status
}
