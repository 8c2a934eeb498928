package models

import "fmt"

// Status is the named state of a workflow instance.
type Status string

const (
	StatusSubmitted Status = "SUBMITTED"
	StatusInterview Status = "INTERVIEW"
	StatusOffer     Status = "OFFER"
	StatusRejected  Status = "REJECTED"
	StatusWithdrawn Status = "WITHDRAWN"
	StatusArchived  Status = "ARCHIVED"
)

// ParseStatus converts a raw string to a Status, rejecting unknown values.
func ParseStatus(s string) (Status, error) {
	status := Status(s)
	switch status {
	case StatusSubmitted, StatusInterview, StatusOffer, StatusRejected, StatusWithdrawn, StatusArchived:
		return status, nil
	}

	return "", fmt.Errorf("unknown application status %q", s)
}

// IsDecided reports whether a human has moved the application out of SUBMITTED
// to one of the outcome statuses. Only decided instances can be archived.
func (s Status) IsDecided() bool {
	switch s {
	case StatusInterview, StatusOffer, StatusRejected, StatusWithdrawn:
		return true
	default:
		return false
	}
}

func (s Status) String() string {
	return string(s)
}
