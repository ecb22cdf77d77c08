package model

import "fmt"

// ApplicationStatus values of the outreach state machine.
//
//	Draft ──► Approved ──► Sent ──► Delivered ──► Responded
//	  │          │           │           └──────► Expired
//	  │          │           └──► Failed ──► Retry ──► Approved
//	  ├──────────┴──► Rejected          └──► Cancelled
//	  └─────────────► Cancelled
//
// Rejected, Cancelled, Responded and Expired are terminal. Sent is only
// reachable from Approved.
type ApplicationStatus string

const (
	StatusDraft     ApplicationStatus = "Draft"
	StatusApproved  ApplicationStatus = "Approved"
	StatusSent      ApplicationStatus = "Sent"
	StatusDelivered ApplicationStatus = "Delivered"
	StatusFailed    ApplicationStatus = "Failed"
	StatusRejected  ApplicationStatus = "Rejected"
	StatusCancelled ApplicationStatus = "Cancelled"
	StatusResponded ApplicationStatus = "Responded"
	StatusExpired   ApplicationStatus = "Expired"
	StatusRetry     ApplicationStatus = "Retry"
)

var validTransitions = map[ApplicationStatus][]ApplicationStatus{
	StatusDraft:     {StatusApproved, StatusRejected, StatusCancelled},
	StatusApproved:  {StatusSent, StatusRejected, StatusCancelled},
	StatusSent:      {StatusDelivered, StatusFailed},
	StatusDelivered: {StatusResponded, StatusExpired},
	StatusFailed:    {StatusRetry, StatusCancelled},
	StatusRetry:     {StatusApproved, StatusCancelled},
}

// ParseApplicationStatus converts a raw string to an ApplicationStatus.
func ParseApplicationStatus(s string) (ApplicationStatus, error) {
	st := ApplicationStatus(s)
	switch st {
	case StatusDraft, StatusApproved, StatusSent, StatusDelivered, StatusFailed,
		StatusRejected, StatusCancelled, StatusResponded, StatusExpired, StatusRetry:
		return st, nil
	}
	return "", fmt.Errorf("unknown application status %q", s)
}

// IsTransitionAllowed reports whether from → to is permitted.
func IsTransitionAllowed(from, to ApplicationStatus) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func IsTerminal(s ApplicationStatus) bool {
	_, ok := validTransitions[s]
	return !ok
}
