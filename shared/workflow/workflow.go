package workflow

import "strings"

const (
	StatusOpen          = "OPEN"
	StatusConfirmed     = "CONFIRMED"
	StatusReopened      = "REOPENED"
	StatusResolved      = "RESOLVED"
	StatusClosed        = "CLOSED"
	StatusToReview      = "TO_REVIEW"
	StatusInReview      = "IN_REVIEW"
	StatusReviewed      = "REVIEWED"
	StatusAccepted      = "ACCEPTED"
	StatusFalsePositive = "FALSE_POSITIVE"
	StatusFixed         = "FIXED"
)

const (
	ResolutionFixed         = "FIXED"
	ResolutionFalsePositive = "FALSE-POSITIVE"
	ResolutionWontFix       = "WONTFIX"
	ResolutionRemoved       = "REMOVED"
	ResolutionSafe          = "SAFE"
	ResolutionAcknowledged  = "ACKNOWLEDGED"
	ResolutionAccepted      = "ACCEPTED"
)

func NormalizeStatus(status string) string {
	return strings.ToUpper(strings.TrimSpace(status))
}

func IsClosed(status string) bool {
	return NormalizeStatus(status) == StatusClosed
}
