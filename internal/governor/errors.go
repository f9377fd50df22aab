package governor

import (
	"errors"
	"fmt"
)

// ErrAdmissionDenied marks every admission rejection.
var ErrAdmissionDenied = errors.New("admission denied")

// Reason explains an admission rejection.
type Reason string

const (
	ReasonDisabled      Reason = "disabled"
	ReasonDailyLimit    Reason = "daily_limit"
	ReasonMonthlyBudget Reason = "monthly_budget"
	ReasonUnknownOwner  Reason = "unknown_owner"
)

// AdmissionError carries the owner and the reason for a rejection.
type AdmissionError struct {
	OwnerID string
	Reason  Reason
}

func (e *AdmissionError) Error() string {
	return fmt.Sprintf("%v for owner %q: %s", ErrAdmissionDenied, e.OwnerID, e.Reason)
}

func (e *AdmissionError) Unwrap() error {
	return ErrAdmissionDenied
}

// ReasonOf extracts the rejection reason from err, or "" when err is not an
// admission rejection.
func ReasonOf(err error) Reason {
	var admission *AdmissionError
	if errors.As(err, &admission) {
		return admission.Reason
	}
	return ""
}
