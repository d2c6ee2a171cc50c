package entitlement

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidDuration is returned by Evaluate for non-positive or
// non-finite durations. Callers must not proceed to the provider.
var ErrInvalidDuration = errors.New("duration must be a positive finite number of minutes")

// Denial reason codes. Stable machine-readable strings surfaced to the UI.
const (
	ReasonDurationExceedsPlan = "duration_exceeds_plan"
	ReasonInsufficientCredits = "insufficient_credits"
)

// Decision is the outcome of an admission check.
type Decision struct {
	Admitted bool
	Cost     int    // credits required; set on admission and on balance denials
	Reason   string // denial reason code, empty when admitted
	Message  string // human-readable explanation for the UI
}

// CreditsRequired computes the credit cost of a transcription.
// Partial minutes always cost a full credit.
func CreditsRequired(durationMin float64) int {
	return int(math.Ceil(durationMin))
}

// Evaluate decides whether a profile may submit a file of the given
// duration and what it would cost. Pure function over its inputs; the
// duration gate is checked strictly before the balance gate and cannot
// be bypassed by surplus credits.
func Evaluate(profile *UserEntitlement, durationMin float64) (Decision, error) {
	if durationMin <= 0 || math.IsNaN(durationMin) || math.IsInf(durationMin, 0) {
		return Decision{}, ErrInvalidDuration
	}

	if durationMin > profile.MaxFileDurationMin {
		return Decision{
			Reason: ReasonDurationExceedsPlan,
			Message: fmt.Sprintf("File duration (%.1f minutes) exceeds your plan limit (%g minutes). Please upgrade your plan.",
				durationMin, profile.MaxFileDurationMin),
		}, nil
	}

	cost := CreditsRequired(durationMin)
	if profile.CreditBalance < cost {
		return Decision{
			Cost:   cost,
			Reason: ReasonInsufficientCredits,
			Message: fmt.Sprintf("Insufficient credits. You need %d credits but have %d. Please purchase more credits.",
				cost, profile.CreditBalance),
		}, nil
	}

	return Decision{
		Admitted: true,
		Cost:     cost,
		Message: fmt.Sprintf("You have %d credits remaining. This transcription will cost %d credits.",
			profile.CreditBalance, cost),
	}, nil
}
