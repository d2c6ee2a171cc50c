// Package orchestrator sequences a transcription request: load the
// user's entitlement, run the admission check, call the speech-to-text
// provider, and debit credits only after confirmed success.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Ajkolaganti/VoiceScriptAi/internal/database"
	"github.com/Ajkolaganti/VoiceScriptAi/internal/entitlement"
	"github.com/Ajkolaganti/VoiceScriptAi/internal/metrics"
	"github.com/Ajkolaganti/VoiceScriptAi/internal/transcribe"
)

var (
	// ErrUnauthenticated is returned when no entitlement record exists
	// for the submitting user.
	ErrUnauthenticated = errors.New("no profile for user")

	// ErrTranscriptionFailed wraps provider failures. No debit occurs.
	ErrTranscriptionFailed = errors.New("transcription failed")
)

// Store is the entitlement persistence the orchestrator needs.
type Store interface {
	GetEntitlement(ctx context.Context, userID string) (*entitlement.UserEntitlement, error)
	Debit(ctx context.Context, userID string, credits int) (int, error)
	InsertTranscript(ctx context.Context, row *database.TranscriptRow) (int64, error)
}

// Outcome is the result of a submission: either a denial with its
// reason, or a completed transcript with cost metadata.
type Outcome struct {
	Denied  bool   `json:"denied,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`

	Transcript string            `json:"transcript,omitempty"`
	Confidence float64           `json:"confidence,omitempty"`
	Duration   float64           `json:"duration,omitempty"` // provider-reported seconds
	Words      []transcribe.Word `json:"words,omitempty"`

	CreditsSpent     int `json:"credits_spent"`
	CreditsRemaining int `json:"credits_remaining"`
}

// Orchestrator runs the submit flow against injected collaborators.
type Orchestrator struct {
	store    Store
	provider transcribe.Provider
	timeout  time.Duration
	log      zerolog.Logger
}

func New(store Store, provider transcribe.Provider, timeout time.Duration, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		store:    store,
		provider: provider,
		timeout:  timeout,
		log:      log.With().Str("component", "orchestrator").Logger(),
	}
}

// Submit runs one transcription request end to end.
//
// The pre-flight estimate gates admission; the provider call runs under
// a timeout with no entitlement lock held. The debit is a single atomic
// floor-clamped write, so a check that raced another submission can at
// worst drain the balance to zero, never below. A debit failure after a
// successful transcription does not withhold the transcript: the value
// was already delivered, so the anomaly is logged and counted for
// reconciliation instead.
func (o *Orchestrator) Submit(ctx context.Context, userID string, audio []byte, mimeType string, estimatedMinutes float64) (*Outcome, error) {
	profile, err := o.store.GetEntitlement(ctx, userID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrUnauthenticated
	}
	if err != nil {
		return nil, fmt.Errorf("load entitlement: %w", err)
	}

	decision, err := entitlement.Evaluate(profile, estimatedMinutes)
	if err != nil {
		return nil, err
	}
	if !decision.Admitted {
		metrics.AdmissionsTotal.WithLabelValues(decision.Reason).Inc()
		o.log.Info().
			Str("user_id", userID).
			Str("reason", decision.Reason).
			Float64("estimated_minutes", estimatedMinutes).
			Msg("submission denied")
		return &Outcome{
			Denied:           true,
			Reason:           decision.Reason,
			Message:          decision.Message,
			CreditsRemaining: profile.CreditBalance,
		}, nil
	}
	metrics.AdmissionsTotal.WithLabelValues("admitted").Inc()

	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	start := time.Now()
	result, err := o.provider.Transcribe(callCtx, audio, mimeType)
	metrics.TranscriptionDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.TranscriptionsTotal.WithLabelValues("failed").Inc()
		o.log.Warn().Err(err).
			Str("user_id", userID).
			Str("provider", o.provider.Name()).
			Msg("provider call failed, no debit")
		return nil, fmt.Errorf("%w: %v", ErrTranscriptionFailed, err)
	}
	metrics.TranscriptionsTotal.WithLabelValues("ok").Inc()

	outcome := &Outcome{
		Transcript:       result.Transcript,
		Confidence:       result.Confidence,
		Duration:         result.Duration,
		Words:            result.Words,
		CreditsSpent:     decision.Cost,
		CreditsRemaining: profile.CreditBalance - decision.Cost,
	}

	balance, err := o.store.Debit(ctx, userID, decision.Cost)
	if err != nil {
		// Post-success billing anomaly: the transcript is still returned.
		metrics.DebitFailuresTotal.Inc()
		o.log.Error().Err(err).
			Str("user_id", userID).
			Int("credits", decision.Cost).
			Msg("debit failed after successful transcription, needs reconciliation")
	} else {
		metrics.CreditsDebitedTotal.Add(float64(decision.Cost))
		outcome.CreditsRemaining = balance
	}

	if _, err := o.store.InsertTranscript(ctx, &database.TranscriptRow{
		UserID:       userID,
		Text:         result.Transcript,
		Confidence:   confidencePtr(result.Confidence),
		DurationSec:  result.Duration,
		CreditsSpent: decision.Cost,
		Provider:     o.provider.Name(),
		Model:        o.provider.Model(),
		MimeType:     mimeType,
	}); err != nil {
		o.log.Warn().Err(err).Str("user_id", userID).Msg("transcript history insert failed")
	}

	o.log.Info().
		Str("user_id", userID).
		Int("credits_spent", decision.Cost).
		Int("credits_remaining", outcome.CreditsRemaining).
		Float64("duration_sec", result.Duration).
		Msg("transcription complete")

	return outcome, nil
}

func confidencePtr(c float64) *float32 {
	v := float32(c)
	return &v
}
