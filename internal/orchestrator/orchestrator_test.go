package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Ajkolaganti/VoiceScriptAi/internal/database"
	"github.com/Ajkolaganti/VoiceScriptAi/internal/entitlement"
	"github.com/Ajkolaganti/VoiceScriptAi/internal/transcribe"
)

// memStore is an in-memory Store with the same clamping semantics as
// the Postgres implementation.
type memStore struct {
	profiles    map[string]*entitlement.UserEntitlement
	debitErr    error
	transcripts []*database.TranscriptRow
}

func newMemStore(profiles ...*entitlement.UserEntitlement) *memStore {
	m := &memStore{profiles: make(map[string]*entitlement.UserEntitlement)}
	for _, p := range profiles {
		m.profiles[p.UserID] = p
	}
	return m
}

func (m *memStore) GetEntitlement(_ context.Context, userID string) (*entitlement.UserEntitlement, error) {
	p, ok := m.profiles[userID]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) Debit(_ context.Context, userID string, credits int) (int, error) {
	if m.debitErr != nil {
		return 0, m.debitErr
	}
	p, ok := m.profiles[userID]
	if !ok {
		return 0, database.ErrNotFound
	}
	p.CreditBalance -= credits
	if p.CreditBalance < 0 {
		p.CreditBalance = 0
	}
	return p.CreditBalance, nil
}

func (m *memStore) InsertTranscript(_ context.Context, row *database.TranscriptRow) (int64, error) {
	m.transcripts = append(m.transcripts, row)
	return int64(len(m.transcripts)), nil
}

// fakeProvider returns a canned result or error.
type fakeProvider struct {
	result *transcribe.Result
	err    error
	calls  int
}

func (f *fakeProvider) Transcribe(_ context.Context, _ []byte, _ string) (*transcribe.Result, error) {
	f.calls++
	return f.result, f.err
}
func (f *fakeProvider) Name() string  { return "fake" }
func (f *fakeProvider) Model() string { return "fake-1" }

func freeUser(credits int) *entitlement.UserEntitlement {
	return &entitlement.UserEntitlement{
		UserID:             "u1",
		Plan:               entitlement.PlanFree,
		CreditBalance:      credits,
		MaxFileDurationMin: 1,
	}
}

func newOrch(store Store, p transcribe.Provider) *Orchestrator {
	return New(store, p, 5*time.Second, zerolog.Nop())
}

func TestSubmit_UnknownUser(t *testing.T) {
	o := newOrch(newMemStore(), &fakeProvider{})
	_, err := o.Submit(context.Background(), "ghost", []byte("a"), "audio/wav", 0.5)
	if !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("err = %v, want ErrUnauthenticated", err)
	}
}

func TestSubmit_DeniedSkipsProvider(t *testing.T) {
	store := newMemStore(freeUser(5))
	provider := &fakeProvider{}
	o := newOrch(store, provider)

	out, err := o.Submit(context.Background(), "u1", []byte("a"), "audio/wav", 2.0)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !out.Denied || out.Reason != entitlement.ReasonDurationExceedsPlan {
		t.Fatalf("outcome = %+v, want duration denial", out)
	}
	if provider.calls != 0 {
		t.Errorf("provider called %d times on denial, want 0", provider.calls)
	}
	if got := store.profiles["u1"].CreditBalance; got != 5 {
		t.Errorf("balance = %d after denial, want 5", got)
	}
}

func TestSubmit_ProviderFailureNoDebit(t *testing.T) {
	store := newMemStore(freeUser(5))
	o := newOrch(store, &fakeProvider{err: errors.New("provider down")})

	_, err := o.Submit(context.Background(), "u1", []byte("a"), "audio/wav", 0.5)
	if !errors.Is(err, ErrTranscriptionFailed) {
		t.Fatalf("err = %v, want ErrTranscriptionFailed", err)
	}
	if got := store.profiles["u1"].CreditBalance; got != 5 {
		t.Errorf("balance = %d after provider failure, want 5 (no charge)", got)
	}
}

func TestSubmit_SuccessDebits(t *testing.T) {
	store := newMemStore(freeUser(5))
	o := newOrch(store, &fakeProvider{result: &transcribe.Result{
		Transcript: "hello",
		Confidence: 0.9,
		Duration:   31.0,
	}})

	out, err := o.Submit(context.Background(), "u1", []byte("a"), "audio/wav", 0.5)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if out.Denied {
		t.Fatalf("denied: %s", out.Reason)
	}
	if out.Transcript != "hello" {
		t.Errorf("Transcript = %q", out.Transcript)
	}
	if out.CreditsSpent != 1 {
		t.Errorf("CreditsSpent = %d, want 1", out.CreditsSpent)
	}
	if out.CreditsRemaining != 4 {
		t.Errorf("CreditsRemaining = %d, want 4", out.CreditsRemaining)
	}
	if got := store.profiles["u1"].CreditBalance; got != 4 {
		t.Errorf("stored balance = %d, want 4", got)
	}
	if len(store.transcripts) != 1 {
		t.Fatalf("transcripts recorded = %d, want 1", len(store.transcripts))
	}
	if store.transcripts[0].Provider != "fake" || store.transcripts[0].CreditsSpent != 1 {
		t.Errorf("transcript row = %+v", store.transcripts[0])
	}
}

func TestSubmit_DebitFailureStillReturnsTranscript(t *testing.T) {
	store := newMemStore(freeUser(5))
	store.debitErr = errors.New("store unavailable")
	o := newOrch(store, &fakeProvider{result: &transcribe.Result{Transcript: "hi", Duration: 10}})

	out, err := o.Submit(context.Background(), "u1", []byte("a"), "audio/wav", 0.5)
	if err != nil {
		t.Fatalf("Submit: %v (debit failure must be non-fatal)", err)
	}
	if out.Transcript != "hi" {
		t.Errorf("Transcript = %q, want the result despite debit failure", out.Transcript)
	}
}

func TestSubmit_EndToEndScenario(t *testing.T) {
	// Free user with 5 credits and a 1-minute limit: a half-minute file is
	// admitted at cost 1, then a 2-minute file is denied with the balance
	// unchanged.
	store := newMemStore(freeUser(5))
	o := newOrch(store, &fakeProvider{result: &transcribe.Result{Transcript: "ok", Duration: 30}})

	out, err := o.Submit(context.Background(), "u1", []byte("a"), "audio/wav", 0.5)
	if err != nil || out.Denied {
		t.Fatalf("first submit: err=%v out=%+v", err, out)
	}
	if out.CreditsRemaining != 4 {
		t.Fatalf("balance after first = %d, want 4", out.CreditsRemaining)
	}

	out, err = o.Submit(context.Background(), "u1", []byte("a"), "audio/wav", 2.0)
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if !out.Denied || out.Reason != entitlement.ReasonDurationExceedsPlan {
		t.Fatalf("second submit outcome = %+v, want duration denial", out)
	}
	if got := store.profiles["u1"].CreditBalance; got != 4 {
		t.Errorf("balance after denial = %d, want 4", got)
	}
}

func TestSubmit_InvalidDuration(t *testing.T) {
	o := newOrch(newMemStore(freeUser(5)), &fakeProvider{})
	_, err := o.Submit(context.Background(), "u1", []byte("a"), "audio/wav", 0)
	if !errors.Is(err, entitlement.ErrInvalidDuration) {
		t.Fatalf("err = %v, want ErrInvalidDuration", err)
	}
}
