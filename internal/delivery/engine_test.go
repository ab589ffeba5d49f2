package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"signalrelay/internal/models"
)

type stubStore struct {
	mu          sync.Mutex
	rowAttempts int
	claims      []int
	claimLeases []time.Time
	schedules   []int
	delays      []time.Duration
	sent        []string
	failed      []string
	due         []models.Signal
}

func (s *stubStore) ClaimSignalAttempt(ctx context.Context, signalID string, expectedAttempts int, attempts int, nextAttemptAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if expectedAttempts != s.rowAttempts {
		return false, nil
	}
	s.rowAttempts = attempts
	s.claims = append(s.claims, attempts)
	s.claimLeases = append(s.claimLeases, nextAttemptAt)
	return true, nil
}

func (s *stubStore) UpdateSignalAttempt(ctx context.Context, signalID string, attempts int, nextAttemptAt *time.Time, lastError *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedules = append(s.schedules, attempts)
	return nil
}

func (s *stubStore) MarkSignalSent(ctx context.Context, signalID string, chatID string, sentAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, signalID)
	return nil
}

func (s *stubStore) MarkSignalFailed(ctx context.Context, signalID string, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = append(s.failed, signalID)
	return nil
}

func (s *stubStore) ListDuePendingSignals(ctx context.Context, now time.Time, limit int) ([]models.Signal, error) {
	return s.due, nil
}

type scriptedSender struct {
	mu    sync.Mutex
	calls int
	errs  []error
}

func (s *scriptedSender) Send(ctx context.Context, chatID string, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= len(s.errs) {
		return s.errs[s.calls-1]
	}
	return nil
}

func testEngine(store *stubStore, sender Sender) *Engine {
	e := NewEngine(store, sender, zap.NewNop(),
		[]time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, 4, nil, context.Background())
	e.sleep = func(ctx context.Context, d time.Duration) error {
		store.mu.Lock()
		store.delays = append(store.delays, d)
		store.mu.Unlock()
		return nil
	}
	return e
}

func TestDeliver_SucceedsFirstAttempt(t *testing.T) {
	store := &stubStore{}
	sender := &scriptedSender{}
	e := testEngine(store, sender)

	sig := models.Signal{SignalID: "s1"}
	if err := e.Deliver(context.Background(), sig, "-100", "text"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.sent) != 1 || store.sent[0] != "s1" {
		t.Fatalf("sent=%v want [s1]", store.sent)
	}
	if len(store.claims) != 1 || store.claims[0] != 1 {
		t.Fatalf("claims=%v want [1]", store.claims)
	}
}

func TestDeliver_ClaimLeavesDueDeadline(t *testing.T) {
	store := &stubStore{}
	sender := &scriptedSender{}
	e := testEngine(store, sender)

	start := time.Now().UTC()
	sig := models.Signal{SignalID: "s1"}
	if err := e.Deliver(context.Background(), sig, "-100", "text"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// While the send is in flight the row must carry a non-NULL
	// next_attempt_at so a crash leaves it visible to the redelivery sweep.
	if len(store.claimLeases) != 1 {
		t.Fatalf("claim leases=%v want exactly one", store.claimLeases)
	}
	lease := store.claimLeases[0]
	if lease.IsZero() || lease.Before(start) {
		t.Fatalf("lease=%v want a future deadline", lease)
	}
	if lease.After(start.Add(e.ClaimLease + time.Second)) {
		t.Fatalf("lease=%v want within the claim lease window", lease)
	}
}

func TestDeliver_LostClaimStopsLoop(t *testing.T) {
	// Another loop already advanced the attempt counter.
	store := &stubStore{rowAttempts: 1}
	sender := &scriptedSender{}
	e := testEngine(store, sender)

	sig := models.Signal{SignalID: "s1"}
	if err := e.Deliver(context.Background(), sig, "-100", "text"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sender.calls != 0 {
		t.Fatalf("send calls=%d want=0 when the claim is lost", sender.calls)
	}
	if len(store.sent) != 0 || len(store.failed) != 0 {
		t.Fatalf("sent=%v failed=%v want no transitions", store.sent, store.failed)
	}
}

func TestDeliver_TransientRetriesWithBackoffThenFails(t *testing.T) {
	store := &stubStore{}
	transient := &TransientError{Err: errors.New("http 500")}
	sender := &scriptedSender{errs: []error{transient, transient, transient, transient, transient}}
	e := testEngine(store, sender)

	sig := models.Signal{SignalID: "s1"}
	if err := e.Deliver(context.Background(), sig, "-100", "text"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sender.calls != 4 {
		t.Fatalf("send calls=%d want=4", sender.calls)
	}
	if len(store.failed) != 1 {
		t.Fatalf("failed=%v want one entry", store.failed)
	}
	if len(store.sent) != 0 {
		t.Fatalf("sent=%v want none", store.sent)
	}
	wantClaims := []int{1, 2, 3, 4}
	if len(store.claims) != len(wantClaims) {
		t.Fatalf("claims=%v want=%v", store.claims, wantClaims)
	}
	for i, c := range wantClaims {
		if store.claims[i] != c {
			t.Fatalf("claims[%d]=%d want=%d", i, store.claims[i], c)
		}
	}
	wantDelays := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	if len(store.delays) != len(wantDelays) {
		t.Fatalf("delays=%v want=%v", store.delays, wantDelays)
	}
	for i, d := range wantDelays {
		if store.delays[i] != d {
			t.Fatalf("delay[%d]=%v want=%v", i, store.delays[i], d)
		}
	}
}

func TestDeliver_TransientThenSuccess(t *testing.T) {
	store := &stubStore{}
	transient := &TransientError{Err: errors.New("timeout")}
	sender := &scriptedSender{errs: []error{transient, transient}}
	e := testEngine(store, sender)

	sig := models.Signal{SignalID: "s1"}
	if err := e.Deliver(context.Background(), sig, "-100", "text"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sender.calls != 3 {
		t.Fatalf("send calls=%d want=3", sender.calls)
	}
	if len(store.sent) != 1 {
		t.Fatalf("sent=%v want one entry", store.sent)
	}
	if len(store.failed) != 0 {
		t.Fatalf("failed=%v want none", store.failed)
	}
}

func TestDeliver_PermanentFailsImmediately(t *testing.T) {
	store := &stubStore{}
	sender := &scriptedSender{errs: []error{&PermanentError{Err: errors.New("http 403")}}}
	e := testEngine(store, sender)

	sig := models.Signal{SignalID: "s1"}
	if err := e.Deliver(context.Background(), sig, "-100", "text"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sender.calls != 1 {
		t.Fatalf("send calls=%d want=1", sender.calls)
	}
	if len(store.failed) != 1 {
		t.Fatalf("failed=%v want one entry", store.failed)
	}
	if len(store.delays) != 0 {
		t.Fatalf("delays=%v want none", store.delays)
	}
}

func TestDeliver_ResumesFromPersistedAttempts(t *testing.T) {
	// Two attempts already burned before the restart.
	store := &stubStore{rowAttempts: 2}
	transient := &TransientError{Err: errors.New("http 502")}
	sender := &scriptedSender{errs: []error{transient, transient}}
	e := testEngine(store, sender)

	sig := models.Signal{SignalID: "s1", Attempts: 2}
	if err := e.Deliver(context.Background(), sig, "-100", "text"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sender.calls != 2 {
		t.Fatalf("send calls=%d want=2", sender.calls)
	}
	if len(store.failed) != 1 {
		t.Fatalf("failed=%v want one entry after the remaining attempts run out", store.failed)
	}
	if len(store.claims) == 0 || store.claims[0] != 3 {
		t.Fatalf("claims=%v want first claimed attempt 3", store.claims)
	}
}

func TestRedeliverDue_SkipsSignalsWithoutDestination(t *testing.T) {
	chat := "-100"
	store := &stubStore{
		rowAttempts: 1,
		due: []models.Signal{
			{SignalID: "routed", ChatID: &chat, Attempts: 1},
			{SignalID: "unrouted"},
		},
	}
	sender := &scriptedSender{}
	e := testEngine(store, sender)
	e.Format = func(sig *models.Signal) string { return "rebuilt" }

	e.RedeliverDue(context.Background(), 10)

	// Dispatch is async; wait for the send to land.
	deadline := time.After(2 * time.Second)
	for {
		store.mu.Lock()
		sent := len(store.sent)
		store.mu.Unlock()
		if sent == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("resumed signal was not sent")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if store.sent[0] != "routed" {
		t.Fatalf("sent=%v want [routed]", store.sent)
	}
}
