package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"signalrelay/internal/models"
)

type stubSignalStore struct {
	mu       sync.Mutex
	admitted map[string]bool
	dropped  map[string]string
	destined map[string]string
}

func newStubSignalStore() *stubSignalStore {
	return &stubSignalStore{
		admitted: map[string]bool{},
		dropped:  map[string]string{},
		destined: map[string]string{},
	}
}

func (s *stubSignalStore) AdmitSignal(ctx context.Context, item *models.Signal) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.admitted[item.SignalID] {
		return false, nil
	}
	s.admitted[item.SignalID] = true
	return true, nil
}

func (s *stubSignalStore) MarkSignalDropped(ctx context.Context, signalID string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropped[signalID] = reason
	return nil
}

func (s *stubSignalStore) SetSignalDestination(ctx context.Context, signalID string, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destined[signalID] = chatID
	return nil
}

func (s *stubSignalStore) TouchCoinPairSignal(ctx context.Context, symbol string, at time.Time) error {
	return nil
}

type recordingDispatcher struct {
	mu    sync.Mutex
	sends []string
}

func (d *recordingDispatcher) Dispatch(sig models.Signal, chatID string, text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sends = append(d.sends, sig.SignalID+"->"+chatID)
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sends)
}

func testPipeline(store *stubSignalStore, dispatcher *recordingDispatcher, routing *stubRoutingStore) *Pipeline {
	return &Pipeline{
		Store:     store,
		Snapshots: &SnapshotLoader{Store: routing, DefaultChat: "-100default"},
		Formatter: Formatter{ChartBaseURL: "https://tradingview.com/chart/"},
		Delivery:  dispatcher,
		Logger:    zap.NewNop(),
		TTL:       time.Hour,
	}
}

func enabledRouting(symbols ...string) *stubRoutingStore {
	store := &stubRoutingStore{}
	for _, symbol := range symbols {
		store.pairs = append(store.pairs, models.CoinPair{Symbol: symbol, Enabled: true})
	}
	return store
}

func TestSubmit_AdmitsAndDispatches(t *testing.T) {
	store := newStubSignalStore()
	dispatcher := &recordingDispatcher{}
	p := testPipeline(store, dispatcher, enabledRouting("BTCUSDT"))

	result, err := p.Submit(context.Background(), []byte(validWebhook), SourceWebhookJSON)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != OutcomeAdmitted {
		t.Fatalf("outcome=%s want=%s", result.Outcome, OutcomeAdmitted)
	}
	if dispatcher.count() != 1 {
		t.Fatalf("dispatches=%d want=1", dispatcher.count())
	}
	if store.destined["BTCUSDT-60-1717200000000"] != "-100default" {
		t.Fatalf("destination not persisted: %v", store.destined)
	}
}

func TestSubmit_DuplicateDispatchesOnce(t *testing.T) {
	store := newStubSignalStore()
	dispatcher := &recordingDispatcher{}
	p := testPipeline(store, dispatcher, enabledRouting("BTCUSDT"))

	first, err := p.Submit(context.Background(), []byte(validWebhook), SourceWebhookJSON)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := p.Submit(context.Background(), []byte(validWebhook), SourceWebhookJSON)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Outcome != OutcomeAdmitted || second.Outcome != OutcomeDuplicate {
		t.Fatalf("outcomes=%s,%s want=admitted,duplicate", first.Outcome, second.Outcome)
	}
	if dispatcher.count() != 1 {
		t.Fatalf("dispatches=%d want=1", dispatcher.count())
	}
}

func TestSubmit_RejectedNeverStored(t *testing.T) {
	store := newStubSignalStore()
	dispatcher := &recordingDispatcher{}
	p := testPipeline(store, dispatcher, enabledRouting("BTCUSDT"))

	result, err := p.Submit(context.Background(), []byte("{broken"), SourceWebhookJSON)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != OutcomeRejected {
		t.Fatalf("outcome=%s want=%s", result.Outcome, OutcomeRejected)
	}
	if len(store.admitted) != 0 || dispatcher.count() != 0 {
		t.Fatalf("rejected event touched store or dispatcher")
	}
}

func TestSubmit_DisabledPairDroppedNotDispatched(t *testing.T) {
	store := newStubSignalStore()
	dispatcher := &recordingDispatcher{}
	p := testPipeline(store, dispatcher, enabledRouting("ETHUSDT"))

	result, err := p.Submit(context.Background(), []byte(validWebhook), SourceWebhookJSON)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Outcome != OutcomeAdmitted {
		t.Fatalf("outcome=%s want=%s", result.Outcome, OutcomeAdmitted)
	}
	if dispatcher.count() != 0 {
		t.Fatalf("dispatches=%d want=0", dispatcher.count())
	}
	if store.dropped["BTCUSDT-60-1717200000000"] != DropPairDisabled {
		t.Fatalf("drop reason=%v want=%s", store.dropped, DropPairDisabled)
	}
}

func TestSubmit_ConcurrentDuplicatesAdmitOnce(t *testing.T) {
	store := newStubSignalStore()
	dispatcher := &recordingDispatcher{}
	p := testPipeline(store, dispatcher, enabledRouting("BTCUSDT"))

	const workers = 16
	results := make(chan string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := p.Submit(context.Background(), []byte(validWebhook), SourceWebhookJSON)
			if err != nil {
				results <- fmt.Sprintf("error:%v", err)
				return
			}
			results <- result.Outcome
		}()
	}
	wg.Wait()
	close(results)

	admitted := 0
	for outcome := range results {
		switch outcome {
		case OutcomeAdmitted:
			admitted++
		case OutcomeDuplicate:
		default:
			t.Fatalf("unexpected outcome %s", outcome)
		}
	}
	if admitted != 1 {
		t.Fatalf("admitted=%d want exactly 1", admitted)
	}
	if dispatcher.count() != 1 {
		t.Fatalf("dispatches=%d want=1", dispatcher.count())
	}
}
