package gamefi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
	"go.uber.org/goleak"
)

const (
	testCaller = "0x1111111111111111111111111111111111111111"
	testAlice  = "0x2222222222222222222222222222222222222222"
	testBob    = "0x3333333333333333333333333333333333333333"
)

// Mock ledger for testing
type mockLedger struct {
	mu      sync.Mutex
	nextID  uint64
	writes  int
	resyncs int
	write   func(ctx context.Context, req AssetRequest) (*Receipt, error)
	read    func(ctx context.Context, id uint64) (*Asset, error)
}

func newMockLedger() *mockLedger {
	return &mockLedger{nextID: 1}
}

func (m *mockLedger) Write(ctx context.Context, req AssetRequest) (*Receipt, error) {
	m.mu.Lock()
	m.writes++
	fn := m.write
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	return m.apply(req), nil
}

// apply is the healthy-ledger behaviour
func (m *mockLedger) apply(req AssetRequest) *Receipt {
	m.mu.Lock()
	defer m.mu.Unlock()
	if req.Operation == OperationCreate {
		id := m.nextID
		m.nextID++
		return &Receipt{TxHash: fmt.Sprintf("0xtx%d", id), AssetID: id, Owner: testCaller}
	}
	return &Receipt{TxHash: "0xtransfer", AssetID: req.Transfer.AssetID, Owner: req.Transfer.ToAddress}
}

func (m *mockLedger) ReadAsset(ctx context.Context, id uint64) (*Asset, error) {
	m.mu.Lock()
	fn := m.read
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, id)
	}
	return nil, ErrAssetNotFound
}

func (m *mockLedger) AssetsByOwner(ctx context.Context, owner string) ([]uint64, error) {
	return nil, nil
}

func (m *mockLedger) Resync(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resyncs++
	return nil
}

func (m *mockLedger) Address() string {
	return testCaller
}

func (m *mockLedger) writeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func quietLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// recordingSleep records backoff durations without waiting
type recordingSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func newTestGateway(ledger LedgerClient, opts ...GatewayOption) (*WriteGateway, *recordingSleep) {
	rs := &recordingSleep{}
	base := []GatewayOption{
		WithLogger(quietLogger()),
		WithClock(nil, rs.sleep),
	}
	return NewWriteGateway(ledger, append(base, opts...)...), rs
}

func swordRequest() AssetRequest {
	return NewCreateRequest(testCaller, "", CreateAssetPayload{Name: "Sword", Category: "Weapon", Rarity: 5})
}

func TestSubmit_CreateReturnsReceiptAndReplays(t *testing.T) {
	ledger := newMockLedger()
	gateway, _ := newTestGateway(ledger)
	ctx := context.Background()

	first, err := gateway.Submit(ctx, swordRequest())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !first.Accepted() {
		t.Fatalf("Expected accepted outcome, got %s (%v)", first.Kind, first.Error)
	}
	if first.Receipt.AssetID != 1 {
		t.Errorf("Expected assetId 1, got %d", first.Receipt.AssetID)
	}
	if first.Replayed {
		t.Error("Expected first outcome not to be a replay")
	}

	second, err := gateway.Submit(ctx, swordRequest())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !second.Replayed {
		t.Error("Expected second outcome to be a replay")
	}
	if diff := cmp.Diff(first.Receipt, second.Receipt); diff != "" {
		t.Errorf("Replayed receipt mismatch (-first +second):\n%s", diff)
	}
	if ledger.writeCount() != 1 {
		t.Errorf("Expected exactly 1 ledger write, got %d", ledger.writeCount())
	}
}

func TestSubmit_ConcurrentDuplicatesShareOneWrite(t *testing.T) {
	ledger := newMockLedger()
	release := make(chan struct{})
	ledger.write = func(ctx context.Context, req AssetRequest) (*Receipt, error) {
		<-release
		return ledger.apply(req), nil
	}
	gateway, _ := newTestGateway(ledger)

	const n = 10
	outcomes := make([]*WriteOutcome, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := gateway.Submit(context.Background(), NewTransferRequest(testCaller, "", TransferAssetPayload{AssetID: 7, ToAddress: testAlice}))
			if err != nil {
				t.Errorf("Unexpected error: %v", err)
				return
			}
			outcomes[i] = out
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if ledger.writeCount() != 1 {
		t.Fatalf("Expected exactly 1 ledger write, got %d", ledger.writeCount())
	}
	for i, out := range outcomes {
		if out == nil || !out.Accepted() {
			t.Fatalf("Expected outcome %d to be accepted, got %+v", i, out)
		}
		if diff := cmp.Diff(outcomes[0].Receipt, out.Receipt); diff != "" {
			t.Errorf("Outcome %d receipt mismatch:\n%s", i, diff)
		}
	}
}

func TestSubmit_RejectsInvalidRarityWithoutIO(t *testing.T) {
	ledger := newMockLedger()
	store := NewInMemoryStore(time.Hour)
	gateway, _ := newTestGateway(ledger, WithIdempotencyStore(store))

	req := NewCreateRequest(testCaller, "", CreateAssetPayload{Name: "Sword", Category: "Weapon", Rarity: 11})
	out, err := gateway.Submit(context.Background(), req)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !out.Rejected() {
		t.Fatalf("Expected rejected outcome, got %s", out.Kind)
	}
	if out.Error.Code != ErrCodeValidation {
		t.Errorf("Expected %s, got %s", ErrCodeValidation, out.Error.Code)
	}
	if _, ok := out.Error.Details["rarity"]; !ok {
		t.Errorf("Expected rarity detail, got %v", out.Error.Details)
	}
	if ledger.writeCount() != 0 {
		t.Errorf("Expected no ledger writes, got %d", ledger.writeCount())
	}
	if store.Len() != 0 {
		t.Errorf("Expected nothing stored for a rejected request, got %d records", store.Len())
	}
}

func TestSubmit_SerializesWritesToSameAsset(t *testing.T) {
	ledger := newMockLedger()
	started := make(chan string, 2)
	release := make(chan struct{})
	var active, overlap int32
	ledger.write = func(ctx context.Context, req AssetRequest) (*Receipt, error) {
		if atomic.AddInt32(&active, 1) > 1 {
			atomic.StoreInt32(&overlap, 1)
		}
		defer atomic.AddInt32(&active, -1)
		started <- req.Transfer.ToAddress
		<-release
		return ledger.apply(req), nil
	}
	gateway, _ := newTestGateway(ledger)
	ctx := context.Background()

	first := NewTransferRequest(testCaller, "", TransferAssetPayload{AssetID: 1, ToAddress: testAlice})
	second := NewTransferRequest(testCaller, "", TransferAssetPayload{AssetID: 1, ToAddress: testBob})

	results := make(chan *WriteOutcome, 2)
	go func() {
		out, _ := gateway.Submit(ctx, first)
		results <- out
	}()
	if got := <-started; got != testAlice {
		t.Fatalf("Expected first write to start, got %s", got)
	}

	go func() {
		out, _ := gateway.Submit(ctx, second)
		results <- out
	}()
	waitForStatus(t, gateway, second.Fingerprint, StatusQueued)

	select {
	case got := <-started:
		t.Fatalf("Second write %s started before the first finished", got)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	if got := <-started; got != testBob {
		t.Fatalf("Expected second write to start, got %s", got)
	}
	for i := 0; i < 2; i++ {
		if out := <-results; out == nil || !out.Accepted() {
			t.Fatalf("Expected accepted outcome, got %+v", out)
		}
	}
	if atomic.LoadInt32(&overlap) != 0 {
		t.Error("Expected writes to the same asset never to overlap")
	}
}

func TestSubmit_DifferentAssetsRunInParallel(t *testing.T) {
	ledger := newMockLedger()
	var wg sync.WaitGroup
	wg.Add(2)
	barrier := make(chan struct{})
	go func() {
		wg.Wait()
		close(barrier)
	}()
	ledger.write = func(ctx context.Context, req AssetRequest) (*Receipt, error) {
		wg.Done()
		select {
		case <-barrier:
			return ledger.apply(req), nil
		case <-time.After(2 * time.Second):
			return nil, NewPermanentError("test", errors.New("writes did not run in parallel"))
		}
	}
	gateway, _ := newTestGateway(ledger)

	results := make(chan *WriteOutcome, 2)
	for _, id := range []uint64{1, 2} {
		go func(id uint64) {
			out, _ := gateway.Submit(context.Background(), NewTransferRequest(testCaller, "", TransferAssetPayload{AssetID: id, ToAddress: testAlice}))
			results <- out
		}(id)
	}
	for i := 0; i < 2; i++ {
		if out := <-results; out == nil || !out.Accepted() {
			t.Fatalf("Expected accepted outcome, got %+v", out)
		}
	}
}

func TestSubmit_RetriesTransientFailures(t *testing.T) {
	ledger := newMockLedger()
	var calls int32
	ledger.write = func(ctx context.Context, req AssetRequest) (*Receipt, error) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			return nil, NewTransientError("timeout", errors.New("request timed out"))
		}
		return ledger.apply(req), nil
	}
	gateway, sleeper := newTestGateway(ledger)

	out, err := gateway.Submit(context.Background(), swordRequest())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !out.Accepted() {
		t.Fatalf("Expected accepted outcome, got %s (%v)", out.Kind, out.Error)
	}
	if out.Attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", out.Attempts)
	}
	if ledger.writeCount() != 3 {
		t.Errorf("Expected 3 ledger writes, got %d", ledger.writeCount())
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if diff := cmp.Diff(want, sleeper.delays); diff != "" {
		t.Errorf("Backoff mismatch (-want +got):\n%s", diff)
	}
}

func TestSubmit_StopsAtAttemptCap(t *testing.T) {
	ledger := newMockLedger()
	ledger.write = func(ctx context.Context, req AssetRequest) (*Receipt, error) {
		return nil, NewTransientError("unavailable", errors.New("connection refused"))
	}
	gateway, _ := newTestGateway(ledger)

	out, err := gateway.Submit(context.Background(), swordRequest())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !out.Failed() {
		t.Fatalf("Expected failed outcome, got %s", out.Kind)
	}
	if out.Error.Code != ErrCodeBlockchain {
		t.Errorf("Expected %s, got %s", ErrCodeBlockchain, out.Error.Code)
	}
	if ledger.writeCount() != 3 {
		t.Errorf("Expected 3 ledger writes, got %d", ledger.writeCount())
	}

	// Terminal failures are replayed, not retried
	again, _ := gateway.Submit(context.Background(), swordRequest())
	if !again.Failed() || !again.Replayed {
		t.Errorf("Expected replayed failure, got %+v", again)
	}
	if ledger.writeCount() != 3 {
		t.Errorf("Expected no further writes, got %d", ledger.writeCount())
	}
}

func TestSubmit_PermanentFailureIsNotRetried(t *testing.T) {
	ledger := newMockLedger()
	ledger.write = func(ctx context.Context, req AssetRequest) (*Receipt, error) {
		return nil, NewPermanentError("reverted", errors.New("execution reverted: You do not own this asset."))
	}
	gateway, sleeper := newTestGateway(ledger)

	out, _ := gateway.Submit(context.Background(), NewTransferRequest(testCaller, "", TransferAssetPayload{AssetID: 3, ToAddress: testBob}))
	if !out.Failed() {
		t.Fatalf("Expected failed outcome, got %s", out.Kind)
	}
	if out.Error.Code != ErrCodeLedgerRejected {
		t.Errorf("Expected %s, got %s", ErrCodeLedgerRejected, out.Error.Code)
	}
	if ledger.writeCount() != 1 {
		t.Errorf("Expected 1 ledger write, got %d", ledger.writeCount())
	}
	if len(sleeper.delays) != 0 {
		t.Errorf("Expected no backoff, got %v", sleeper.delays)
	}
}

func TestSubmit_ReconcilesAfterStateChange(t *testing.T) {
	ledger := newMockLedger()
	ledger.write = func(ctx context.Context, req AssetRequest) (*Receipt, error) {
		return nil, &LedgerError{Class: Transient, Reason: "nonce", StateChanged: true, Err: errors.New("nonce too low")}
	}
	ledger.read = func(ctx context.Context, id uint64) (*Asset, error) {
		return &Asset{ID: id, Owner: testAlice, Name: "Sword", Category: "Weapon", Rarity: 5}, nil
	}
	gateway, _ := newTestGateway(ledger)

	out, _ := gateway.Submit(context.Background(), NewTransferRequest(testCaller, "", TransferAssetPayload{AssetID: 4, ToAddress: testAlice}))
	if !out.Accepted() {
		t.Fatalf("Expected accepted outcome, got %s (%v)", out.Kind, out.Error)
	}
	if !out.Receipt.Reconciled {
		t.Error("Expected reconciled receipt")
	}
	if ledger.writeCount() != 1 {
		t.Errorf("Expected 1 ledger write, got %d", ledger.writeCount())
	}
	if ledger.resyncs != 1 {
		t.Errorf("Expected 1 resync, got %d", ledger.resyncs)
	}
}

func TestSubmit_CallerCancellationDoesNotStopWrite(t *testing.T) {
	defer goleak.VerifyNone(t)

	ledger := newMockLedger()
	started := make(chan struct{})
	release := make(chan struct{})
	var writeCtxErr atomic.Value
	ledger.write = func(ctx context.Context, req AssetRequest) (*Receipt, error) {
		close(started)
		<-release
		writeCtxErr.Store(fmt.Sprint(ctx.Err()))
		return ledger.apply(req), nil
	}
	gateway, _ := newTestGateway(ledger)
	req := swordRequest()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := gateway.Submit(ctx, req)
		errCh <- err
	}()

	<-started
	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}

	close(release)
	shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
	defer done()
	if err := gateway.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	if got := writeCtxErr.Load(); got != "<nil>" {
		t.Errorf("Expected write context to stay live, got %v", got)
	}
	rec, err := gateway.Pending(context.Background(), req.Fingerprint)
	if err != nil || rec == nil {
		t.Fatalf("Expected stored record, got %v (%v)", rec, err)
	}
	if rec.Status != StatusConfirmed {
		t.Errorf("Expected confirmed record, got %s", rec.Status)
	}

	out, _ := gateway.Submit(context.Background(), req)
	if !out.Accepted() || !out.Replayed {
		t.Errorf("Expected replayed acceptance, got %+v", out)
	}
}

func TestSubmit_IdempotencyKeyReuseIsRejected(t *testing.T) {
	ledger := newMockLedger()
	gateway, _ := newTestGateway(ledger)
	ctx := context.Background()

	first := NewCreateRequest(testCaller, "key-1", CreateAssetPayload{Name: "Sword", Category: "Weapon", Rarity: 5})
	if out, _ := gateway.Submit(ctx, first); !out.Accepted() {
		t.Fatalf("Expected accepted outcome, got %s", out.Kind)
	}

	reuse := NewCreateRequest(testCaller, "key-1", CreateAssetPayload{Name: "Shield", Category: "Armor", Rarity: 2})
	out, _ := gateway.Submit(ctx, reuse)
	if !out.Rejected() {
		t.Fatalf("Expected rejected outcome, got %s", out.Kind)
	}
	if ledger.writeCount() != 1 {
		t.Errorf("Expected 1 ledger write, got %d", ledger.writeCount())
	}
}

func activeRecord(req AssetRequest) *PendingWrite {
	now := time.Now()
	return &PendingWrite{
		Fingerprint: req.Fingerprint,
		AssetKey:    req.AssetKey(),
		Operation:   req.Operation,
		PayloadHash: req.PayloadHash,
		Status:      StatusSubmitted,
		Attempts:    1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestSubmit_WaitsForWriteActiveElsewhere(t *testing.T) {
	ledger := newMockLedger()
	store := NewInMemoryStore(time.Hour)
	gateway, _ := newTestGateway(ledger, WithIdempotencyStore(store), WithPollInterval(5*time.Millisecond))
	ctx := context.Background()
	req := swordRequest()

	active := activeRecord(req)
	_ = store.Put(ctx, active)

	results := make(chan *WriteOutcome, 1)
	go func() {
		out, err := gateway.Submit(ctx, req)
		if err != nil {
			t.Errorf("Submit failed: %v", err)
		}
		results <- out
	}()

	select {
	case out := <-results:
		t.Fatalf("Expected Submit to wait for the other writer, got %+v", out)
	case <-time.After(50 * time.Millisecond):
	}

	done := active.Clone()
	done.Status = StatusConfirmed
	done.Receipt = &Receipt{TxHash: "0xremote", AssetID: 9, Owner: testCaller}
	done.UpdatedAt = time.Now()
	_ = store.Put(ctx, done)

	select {
	case out := <-results:
		if out == nil || !out.Accepted() || !out.Replayed {
			t.Fatalf("Expected replayed acceptance, got %+v", out)
		}
		if out.Receipt.AssetID != 9 {
			t.Errorf("Expected the other writer's receipt, got asset %d", out.Receipt.AssetID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for the other writer's outcome")
	}
	if ledger.writeCount() != 0 {
		t.Errorf("Expected no ledger writes, got %d", ledger.writeCount())
	}
}

func TestSubmit_WaitForWriteElsewhereEndsWithCaller(t *testing.T) {
	ledger := newMockLedger()
	store := NewInMemoryStore(time.Hour)
	gateway, _ := newTestGateway(ledger, WithIdempotencyStore(store), WithPollInterval(5*time.Millisecond))
	req := swordRequest()

	active := activeRecord(req)
	_ = store.Put(context.Background(), active)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := gateway.Submit(ctx, req); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected context.DeadlineExceeded, got %v", err)
	}

	rec, _ := store.Get(context.Background(), req.Fingerprint)
	if rec.Status != StatusSubmitted {
		t.Errorf("Expected the other writer's record to be left alone, got %s", rec.Status)
	}

	done := active.Clone()
	done.Status = StatusFailed
	done.LastError = NewGatewayError(ErrCodeBlockchain, "Blockchain service temporarily unavailable", nil)
	done.UpdatedAt = time.Now()
	_ = store.Put(context.Background(), done)

	shutdownCtx, stop := context.WithTimeout(context.Background(), 2*time.Second)
	defer stop()
	if err := gateway.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if ledger.writeCount() != 0 {
		t.Errorf("Expected no ledger writes, got %d", ledger.writeCount())
	}
}

// A write queued behind a slow one on the same lane still gets the whole
// write timeout once it reaches the ledger
func TestSubmit_WriteTimeoutStartsAfterQueue(t *testing.T) {
	ledger := newMockLedger()
	ledger.write = func(ctx context.Context, req AssetRequest) (*Receipt, error) {
		select {
		case <-time.After(100 * time.Millisecond):
			return ledger.apply(req), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	gateway, _ := newTestGateway(ledger, WithWriteTimeout(150*time.Millisecond))
	ctx := context.Background()

	first := swordRequest()
	second := NewCreateRequest(testCaller, "", CreateAssetPayload{Name: "Shield", Category: "Armor", Rarity: 3})

	results := make(chan *WriteOutcome, 2)
	go func() {
		out, _ := gateway.Submit(ctx, first)
		results <- out
	}()
	waitForStatus(t, gateway, first.Fingerprint, StatusSubmitted)
	go func() {
		out, _ := gateway.Submit(ctx, second)
		results <- out
	}()

	for i := 0; i < 2; i++ {
		out := <-results
		if out == nil || !out.Accepted() {
			t.Fatalf("Expected accepted outcome, got %+v", out)
		}
		if out.Attempts != 1 {
			t.Errorf("Expected a single attempt, got %d", out.Attempts)
		}
	}
	if ledger.writeCount() != 2 {
		t.Errorf("Expected 2 ledger writes, got %d", ledger.writeCount())
	}

	rec, _ := gateway.Store().Get(ctx, second.Fingerprint)
	if rec == nil || rec.Status != StatusConfirmed {
		t.Errorf("Expected confirmed record for the queued write, got %+v", rec)
	}
}

func TestSubmit_StaleActiveRecordIsTakenOver(t *testing.T) {
	ledger := newMockLedger()
	store := NewInMemoryStore(time.Hour)
	gateway, _ := newTestGateway(ledger, WithIdempotencyStore(store), WithWriteTimeout(time.Minute))
	req := swordRequest()

	old := time.Now().Add(-time.Hour)
	_ = store.Put(context.Background(), &PendingWrite{
		Fingerprint: req.Fingerprint,
		PayloadHash: req.PayloadHash,
		Status:      StatusQueued,
		CreatedAt:   old,
		UpdatedAt:   old,
	})

	out, _ := gateway.Submit(context.Background(), req)
	if !out.Accepted() {
		t.Fatalf("Expected accepted outcome, got %+v", out)
	}
}

func TestSubmit_Hooks(t *testing.T) {
	t.Run("before hook aborts", func(t *testing.T) {
		ledger := newMockLedger()
		gateway, _ := newTestGateway(ledger)
		gateway.OnBeforeSubmit(func(ctx SubmitContext) (*BeforeHookResult, error) {
			return &BeforeHookResult{Abort: true, Reason: "writes paused"}, nil
		})

		out, _ := gateway.Submit(context.Background(), swordRequest())
		if !out.Rejected() || out.Error.Message != "writes paused" {
			t.Fatalf("Expected rejection from hook, got %+v", out)
		}
		if ledger.writeCount() != 0 {
			t.Errorf("Expected no ledger writes, got %d", ledger.writeCount())
		}
	})

	t.Run("after and retry hooks observe the write", func(t *testing.T) {
		ledger := newMockLedger()
		var calls int32
		ledger.write = func(ctx context.Context, req AssetRequest) (*Receipt, error) {
			if atomic.AddInt32(&calls, 1) == 1 {
				return nil, NewTransientError("timeout", errors.New("timeout"))
			}
			return ledger.apply(req), nil
		}
		gateway, _ := newTestGateway(ledger)

		var retries, confirmed int32
		gateway.
			OnRetry(func(ctx RetryContext) { atomic.AddInt32(&retries, 1) }).
			OnAfterSubmit(func(ctx SubmitResultContext) error {
				if ctx.Attempts != 2 {
					t.Errorf("Expected 2 attempts in hook, got %d", ctx.Attempts)
				}
				atomic.AddInt32(&confirmed, 1)
				return nil
			})

		if out, _ := gateway.Submit(context.Background(), swordRequest()); !out.Accepted() {
			t.Fatalf("Expected accepted outcome, got %s", out.Kind)
		}
		if retries != 1 || confirmed != 1 {
			t.Errorf("Expected 1 retry and 1 confirmation, got %d and %d", retries, confirmed)
		}
	})

	t.Run("failure hook recovers", func(t *testing.T) {
		ledger := newMockLedger()
		ledger.write = func(ctx context.Context, req AssetRequest) (*Receipt, error) {
			return nil, NewPermanentError("reverted", errors.New("execution reverted"))
		}
		gateway, _ := newTestGateway(ledger)
		gateway.OnSubmitFailure(func(ctx SubmitFailureContext) (*SubmitFailureHookResult, error) {
			return &SubmitFailureHookResult{Recovered: true, Receipt: Receipt{AssetID: 42}}, nil
		})

		out, _ := gateway.Submit(context.Background(), swordRequest())
		if !out.Accepted() || out.Receipt.AssetID != 42 {
			t.Fatalf("Expected recovered receipt, got %+v", out)
		}
	})
}

func waitForStatus(t *testing.T, g *WriteGateway, fingerprint string, status WriteStatus) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rec, _ := g.Pending(context.Background(), fingerprint)
		if rec != nil && rec.Status == status {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s to reach %s", fingerprint, status)
}
