package gamefi

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Defaults applied by NewWriteGateway
const (
	DefaultRetention    = 24 * time.Hour
	DefaultWriteTimeout = 2 * time.Minute
	DefaultPollInterval = 500 * time.Millisecond
)

// WriteGateway turns unreliable ledger writes into an idempotent, ordered,
// retrying service boundary.
//
// Writes sharing an asset key run one at a time in arrival order; writes to
// different assets run in parallel. A fingerprint that reached a terminal
// status is never executed again while its record is retained.
type WriteGateway struct {
	mu sync.RWMutex

	ledger        LedgerClient
	store         IdempotencyStore
	invalidators  []CacheInvalidator
	retry         RetryPolicy
	writeTimeout  time.Duration
	pollInterval  time.Duration
	fingerprinter Fingerprinter
	logger        logrus.FieldLogger
	sleep         func(ctx context.Context, d time.Duration) error
	now           func() time.Time

	lanes   *laneSet
	flights *flights
	running sync.WaitGroup

	// Lifecycle hooks
	beforeSubmitHooks    []BeforeSubmitHook
	afterSubmitHooks     []AfterSubmitHook
	onSubmitFailureHooks []OnSubmitFailureHook
	onRetryHooks         []OnRetryHook
}

// GatewayOption configures the gateway
type GatewayOption func(*WriteGateway)

// WithIdempotencyStore sets the store that persists write records.
// Default: InMemoryStore with a 24h retention window
func WithIdempotencyStore(store IdempotencyStore) GatewayOption {
	return func(g *WriteGateway) {
		g.store = store
	}
}

// WithCacheInvalidator registers a cache to invalidate after confirmed writes
func WithCacheInvalidator(inv CacheInvalidator) GatewayOption {
	return func(g *WriteGateway) {
		g.invalidators = append(g.invalidators, inv)
	}
}

// WithRetryPolicy sets the retry policy for transient ledger failures
func WithRetryPolicy(policy RetryPolicy) GatewayOption {
	return func(g *WriteGateway) {
		g.retry = policy.normalized()
	}
}

// WithWriteTimeout bounds a single write, retries and backoff included.
// The clock starts once the write reaches the head of its lane.
func WithWriteTimeout(d time.Duration) GatewayOption {
	return func(g *WriteGateway) {
		if d > 0 {
			g.writeTimeout = d
		}
	}
}

// WithPollInterval sets how often the store is polled while another
// instance owns a fingerprint
func WithPollInterval(d time.Duration) GatewayOption {
	return func(g *WriteGateway) {
		if d > 0 {
			g.pollInterval = d
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger logrus.FieldLogger) GatewayOption {
	return func(g *WriteGateway) {
		g.logger = logger
	}
}

// WithFingerprinter overrides how requests without a fingerprint are identified
func WithFingerprinter(fp Fingerprinter) GatewayOption {
	return func(g *WriteGateway) {
		g.fingerprinter = fp
	}
}

// WithClock replaces the time source and the backoff sleep, mostly for tests
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) GatewayOption {
	return func(g *WriteGateway) {
		if now != nil {
			g.now = now
		}
		if sleep != nil {
			g.sleep = sleep
		}
	}
}

// NewWriteGateway creates a gateway in front of the given ledger client
func NewWriteGateway(ledger LedgerClient, opts ...GatewayOption) *WriteGateway {
	g := &WriteGateway{
		ledger:        ledger,
		retry:         DefaultRetryPolicy(),
		writeTimeout:  DefaultWriteTimeout,
		pollInterval:  DefaultPollInterval,
		fingerprinter: DefaultFingerprinter,
		logger:        logrus.StandardLogger(),
		sleep:         sleepContext,
		now:           time.Now,
		lanes:         newLaneSet(),
		flights:       newFlights(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.store == nil {
		g.store = NewInMemoryStore(DefaultRetention)
	}
	return g
}

// Store returns the idempotency store in use
func (g *WriteGateway) Store() IdempotencyStore {
	return g.store
}

// Submit executes req against the ledger at most once per fingerprint.
//
// Validation failures return a rejected outcome without any I/O. If ctx ends
// before the write finishes, Submit returns ctx.Err() but the write itself
// runs to completion and its outcome stays available for replay.
func (g *WriteGateway) Submit(ctx context.Context, req AssetRequest) (*WriteOutcome, error) {
	if req.Fingerprint == "" || req.PayloadHash == "" {
		req.Fingerprint, req.PayloadHash = g.fingerprinter(req)
	}

	if verr := ValidateRequest(req); verr != nil {
		return rejected(req.Fingerprint, verr), nil
	}

	log := g.logger.WithFields(logrus.Fields{
		"fingerprint": req.Fingerprint,
		"operation":   req.Operation,
		"asset_key":   req.AssetKey(),
	})

	status, fl := g.flights.checkAndMark(req.Fingerprint, req.PayloadHash)
	if status == flightJoined {
		if fl.payloadHash != req.PayloadHash {
			return rejected(req.Fingerprint, keyReuseError()), nil
		}
		log.Debug("joining in-flight write")
		return g.wait(ctx, fl, true)
	}

	// This caller owns the fingerprint from here on
	if out, done := g.replay(ctx, req, log); done {
		g.flights.complete(req.Fingerprint, fl, out)
		return out, nil
	}

	before, _, _, _ := g.hooks()
	hookCtx := SubmitContext{Ctx: ctx, Request: req, Timestamp: g.now()}
	for _, hook := range before {
		result, err := hook(hookCtx)
		if err != nil {
			out := rejected(req.Fingerprint, NewGatewayError(ErrCodeValidation, err.Error(), nil))
			g.flights.complete(req.Fingerprint, fl, out)
			return out, nil
		}
		if result != nil && result.Abort {
			out := rejected(req.Fingerprint, NewGatewayError(ErrCodeValidation, result.Reason, nil))
			g.flights.complete(req.Fingerprint, fl, out)
			return out, nil
		}
	}

	record := &PendingWrite{
		Fingerprint: req.Fingerprint,
		AssetKey:    req.AssetKey(),
		Operation:   req.Operation,
		PayloadHash: req.PayloadHash,
		Status:      StatusQueued,
		CreatedAt:   g.now(),
		UpdatedAt:   g.now(),
	}
	fl.setRecord(record)

	base := context.WithoutCancel(ctx)
	owned, err := g.store.Claim(base, record, g.now().Add(-g.writeTimeout))
	if err != nil {
		log.WithError(err).Error("failed to claim write record")
		out := internalFailure(req.Fingerprint)
		g.flights.complete(req.Fingerprint, fl, out)
		return out, nil
	}

	g.running.Add(1)
	if !owned {
		go func() {
			defer g.running.Done()
			out := g.follow(base, req, record, fl, log)
			g.flights.complete(req.Fingerprint, fl, out)
		}()
		return g.wait(ctx, fl, false)
	}

	// Reserve the lane position before handing off so arrival order is kept
	t := g.lanes.enqueue(req.AssetKey())
	go func() {
		defer g.running.Done()
		out := g.execute(base, req, record, t, fl, log)
		g.flights.complete(req.Fingerprint, fl, out)
	}()

	return g.wait(ctx, fl, false)
}

// Pending returns the current record for fingerprint, preferring the live
// in-process view over the store. It returns nil when nothing is known.
func (g *WriteGateway) Pending(ctx context.Context, fingerprint string) (*PendingWrite, error) {
	if fl := g.flights.get(fingerprint); fl != nil {
		if rec := fl.snapshot(); rec != nil {
			return rec, nil
		}
	}
	return g.store.Get(ctx, fingerprint)
}

// Shutdown waits for running writes to finish or ctx to end
func (g *WriteGateway) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *WriteGateway) wait(ctx context.Context, fl *flight, joined bool) (*WriteOutcome, error) {
	select {
	case <-fl.done:
		out := fl.result()
		if out == nil {
			return nil, errors.New("write finished without an outcome")
		}
		if joined {
			out.Replayed = true
		}
		return out, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// replay resolves the request from the store when a record already exists.
// It reports false when the write must be executed.
func (g *WriteGateway) replay(ctx context.Context, req AssetRequest, log logrus.FieldLogger) (*WriteOutcome, bool) {
	existing, err := g.store.Get(ctx, req.Fingerprint)
	if err != nil {
		log.WithError(err).Error("idempotency store lookup failed")
		return internalFailure(req.Fingerprint), true
	}
	if existing == nil {
		return nil, false
	}

	if existing.PayloadHash != "" && existing.PayloadHash != req.PayloadHash {
		return rejected(req.Fingerprint, keyReuseError()), true
	}

	if existing.Status.Terminal() {
		log.WithField("status", existing.Status).Debug("replaying stored outcome")
		out := existing.Outcome()
		out.Replayed = true
		return out, true
	}

	// Active records are left to Claim: it either takes a stale one over or
	// reports that another process still owns it
	return nil, false
}

// follow waits for a write owned by another process to reach a terminal
// status and replays it. A record that stops being updated for longer than
// the write timeout is claimed and executed here instead.
func (g *WriteGateway) follow(ctx context.Context, req AssetRequest, record *PendingWrite, fl *flight, log logrus.FieldLogger) *WriteOutcome {
	log.Info("write is active in another process, waiting for its outcome")
	lookupFailures := 0
	for {
		if err := sleepContext(ctx, g.pollInterval); err != nil {
			return internalFailure(req.Fingerprint)
		}

		existing, err := g.store.Get(ctx, req.Fingerprint)
		if err != nil {
			lookupFailures++
			log.WithError(err).WithField("failures", lookupFailures).Warn("idempotency store lookup failed")
			if lookupFailures >= g.retry.MaxAttempts {
				return internalFailure(req.Fingerprint)
			}
			continue
		}
		lookupFailures = 0
		if existing != nil {
			if existing.PayloadHash != "" && existing.PayloadHash != req.PayloadHash {
				return rejected(req.Fingerprint, keyReuseError())
			}
			if existing.Status.Terminal() {
				out := existing.Outcome()
				out.Replayed = true
				return out
			}
			fl.setRecord(existing)
			if g.now().Sub(existing.UpdatedAt) <= g.writeTimeout {
				continue
			}
		}

		record.CreatedAt = g.now()
		record.UpdatedAt = record.CreatedAt
		owned, err := g.store.Claim(ctx, record, g.now().Add(-g.writeTimeout))
		if err != nil {
			log.WithError(err).Warn("failed to claim write record")
			continue
		}
		if owned {
			log.Warn("took over write record")
			fl.setRecord(record)
			return g.execute(ctx, req, record, g.lanes.enqueue(req.AssetKey()), fl, log)
		}
	}
}

// awaitLane blocks until the write reaches the head of its lane. The queued
// record is refreshed meanwhile so other processes do not consider it stale.
func (g *WriteGateway) awaitLane(ctx context.Context, t *ticket, record *PendingWrite, fl *flight, log logrus.FieldLogger) {
	if t.prev == nil {
		return
	}
	every := g.writeTimeout / 2
	if every <= 0 {
		every = g.writeTimeout
	}
	heartbeat := time.NewTicker(every)
	defer heartbeat.Stop()
	for {
		select {
		case <-t.prev:
			return
		case <-heartbeat.C:
			record.UpdatedAt = g.now()
			g.persist(ctx, record, fl, log)
		}
	}
}

// execute runs one write inside its lane: submit, retry, record, invalidate.
// The write timeout starts once the lane is free, so time spent queued
// behind other writes never counts against it.
func (g *WriteGateway) execute(base context.Context, req AssetRequest, record *PendingWrite, t *ticket, fl *flight, log logrus.FieldLogger) *WriteOutcome {
	defer g.lanes.release(t)

	g.awaitLane(base, t, record, fl, log)

	ctx, cancel := context.WithTimeout(base, g.writeTimeout)
	defer cancel()

	_, after, failure, retry := g.hooks()
	hookCtx := SubmitContext{Ctx: ctx, Request: req, Timestamp: g.now()}
	start := g.now()

	var (
		receipt *Receipt
		lastErr *LedgerError
	)
	for attempt := 1; ; attempt++ {
		record.Status = StatusSubmitted
		record.Attempts = attempt
		record.UpdatedAt = g.now()
		g.persist(ctx, record, fl, log)

		r, err := g.ledger.Write(ctx, req)
		if err == nil {
			receipt = r
			break
		}

		lastErr = ClassifyLedgerError(err)
		alog := log.WithFields(logrus.Fields{
			"attempt": attempt,
			"class":   lastErr.Class.String(),
			"reason":  lastErr.Reason,
		})
		if lastErr.Class == Permanent || attempt >= g.retry.MaxAttempts {
			alog.WithError(err).Warn("ledger write failed")
			break
		}

		backoff := g.retry.Backoff(attempt)
		alog.WithError(err).WithField("backoff", backoff).Info("retrying ledger write")
		for _, hook := range retry {
			hook(RetryContext{SubmitContext: hookCtx, Attempt: attempt, Error: lastErr, Backoff: backoff})
		}

		if lastErr.StateChanged {
			if rec := g.resync(ctx, req, alog); rec != nil {
				receipt = rec
				break
			}
		}

		if err := g.sleep(ctx, backoff); err != nil {
			lastErr = NewTransientError("timeout", err)
			alog.WithError(err).Warn("write deadline reached during backoff")
			break
		}
	}

	if receipt == nil {
		gerr := ledgerFailure(lastErr, record.Attempts)
		failCtx := SubmitFailureContext{
			SubmitContext: hookCtx,
			Error:         gerr,
			LedgerErr:     lastErr,
			Attempts:      record.Attempts,
			Duration:      g.now().Sub(start),
		}
		for _, hook := range failure {
			result, _ := hook(failCtx)
			if result != nil && result.Recovered {
				r := result.Receipt
				receipt = &r
				break
			}
		}
		if receipt == nil {
			record.Status = StatusFailed
			record.LastError = gerr
			record.UpdatedAt = g.now()
			g.persist(ctx, record, fl, log)
			return record.Outcome()
		}
	}

	record.Status = StatusConfirmed
	record.Receipt = receipt
	record.LastError = nil
	record.UpdatedAt = g.now()
	g.persist(ctx, record, fl, log)

	// Caches must not serve the pre-write value once the lane is released
	g.invalidate(ctx, req, receipt, log)

	resultCtx := SubmitResultContext{
		SubmitContext: hookCtx,
		Receipt:       *receipt,
		Attempts:      record.Attempts,
		Duration:      g.now().Sub(start),
	}
	for _, hook := range after {
		if err := hook(resultCtx); err != nil {
			log.WithError(err).Warn("after submit hook failed")
		}
	}

	log.WithFields(logrus.Fields{
		"attempts": record.Attempts,
		"asset_id": receipt.AssetID,
		"tx_hash":  receipt.TxHash,
	}).Info("ledger write confirmed")
	return record.Outcome()
}

// resync refreshes ledger state after a state-changing failure. For transfers
// it returns a reconciled receipt when the ledger already reflects the write.
func (g *WriteGateway) resync(ctx context.Context, req AssetRequest, log logrus.FieldLogger) *Receipt {
	if err := g.ledger.Resync(ctx); err != nil {
		log.WithError(err).Warn("ledger resync failed")
	}
	if req.Operation != OperationTransfer || req.Transfer == nil {
		return nil
	}
	asset, err := g.ledger.ReadAsset(ctx, req.Transfer.AssetID)
	if err != nil {
		log.WithError(err).Debug("could not re-read asset after resync")
		return nil
	}
	if strings.EqualFold(asset.Owner, req.Transfer.ToAddress) {
		log.Info("transfer already applied on ledger")
		return &Receipt{
			AssetID:    asset.ID,
			Owner:      asset.Owner,
			Reconciled: true,
		}
	}
	return nil
}

func (g *WriteGateway) invalidate(ctx context.Context, req AssetRequest, receipt *Receipt, log logrus.FieldLogger) {
	var ids []uint64
	if req.Transfer != nil {
		ids = append(ids, req.Transfer.AssetID)
	}
	if receipt.AssetID != 0 && (req.Transfer == nil || receipt.AssetID != req.Transfer.AssetID) {
		ids = append(ids, receipt.AssetID)
	}
	for _, inv := range g.invalidators {
		for _, id := range ids {
			if err := inv.Invalidate(ctx, id); err != nil {
				log.WithError(err).WithField("asset_id", id).Error("cache invalidation failed")
			}
		}
	}
}

// persist writes the record to the store and the live view. Store failures
// are logged; the in-process view stays authoritative for this write.
// The terminal record must land even when the write deadline has passed.
func (g *WriteGateway) persist(ctx context.Context, record *PendingWrite, fl *flight, log logrus.FieldLogger) {
	fl.setRecord(record)
	if err := g.store.Put(context.WithoutCancel(ctx), record); err != nil {
		log.WithError(err).WithField("status", record.Status).Error("failed to persist write record")
	}
}

func internalFailure(fingerprint string) *WriteOutcome {
	return &WriteOutcome{
		Kind:        OutcomeFailed,
		Fingerprint: fingerprint,
		Error:       NewGatewayError(ErrCodeInternal, "An unexpected error occurred", nil),
	}
}

func keyReuseError() *GatewayError {
	return NewGatewayError(ErrCodeValidation, "Idempotency key was already used for a different request", map[string]interface{}{
		"idempotencyKey": "reused with a different payload",
	})
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
