package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"casino-tx-relay/internal/models"
	"casino-tx-relay/internal/telemetry"
)

// Options tunes the retry policy and terminal-record retention.
type Options struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration
	Retention   time.Duration
}

func (o *Options) normalize() {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = time.Second
	}
	if o.BackoffCap <= 0 {
		o.BackoffCap = 30 * time.Second
	}
	if o.Retention <= 0 {
		o.Retention = time.Hour
	}
}

// Stats is an operational snapshot of the queue.
type Stats struct {
	Total      int  `json:"total"`
	Pending    int  `json:"pending"`
	InFlight   int  `json:"in_flight"`
	Completed  int  `json:"completed"`
	Failed     int  `json:"failed"`
	Processing bool `json:"is_processing"`
}

type terminalRecord struct {
	op      *models.Operation
	expires time.Time
}

// Queue serializes blockchain writes behind one signing key. Operations run
// strictly in enqueue order: the head is retried in place with exponential
// backoff, and nothing behind it is attempted early, since nonce
// correctness depends on in-order submission.
//
// A nil Submitter puts the queue in degraded mode: enqueue and status work,
// nothing is dispatched.
type Queue struct {
	opts    Options
	sub     Submitter
	archive Archive
	log     zerolog.Logger

	mu         sync.Mutex
	ops        []*models.Operation
	live       map[string]*models.Operation
	done       map[string]terminalRecord
	processing bool
	gen        uint64
	nonce      uint64
	nonceInit  bool
	retryTimer *time.Timer
	completed  int
	failed     int

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a queue. archive may be nil (memory-only retention).
func New(opts Options, sub Submitter, archive Archive, log zerolog.Logger) *Queue {
	opts.normalize()
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		opts:    opts,
		sub:     sub,
		archive: archive,
		log:     log,
		live:    make(map[string]*models.Operation),
		done:    make(map[string]terminalRecord),
		ctx:     ctx,
		cancel:  cancel,
	}
	go q.janitor(ctx)
	return q
}

// Close stops background work. In-flight submissions are abandoned; the
// chain may still confirm them.
func (q *Queue) Close() {
	q.cancel()
	q.mu.Lock()
	if q.retryTimer != nil {
		q.retryTimer.Stop()
		q.retryTimer = nil
	}
	q.mu.Unlock()
}

// EnqueueLog validates and queues a game-result write. The returned id is
// the handle for status polling; confirmation is asynchronous.
func (q *Queue) EnqueueLog(p models.LogPayload) (string, error) {
	op, err := models.NewLogOperation(p)
	if err != nil {
		return "", err
	}
	q.add(op)
	return op.ID, nil
}

// EnqueueMint validates and queues an NFT mint.
func (q *Queue) EnqueueMint(p models.MintPayload) (string, error) {
	op, err := models.NewMintOperation(p)
	if err != nil {
		return "", err
	}
	q.add(op)
	return op.ID, nil
}

func (q *Queue) add(op *models.Operation) {
	q.mu.Lock()
	q.ops = append(q.ops, op)
	q.live[op.ID] = op
	telemetry.EnqueuedTotal.WithLabelValues(string(op.Kind)).Inc()
	telemetry.QueueDepth.Set(float64(len(q.ops)))
	q.kickLocked()
	q.mu.Unlock()
	q.log.Debug().Str("op", op.ID).Str("kind", string(op.Kind)).Msg("operation enqueued")
}

// Status returns a snapshot of a live or recently terminal operation,
// falling back to the archive for swept records.
func (q *Queue) Status(ctx context.Context, id string) (models.Operation, bool) {
	q.mu.Lock()
	if op, ok := q.live[id]; ok {
		snap := op.Snapshot()
		q.mu.Unlock()
		return snap, true
	}
	if rec, ok := q.done[id]; ok && time.Now().Before(rec.expires) {
		snap := rec.op.Snapshot()
		q.mu.Unlock()
		return snap, true
	}
	q.mu.Unlock()

	if q.archive != nil {
		if op, ok, err := q.archive.Get(ctx, id); err == nil && ok {
			return op, true
		}
	}
	return models.Operation{}, false
}

// Stats reports queue counts and whether the worker loop is active.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := Stats{
		Completed:  q.completed,
		Failed:     q.failed,
		Processing: q.processing,
	}
	for _, op := range q.ops {
		if op.State == models.StateInFlight {
			s.InFlight++
		} else {
			s.Pending++
		}
	}
	s.Total = s.Pending + s.InFlight + s.Completed + s.Failed
	return s
}

// Reset drops every queued operation and terminal record and returns the
// queue to idle. A dispatch already on the wire is orphaned, not revoked.
func (q *Queue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.gen++
	if q.retryTimer != nil {
		q.retryTimer.Stop()
		q.retryTimer = nil
	}
	q.ops = nil
	q.live = make(map[string]*models.Operation)
	q.done = make(map[string]terminalRecord)
	q.processing = false
	q.completed = 0
	q.failed = 0
	telemetry.QueueDepth.Set(0)
	telemetry.InFlight.Set(0)
}

// kickLocked starts the worker loop if it is idle and has work. Callers
// hold q.mu.
func (q *Queue) kickLocked() {
	if q.processing || q.retryTimer != nil || q.sub == nil || len(q.ops) == 0 {
		return
	}
	q.processing = true
	go q.run(q.ctx, q.gen)
}

// run drains the queue head-first until it is empty or a retry delay is
// pending. gen guards against a Reset racing a loop that is mid-dispatch.
func (q *Queue) run(ctx context.Context, gen uint64) {
	if !q.ensureNonce(ctx, gen) {
		return
	}
	for {
		q.mu.Lock()
		if gen != q.gen || ctx.Err() != nil {
			q.mu.Unlock()
			return
		}
		if len(q.ops) == 0 {
			q.processing = false
			q.mu.Unlock()
			return
		}
		op := q.ops[0]

		if op.State == models.StateFailed {
			// Head failed with retries remaining: stop and come back
			// after backoff. Later operations never overtake it.
			delay := backoffDelay(q.opts.BackoffBase, q.opts.BackoffCap, op.Attempt)
			q.processing = false
			q.retryTimer = time.AfterFunc(delay, func() { q.reviveHead(op) })
			q.mu.Unlock()
			q.log.Info().Str("op", op.ID).Dur("delay", delay).Int("attempt", op.Attempt).Msg("retry scheduled")
			return
		}

		op.State = models.StateInFlight
		op.Attempt++
		op.LastAttemptAt = time.Now().UTC()
		nonce := q.nonce
		q.nonce++
		telemetry.InFlight.Set(1)
		q.mu.Unlock()

		res, err := q.dispatch(ctx, nonce, op)

		q.mu.Lock()
		if gen != q.gen {
			q.mu.Unlock()
			return
		}
		telemetry.InFlight.Set(0)
		if err != nil {
			op.State = models.StateFailed
			op.LastError = err.Error()
			telemetry.AttemptFailures.Inc()
			q.log.Warn().Err(err).Str("op", op.ID).Int("attempt", op.Attempt).Uint64("nonce", nonce).Msg("submission failed")
			if op.Terminal(q.opts.MaxAttempts) {
				q.retireLocked(op)
			}
		} else {
			op.State = models.StateCompleted
			op.Result = &res
			op.LastError = ""
			q.log.Info().Str("op", op.ID).Str("tx", res.TxHash).Uint64("nonce", nonce).Msg("submission confirmed")
			q.retireLocked(op)
		}
		q.mu.Unlock()
	}
}

// ensureNonce seeds the local nonce counter from the chain exactly once.
// After that the counter is advanced locally per attempt and never re-read;
// the queue is the signer's only writer for the process lifetime.
func (q *Queue) ensureNonce(ctx context.Context, gen uint64) bool {
	q.mu.Lock()
	if q.nonceInit {
		q.mu.Unlock()
		return true
	}
	q.mu.Unlock()

	n, err := q.sub.PendingNonce(ctx)

	q.mu.Lock()
	defer q.mu.Unlock()
	if gen != q.gen {
		return false
	}
	if err != nil {
		q.log.Error().Err(err).Msg("pending nonce lookup failed")
		q.processing = false
		q.retryTimer = time.AfterFunc(q.opts.BackoffBase, func() {
			q.mu.Lock()
			q.retryTimer = nil
			q.kickLocked()
			q.mu.Unlock()
		})
		return false
	}
	q.nonce = n
	q.nonceInit = true
	q.log.Info().Uint64("nonce", n).Msg("nonce counter initialized")
	return true
}

func (q *Queue) dispatch(ctx context.Context, nonce uint64, op *models.Operation) (models.Result, error) {
	switch op.Kind {
	case models.KindLog:
		return q.sub.SubmitLog(ctx, nonce, *op.Log)
	case models.KindMint:
		return q.sub.SubmitMint(ctx, nonce, *op.Mint)
	default:
		return models.Result{}, fmt.Errorf("%w: %q", models.ErrUnknownKind, op.Kind)
	}
}

// reviveHead moves a failed head back to pending and restarts the loop.
// Fired by the retry timer.
func (q *Queue) reviveHead(op *models.Operation) {
	q.mu.Lock()
	q.retryTimer = nil
	if len(q.ops) > 0 && q.ops[0] == op && op.State == models.StateFailed {
		op.State = models.StatePending
	}
	q.kickLocked()
	q.mu.Unlock()
}

// retireLocked removes the head from the active queue and keeps its
// terminal state queryable for the retention window. Callers hold q.mu and
// guarantee op is the current head.
func (q *Queue) retireLocked(op *models.Operation) {
	q.ops = q.ops[1:]
	delete(q.live, op.ID)
	q.done[op.ID] = terminalRecord{op: op, expires: time.Now().Add(q.opts.Retention)}
	if op.State == models.StateCompleted {
		q.completed++
		telemetry.CompletedTotal.Inc()
	} else {
		q.failed++
		telemetry.ExhaustedTotal.Inc()
	}
	telemetry.QueueDepth.Set(float64(len(q.ops)))

	if q.archive != nil {
		snap := op.Snapshot()
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := q.archive.SaveTerminal(ctx, snap); err != nil {
				q.log.Warn().Err(err).Str("op", snap.ID).Msg("archive write failed")
			}
		}()
	}
}

// janitor sweeps expired terminal records.
func (q *Queue) janitor(ctx context.Context) {
	interval := q.opts.Retention / 4
	if interval > time.Minute {
		interval = time.Minute
	}
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			q.mu.Lock()
			for id, rec := range q.done {
				if now.After(rec.expires) {
					delete(q.done, id)
				}
			}
			q.mu.Unlock()
		}
	}
}
