package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"casino-tx-relay/internal/models"
)

type stubSubmitter struct {
	mu         sync.Mutex
	startNonce uint64
	failures   int // fail this many submissions before succeeding
	nonces     []uint64
	order      []string // game type / player markers in dispatch order
}

func (s *stubSubmitter) PendingNonce(context.Context) (uint64, error) {
	return s.startNonce, nil
}

func (s *stubSubmitter) submit(marker string, nonce uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nonces = append(s.nonces, nonce)
	s.order = append(s.order, marker)
	if s.failures > 0 {
		s.failures--
		return errors.New("rpc timeout")
	}
	return nil
}

func (s *stubSubmitter) SubmitLog(_ context.Context, nonce uint64, p models.LogPayload) (models.Result, error) {
	if err := s.submit(p.GameType, nonce); err != nil {
		return models.Result{}, err
	}
	return models.Result{TxHash: "0xdead", BlockNumber: 42}, nil
}

func (s *stubSubmitter) SubmitMint(_ context.Context, nonce uint64, p models.MintPayload) (models.Result, error) {
	if err := s.submit("mint:"+p.Player, nonce); err != nil {
		return models.Result{}, err
	}
	return models.Result{TxHash: "0xbeef", TokenID: 7}, nil
}

func (s *stubSubmitter) calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

const player = "0x90F79bf6EB2c4f870365E785982E1f101E93b906"

func logPayload(game string) models.LogPayload {
	return models.LogPayload{
		GameType: game,
		Player:   player,
		Bet:      1.5,
		Payout:   3,
		Result:   json.RawMessage(`{"outcome":"win","entropy_proof":"0x01"}`),
	}
}

func fastOpts() Options {
	return Options{MaxAttempts: 3, BackoffBase: time.Millisecond, BackoffCap: 10 * time.Millisecond, Retention: time.Minute}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within deadline")
}

func TestEnqueueIssuesUniqueIDs(t *testing.T) {
	q := New(fastOpts(), nil, nil, zerolog.Nop())
	defer q.Close()

	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		id, err := q.EnqueueLog(logPayload("wheel"))
		if err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}

func TestNoSubmitterLeavesEverythingPending(t *testing.T) {
	q := New(fastOpts(), nil, nil, zerolog.Nop())
	defer q.Close()

	ids := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		id, err := q.EnqueueLog(logPayload("roulette"))
		if err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		ids = append(ids, id)
	}

	time.Sleep(20 * time.Millisecond)
	s := q.Stats()
	if s.Total != 5 || s.Pending != 5 || s.Processing {
		t.Fatalf("unexpected stats %+v", s)
	}
	for _, id := range ids {
		op, ok := q.Status(context.Background(), id)
		if !ok || op.State != models.StatePending {
			t.Fatalf("op %s not pending: ok=%v state=%s", id, ok, op.State)
		}
	}
}

func TestEnqueueValidation(t *testing.T) {
	q := New(fastOpts(), nil, nil, zerolog.Nop())
	defer q.Close()

	bad := []models.LogPayload{
		func() models.LogPayload { p := logPayload("wheel"); p.Player = "not-an-address"; return p }(),
		func() models.LogPayload { p := logPayload("wheel"); p.Bet = -1; return p }(),
		func() models.LogPayload { p := logPayload("wheel"); p.Payout = -0.5; return p }(),
		func() models.LogPayload { p := logPayload("wheel"); p.Result = nil; return p }(),
		func() models.LogPayload { p := logPayload(""); return p }(),
	}
	for i, p := range bad {
		if _, err := q.EnqueueLog(p); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}

	badMints := []models.MintPayload{
		{Player: "nope", Metadata: &models.Metadata{Name: "n", Description: "d", Attributes: []models.Attribute{}}},
		{Player: player},
		{Player: player, Metadata: &models.Metadata{Name: "n", Attributes: []models.Attribute{}}},
		{Player: player, Metadata: &models.Metadata{Name: "n", Description: "d"}},
	}
	for i, p := range badMints {
		if _, err := q.EnqueueMint(p); err == nil {
			t.Fatalf("mint case %d: expected validation error", i)
		}
	}

	if s := q.Stats(); s.Total != 0 {
		t.Fatalf("rejected payloads altered the queue: %+v", s)
	}
}

func TestRetriesThenSucceeds(t *testing.T) {
	sub := &stubSubmitter{startNonce: 5, failures: 2}
	q := New(fastOpts(), sub, nil, zerolog.Nop())
	defer q.Close()

	id, err := q.EnqueueLog(logPayload("plinko"))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	waitFor(t, func() bool {
		op, ok := q.Status(context.Background(), id)
		return ok && op.State == models.StateCompleted
	})

	op, _ := q.Status(context.Background(), id)
	if op.Attempt != 3 {
		t.Fatalf("expected 3 attempts, got %d", op.Attempt)
	}
	if op.LastError != "" {
		t.Fatalf("last error not cleared: %q", op.LastError)
	}
	if op.Result == nil || op.Result.TxHash != "0xdead" || op.Result.BlockNumber != 42 {
		t.Fatalf("unexpected result %+v", op.Result)
	}

	// Each attempt consumes one locally assigned nonce.
	sub.mu.Lock()
	nonces := append([]uint64(nil), sub.nonces...)
	sub.mu.Unlock()
	want := []uint64{5, 6, 7}
	if len(nonces) != len(want) {
		t.Fatalf("expected %d submissions, got %d", len(want), len(nonces))
	}
	for i := range want {
		if nonces[i] != want[i] {
			t.Fatalf("nonce[%d] = %d, want %d", i, nonces[i], want[i])
		}
	}
}

func TestExhaustsRetriesAndStaysFailed(t *testing.T) {
	sub := &stubSubmitter{failures: 100}
	q := New(fastOpts(), sub, nil, zerolog.Nop())
	defer q.Close()

	id, err := q.EnqueueLog(logPayload("mines"))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	waitFor(t, func() bool {
		op, ok := q.Status(context.Background(), id)
		return ok && op.State == models.StateFailed && op.Attempt == 3
	})

	// No fourth attempt sneaks in after the operation is terminal.
	time.Sleep(50 * time.Millisecond)
	if n := len(sub.calls()); n != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", n)
	}

	op, _ := q.Status(context.Background(), id)
	if op.LastError == "" {
		t.Fatalf("terminal failure lost its error")
	}
	if s := q.Stats(); s.Failed != 1 || s.Pending != 0 {
		t.Fatalf("unexpected stats %+v", s)
	}
}

func TestStrictOrderingAcrossRetries(t *testing.T) {
	// A fails twice then succeeds; B must not be attempted until A is done.
	sub := &stubSubmitter{failures: 2}
	q := New(fastOpts(), sub, nil, zerolog.Nop())
	defer q.Close()

	if _, err := q.EnqueueLog(logPayload("first")); err != nil {
		t.Fatalf("enqueue A: %v", err)
	}
	idB, err := q.EnqueueLog(logPayload("second"))
	if err != nil {
		t.Fatalf("enqueue B: %v", err)
	}

	waitFor(t, func() bool {
		op, ok := q.Status(context.Background(), idB)
		return ok && op.State == models.StateCompleted
	})

	got := sub.calls()
	want := []string{"first", "first", "first", "second"}
	if len(got) != len(want) {
		t.Fatalf("dispatch order %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("dispatch order %v, want %v", got, want)
		}
	}
}

func TestBackoffDelayBounds(t *testing.T) {
	base := time.Second
	cap := 30 * time.Second
	for n := 0; n < 8; n++ {
		lo := base
		for i := 0; i < n; i++ {
			lo *= 2
		}
		if lo > cap {
			lo = cap
		}
		hi := lo + lo/10
		for trial := 0; trial < 50; trial++ {
			d := backoffDelay(base, cap, n)
			if d < lo || d > hi {
				t.Fatalf("attempt %d: delay %s outside [%s, %s]", n, d, lo, hi)
			}
		}
	}
}

func TestStatusUnknownID(t *testing.T) {
	q := New(fastOpts(), nil, nil, zerolog.Nop())
	defer q.Close()

	if _, ok := q.Status(context.Background(), "no-such-id"); ok {
		t.Fatalf("expected not-found for unknown id")
	}
}

func TestTerminalRecordExpires(t *testing.T) {
	opts := fastOpts()
	opts.Retention = 30 * time.Millisecond
	sub := &stubSubmitter{}
	q := New(opts, sub, nil, zerolog.Nop())
	defer q.Close()

	id, err := q.EnqueueMint(models.MintPayload{
		Player: player,
		Metadata: &models.Metadata{
			Name:        "Wheel Win #1",
			Description: "Commemorative spin",
			Attributes:  []models.Attribute{{TraitType: "game", Value: "wheel"}},
		},
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	waitFor(t, func() bool {
		op, ok := q.Status(context.Background(), id)
		return ok && op.State == models.StateCompleted
	})

	time.Sleep(80 * time.Millisecond)
	if _, ok := q.Status(context.Background(), id); ok {
		t.Fatalf("terminal record survived past the retention window")
	}
}

func TestResetReturnsToIdle(t *testing.T) {
	q := New(fastOpts(), nil, nil, zerolog.Nop())
	defer q.Close()

	for i := 0; i < 3; i++ {
		if _, err := q.EnqueueLog(logPayload("wheel")); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	q.Reset()

	s := q.Stats()
	if s.Total != 0 || s.Processing {
		t.Fatalf("reset left state behind: %+v", s)
	}
}
