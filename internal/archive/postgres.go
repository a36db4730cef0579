package archive

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"casino-tx-relay/internal/models"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Store keeps terminal operations in Postgres so status and history stay
// queryable after the queue's in-memory grace window has passed.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// RunMigrations executes the embedded SQL migrations in order.
func (s *Store) RunMigrations(ctx context.Context) error {
	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		content, err := migrationFiles.ReadFile("migrations/" + e.Name())
		if err != nil {
			return fmt.Errorf("read migration %s: %w", e.Name(), err)
		}
		sql := strings.TrimSpace(string(content))
		if sql == "" {
			continue
		}
		if _, err := s.pool.Exec(ctx, sql); err != nil {
			return fmt.Errorf("exec migration %s: %w", e.Name(), err)
		}
	}
	return nil
}

// SaveTerminal upserts one terminal operation.
func (s *Store) SaveTerminal(ctx context.Context, op models.Operation) error {
	payload, player, err := payloadJSON(op)
	if err != nil {
		return err
	}
	var result []byte
	if op.Result != nil {
		if result, err = json.Marshal(op.Result); err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
	}
	var lastAttempt *time.Time
	if !op.LastAttemptAt.IsZero() {
		lastAttempt = &op.LastAttemptAt
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO operations (id, kind, player, state, attempt, payload, result, last_error, created_at, last_attempt_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10)
		ON CONFLICT (id) DO UPDATE
		SET state = EXCLUDED.state, attempt = EXCLUDED.attempt,
		    result = EXCLUDED.result, last_error = EXCLUDED.last_error,
		    last_attempt_at = EXCLUDED.last_attempt_at
	`, op.ID, string(op.Kind), player, op.State, op.Attempt, payload, result, op.LastError, op.CreatedAt, lastAttempt)
	if err != nil {
		return fmt.Errorf("insert operation: %w", err)
	}
	return nil
}

// Get fetches an archived operation by id.
func (s *Store) Get(ctx context.Context, id string) (models.Operation, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, kind, state, attempt, payload, result, last_error, created_at, last_attempt_at
		FROM operations WHERE id = $1
	`, id)
	op, err := scanOperation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Operation{}, false, nil
	}
	if err != nil {
		return models.Operation{}, false, err
	}
	return op, true, nil
}

// RecentByPlayer lists a player's archived operations, newest first.
func (s *Store) RecentByPlayer(ctx context.Context, player string, limit int) ([]models.Operation, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, kind, state, attempt, payload, result, last_error, created_at, last_attempt_at
		FROM operations WHERE player = $1
		ORDER BY archived_at DESC LIMIT $2
	`, strings.ToLower(player), limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []models.Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, op)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOperation(row rowScanner) (models.Operation, error) {
	var (
		op          models.Operation
		kind        string
		payload     []byte
		result      []byte
		lastErr     pgtype.Text
		lastAttempt pgtype.Timestamptz
	)
	if err := row.Scan(&op.ID, &kind, &op.State, &op.Attempt, &payload, &result, &lastErr, &op.CreatedAt, &lastAttempt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Operation{}, pgx.ErrNoRows
		}
		return models.Operation{}, fmt.Errorf("scan operation: %w", err)
	}
	op.Kind = models.Kind(kind)
	switch op.Kind {
	case models.KindLog:
		var p models.LogPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return models.Operation{}, fmt.Errorf("unmarshal log payload: %w", err)
		}
		op.Log = &p
	case models.KindMint:
		var p models.MintPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return models.Operation{}, fmt.Errorf("unmarshal mint payload: %w", err)
		}
		op.Mint = &p
	default:
		return models.Operation{}, fmt.Errorf("%w: %q", models.ErrUnknownKind, kind)
	}
	if result != nil {
		var r models.Result
		if err := json.Unmarshal(result, &r); err != nil {
			return models.Operation{}, fmt.Errorf("unmarshal result: %w", err)
		}
		op.Result = &r
	}
	if lastErr.Valid {
		op.LastError = lastErr.String
	}
	if lastAttempt.Valid {
		op.LastAttemptAt = lastAttempt.Time
	}
	return op, nil
}

func payloadJSON(op models.Operation) ([]byte, string, error) {
	switch op.Kind {
	case models.KindLog:
		b, err := json.Marshal(op.Log)
		if err != nil {
			return nil, "", fmt.Errorf("marshal log payload: %w", err)
		}
		return b, strings.ToLower(op.Log.Player), nil
	case models.KindMint:
		b, err := json.Marshal(op.Mint)
		if err != nil {
			return nil, "", fmt.Errorf("marshal mint payload: %w", err)
		}
		return b, strings.ToLower(op.Mint.Player), nil
	default:
		return nil, "", fmt.Errorf("%w: %q", models.ErrUnknownKind, op.Kind)
	}
}
