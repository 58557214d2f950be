package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/invoicer/internal/domain"
)

type deadLetterRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewDeadLetters создаёт PostgreSQL-реализацию DeadLetterStore.
func NewDeadLetters(store *Store) domain.DeadLetterStore {
	return &deadLetterRepository{
		db:  store.DB(),
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (r *deadLetterRepository) Record(ctx context.Context, order domain.Order, cause error) (domain.DeadLetter, error) {
	payload, err := json.Marshal(order)
	if err != nil {
		return domain.DeadLetter{}, fmt.Errorf("marshal order snapshot: %w", err)
	}
	lastError := ""
	if cause != nil {
		lastError = cause.Error()
	}

	execCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	now := r.now()
	row := r.db.QueryRowContext(execCtx, `
		INSERT INTO dead_letters (order_number, attempts, first_failed_at, last_failed_at, last_error, order_json)
		VALUES ($1, 1, $2, $2, $3, $4)
		ON CONFLICT (order_number) DO UPDATE SET
			attempts = dead_letters.attempts + 1,
			last_failed_at = EXCLUDED.last_failed_at,
			last_error = EXCLUDED.last_error,
			order_json = EXCLUDED.order_json
		RETURNING order_number, attempts, first_failed_at, last_failed_at, last_error, order_json
	`, order.OrderNumber, now, lastError, payload)

	entry, err := scanDeadLetter(row)
	if err != nil {
		return domain.DeadLetter{}, fmt.Errorf("upsert dead letter: %w", err)
	}
	return entry, nil
}

func (r *deadLetterRepository) Clear(ctx context.Context, orderNumber string) error {
	execCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(execCtx, `DELETE FROM dead_letters WHERE order_number = $1`, orderNumber); err != nil {
		return fmt.Errorf("delete dead letter: %w", err)
	}
	return nil
}

func (r *deadLetterRepository) Get(ctx context.Context, orderNumber string) (domain.DeadLetter, error) {
	queryCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	row := r.db.QueryRowContext(queryCtx, `
		SELECT order_number, attempts, first_failed_at, last_failed_at, last_error, order_json
		FROM dead_letters
		WHERE order_number = $1
	`, orderNumber)

	entry, err := scanDeadLetter(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DeadLetter{}, domain.ErrDeadLetterNotFound
	}
	if err != nil {
		return domain.DeadLetter{}, fmt.Errorf("get dead letter: %w", err)
	}
	return entry, nil
}

func (r *deadLetterRepository) List(ctx context.Context) ([]domain.DeadLetter, error) {
	queryCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(queryCtx, `
		SELECT order_number, attempts, first_failed_at, last_failed_at, last_error, order_json
		FROM dead_letters
		ORDER BY first_failed_at, order_number
	`)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var out []domain.DeadLetter
	for rows.Next() {
		entry, err := scanDeadLetter(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dead letters: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeadLetter(row rowScanner) (domain.DeadLetter, error) {
	var (
		entry   domain.DeadLetter
		payload []byte
	)
	if err := row.Scan(
		&entry.OrderNumber, &entry.Attempts, &entry.FirstFailedAt,
		&entry.LastFailedAt, &entry.LastError, &payload,
	); err != nil {
		return domain.DeadLetter{}, err
	}
	if err := json.Unmarshal(payload, &entry.Order); err != nil {
		return domain.DeadLetter{}, fmt.Errorf("decode order snapshot: %w", err)
	}
	entry.FirstFailedAt = entry.FirstFailedAt.UTC()
	entry.LastFailedAt = entry.LastFailedAt.UTC()
	return entry, nil
}

var _ domain.DeadLetterStore = (*deadLetterRepository)(nil)
