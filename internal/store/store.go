// Package store is the local sqlite journal of relayed tweets and relay runs.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const snippetRunes = 200

// Store is an open journal database.
type Store struct {
	db *sql.DB
}

// Delivery is one journaled tweet.
type Delivery struct {
	ID          int64
	Account     string
	ItemID      int64
	Stream      string
	Subject     string
	Snippet     string
	TextHash    string
	DeliveredAt time.Time
}

type DeliveryInput struct {
	Account string
	ItemID  int64
	Stream  string
	Subject string
	// Text is hashed. Only the first runes of Snippet, or of Text when
	// Snippet is empty, are stored.
	Text        string
	Snippet     string
	DeliveredAt time.Time
}

// Run is the journaled summary of one relay invocation. Cursor is -1
// when no tweet has been relayed for the account.
type Run struct {
	ID         int64
	Account    string
	StartedAt  time.Time
	FinishedAt time.Time
	Bootstrap  bool
	Fetched    int
	Sent       int
	Cursor     int64
	Error      string
}

type RunInput struct {
	Account    string
	StartedAt  time.Time
	FinishedAt time.Time
	Bootstrap  bool
	Fetched    int
	Sent       int
	Cursor     int64
	Error      string
}

// DeliveryFilter holds optional filters for ListDeliveries.
type DeliveryFilter struct {
	Account string // monitored account
	Limit   int    // 0 means no limit
}

// Open opens or creates the journal at path and migrates its schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("path is required")
	}

	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := migrate(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RecordDelivery stores one relayed tweet. Relaying the same tweet for the
// same account again updates the existing row.
func (s *Store) RecordDelivery(ctx context.Context, in DeliveryInput) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if strings.TrimSpace(in.Account) == "" {
		return errors.New("account is required")
	}
	if in.ItemID <= 0 {
		return errors.New("item_id is required")
	}
	if strings.TrimSpace(in.Stream) == "" {
		return errors.New("stream is required")
	}
	if in.DeliveredAt.IsZero() {
		return errors.New("delivered_at is required")
	}

	snippet := strings.TrimSpace(in.Snippet)
	if snippet == "" {
		snippet = in.Text
	}
	snippet = firstNRunes(snippet, snippetRunes)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO deliveries (
			account, item_id, stream, subject, snippet, text_hash, delivered_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account, item_id) DO UPDATE SET
			stream = excluded.stream,
			subject = excluded.subject,
			snippet = excluded.snippet,
			text_hash = excluded.text_hash,
			delivered_at = excluded.delivered_at
	`,
		in.Account,
		in.ItemID,
		in.Stream,
		in.Subject,
		snippet,
		textHash(in.Text),
		formatTime(in.DeliveredAt),
	)
	if err != nil {
		return fmt.Errorf("record delivery: %w", err)
	}
	return nil
}

// RecordRun stores the summary of one relay invocation.
func (s *Store) RecordRun(ctx context.Context, in RunInput) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if in.StartedAt.IsZero() {
		return errors.New("started_at is required")
	}
	if in.FinishedAt.IsZero() {
		in.FinishedAt = in.StartedAt
	}

	var errVal sql.NullString
	if in.Error != "" {
		errVal = sql.NullString{String: in.Error, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (account, started_at, finished_at, bootstrap, fetched, sent, cursor, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		in.Account,
		formatTime(in.StartedAt),
		formatTime(in.FinishedAt),
		boolToInt(in.Bootstrap),
		in.Fetched,
		in.Sent,
		in.Cursor,
		errVal,
	)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// ListDeliveries returns journaled deliveries, newest first.
func (s *Store) ListDeliveries(ctx context.Context, filter DeliveryFilter) ([]Delivery, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	query := `
		SELECT id, account, item_id, stream, subject, snippet, text_hash, delivered_at
		FROM deliveries`
	var args []any

	if filter.Account != "" {
		query += " WHERE account = ?"
		args = append(args, filter.Account)
	}
	query += " ORDER BY delivered_at DESC, item_id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var deliveries []Delivery
	for rows.Next() {
		var (
			d           Delivery
			deliveredAt string
		)
		if err := rows.Scan(&d.ID, &d.Account, &d.ItemID, &d.Stream, &d.Subject, &d.Snippet, &d.TextHash, &deliveredAt); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		d.DeliveredAt, err = parseTime(deliveredAt)
		if err != nil {
			return nil, fmt.Errorf("parse delivered_at: %w", err)
		}
		deliveries = append(deliveries, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deliveries: %w", err)
	}

	return deliveries, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	query := `
		SELECT id, account, started_at, finished_at, bootstrap, fetched, sent, cursor, error
		FROM runs
		ORDER BY started_at DESC, id DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []Run
	for rows.Next() {
		var (
			r                   Run
			startedAt, finished string
			bootstrap           int
			errVal              sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Account, &startedAt, &finished, &bootstrap, &r.Fetched, &r.Sent, &r.Cursor, &errVal); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Bootstrap = bootstrap != 0
		if errVal.Valid {
			r.Error = errVal.String
		}
		if r.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		if r.FinishedAt, err = parseTime(finished); err != nil {
			return nil, fmt.Errorf("parse finished_at: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}

	return runs, nil
}

// PruneOld deletes deliveries and runs older than retainDays. Returns the
// number of rows removed from both tables.
func (s *Store) PruneOld(ctx context.Context, retainDays int) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if retainDays <= 0 {
		return 0, nil
	}

	cutoff := formatTime(time.Now().AddDate(0, 0, -retainDays))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin prune transaction: %w", err)
	}

	res, err := tx.ExecContext(ctx, "DELETE FROM deliveries WHERE delivered_at < ?", cutoff)
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("prune old deliveries: %w", err)
	}
	deliveries, _ := res.RowsAffected()

	res, err = tx.ExecContext(ctx, "DELETE FROM runs WHERE started_at < ?", cutoff)
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("prune old runs: %w", err)
	}
	runs, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit prune: %w", err)
	}

	return deliveries + runs, nil
}

// Fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts, nil
	}
	return time.Parse(time.RFC3339, value)
}

func textHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func firstNRunes(s string, n int) string {
	if n <= 0 || s == "" {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
