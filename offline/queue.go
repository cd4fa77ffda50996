// Package offline keeps flashcard reviews made without a connection and
// replays them when the network is back.
package offline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sourcegraph/conc/pool"

	"ibstudy-server/client"
	"ibstudy-server/models"
	"ibstudy-server/swcache"
)

// QueueName tags rows so the queue shares its name with the flashcard cache.
const QueueName = swcache.FlashcardsCache

// FlushWorkers bounds concurrent sends during Flush.
const FlushWorkers = 4

// Item is one pending review.
type Item struct {
	ID        int64
	Review    models.ReviewRequest
	Attempts  int
	LastError string
	QueuedAt  time.Time
}

// FlushResult counts what a flush did.
type FlushResult struct {
	Sent   int
	Failed int
	// Dropped counts reviews the server refused for good; they leave the queue.
	Dropped int
}

// Rejected reports whether the server answered with a 4xx that a retry will
// not change. 401, 408 and 429 are kept: they pass after a login or a wait.
func Rejected(err error) bool {
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.Status {
	case http.StatusUnauthorized, http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return apiErr.Status >= 400 && apiErr.Status < 500
}

// SendFunc delivers one review to the server.
type SendFunc func(ctx context.Context, r models.ReviewRequest) error

type Queue struct {
	db *sql.DB
}

// Open creates or opens the queue database at path.
func Open(path string) (*Queue, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("cannot create queue directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Queue{db: db}, nil
}

func (q *Queue) Close() error {
	return q.db.Close()
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS pending_reviews (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		queue TEXT NOT NULL,
		card_id TEXT NOT NULL,
		quality INTEGER NOT NULL,
		reviewed_at TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		queued_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_pending_reviews_queue ON pending_reviews(queue);
	`)
	if err != nil {
		return fmt.Errorf("failed to create queue schema: %w", err)
	}
	return nil
}

// Enqueue stores a review. The review time is fixed now so a replay is
// recognised by the server as the same review.
func (q *Queue) Enqueue(ctx context.Context, r models.ReviewRequest) (int64, error) {
	if err := client.ValidateReview(r); err != nil {
		return 0, err
	}
	reviewedAt := time.Now().UTC()
	if r.ReviewedAt != nil {
		reviewedAt = r.ReviewedAt.UTC()
	}
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO pending_reviews (queue, card_id, quality, reviewed_at, queued_at) VALUES (?, ?, ?, ?, ?)`,
		QueueName, r.CardID, r.Quality, reviewedAt.Format(time.RFC3339Nano), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("failed to queue review: %w", err)
	}
	return res.LastInsertId()
}

// Pending lists queued reviews, oldest first.
func (q *Queue) Pending(ctx context.Context) ([]Item, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, card_id, quality, reviewed_at, attempts, last_error, queued_at
		 FROM pending_reviews WHERE queue = ? ORDER BY id`, QueueName)
	if err != nil {
		return nil, fmt.Errorf("failed to list queued reviews: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var (
			it                   Item
			reviewedAt, queuedAt string
		)
		if err := rows.Scan(&it.ID, &it.Review.CardID, &it.Review.Quality, &reviewedAt, &it.Attempts, &it.LastError, &queuedAt); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339Nano, reviewedAt); err == nil {
			it.Review.ReviewedAt = &t
		}
		it.QueuedAt, _ = time.Parse(time.RFC3339Nano, queuedAt)
		items = append(items, it)
	}
	return items, rows.Err()
}

func (q *Queue) Len(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_reviews WHERE queue = ?`, QueueName).Scan(&n)
	return n, err
}

// Flush sends every queued review concurrently. Delivered reviews are removed,
// failed ones stay queued with their attempt count raised. Order is not kept.
func (q *Queue) Flush(ctx context.Context, send SendFunc) (FlushResult, error) {
	items, err := q.Pending(ctx)
	if err != nil {
		return FlushResult{}, err
	}
	if len(items) == 0 {
		return FlushResult{}, nil
	}

	type outcome struct {
		id  int64
		err error
	}
	p := pool.NewWithResults[outcome]().WithContext(ctx).WithMaxGoroutines(FlushWorkers)
	for _, it := range items {
		p.Go(func(ctx context.Context) (outcome, error) {
			return outcome{it.ID, send(ctx, it.Review)}, nil
		})
	}
	outcomes, err := p.Wait()
	if err != nil {
		return FlushResult{}, err
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return FlushResult{}, err
	}
	defer tx.Rollback()

	var res FlushResult
	for _, o := range outcomes {
		if o.err == nil {
			if _, err := tx.ExecContext(ctx, `DELETE FROM pending_reviews WHERE id = ?`, o.id); err != nil {
				return FlushResult{}, fmt.Errorf("failed to drop sent review: %w", err)
			}
			res.Sent++
			continue
		}
		if Rejected(o.err) {
			log.Printf("Dropping queued review %d: %v", o.id, o.err)
			if _, err := tx.ExecContext(ctx, `DELETE FROM pending_reviews WHERE id = ?`, o.id); err != nil {
				return FlushResult{}, fmt.Errorf("failed to drop rejected review: %w", err)
			}
			res.Dropped++
			continue
		}
		log.Printf("Queued review %d not sent: %v", o.id, o.err)
		if _, err := tx.ExecContext(ctx,
			`UPDATE pending_reviews SET attempts = attempts + 1, last_error = ? WHERE id = ?`, o.err.Error(), o.id); err != nil {
			return FlushResult{}, fmt.Errorf("failed to update queued review: %w", err)
		}
		res.Failed++
	}
	if err := tx.Commit(); err != nil {
		return FlushResult{}, err
	}
	return res, nil
}
