package offline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"ibstudy-server/client"
	"ibstudy-server/models"
)

func openQueue(t *testing.T) *Queue {
	t.Helper()
	q, err := Open(filepath.Join(t.TempDir(), "queue", "reviews.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { q.Close() })
	return q
}

func TestEnqueueRejectsInvalidReviews(t *testing.T) {
	q := openQueue(t)
	ctx := context.Background()
	for _, r := range []models.ReviewRequest{
		{CardID: "", Quality: 3},
		{CardID: "c1", Quality: 0},
		{CardID: "c1", Quality: 5},
	} {
		if _, err := q.Enqueue(ctx, r); !errors.Is(err, client.ErrInvalidReview) {
			t.Errorf("Enqueue(%+v) error = %v", r, err)
		}
	}
	if n, _ := q.Len(ctx); n != 0 {
		t.Errorf("Len = %d, want 0", n)
	}
}

func TestEnqueueKeepsReviewTime(t *testing.T) {
	q := openQueue(t)
	ctx := context.Background()
	at := time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)
	if _, err := q.Enqueue(ctx, models.ReviewRequest{CardID: "c1", Quality: 2, ReviewedAt: &at}); err != nil {
		t.Fatal(err)
	}
	items, err := q.Pending(ctx)
	if err != nil || len(items) != 1 {
		t.Fatalf("Pending = %v, %v", items, err)
	}
	if got := items[0].Review; got.CardID != "c1" || got.Quality != 2 || !got.ReviewedAt.Equal(at) {
		t.Errorf("item = %+v", got)
	}
}

func TestFlushKeepsFailedDropsSucceeded(t *testing.T) {
	q := openQueue(t)
	ctx := context.Background()
	for i, card := range []string{"a", "b", "c"} {
		if _, err := q.Enqueue(ctx, models.ReviewRequest{CardID: card, Quality: i + 1}); err != nil {
			t.Fatal(err)
		}
	}

	var (
		mu   sync.Mutex
		sent []string
	)
	down := errors.New("503 service unavailable")
	res, err := q.Flush(ctx, func(_ context.Context, r models.ReviewRequest) error {
		if r.CardID == "b" {
			return down
		}
		mu.Lock()
		sent = append(sent, r.CardID)
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Sent != 2 || res.Failed != 1 || len(sent) != 2 {
		t.Errorf("first flush = %+v, sent %v", res, sent)
	}

	items, _ := q.Pending(ctx)
	if len(items) != 1 || items[0].Review.CardID != "b" || items[0].Attempts != 1 || items[0].LastError != down.Error() {
		t.Fatalf("pending after failure = %+v", items)
	}

	res, err = q.Flush(ctx, func(context.Context, models.ReviewRequest) error { return nil })
	if err != nil || res.Sent != 1 || res.Failed != 0 {
		t.Errorf("second flush = %+v, %v", res, err)
	}
	if n, _ := q.Len(ctx); n != 0 {
		t.Errorf("Len after flush = %d", n)
	}
}

func TestFlushEmpty(t *testing.T) {
	q := openQueue(t)
	res, err := q.Flush(context.Background(), func(context.Context, models.ReviewRequest) error {
		t.Error("send called on empty queue")
		return nil
	})
	if err != nil || res != (FlushResult{}) {
		t.Errorf("Flush = %+v, %v", res, err)
	}
}

func TestRejected(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{&client.APIError{Status: http.StatusNotFound}, true},
		{&client.APIError{Status: http.StatusBadRequest}, true},
		{fmt.Errorf("review c1: %w", &client.APIError{Status: http.StatusUnprocessableEntity}), true},
		{&client.APIError{Status: http.StatusUnauthorized}, false},
		{&client.APIError{Status: http.StatusTooManyRequests}, false},
		{&client.APIError{Status: http.StatusRequestTimeout}, false},
		{&client.APIError{Status: http.StatusServiceUnavailable}, false},
		{errors.New("connection refused"), false},
	}
	for _, tt := range tests {
		if got := Rejected(tt.err); got != tt.want {
			t.Errorf("Rejected(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestFlushDropsRejectedKeepsUnreachable(t *testing.T) {
	q := openQueue(t)
	ctx := context.Background()
	for _, card := range []string{"deleted", "offline"} {
		if _, err := q.Enqueue(ctx, models.ReviewRequest{CardID: card, Quality: 3}); err != nil {
			t.Fatal(err)
		}
	}

	res, err := q.Flush(ctx, func(_ context.Context, r models.ReviewRequest) error {
		if r.CardID == "deleted" {
			return &client.APIError{Status: http.StatusNotFound, Message: "card not found"}
		}
		return errors.New("dial tcp: connection refused")
	})
	if err != nil {
		t.Fatal(err)
	}
	if res != (FlushResult{Failed: 1, Dropped: 1}) {
		t.Errorf("flush = %+v", res)
	}
	items, _ := q.Pending(ctx)
	if len(items) != 1 || items[0].Review.CardID != "offline" {
		t.Errorf("pending = %+v, want only the unsent review", items)
	}
}
