package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"ibstudy-server/db"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []Email
	fail string
}

func (r *recordingSender) Send(_ context.Context, e Email) error {
	if e.To == r.fail {
		return errors.New("mailbox unavailable")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, e)
	return nil
}

func TestRenderDigest(t *testing.T) {
	e, err := RenderDigest(db.DigestCandidate{Email: "a@example.com", DisplayName: "<Ana>", DueCards: 1, TasksToday: 3})
	if err != nil {
		t.Fatal(err)
	}
	if e.Subject != "1 cards and 3 tasks due today" {
		t.Errorf("Subject = %q", e.Subject)
	}
	if !strings.Contains(e.HTML, "1 flashcard due") || !strings.Contains(e.HTML, "3 planner tasks due") {
		t.Errorf("HTML = %s", e.HTML)
	}
	if strings.Contains(e.HTML, "<Ana>") || !strings.Contains(e.HTML, "&lt;Ana&gt;") {
		t.Error("display name not escaped")
	}
}

func TestDigestSubject(t *testing.T) {
	if got := digestSubject(db.DigestCandidate{DueCards: 4}); got != "4 cards due for review" {
		t.Errorf("cards only = %q", got)
	}
	if got := digestSubject(db.DigestCandidate{TasksToday: 2}); got != "2 study tasks due today" {
		t.Errorf("tasks only = %q", got)
	}
}

func TestSendDigestsSkipsFailures(t *testing.T) {
	s := &recordingSender{fail: "b@example.com"}
	cands := []db.DigestCandidate{
		{UserID: "1", Email: "a@example.com", DueCards: 1},
		{UserID: "2", Email: "b@example.com", DueCards: 1},
		{UserID: "3", Email: "c@example.com", TasksToday: 1},
	}
	if n := SendDigests(context.Background(), s, cands, 2); n != 2 {
		t.Errorf("sent = %d, want 2", n)
	}
	if len(s.sent) != 2 {
		t.Errorf("recorded = %d", len(s.sent))
	}
}
