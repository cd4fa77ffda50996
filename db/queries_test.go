package db

import (
	"strings"
	"testing"
)

func TestScheduleIsPerUser(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"progress keyed by user and card", schemaSQL, "PRIMARY KEY (user_id, card_id)"},
		{"review replay key includes user", schemaSQL, "ON reviews (user_id, card_id, reviewed_at)"},
		{"old shared review key dropped", schemaSQL, "DROP CONSTRAINT IF EXISTS reviews_card_id_reviewed_at_key"},
		{"reads join the caller's progress", cardFrom, "p.user_id = $1"},
		{"new cards default to ease 2.5", cardColumns, "COALESCE(p.ease_factor, 2.5)"},
		{"new cards are due since creation", cardDue, "f.created_at"},
		{"review insert conflicts per user", insertReviewSQL, "ON CONFLICT (user_id, card_id, reviewed_at)"},
		{"schedule writes the caller's row", saveProgressSQL, "WHERE user_id = $1 AND card_id = $2"},
	}
	for _, tt := range tests {
		if !strings.Contains(tt.query, tt.want) {
			t.Errorf("%s: query lacks %q", tt.name, tt.want)
		}
	}
	for _, q := range []string{insertReviewSQL, ensureProgressSQL, lockCardSQL, saveProgressSQL} {
		if strings.Contains(q, "UPDATE flashcards") {
			t.Errorf("review path writes the shared card row: %s", q)
		}
	}
}

func TestReviewPathsLockBeforeCompute(t *testing.T) {
	for name, q := range map[string]string{
		"card progress": lockCardSQL,
		"gamification":  lockGamificationSQL,
	} {
		if !strings.Contains(q, "FOR UPDATE") {
			t.Errorf("%s is read without a row lock: %s", name, q)
		}
	}
	if strings.Contains(lockCardSQL, "LEFT JOIN") {
		t.Error("FOR UPDATE cannot lock the nullable side of an outer join")
	}
}

func TestSubmitClaimIsExclusive(t *testing.T) {
	for _, want := range []string{
		"submitted_at IS NULL",
		"submitting_at IS NULL OR submitting_at < $4",
		"user_id = $2",
	} {
		if !strings.Contains(claimSubmissionSQL, want) {
			t.Errorf("claim lacks %q", want)
		}
	}
	if !strings.Contains(releaseSubmissionSQL, "submitting_at = NULL") || !strings.Contains(releaseSubmissionSQL, "submitted_at IS NULL") {
		t.Errorf("release must only clear unfinished claims: %s", releaseSubmissionSQL)
	}
	if !strings.Contains(schemaSQL, "ADD COLUMN IF NOT EXISTS submitting_at") {
		t.Error("existing databases never get the claim column")
	}
	if SubmitClaimTTL <= 0 {
		t.Errorf("SubmitClaimTTL = %v", SubmitClaimTTL)
	}
}
