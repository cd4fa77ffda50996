package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ibstudy-server/models"
)

// InsertPaper stores an assembled paper and its numbered questions.
func InsertPaper(ctx context.Context, pool *pgxpool.Pool, p models.ExamPaper, createdBy string) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin paper transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO exam_papers (id, subject, level, paper_number, title, duration_minutes, reading_minutes, total_marks, seed, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''))`,
		p.ID, p.Subject, p.Level, p.PaperNumber, p.Title, p.DurationMinutes, p.ReadingMinutes, p.TotalMarks, p.Seed, createdBy)
	if err != nil {
		return fmt.Errorf("failed to insert paper %s: %w", p.Title, err)
	}
	for _, q := range p.Questions {
		_, err := tx.Exec(ctx, `
			INSERT INTO exam_paper_questions (paper_id, number, question_id)
			VALUES ($1, $2, $3)`, p.ID, q.Number, q.QuestionID)
		if err != nil {
			return fmt.Errorf("failed to insert paper question %d: %w", q.Number, err)
		}
	}
	return tx.Commit(ctx)
}

// GetPaper loads a paper with its questions in order. Markschemes are included;
// handlers strip them before sending a paper to a candidate.
func GetPaper(ctx context.Context, pool *pgxpool.Pool, id string) (models.ExamPaper, error) {
	var p models.ExamPaper
	err := pool.QueryRow(ctx, `
		SELECT id, subject, level, paper_number, title, duration_minutes, reading_minutes, total_marks, seed, created_at
		FROM exam_papers WHERE id = $1`, id).Scan(
		&p.ID, &p.Subject, &p.Level, &p.PaperNumber, &p.Title, &p.DurationMinutes, &p.ReadingMinutes,
		&p.TotalMarks, &p.Seed, &p.CreatedAt)
	if err != nil {
		return models.ExamPaper{}, notFound(err, "get paper")
	}

	rows, err := pool.Query(ctx, `
		SELECT pq.number, q.id, q.topic, q.command_term, q.marks, q.question, q.model_answer
		FROM exam_paper_questions pq JOIN study_questions q ON pq.question_id = q.id
		WHERE pq.paper_id = $1
		ORDER BY pq.number`, id)
	if err != nil {
		return models.ExamPaper{}, fmt.Errorf("failed to query paper questions: %w", err)
	}
	p.Questions, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.ExamQuestion, error) {
		var q models.ExamQuestion
		err := row.Scan(&q.Number, &q.QuestionID, &q.Topic, &q.CommandTerm, &q.Marks, &q.Text, &q.Markscheme)
		return q, err
	})
	if err != nil {
		return models.ExamPaper{}, fmt.Errorf("failed to scan paper questions: %w", err)
	}
	return p, nil
}

// InsertSession records the start of a timed session.
func InsertSession(ctx context.Context, pool *pgxpool.Pool, s models.ExamSession) error {
	_, err := pool.Exec(ctx, `
		INSERT INTO exam_sessions (id, paper_id, user_id, started_at, reading_ends_at, ends_at, answers)
		VALUES ($1, $2, $3, $4, $5, $6, '{}')`,
		s.ID, s.PaperID, s.UserID, s.StartedAt, s.ReadingEndsAt, s.EndsAt)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

// GetSession loads a session owned by userID.
func GetSession(ctx context.Context, pool *pgxpool.Pool, userID, id string) (models.ExamSession, error) {
	var s models.ExamSession
	err := pool.QueryRow(ctx, `
		SELECT id, paper_id, user_id, started_at, reading_ends_at, ends_at, submitted_at,
			answers, estimated_marks, awarded_marks, grade, feedback
		FROM exam_sessions WHERE id = $1 AND user_id = $2`, id, userID).Scan(
		&s.ID, &s.PaperID, &s.UserID, &s.StartedAt, &s.ReadingEndsAt, &s.EndsAt, &s.SubmittedAt,
		&s.Answers, &s.EstimatedMarks, &s.AwardedMarks, &s.Grade, &s.Feedback)
	if err != nil {
		return models.ExamSession{}, notFound(err, "get session")
	}
	if s.Answers == nil {
		s.Answers = map[int]string{}
	}
	return s, nil
}

// MoveDeadlines stores new reading and exam deadlines for a session still in
// reading time. It fails with ErrConflict when reading already ended.
func MoveDeadlines(ctx context.Context, pool *pgxpool.Pool, s models.ExamSession) error {
	tag, err := pool.Exec(ctx, `
		UPDATE exam_sessions SET reading_ends_at = $2, ends_at = $3
		WHERE id = $1 AND submitted_at IS NULL AND reading_ends_at > $2`,
		s.ID, s.ReadingEndsAt, s.EndsAt)
	if err != nil {
		return fmt.Errorf("failed to move session deadlines: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// SaveAnswer stores one answer while the session is open.
func SaveAnswer(ctx context.Context, pool *pgxpool.Pool, sessionID string, number int, answer string) error {
	_, err := pool.Exec(ctx, `
		UPDATE exam_sessions
		SET answers = answers || jsonb_build_object($2::text, $3::text)
		WHERE id = $1 AND submitted_at IS NULL`, sessionID, fmt.Sprint(number), answer)
	if err != nil {
		return fmt.Errorf("failed to save answer: %w", err)
	}
	return nil
}

// SubmitClaimTTL is how long a claim blocks other submits of the same session.
// A claim older than this belongs to a request that died mid-grading.
const SubmitClaimTTL = 10 * time.Minute

const (
	claimSubmissionSQL = `
		UPDATE exam_sessions SET submitting_at = $3
		WHERE id = $1 AND user_id = $2 AND submitted_at IS NULL
			AND (submitting_at IS NULL OR submitting_at < $4)`
	releaseSubmissionSQL = `
		UPDATE exam_sessions SET submitting_at = NULL
		WHERE id = $1 AND submitted_at IS NULL`
)

// ClaimSubmission marks a session as being graded. Only one request holds the
// claim; others get ErrConflict until it is released or goes stale.
func ClaimSubmission(ctx context.Context, pool *pgxpool.Pool, userID, id string, now time.Time) error {
	tag, err := pool.Exec(ctx, claimSubmissionSQL, id, userID, now, now.Add(-SubmitClaimTTL))
	if err != nil {
		return fmt.Errorf("failed to claim session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// ReleaseSubmission drops the claim of a submit that did not complete.
func ReleaseSubmission(ctx context.Context, pool *pgxpool.Pool, id string) error {
	if _, err := pool.Exec(ctx, releaseSubmissionSQL, id); err != nil {
		return fmt.Errorf("failed to release session: %w", err)
	}
	return nil
}

// CompleteSession stores the graded submission. It fails with ErrConflict when
// the session was already submitted.
func CompleteSession(ctx context.Context, pool *pgxpool.Pool, s models.ExamSession, submittedAt time.Time) error {
	tag, err := pool.Exec(ctx, `
		UPDATE exam_sessions SET
			submitted_at = $2, submitting_at = NULL,
			answers = $3, estimated_marks = $4, awarded_marks = $5, grade = $6, feedback = $7
		WHERE id = $1 AND submitted_at IS NULL`,
		s.ID, submittedAt, s.Answers, s.EstimatedMarks, s.AwardedMarks, s.Grade, s.Feedback)
	if err != nil {
		return fmt.Errorf("failed to complete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// ExamHistory lists submitted sessions, newest first.
func ExamHistory(ctx context.Context, pool *pgxpool.Pool, userID string, limit int) ([]models.ExamHistoryEntry, error) {
	rows, err := pool.Query(ctx, `
		SELECT s.id, p.title, p.subject, COALESCE(s.awarded_marks, 0), p.total_marks, COALESCE(s.grade, 0), s.submitted_at
		FROM exam_sessions s JOIN exam_papers p ON s.paper_id = p.id
		WHERE s.user_id = $1 AND s.submitted_at IS NOT NULL
		ORDER BY s.submitted_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query exam history: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.ExamHistoryEntry, error) {
		var e models.ExamHistoryEntry
		err := row.Scan(&e.SessionID, &e.Title, &e.Subject, &e.AwardedMarks, &e.TotalMarks, &e.Grade, &e.SubmittedAt)
		return e, err
	})
}
