package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ibstudy-server/models"
)

// ListSubjects returns the subject catalogue ordered by group then name.
func ListSubjects(ctx context.Context, pool *pgxpool.Pool) ([]models.Subject, error) {
	rows, err := pool.Query(ctx, `
		SELECT code, name, subject_group, levels, topics
		FROM subjects ORDER BY subject_group, name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query subjects: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Subject, error) {
		var s models.Subject
		err := row.Scan(&s.Code, &s.Name, &s.Group, &s.Levels, &s.Topics)
		return s, err
	})
}

// UpsertSubject inserts or replaces a catalogue entry.
func UpsertSubject(ctx context.Context, pool *pgxpool.Pool, s models.Subject) error {
	_, err := pool.Exec(ctx, `
		INSERT INTO subjects (code, name, subject_group, levels, topics)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (code) DO UPDATE SET
			name = EXCLUDED.name, subject_group = EXCLUDED.subject_group,
			levels = EXCLUDED.levels, topics = EXCLUDED.topics`,
		s.Code, s.Name, s.Group, s.Levels, s.Topics)
	if err != nil {
		return fmt.Errorf("failed to upsert subject %s: %w", s.Code, err)
	}
	return nil
}

const questionColumns = `id, subject, level, topic, command_term, marks, question, model_answer, source, created_at`

func scanQuestion(row pgx.Row) (models.StudyQuestion, error) {
	var q models.StudyQuestion
	err := row.Scan(&q.ID, &q.Subject, &q.Level, &q.Topic, &q.CommandTerm, &q.Marks,
		&q.Question, &q.ModelAnswer, &q.Source, &q.CreatedAt)
	return q, err
}

// InsertQuestion stores a question in the bank. A duplicate text for the same
// subject and level returns the existing row.
func InsertQuestion(ctx context.Context, pool *pgxpool.Pool, q models.StudyQuestion, createdBy string) (models.StudyQuestion, error) {
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	row := pool.QueryRow(ctx, `
		INSERT INTO study_questions (id, subject, level, topic, command_term, marks, question, model_answer, source, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''))
		ON CONFLICT (subject, level, question) DO UPDATE SET topic = EXCLUDED.topic
		RETURNING `+questionColumns,
		q.ID, q.Subject, q.Level, q.Topic, q.CommandTerm, q.Marks, q.Question, q.ModelAnswer, q.Source, createdBy)
	saved, err := scanQuestion(row)
	if err != nil {
		return models.StudyQuestion{}, fmt.Errorf("failed to insert question: %w", err)
	}
	return saved, nil
}

// GetQuestion loads one question from the bank.
func GetQuestion(ctx context.Context, pool *pgxpool.Pool, id string) (models.StudyQuestion, error) {
	q, err := scanQuestion(pool.QueryRow(ctx, `SELECT `+questionColumns+` FROM study_questions WHERE id = $1`, id))
	if err != nil {
		return models.StudyQuestion{}, notFound(err, "get question")
	}
	return q, nil
}

// QuestionsFor returns the bank for a subject and level, the pool papers are assembled from.
func QuestionsFor(ctx context.Context, pool *pgxpool.Pool, subject, level string) ([]models.StudyQuestion, error) {
	rows, err := pool.Query(ctx, `SELECT `+questionColumns+`
		FROM study_questions WHERE subject = $1 AND level = $2 ORDER BY id`, subject, level)
	if err != nil {
		return nil, fmt.Errorf("failed to query questions for %s %s: %w", subject, level, err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.StudyQuestion, error) {
		return scanQuestion(row)
	})
}

// InsertAttempt records a graded answer.
func InsertAttempt(ctx context.Context, pool *pgxpool.Pool, userID, questionID, answer string, r models.GradeResult) error {
	_, err := pool.Exec(ctx, `
		INSERT INTO study_attempts (id, user_id, question_id, answer, mark_earned, mark_total, grade)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.NewString(), userID, questionID, answer, r.MarkEarned, r.MarkTotal, r.Grade)
	if err != nil {
		return fmt.Errorf("failed to insert attempt: %w", err)
	}
	return nil
}

// ListAttempts returns the most recent attempts of a user.
func ListAttempts(ctx context.Context, pool *pgxpool.Pool, userID string, limit int) ([]models.StudyAttempt, error) {
	rows, err := pool.Query(ctx, `
		SELECT a.id, a.question_id, q.subject, q.topic, a.mark_earned, a.mark_total, a.grade, a.created_at
		FROM study_attempts a JOIN study_questions q ON a.question_id = q.id
		WHERE a.user_id = $1
		ORDER BY a.created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempts: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.StudyAttempt, error) {
		var a models.StudyAttempt
		err := row.Scan(&a.ID, &a.QuestionID, &a.Subject, &a.Topic, &a.MarkEarned, &a.MarkTotal, &a.Grade, &a.CreatedAt)
		return a, err
	})
}

// SubjectPerformance is the aggregate of a user's attempts in one subject.
type SubjectPerformance struct {
	Subject     string
	AveragePct  float64
	LatestGrade int
	Attempts    int
}

// PerformanceBySubject aggregates attempts and exam sessions per subject.
// LatestGrade is the grade of the most recent graded piece of work.
func PerformanceBySubject(ctx context.Context, pool *pgxpool.Pool, userID string) ([]SubjectPerformance, error) {
	rows, err := pool.Query(ctx, `
		WITH work AS (
			SELECT q.subject, a.mark_earned::float AS earned, a.mark_total::float AS total, a.grade, a.created_at
			FROM study_attempts a JOIN study_questions q ON a.question_id = q.id
			WHERE a.user_id = $1
			UNION ALL
			SELECT p.subject, s.awarded_marks::float, p.total_marks::float, s.grade, s.submitted_at
			FROM exam_sessions s JOIN exam_papers p ON s.paper_id = p.id
			WHERE s.user_id = $1 AND s.submitted_at IS NOT NULL AND s.grade IS NOT NULL
		)
		SELECT subject,
			COALESCE(AVG(100 * earned / NULLIF(total, 0)), 0),
			(ARRAY_AGG(grade ORDER BY created_at DESC))[1],
			COUNT(*)
		FROM work
		GROUP BY subject
		ORDER BY subject`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query subject performance: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (SubjectPerformance, error) {
		var p SubjectPerformance
		err := row.Scan(&p.Subject, &p.AveragePct, &p.LatestGrade, &p.Attempts)
		return p, err
	})
}

// GradeDistribution counts graded attempts per IB grade.
func GradeDistribution(ctx context.Context, pool *pgxpool.Pool, userID string) (map[int]int, error) {
	rows, err := pool.Query(ctx, `
		SELECT grade, COUNT(*) FROM study_attempts WHERE user_id = $1 GROUP BY grade`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query grade distribution: %w", err)
	}
	defer rows.Close()
	dist := make(map[int]int)
	for rows.Next() {
		var grade, n int
		if err := rows.Scan(&grade, &n); err != nil {
			return nil, fmt.Errorf("failed to scan grade distribution: %w", err)
		}
		dist[grade] = n
	}
	return dist, rows.Err()
}

// QuestionBankStats is shown on the admin question bank page.
func QuestionBankStats(ctx context.Context, pool *pgxpool.Pool) ([]models.QuestionStats, error) {
	rows, err := pool.Query(ctx, `
		SELECT q.subject, q.topic, COUNT(DISTINCT q.id), COUNT(a.id),
			COALESCE(AVG(100.0 * a.mark_earned / NULLIF(a.mark_total, 0)), 0)
		FROM study_questions q LEFT JOIN study_attempts a ON a.question_id = q.id
		GROUP BY q.subject, q.topic
		ORDER BY q.subject, q.topic`)
	if err != nil {
		return nil, fmt.Errorf("failed to query question stats: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.QuestionStats, error) {
		var s models.QuestionStats
		err := row.Scan(&s.Subject, &s.Topic, &s.Questions, &s.Attempts, &s.AveragePct)
		return s, err
	})
}
