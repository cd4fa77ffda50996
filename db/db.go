package db

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ibstudy-server/models"
)

var (
	// ErrNotFound is returned when a row does not exist or is not visible to the caller.
	ErrNotFound = errors.New("not found")
	// ErrInsufficientCredits is returned when an AI operation cannot be paid for.
	ErrInsufficientCredits = errors.New("insufficient credits")
	// ErrConflict is returned on unique constraint clashes (duplicate email, membership).
	ErrConflict = errors.New("conflict")
)

// InitDB initializes the PostgreSQL database connection pool
func InitDB(connString string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(context.Background(), connString)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	// Ping the database to verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Println("Successfully connected to PostgreSQL database!")
	return pool, nil
}

// schemaSQL is idempotent so CreateSchema runs on each start.
const schemaSQL = `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email VARCHAR(255) NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		display_name VARCHAR(80) NOT NULL,
		roles TEXT[] NOT NULL DEFAULT '{student}',
		plan VARCHAR(20) NOT NULL DEFAULT 'free' CHECK (plan IN ('free', 'premium')),
		credits INT NOT NULL DEFAULT 0 CHECK (credits >= 0),
		xp INT NOT NULL DEFAULT 0,
		streak_days INT NOT NULL DEFAULT 0,
		last_active_date DATE,
		email_notifications BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS user_badges (
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		badge VARCHAR(50) NOT NULL,
		awarded_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (user_id, badge)
	);

	CREATE TABLE IF NOT EXISTS subjects (
		code VARCHAR(50) PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		subject_group INT NOT NULL DEFAULT 0,
		levels TEXT[] NOT NULL DEFAULT '{SL,HL}',
		topics TEXT[] NOT NULL DEFAULT '{}'
	);

	CREATE TABLE IF NOT EXISTS study_questions (
		id TEXT PRIMARY KEY,
		subject VARCHAR(50) NOT NULL,
		level VARCHAR(2) NOT NULL CHECK (level IN ('SL', 'HL')),
		topic VARCHAR(255) NOT NULL,
		command_term VARCHAR(50) NOT NULL DEFAULT '',
		marks INT NOT NULL CHECK (marks > 0),
		question TEXT NOT NULL,
		model_answer TEXT,
		source VARCHAR(10) NOT NULL CHECK (source IN ('ai', 'seed')),
		created_by TEXT,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (subject, level, question)
	);
	CREATE INDEX IF NOT EXISTS idx_study_questions_bank ON study_questions (subject, level, topic);

	CREATE TABLE IF NOT EXISTS study_attempts (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		question_id TEXT NOT NULL REFERENCES study_questions(id) ON DELETE CASCADE,
		answer TEXT NOT NULL,
		mark_earned INT NOT NULL,
		mark_total INT NOT NULL,
		grade INT NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS decks (
		id TEXT PRIMARY KEY,
		owner_id TEXT REFERENCES users(id) ON DELETE CASCADE, -- NULL for seeded public decks
		subject VARCHAR(50) NOT NULL,
		title VARCHAR(120) NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS flashcards (
		id TEXT PRIMARY KEY,
		deck_id TEXT NOT NULL REFERENCES decks(id) ON DELETE CASCADE,
		front TEXT NOT NULL,
		back TEXT NOT NULL,
		difficulty INT NOT NULL DEFAULT 3,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	ALTER TABLE flashcards ADD COLUMN IF NOT EXISTS created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT CURRENT_TIMESTAMP;
	CREATE INDEX IF NOT EXISTS idx_flashcards_deck ON flashcards (deck_id);

	-- Per-user schedule; public decks are shared, progress on them is not.
	CREATE TABLE IF NOT EXISTS card_progress (
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		card_id TEXT NOT NULL REFERENCES flashcards(id) ON DELETE CASCADE,
		ease_factor FLOAT NOT NULL DEFAULT 2.5,
		interval_days INT NOT NULL DEFAULT 0,
		repetitions INT NOT NULL DEFAULT 0,
		lapses INT NOT NULL DEFAULT 0,
		due_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT CURRENT_TIMESTAMP,
		mastery INT NOT NULL DEFAULT 0 CHECK (mastery BETWEEN 0 AND 100),
		last_reviewed TIMESTAMP WITH TIME ZONE,
		PRIMARY KEY (user_id, card_id)
	);
	CREATE INDEX IF NOT EXISTS idx_card_progress_due ON card_progress (user_id, due_at);

	CREATE TABLE IF NOT EXISTS reviews (
		id SERIAL PRIMARY KEY,
		card_id TEXT NOT NULL REFERENCES flashcards(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		quality INT NOT NULL CHECK (quality BETWEEN 1 AND 4),
		reviewed_at TIMESTAMP WITH TIME ZONE NOT NULL
	);
	-- replayed offline reviews are absorbed here
	ALTER TABLE reviews DROP CONSTRAINT IF EXISTS reviews_card_id_reviewed_at_key;
	CREATE UNIQUE INDEX IF NOT EXISTS idx_reviews_user_card_time ON reviews (user_id, card_id, reviewed_at);

	CREATE TABLE IF NOT EXISTS exam_papers (
		id TEXT PRIMARY KEY,
		subject VARCHAR(50) NOT NULL,
		level VARCHAR(2) NOT NULL,
		paper_number INT NOT NULL,
		title VARCHAR(255) NOT NULL,
		duration_minutes INT NOT NULL,
		reading_minutes INT NOT NULL DEFAULT 0,
		total_marks INT NOT NULL,
		seed BIGINT NOT NULL,
		created_by TEXT REFERENCES users(id) ON DELETE SET NULL,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS exam_paper_questions (
		paper_id TEXT NOT NULL REFERENCES exam_papers(id) ON DELETE CASCADE,
		number INT NOT NULL,
		question_id TEXT NOT NULL REFERENCES study_questions(id) ON DELETE CASCADE,
		PRIMARY KEY (paper_id, number),
		UNIQUE (paper_id, question_id)
	);

	CREATE TABLE IF NOT EXISTS exam_sessions (
		id TEXT PRIMARY KEY,
		paper_id TEXT NOT NULL REFERENCES exam_papers(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		started_at TIMESTAMP WITH TIME ZONE NOT NULL,
		reading_ends_at TIMESTAMP WITH TIME ZONE NOT NULL,
		ends_at TIMESTAMP WITH TIME ZONE NOT NULL,
		submitted_at TIMESTAMP WITH TIME ZONE,
		answers JSONB NOT NULL DEFAULT '{}',
		estimated_marks INT,
		awarded_marks INT,
		grade INT,
		feedback JSONB,
		submitting_at TIMESTAMP WITH TIME ZONE
	);
	ALTER TABLE exam_sessions ADD COLUMN IF NOT EXISTS submitting_at TIMESTAMP WITH TIME ZONE;

	CREATE TABLE IF NOT EXISTS planner_tasks (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		title VARCHAR(200) NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		subject VARCHAR(50) NOT NULL DEFAULT '',
		priority VARCHAR(10) NOT NULL DEFAULT 'medium' CHECK (priority IN ('low', 'medium', 'high')),
		due_date TIMESTAMP WITH TIME ZONE,
		completed BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS posts (
		id TEXT PRIMARY KEY,
		author_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		title VARCHAR(200) NOT NULL,
		content TEXT NOT NULL,
		subject VARCHAR(50) NOT NULL DEFAULT '',
		created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS votes (
		post_id TEXT NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		value INT NOT NULL CHECK (value IN (-1, 0, 1)),
		PRIMARY KEY (post_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS comments (
		id TEXT PRIMARY KEY,
		post_id TEXT NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
		author_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		content TEXT NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS past_papers (
		id TEXT PRIMARY KEY,
		uploader_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		title VARCHAR(255) NOT NULL,
		subject VARCHAR(50) NOT NULL DEFAULT '',
		year INT NOT NULL DEFAULT 0,
		file_name TEXT NOT NULL,
		content_type VARCHAR(100) NOT NULL,
		size_bytes BIGINT NOT NULL,
		storage_path TEXT NOT NULL,
		extracted_text TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS study_groups (
		id TEXT PRIMARY KEY,
		name VARCHAR(100) NOT NULL,
		subject VARCHAR(50) NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		owner_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS group_members (
		group_id TEXT NOT NULL REFERENCES study_groups(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		joined_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (group_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS group_messages (
		id TEXT PRIMARY KEY,
		group_id TEXT NOT NULL REFERENCES study_groups(id) ON DELETE CASCADE,
		author_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		content TEXT NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS tutor_messages (
		id SERIAL PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		role VARCHAR(10) NOT NULL CHECK (role IN ('user', 'assistant')),
		content TEXT NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS applications (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		university VARCHAR(255) NOT NULL,
		course VARCHAR(255) NOT NULL,
		required_points INT NOT NULL DEFAULT 0,
		status VARCHAR(20) NOT NULL DEFAULT 'researching',
		deadline TIMESTAMP WITH TIME ZONE,
		notes TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS milestones (
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		key VARCHAR(100) NOT NULL,
		title VARCHAR(255) NOT NULL,
		sort_order INT NOT NULL DEFAULT 0,
		done_at TIMESTAMP WITH TIME ZONE,
		PRIMARY KEY (user_id, key)
	);

	CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		kind VARCHAR(50) NOT NULL,
		title VARCHAR(255) NOT NULL,
		body TEXT NOT NULL DEFAULT '',
		link TEXT NOT NULL DEFAULT '',
		read BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS push_subscriptions (
		endpoint TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		p256dh TEXT NOT NULL,
		auth TEXT NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS error_logs (
		id SERIAL PRIMARY KEY,
		timestamp TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
		source TEXT NOT NULL, -- e.g., "grading", "digest", "seed"
		subject VARCHAR(50),
		error_message TEXT NOT NULL,
		detail TEXT
	);

	CREATE TABLE IF NOT EXISTS admin_events (
		id SERIAL PRIMARY KEY,
		timestamp TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
		action VARCHAR(255),
		actor VARCHAR(255), -- User email or 'system'
		target TEXT,
		notes TEXT
	);

	CREATE TABLE IF NOT EXISTS settings (
		key VARCHAR(255) PRIMARY KEY,
		value TEXT NOT NULL,
		description TEXT,
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
		updated_by VARCHAR(255)
	);
	`

// CreateSchema sets up the tables.
func CreateSchema(pool *pgxpool.Pool) error {
	_, err := pool.Exec(context.Background(), schemaSQL)
	if err != nil {
		return fmt.Errorf("error executing schema SQL: %w", err)
	}

	// Insert default settings if not already present
	defaultSettings := map[string]string{
		"rate_limit_api_per_hour":   "300",
		"rate_limit_admin_per_hour": "100",
		"xp_per_mark":               "10",
		"xp_per_review":             "2",
		"grade_workers":             "4",
	}

	for key, value := range defaultSettings {
		_, err := pool.Exec(context.Background(), `
			INSERT INTO settings (key, value, description)
			VALUES ($1, $2, $3)
			ON CONFLICT (key) DO NOTHING;
		`, key, value, fmt.Sprintf("Default setting for %s", key))
		if err != nil {
			log.Printf("Warning: Failed to insert default setting %s: %v", key, err)
		}
	}

	return nil
}

// LogError adds an entry to the error_logs table
func LogError(pool *pgxpool.Pool, source, subject, errMsg, detail string) {
	_, err := pool.Exec(context.Background(), `
		INSERT INTO error_logs (source, subject, error_message, detail)
		VALUES ($1, NULLIF($2, ''), $3, NULLIF($4, ''))
	`, source, subject, errMsg, detail)
	if err != nil {
		log.Printf("ERROR: Failed to log error to database: %v. Original error: %s", err, errMsg)
	}
}

// LogAdminEvent adds an entry to the admin_events table
func LogAdminEvent(pool *pgxpool.Pool, actor, action, target, notes string) {
	_, err := pool.Exec(context.Background(), `
		INSERT INTO admin_events (action, actor, target, notes)
		VALUES ($1, $2, $3, $4)
	`, action, actor, target, notes)
	if err != nil {
		log.Printf("ERROR: Failed to log admin event to database: %v. Event: %s by %s on %s", err, action, actor, target)
	}
}

// GetSetting fetches a setting value from the settings table
func GetSetting(pool *pgxpool.Pool, key string) (string, error) {
	var value string
	err := pool.QueryRow(context.Background(), "SELECT value FROM settings WHERE key = $1", key).Scan(&value)
	if err != nil {
		return "", fmt.Errorf("setting %s not found: %w", key, err)
	}
	return value, nil
}

// GetSettingInt reads an integer setting, falling back to def when it is missing or malformed.
func GetSettingInt(pool *pgxpool.Pool, key string, def int) int {
	s, err := GetSetting(pool, key)
	if err != nil {
		log.Printf("Warning: Could not get setting %s, defaulting to %d: %v", key, def, err)
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		log.Printf("Warning: Invalid setting %s=%q, defaulting to %d", key, s, def)
		return def
	}
	return n
}

// ListSettings returns all settings ordered by key.
func ListSettings(ctx context.Context, pool *pgxpool.Pool) ([]models.Setting, error) {
	rows, err := pool.Query(ctx, `
		SELECT key, value, COALESCE(description, ''), updated_at, COALESCE(updated_by, '')
		FROM settings ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("failed to query settings: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Setting, error) {
		var s models.Setting
		err := row.Scan(&s.Key, &s.Value, &s.Description, &s.UpdatedAt, &s.UpdatedBy)
		return s, err
	})
}

// UpdateSetting changes an existing setting. Unknown keys are ErrNotFound.
func UpdateSetting(ctx context.Context, pool *pgxpool.Pool, key, value, actor string) error {
	tag, err := pool.Exec(ctx, `
		UPDATE settings SET value = $2, updated_at = CURRENT_TIMESTAMP, updated_by = $3
		WHERE key = $1`, key, value, actor)
	if err != nil {
		return fmt.Errorf("failed to update setting %s: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// notFound maps pgx.ErrNoRows onto ErrNotFound and wraps everything else.
func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf("failed to %s: %w", what, err)
}
