package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"ibstudy-server/gamify"
	"ibstudy-server/models"
)

const userColumns = `id, email, password_hash, display_name, roles, plan, credits, xp,
	streak_days, last_active_date, email_notifications, created_at`

func scanUser(row pgx.Row) (models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.DisplayName, &u.Roles, &u.Plan,
		&u.Credits, &u.XP, &u.StreakDays, &u.LastActiveDate, &u.EmailNotifications, &u.CreatedAt)
	return u, err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// CreateUser inserts a new student account with the starting credit balance.
func CreateUser(ctx context.Context, pool *pgxpool.Pool, email, passwordHash, displayName string, credits int) (models.User, error) {
	row := pool.QueryRow(ctx, `
		INSERT INTO users (id, email, password_hash, display_name, credits)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+userColumns,
		uuid.NewString(), email, passwordHash, displayName, credits)
	u, err := scanUser(row)
	if err != nil {
		if isUniqueViolation(err) {
			return models.User{}, ErrConflict
		}
		return models.User{}, fmt.Errorf("failed to create user: %w", err)
	}
	return u, nil
}

// GetUserByEmail is used by login.
func GetUserByEmail(ctx context.Context, pool *pgxpool.Pool, email string) (models.User, error) {
	u, err := scanUser(pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
	if err != nil {
		return models.User{}, notFound(err, "get user by email")
	}
	return u, nil
}

// GetUserByID loads a user by id.
func GetUserByID(ctx context.Context, pool *pgxpool.Pool, id string) (models.User, error) {
	u, err := scanUser(pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return models.User{}, notFound(err, "get user")
	}
	return u, nil
}

// UpdateProfile applies the non-nil fields of req.
func UpdateProfile(ctx context.Context, pool *pgxpool.Pool, id string, req models.ProfileUpdateRequest) (models.User, error) {
	u, err := scanUser(pool.QueryRow(ctx, `
		UPDATE users SET
			display_name = COALESCE($2, display_name),
			email_notifications = COALESCE($3, email_notifications)
		WHERE id = $1
		RETURNING `+userColumns, id, req.DisplayName, req.EmailNotifications))
	if err != nil {
		return models.User{}, notFound(err, "update profile")
	}
	return u, nil
}

// DebitCredits takes n credits in a single statement so concurrent requests cannot overdraw.
// It returns the remaining balance, or ErrInsufficientCredits with the current balance.
func DebitCredits(ctx context.Context, pool *pgxpool.Pool, userID string, n int) (int, error) {
	var remaining int
	err := pool.QueryRow(ctx, `
		UPDATE users SET credits = credits - $2
		WHERE id = $1 AND credits >= $2
		RETURNING credits`, userID, n).Scan(&remaining)
	if err == nil {
		return remaining, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("failed to debit credits: %w", err)
	}
	var current int
	if err := pool.QueryRow(ctx, `SELECT credits FROM users WHERE id = $1`, userID).Scan(&current); err != nil {
		return 0, notFound(err, "read credits")
	}
	return current, ErrInsufficientCredits
}

// RefundCredits gives back credits taken for an AI call that failed upstream.
func RefundCredits(ctx context.Context, pool *pgxpool.Pool, userID string, n int) error {
	_, err := pool.Exec(ctx, `UPDATE users SET credits = credits + $2 WHERE id = $1`, userID, n)
	if err != nil {
		return fmt.Errorf("failed to refund credits: %w", err)
	}
	return nil
}

const (
	lockGamificationSQL = `SELECT xp, streak_days, last_active_date FROM users WHERE id = $1 FOR UPDATE`
	saveGamificationSQL = `UPDATE users SET xp = $2, streak_days = $3, last_active_date = $4 WHERE id = $1`
)

// UpdateGamification locks the user's XP, streak and badges, lets apply compute the
// new state, and stores it in one transaction. Concurrent activity of one user is
// applied in turn, never on a stale read.
func UpdateGamification(ctx context.Context, pool *pgxpool.Pool, userID string, apply func(gamify.State) gamify.Outcome) (gamify.Outcome, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return gamify.Outcome{}, fmt.Errorf("failed to begin gamification transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var st gamify.State
	if err := tx.QueryRow(ctx, lockGamificationSQL, userID).Scan(&st.XP, &st.Streak, &st.LastActive); err != nil {
		return gamify.Outcome{}, notFound(err, "lock gamification state")
	}
	rows, err := tx.Query(ctx, `SELECT badge FROM user_badges WHERE user_id = $1 ORDER BY awarded_at`, userID)
	if err != nil {
		return gamify.Outcome{}, fmt.Errorf("failed to query badges: %w", err)
	}
	if st.Badges, err = pgx.CollectRows(rows, pgx.RowTo[string]); err != nil {
		return gamify.Outcome{}, fmt.Errorf("failed to scan badges: %w", err)
	}

	out := apply(st)
	if _, err := tx.Exec(ctx, saveGamificationSQL, userID, out.State.XP, out.State.Streak, out.State.LastActive); err != nil {
		return gamify.Outcome{}, fmt.Errorf("failed to save gamification state: %w", err)
	}
	for _, b := range out.NewBadges {
		_, err := tx.Exec(ctx, `
			INSERT INTO user_badges (user_id, badge) VALUES ($1, $2)
			ON CONFLICT DO NOTHING`, userID, b)
		if err != nil {
			return gamify.Outcome{}, fmt.Errorf("failed to award badge %s: %w", b, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return gamify.Outcome{}, fmt.Errorf("failed to commit gamification state: %w", err)
	}
	return out, nil
}

// ListBadges returns the badges a user already holds.
func ListBadges(ctx context.Context, pool *pgxpool.Pool, userID string) ([]string, error) {
	rows, err := pool.Query(ctx, `SELECT badge FROM user_badges WHERE user_id = $1 ORDER BY awarded_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query badges: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// DigestCandidate is a user who should receive the daily digest.
type DigestCandidate struct {
	UserID      string
	Email       string
	DisplayName string
	DueCards    int
	TasksToday  int
}

// DigestCandidates lists users with email notifications on and something due by `until`.
func DigestCandidates(ctx context.Context, pool *pgxpool.Pool, until time.Time) ([]DigestCandidate, error) {
	rows, err := pool.Query(ctx, `
		SELECT u.id, u.email, u.display_name,
			(SELECT COUNT(*) FROM flashcards f JOIN decks d ON f.deck_id = d.id
				LEFT JOIN card_progress p ON p.card_id = f.id AND p.user_id = u.id
				WHERE (d.owner_id = u.id OR (d.owner_id IS NULL AND p.card_id IS NOT NULL))
					AND `+cardDue+` <= $1),
			(SELECT COUNT(*) FROM planner_tasks t
				WHERE t.user_id = u.id AND NOT t.completed AND t.due_date <= $1)
		FROM users u
		WHERE u.email_notifications`, until)
	if err != nil {
		return nil, fmt.Errorf("failed to query digest candidates: %w", err)
	}
	all, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (DigestCandidate, error) {
		var c DigestCandidate
		err := row.Scan(&c.UserID, &c.Email, &c.DisplayName, &c.DueCards, &c.TasksToday)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan digest candidates: %w", err)
	}
	var out []DigestCandidate
	for _, c := range all {
		if c.DueCards > 0 || c.TasksToday > 0 {
			out = append(out, c)
		}
	}
	return out, nil
}
