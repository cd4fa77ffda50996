package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ibstudy-server/models"
)

// ListDecks returns the caller's decks plus public seeded decks, with card counts and
// the caller's own due count and mastery.
func ListDecks(ctx context.Context, pool *pgxpool.Pool, userID string, now time.Time) ([]models.Deck, error) {
	rows, err := pool.Query(ctx, `
		SELECT d.id, COALESCE(d.owner_id, ''), d.subject, d.title,
			COUNT(f.id),
			COUNT(f.id) FILTER (WHERE `+cardDue+` <= $2),
			COALESCE(AVG(COALESCE(p.mastery, 0)) FILTER (WHERE f.id IS NOT NULL), 0),
			d.created_at
		FROM decks d
			LEFT JOIN flashcards f ON f.deck_id = d.id
			LEFT JOIN card_progress p ON p.card_id = f.id AND p.user_id = $1
		WHERE `+visibleTo+`
		GROUP BY d.id
		ORDER BY d.created_at DESC`, userID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query decks: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Deck, error) {
		var d models.Deck
		err := row.Scan(&d.ID, &d.OwnerID, &d.Subject, &d.Title, &d.CardCount, &d.DueCount, &d.Mastery, &d.CreatedAt)
		return d, err
	})
}

// CreateDeck inserts a deck. An empty ownerID creates a public deck.
func CreateDeck(ctx context.Context, pool *pgxpool.Pool, ownerID, subject, title string) (models.Deck, error) {
	d := models.Deck{ID: uuid.NewString(), OwnerID: ownerID, Subject: subject, Title: title}
	err := pool.QueryRow(ctx, `
		INSERT INTO decks (id, owner_id, subject, title) VALUES ($1, NULLIF($2, ''), $3, $4)
		RETURNING created_at`, d.ID, ownerID, subject, title).Scan(&d.CreatedAt)
	if err != nil {
		return models.Deck{}, fmt.Errorf("failed to create deck: %w", err)
	}
	return d, nil
}

// DeleteDeck removes a deck owned by userID.
func DeleteDeck(ctx context.Context, pool *pgxpool.Pool, userID, deckID string) error {
	tag, err := pool.Exec(ctx, `DELETE FROM decks WHERE id = $1 AND owner_id = $2`, deckID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete deck: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeckWritable reports ErrNotFound unless userID owns the deck.
func DeckWritable(ctx context.Context, pool *pgxpool.Pool, userID, deckID string) error {
	var ok bool
	err := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM decks WHERE id = $1 AND owner_id = $2)`, deckID, userID).Scan(&ok)
	if err != nil {
		return fmt.Errorf("failed to check deck owner: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// Scheduling state lives in card_progress, one row per (user, card). Every card query
// binds the user as $1. A card the user has never reviewed reads as new: ease 2.5,
// due since it was created.
const (
	cardDue   = `COALESCE(p.due_at, f.created_at)`
	visibleTo = `(d.owner_id = $1 OR d.owner_id IS NULL)`
	cardFrom  = `flashcards f JOIN decks d ON f.deck_id = d.id
		LEFT JOIN card_progress p ON p.card_id = f.id AND p.user_id = $1`
	cardColumns = `f.id, f.deck_id, f.front, f.back, f.difficulty,
	COALESCE(p.ease_factor, 2.5), COALESCE(p.interval_days, 0), COALESCE(p.repetitions, 0),
	COALESCE(p.lapses, 0), ` + cardDue + `, COALESCE(p.mastery, 0), p.last_reviewed`
)

func scanCard(row pgx.Row) (models.Flashcard, error) {
	var c models.Flashcard
	err := row.Scan(&c.ID, &c.DeckID, &c.Front, &c.Back, &c.Difficulty, &c.EaseFactor, &c.IntervalDays,
		&c.Repetitions, &c.Lapses, &c.DueAt, &c.Mastery, &c.LastReviewed)
	return c, err
}

func collectCards(rows pgx.Rows) ([]models.Flashcard, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Flashcard, error) {
		return scanCard(row)
	})
}

// ListCards returns the cards of a deck visible to userID, with userID's schedule.
func ListCards(ctx context.Context, pool *pgxpool.Pool, userID, deckID string) ([]models.Flashcard, error) {
	rows, err := pool.Query(ctx, `SELECT `+cardColumns+` FROM `+cardFrom+`
		WHERE f.deck_id = $2 AND `+visibleTo+`
		ORDER BY `+cardDue, userID, deckID)
	if err != nil {
		return nil, fmt.Errorf("failed to query cards: %w", err)
	}
	return collectCards(rows)
}

// InsertCard adds a new card, due immediately.
func InsertCard(ctx context.Context, pool *pgxpool.Pool, deckID, front, back string, difficulty int) (models.Flashcard, error) {
	if difficulty == 0 {
		difficulty = 3
	}
	c := models.Flashcard{
		ID: uuid.NewString(), DeckID: deckID, Front: front, Back: back,
		Difficulty: difficulty, EaseFactor: 2.5,
	}
	err := pool.QueryRow(ctx, `
		INSERT INTO flashcards (id, deck_id, front, back, difficulty)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`, c.ID, deckID, front, back, difficulty).Scan(&c.DueAt)
	if err != nil {
		return models.Flashcard{}, fmt.Errorf("failed to insert card: %w", err)
	}
	return c, nil
}

// DeleteCard removes a card from a deck owned by userID.
func DeleteCard(ctx context.Context, pool *pgxpool.Pool, userID, cardID string) error {
	tag, err := pool.Exec(ctx, `
		DELETE FROM flashcards f USING decks d
		WHERE f.deck_id = d.id AND f.id = $1 AND d.owner_id = $2`, cardID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete card: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const getCardSQL = `SELECT ` + cardColumns + ` FROM ` + cardFrom + `
	WHERE f.id = $2 AND ` + visibleTo

// DueCards returns cards due at or before now, oldest first. An empty deckID means all decks.
func DueCards(ctx context.Context, pool *pgxpool.Pool, userID, deckID string, now time.Time, limit int) ([]models.Flashcard, error) {
	rows, err := pool.Query(ctx, `SELECT `+cardColumns+` FROM `+cardFrom+`
		WHERE `+visibleTo+`
			AND ($2 = '' OR f.deck_id = $2)
			AND `+cardDue+` <= $3
		ORDER BY `+cardDue+`
		LIMIT $4`, userID, deckID, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due cards: %w", err)
	}
	return collectCards(rows)
}

// CountDue counts the cards due for a user at now.
func CountDue(ctx context.Context, pool *pgxpool.Pool, userID string, now time.Time) (int, error) {
	var n int
	err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM `+cardFrom+`
		WHERE `+visibleTo+` AND `+cardDue+` <= $2`, userID, now).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count due cards: %w", err)
	}
	return n, nil
}

// ScheduleFunc computes the next schedule of a card from its current one.
type ScheduleFunc func(models.Flashcard) (models.Flashcard, error)

const (
	insertReviewSQL = `
		INSERT INTO reviews (user_id, card_id, quality, reviewed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, card_id, reviewed_at) DO NOTHING`
	ensureProgressSQL = `
		INSERT INTO card_progress (user_id, card_id, due_at)
		SELECT $1::text, f.id, f.created_at FROM flashcards f WHERE f.id = $2
		ON CONFLICT (user_id, card_id) DO NOTHING`
	lockCardSQL = `SELECT ` + cardColumns + `
		FROM flashcards f JOIN card_progress p ON p.card_id = f.id AND p.user_id = $1
		WHERE f.id = $2
		FOR UPDATE OF p`
	saveProgressSQL = `
		UPDATE card_progress SET
			ease_factor = $3, interval_days = $4, repetitions = $5, lapses = $6,
			due_at = $7, mastery = $8, last_reviewed = $9
		WHERE user_id = $1 AND card_id = $2`
)

// SaveReview logs userID's review of a card and reschedules the user's progress on
// it, all in one transaction. The progress row is locked before schedule sees it, so
// concurrent reviews of the same card apply one after the other.
// A review with the same (user, card, reviewed_at) was already applied: the stored
// card is returned unchanged and applied is false.
func SaveReview(ctx context.Context, pool *pgxpool.Pool, userID, cardID string, quality int, reviewedAt time.Time, schedule ScheduleFunc) (card models.Flashcard, applied bool, err error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return models.Flashcard{}, false, fmt.Errorf("failed to begin review transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := scanCard(tx.QueryRow(ctx, getCardSQL, userID, cardID)); err != nil {
		return models.Flashcard{}, false, notFound(err, "get card")
	}

	tag, err := tx.Exec(ctx, insertReviewSQL, userID, cardID, quality, reviewedAt)
	if err != nil {
		return models.Flashcard{}, false, fmt.Errorf("failed to log review: %w", err)
	}
	if tag.RowsAffected() == 0 {
		card, err = scanCard(tx.QueryRow(ctx, getCardSQL, userID, cardID))
		if err != nil {
			return models.Flashcard{}, false, notFound(err, "reload card")
		}
		return card, false, tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx, ensureProgressSQL, userID, cardID); err != nil {
		return models.Flashcard{}, false, fmt.Errorf("failed to create card progress: %w", err)
	}
	current, err := scanCard(tx.QueryRow(ctx, lockCardSQL, userID, cardID))
	if err != nil {
		return models.Flashcard{}, false, notFound(err, "lock card progress")
	}
	next, err := schedule(current)
	if err != nil {
		return models.Flashcard{}, false, err
	}
	_, err = tx.Exec(ctx, saveProgressSQL, userID, cardID,
		next.EaseFactor, next.IntervalDays, next.Repetitions, next.Lapses,
		next.DueAt, next.Mastery, reviewedAt)
	if err != nil {
		return models.Flashcard{}, false, fmt.Errorf("failed to save card progress: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Flashcard{}, false, fmt.Errorf("failed to commit review: %w", err)
	}
	return next, true, nil
}

// ReviewStats returns the number of reviews since `since` and how many were rated 3 or 4.
func ReviewStats(ctx context.Context, pool *pgxpool.Pool, userID string, since time.Time) (total, recalled int, err error) {
	err = pool.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE quality >= 3)
		FROM reviews WHERE user_id = $1 AND reviewed_at >= $2`, userID, since).Scan(&total, &recalled)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to query review stats: %w", err)
	}
	return total, recalled, nil
}
