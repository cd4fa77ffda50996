// Package srs schedules flashcard reviews with SM-2 on a four button scale.
package srs

import (
	"errors"
	"math"
	"time"

	"ibstudy-server/models"
)

// Ratings shown on the review buttons.
const (
	Again = 1
	Hard  = 2
	Good  = 3
	Easy  = 4
)

const (
	InitialEaseFactor = 2.5
	MinEaseFactor     = 1.3
	// RelearnDelay is how soon a failed card comes back in the same session.
	RelearnDelay = 10 * time.Minute
)

// ErrInvalidQuality is returned for ratings outside 1..4.
var ErrInvalidQuality = errors.New("quality must be 1, 2, 3 or 4")

// ValidQuality reports whether q is one of the four ratings.
func ValidQuality(q int) bool {
	return q >= Again && q <= Easy
}

// sm2Quality maps a button onto the 0..5 SM-2 response scale.
func sm2Quality(rating int) int {
	switch rating {
	case Again:
		return 1
	case Hard:
		return 3
	case Good:
		return 4
	default:
		return 5
	}
}

// Schedule returns the card rescheduled after a review at `at`.
func Schedule(c models.Flashcard, rating int, at time.Time) (models.Flashcard, error) {
	if !ValidQuality(rating) {
		return c, ErrInvalidQuality
	}
	if c.EaseFactor == 0 {
		c.EaseFactor = InitialEaseFactor
	}

	// EF' = EF + (0.1 - (5-q) * (0.08 + (5-q)*0.02))
	q := float64(sm2Quality(rating))
	ef := c.EaseFactor + (0.1 - (5-q)*(0.08+(5-q)*0.02))
	if ef < MinEaseFactor {
		ef = MinEaseFactor
	}
	c.EaseFactor = math.Round(ef*100) / 100

	if rating == Again {
		c.Repetitions = 0
		c.IntervalDays = 0
		c.Lapses++
		c.DueAt = at.Add(RelearnDelay)
	} else {
		switch c.Repetitions {
		case 0:
			c.IntervalDays = 1
		case 1:
			c.IntervalDays = 6
		default:
			c.IntervalDays = int(math.Ceil(float64(c.IntervalDays) * c.EaseFactor))
		}
		c.Repetitions++
		c.DueAt = at.AddDate(0, 0, c.IntervalDays)
	}

	reviewed := at
	c.LastReviewed = &reviewed
	c.Mastery = Mastery(c)
	return c, nil
}

// Mastery is a 0..100 score that grows with the current interval; three weeks is about 63.
func Mastery(c models.Flashcard) int {
	if c.IntervalDays <= 0 {
		return 0
	}
	m := int(math.Round(100 * (1 - math.Exp(-float64(c.IntervalDays)/21))))
	return min(max(m, 0), 100)
}

// Retention is the percentage of reviews rated Good or Easy, to one decimal.
func Retention(total, recalled int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(1000*float64(recalled)/float64(total)) / 10
}
