package srs

import (
	"errors"
	"testing"
	"time"

	"ibstudy-server/models"
)

var t0 = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func TestScheduleRejectsOutOfRange(t *testing.T) {
	for _, q := range []int{0, 5, -1, 6} {
		if _, err := Schedule(models.Flashcard{}, q, t0); !errors.Is(err, ErrInvalidQuality) {
			t.Errorf("Schedule(q=%d) error = %v, want ErrInvalidQuality", q, err)
		}
	}
	for q := Again; q <= Easy; q++ {
		if _, err := Schedule(models.Flashcard{}, q, t0); err != nil {
			t.Errorf("Schedule(q=%d) unexpected error %v", q, err)
		}
	}
}

func TestScheduleIntervals(t *testing.T) {
	c := models.Flashcard{ID: "c1"}
	wantIntervals := []int{1, 6, 15}
	at := t0
	for i, want := range wantIntervals {
		var err error
		c, err = Schedule(c, Good, at)
		if err != nil {
			t.Fatal(err)
		}
		if c.IntervalDays != want {
			t.Fatalf("review %d: interval = %d, want %d", i+1, c.IntervalDays, want)
		}
		if !c.DueAt.Equal(at.AddDate(0, 0, want)) {
			t.Errorf("review %d: due = %s", i+1, c.DueAt)
		}
		at = c.DueAt
	}
	if c.EaseFactor != 2.5 {
		t.Errorf("ease factor after Good reviews = %v, want 2.5", c.EaseFactor)
	}
	if c.Repetitions != 3 {
		t.Errorf("repetitions = %d, want 3", c.Repetitions)
	}
}

func TestScheduleAgainResets(t *testing.T) {
	c := models.Flashcard{EaseFactor: 2.5, IntervalDays: 15, Repetitions: 3}
	got, err := Schedule(c, Again, t0)
	if err != nil {
		t.Fatal(err)
	}
	if got.Repetitions != 0 || got.IntervalDays != 0 || got.Lapses != 1 {
		t.Errorf("after Again: reps=%d interval=%d lapses=%d", got.Repetitions, got.IntervalDays, got.Lapses)
	}
	if !got.DueAt.Equal(t0.Add(RelearnDelay)) {
		t.Errorf("due = %s, want %s", got.DueAt, t0.Add(RelearnDelay))
	}
	if got.EaseFactor != 1.96 {
		t.Errorf("ease factor = %v, want 1.96", got.EaseFactor)
	}
	if got.Mastery != 0 {
		t.Errorf("mastery = %d, want 0", got.Mastery)
	}
}

func TestEaseFactorFloor(t *testing.T) {
	c := models.Flashcard{EaseFactor: MinEaseFactor}
	for range 5 {
		c, _ = Schedule(c, Again, t0)
	}
	if c.EaseFactor != MinEaseFactor {
		t.Errorf("ease factor = %v, want floor %v", c.EaseFactor, MinEaseFactor)
	}
}

func TestEasyRaisesEase(t *testing.T) {
	got, _ := Schedule(models.Flashcard{}, Easy, t0)
	if got.EaseFactor != 2.6 {
		t.Errorf("ease factor = %v, want 2.6", got.EaseFactor)
	}
	hard, _ := Schedule(models.Flashcard{}, Hard, t0)
	if hard.EaseFactor != 2.36 {
		t.Errorf("ease factor = %v, want 2.36", hard.EaseFactor)
	}
}

func TestRetention(t *testing.T) {
	if got := Retention(0, 0); got != 0 {
		t.Errorf("Retention(0,0) = %v", got)
	}
	if got := Retention(3, 2); got != 66.7 {
		t.Errorf("Retention(3,2) = %v, want 66.7", got)
	}
}
