package gamify

import (
	"slices"
	"testing"
	"time"
)

func TestLevel(t *testing.T) {
	tests := map[int]int{0: 1, 99: 1, 100: 2, 399: 2, 400: 3, 1600: 5}
	for xp, want := range tests {
		if got := Level(xp); got != want {
			t.Errorf("Level(%d) = %d, want %d", xp, got, want)
		}
	}
}

func TestNextStreak(t *testing.T) {
	now := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	day := func(d int) *time.Time {
		v := time.Date(2026, 3, d, 22, 0, 0, 0, time.UTC)
		return &v
	}
	tests := []struct {
		name   string
		streak int
		last   *time.Time
		want   int
	}{
		{"first activity", 0, nil, 1},
		{"same day", 4, day(10), 4},
		{"yesterday late evening", 4, day(9), 5},
		{"missed a day", 4, day(8), 1},
	}
	for _, tt := range tests {
		if got := NextStreak(tt.streak, tt.last, now); got != tt.want {
			t.Errorf("%s: NextStreak = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestApplyAwardsOnce(t *testing.T) {
	r := Rules{XPPerMark: 10, XPPerReview: 2}
	now := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	out := r.Apply(State{}, Activity{Kind: "grade", MarkEarned: 4, Grade: 7}, now)
	if out.XPAwarded != 40 {
		t.Errorf("XPAwarded = %d, want 40", out.XPAwarded)
	}
	if !slices.Contains(out.NewBadges, BadgeFirstSteps) || !slices.Contains(out.NewBadges, BadgeTopGrade) {
		t.Errorf("NewBadges = %v", out.NewBadges)
	}

	again := r.Apply(out.State, Activity{Kind: "grade", MarkEarned: 4, Grade: 7}, now)
	if len(again.NewBadges) != 0 {
		t.Errorf("badges awarded twice: %v", again.NewBadges)
	}
	if again.State.XP != 80 || again.State.Streak != 1 {
		t.Errorf("state = %+v", again.State)
	}
}

func TestApplyReviewAndExam(t *testing.T) {
	r := Rules{XPPerMark: 10, XPPerReview: 2}
	now := time.Now()
	if got := r.Apply(State{}, Activity{Kind: "review"}, now).XPAwarded; got != 2 {
		t.Errorf("review XP = %d, want 2", got)
	}
	out := r.Apply(State{}, Activity{Kind: "exam", MarkEarned: 10, Grade: 5}, now)
	if out.XPAwarded != 150 {
		t.Errorf("exam XP = %d, want 150", out.XPAwarded)
	}
	if !slices.Contains(out.NewBadges, BadgeExamFinisher) {
		t.Errorf("NewBadges = %v, want exam-finisher", out.NewBadges)
	}
}
