package gamify

import (
	"math"
	"time"
)

// Badge identifiers.
const (
	BadgeFirstSteps   = "first-steps"
	BadgeStreak7      = "streak-7"
	BadgeStreak30     = "streak-30"
	BadgeTopGrade     = "grade-7"
	BadgeLevel5       = "level-5"
	BadgeExamFinisher = "exam-finisher"
)

// Activity is something a student did that earns XP.
type Activity struct {
	Kind       string // "grade", "review" or "exam"
	MarkEarned int
	Grade      int
}

// State is the persisted gamification state of a user.
type State struct {
	XP         int
	Streak     int
	LastActive *time.Time
	Badges     []string
}

// Outcome is what Apply changed.
type Outcome struct {
	State     State
	XPAwarded int
	NewBadges []string
}

// Rules holds the tunable XP amounts (admin settings).
type Rules struct {
	XPPerMark   int
	XPPerReview int
}

// Level is 1 at 0 XP and grows with the square root of XP: 100 XP for level 2, 400 for 3.
func Level(xp int) int {
	if xp <= 0 {
		return 1
	}
	return 1 + int(math.Sqrt(float64(xp)/100))
}

// NextStreak returns the streak after activity at now. Days are calendar days in now's location.
func NextStreak(streak int, lastActive *time.Time, now time.Time) int {
	if lastActive == nil {
		return 1
	}
	today := dayOf(now)
	last := dayOf(lastActive.In(now.Location()))
	switch today.Sub(last) / (24 * time.Hour) {
	case 0:
		return max(streak, 1)
	case 1:
		return streak + 1
	default:
		return 1
	}
}

func dayOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// Apply awards XP for a, updates the streak and returns the newly earned badges.
func (r Rules) Apply(s State, a Activity, now time.Time) Outcome {
	var xp int
	switch a.Kind {
	case "grade", "exam":
		xp = a.MarkEarned * r.XPPerMark
		if a.Kind == "exam" {
			xp += 50
		}
	case "review":
		xp = r.XPPerReview
	}

	held := make(map[string]bool, len(s.Badges))
	for _, b := range s.Badges {
		held[b] = true
	}

	oldLevel := Level(s.XP)
	s.XP += xp
	s.Streak = NextStreak(s.Streak, s.LastActive, now)
	today := dayOf(now)
	s.LastActive = &today

	var earned []string
	award := func(b string, cond bool) {
		if cond && !held[b] {
			held[b] = true
			earned = append(earned, b)
			s.Badges = append(s.Badges, b)
		}
	}
	award(BadgeFirstSteps, true)
	award(BadgeStreak7, s.Streak >= 7)
	award(BadgeStreak30, s.Streak >= 30)
	award(BadgeTopGrade, a.Grade == 7)
	award(BadgeLevel5, oldLevel < 5 && Level(s.XP) >= 5)
	award(BadgeExamFinisher, a.Kind == "exam")

	return Outcome{State: s, XPAwarded: xp, NewBadges: earned}
}
