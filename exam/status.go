package exam

import (
	"fmt"
	"strings"
	"time"

	"ibstudy-server/models"
	"ibstudy-server/utils"
)

// AnswerGrace absorbs network latency on the last answer saves before the deadline.
const AnswerGrace = 30 * time.Second

// NewServerSession fixes the reading and exam deadlines for a session started at now.
func NewServerSession(id, userID string, paper models.ExamPaper, now time.Time) models.ExamSession {
	readingEnds := now.Add(time.Duration(paper.ReadingMinutes) * time.Minute)
	return models.ExamSession{
		ID:            id,
		PaperID:       paper.ID,
		UserID:        userID,
		StartedAt:     now,
		ReadingEndsAt: readingEnds,
		EndsAt:        readingEnds.Add(time.Duration(paper.DurationMinutes*60) * time.Second),
		Answers:       map[int]string{},
	}
}

// StartWritingAt ends reading time early. Writing starts at now and runs the
// paper's full duration from there, the same deadline Session.SkipReading sets.
func StartWritingAt(s models.ExamSession, paper models.ExamPaper, now time.Time) (models.ExamSession, error) {
	if p := PhaseAt(s, now); p != PhaseReading {
		return s, fmt.Errorf("%w: start writing during %s", ErrInvalidTransition, p)
	}
	s.ReadingEndsAt = now
	s.EndsAt = now.Add(time.Duration(paper.DurationMinutes*60) * time.Second)
	return s, nil
}

// PhaseAt derives a stored session's phase from the clock. The server never
// sees config or submitting; once time is up the session sits in review until submitted.
func PhaseAt(s models.ExamSession, now time.Time) Phase {
	switch {
	case s.SubmittedAt != nil:
		return PhaseResults
	case now.Before(s.ReadingEndsAt):
		return PhaseReading
	case now.Before(s.EndsAt):
		return PhaseActive
	default:
		return PhaseReview
	}
}

// AcceptsAnswers reports whether an answer save at now is allowed.
func AcceptsAnswers(s models.ExamSession, now time.Time) bool {
	if s.SubmittedAt != nil || now.Before(s.ReadingEndsAt) {
		return false
	}
	return now.Before(s.EndsAt.Add(AnswerGrace))
}

// StatusAt summarises a stored session for the status endpoint.
func StatusAt(s models.ExamSession, paper models.ExamPaper, now time.Time) models.SessionStatus {
	answered := 0
	for _, q := range paper.Questions {
		if strings.TrimSpace(s.Answers[q.Number]) != "" {
			answered++
		}
	}
	phase := PhaseAt(s, now)
	remaining := 0
	if phase == PhaseReading || phase == PhaseActive {
		remaining = int(s.EndsAt.Sub(now).Seconds())
	}
	return models.SessionStatus{
		SessionID:        s.ID,
		Phase:            string(phase),
		AnsweredCount:    answered,
		RemainingCount:   len(paper.Questions) - answered,
		RemainingSeconds: remaining,
		TimeRemaining:    utils.FormatClock(remaining),
	}
}
