package exam

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"ibstudy-server/models"
)

// Phase of a mock exam run.
type Phase string

const (
	PhaseConfig     Phase = "config"
	PhaseReading    Phase = "reading"
	PhaseActive     Phase = "active"
	PhaseReview     Phase = "review"
	PhaseSubmitting Phase = "submitting"
	PhaseResults    Phase = "results"
)

var (
	// ErrInvalidTransition is returned when an action is not allowed in the current phase.
	ErrInvalidTransition = errors.New("invalid exam phase transition")
	// ErrAnswersLocked is returned when writing an answer after time ran out or during submission.
	ErrAnswersLocked = errors.New("answers are locked")
	// ErrUnknownQuestion is returned for a question number not on the paper.
	ErrUnknownQuestion = errors.New("question is not on this paper")
)

// Timer is the part of *time.Timer the session needs.
type Timer interface {
	Stop() bool
}

// Clock lets tests drive the session timers.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// Option configures a Session.
type Option func(*Session)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option { return func(s *Session) { s.clock = c } }

// OnExpire registers the callback run once when exam time is up.
func OnExpire(f func()) Option { return func(s *Session) { s.onExpire = f } }

// OnPhase registers a callback run after every phase change.
func OnPhase(f func(Phase)) Option { return func(s *Session) { s.onPhase = f } }

// Session is the client-side state machine of one timed attempt:
// config -> reading -> active -> review -> submitting -> results.
// review -> active is allowed while time remains.
type Session struct {
	mu       sync.Mutex
	clock    Clock
	paper    models.ExamPaper
	numbers  map[int]models.ExamQuestion
	phase    Phase
	answers  map[int]string
	locked   bool
	expired  bool
	deadline time.Time

	readingTimer Timer
	examTimer    Timer

	onExpire func()
	onPhase  func(Phase)
}

// NewSession prepares a session for paper in the config phase.
func NewSession(paper models.ExamPaper, opts ...Option) *Session {
	s := &Session{
		clock:   realClock{},
		paper:   paper,
		numbers: make(map[int]models.ExamQuestion, len(paper.Questions)),
		phase:   PhaseConfig,
		answers: make(map[int]string),
	}
	for _, q := range paper.Questions {
		s.numbers[q.Number] = q
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Phase returns the current phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Expired reports whether the exam timer ran out.
func (s *Session) Expired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expired
}

// Remaining is the exam time left, zero outside the active/review phases.
func (s *Session) Remaining() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deadline.IsZero() || s.expired {
		return 0
	}
	return max(s.deadline.Sub(s.clock.Now()), 0)
}

func (s *Session) transition(from []Phase, to Phase) error {
	for _, p := range from {
		if s.phase == p {
			s.phase = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.phase, to)
}

func (s *Session) notify(p Phase) {
	if s.onPhase != nil {
		s.onPhase(p)
	}
}

// Start leaves config. With reading time on the paper the session enters
// reading and moves to active by itself when reading time is over.
func (s *Session) Start() error {
	s.mu.Lock()
	if s.paper.ReadingMinutes <= 0 {
		if err := s.transition([]Phase{PhaseConfig}, PhaseActive); err != nil {
			s.mu.Unlock()
			return err
		}
		s.beginActiveLocked()
		s.mu.Unlock()
		s.notify(PhaseActive)
		return nil
	}
	if err := s.transition([]Phase{PhaseConfig}, PhaseReading); err != nil {
		s.mu.Unlock()
		return err
	}
	s.readingTimer = s.clock.AfterFunc(time.Duration(s.paper.ReadingMinutes)*time.Minute, s.endReading)
	s.mu.Unlock()
	s.notify(PhaseReading)
	return nil
}

// SkipReading ends reading time early.
func (s *Session) SkipReading() error {
	s.mu.Lock()
	if err := s.transition([]Phase{PhaseReading}, PhaseActive); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.readingTimer != nil {
		s.readingTimer.Stop()
	}
	s.beginActiveLocked()
	s.mu.Unlock()
	s.notify(PhaseActive)
	return nil
}

func (s *Session) endReading() {
	s.mu.Lock()
	if s.phase != PhaseReading {
		s.mu.Unlock()
		return
	}
	s.phase = PhaseActive
	s.beginActiveLocked()
	s.mu.Unlock()
	s.notify(PhaseActive)
}

// beginActiveLocked starts the exam clock: duration_minutes*60 seconds from now.
func (s *Session) beginActiveLocked() {
	d := time.Duration(s.paper.DurationMinutes*60) * time.Second
	s.deadline = s.clock.Now().Add(d)
	s.examTimer = s.clock.AfterFunc(d, s.expire)
}

func (s *Session) expire() {
	s.mu.Lock()
	if s.expired || (s.phase != PhaseActive && s.phase != PhaseReview) {
		s.mu.Unlock()
		return
	}
	s.expired = true
	s.locked = true
	s.phase = PhaseReview
	cb := s.onExpire
	s.mu.Unlock()

	s.notify(PhaseReview)
	if cb != nil {
		cb()
	}
}

// Review moves from answering to reviewing answers.
func (s *Session) Review() error {
	s.mu.Lock()
	err := s.transition([]Phase{PhaseActive}, PhaseReview)
	s.mu.Unlock()
	if err == nil {
		s.notify(PhaseReview)
	}
	return err
}

// Resume goes back from review to answering while time remains.
func (s *Session) Resume() error {
	s.mu.Lock()
	if s.expired || s.locked {
		s.mu.Unlock()
		return fmt.Errorf("%w: time is up", ErrInvalidTransition)
	}
	err := s.transition([]Phase{PhaseReview}, PhaseActive)
	s.mu.Unlock()
	if err == nil {
		s.notify(PhaseActive)
	}
	return err
}

// SetAnswer records the answer to question number n.
func (s *Session) SetAnswer(n int, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.numbers[n]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownQuestion, n)
	}
	if s.locked {
		return ErrAnswersLocked
	}
	if s.phase != PhaseActive {
		return fmt.Errorf("%w: cannot answer during %s", ErrInvalidTransition, s.phase)
	}
	s.answers[n] = text
	return nil
}

// Answer returns the current answer to question n.
func (s *Session) Answer(n int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.answers[n]
}

// Submission lists every question number on the paper; unanswered ones carry "".
func (s *Session) Submission() models.ExamSubmission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submissionLocked()
}

func (s *Session) submissionLocked() models.ExamSubmission {
	answers := make(map[int]string, len(s.numbers))
	for n := range s.numbers {
		answers[n] = s.answers[n]
	}
	return models.ExamSubmission{
		Answers:        answers,
		EstimatedMarks: EstimateMarks(s.paper, answers),
	}
}

// BeginSubmit locks answers, stops the timers and returns the payload to post.
func (s *Session) BeginSubmit() (models.ExamSubmission, error) {
	s.mu.Lock()
	if err := s.transition([]Phase{PhaseActive, PhaseReview}, PhaseSubmitting); err != nil {
		s.mu.Unlock()
		return models.ExamSubmission{}, err
	}
	s.locked = true
	s.stopTimersLocked()
	sub := s.submissionLocked()
	s.mu.Unlock()
	s.notify(PhaseSubmitting)
	return sub, nil
}

// SubmitFailed returns to review so the submission can be retried. Answers stay locked.
func (s *Session) SubmitFailed() error {
	s.mu.Lock()
	err := s.transition([]Phase{PhaseSubmitting}, PhaseReview)
	s.mu.Unlock()
	if err == nil {
		s.notify(PhaseReview)
	}
	return err
}

// Complete records that the server accepted the submission.
func (s *Session) Complete() error {
	s.mu.Lock()
	err := s.transition([]Phase{PhaseSubmitting}, PhaseResults)
	s.mu.Unlock()
	if err == nil {
		s.notify(PhaseResults)
	}
	return err
}

// Close stops pending timers. The session is unusable for timing afterwards.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopTimersLocked()
}

func (s *Session) stopTimersLocked() {
	if s.readingTimer != nil {
		s.readingTimer.Stop()
	}
	if s.examTimer != nil {
		s.examTimer.Stop()
	}
}

// WordsPerMark is the answer length the estimate expects for each available mark.
const WordsPerMark = 25

// EstimateMarks is a placeholder until the server grades: each answer earns
// marks in proportion to its length against WordsPerMark per mark, capped at
// the question's marks.
func EstimateMarks(paper models.ExamPaper, answers map[int]string) int {
	total := 0
	for _, q := range paper.Questions {
		words := len(strings.Fields(answers[q.Number]))
		if q.Marks <= 0 {
			continue
		}
		total += min(words/WordsPerMark, q.Marks)
	}
	return total
}

// Numbers returns the question numbers of paper in ascending order.
func Numbers(paper models.ExamPaper) []int {
	ns := make([]int, 0, len(paper.Questions))
	for _, q := range paper.Questions {
		ns = append(ns, q.Number)
	}
	sort.Ints(ns)
	return ns
}
