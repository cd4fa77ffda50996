package models

import (
	"time"
)

// Plans, ordered from lowest to highest.
const (
	PlanFree    = "free"
	PlanPremium = "premium"
)

// User is the account row. PasswordHash never leaves the server.
type User struct {
	ID                 string    `json:"id"`
	Email              string    `json:"email"`
	PasswordHash       string    `json:"-"`
	DisplayName        string    `json:"display_name"`
	Roles              []string  `json:"roles"`
	Plan               string    `json:"plan"`
	Credits            int       `json:"credits"`
	XP                 int       `json:"xp"`
	StreakDays         int       `json:"streak_days"`
	LastActiveDate     *time.Time `json:"last_active_date"`
	EmailNotifications bool      `json:"email_notifications"`
	CreatedAt          time.Time `json:"created_at"`
}

// Profile is the public projection of a user plus gamification state.
type Profile struct {
	ID          string   `json:"id"`
	Email       string   `json:"email"`
	DisplayName string   `json:"display_name"`
	Plan        string   `json:"plan"`
	Credits     int      `json:"credits"`
	XP          int      `json:"xp"`
	Level       int      `json:"level"`
	StreakDays  int      `json:"streak_days"`
	Roles       []string `json:"roles"`
}

// RegisterRequest for POST /api/auth/register
type RegisterRequest struct {
	Email       string `json:"email" binding:"required,email"`
	Password    string `json:"password" binding:"required,min=8"`
	DisplayName string `json:"display_name" binding:"required,max=80"`
}

// LoginRequest for POST /api/auth/login
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse carries the profile and the CSRF token for cookie sessions.
type LoginResponse struct {
	User      Profile `json:"user"`
	Token     string  `json:"token"`
	CSRFToken string  `json:"csrf_token"`
}

// ProfileUpdateRequest for PATCH /api/profile
type ProfileUpdateRequest struct {
	DisplayName        *string `json:"display_name" binding:"omitempty,max=80"`
	EmailNotifications *bool   `json:"email_notifications"`
}

// Subject is one entry of the IB subject catalogue.
type Subject struct {
	Code   string   `json:"code" yaml:"code"`
	Name   string   `json:"name" yaml:"name"`
	Group  int      `json:"group" yaml:"group"`
	Levels []string `json:"levels" yaml:"levels"`
	Topics []string `json:"topics" yaml:"topics"`
}

// StudyQuestion is a practice question, generated or seeded.
type StudyQuestion struct {
	ID          string    `json:"id"`
	Subject     string    `json:"subject"`
	Level       string    `json:"level"`
	Topic       string    `json:"topic"`
	CommandTerm string    `json:"command_term"`
	Marks       int       `json:"marks"`
	Question    string    `json:"question"`
	ModelAnswer *string   `json:"model_answer,omitempty"`
	Source      string    `json:"source"`
	CreatedAt   time.Time `json:"created_at"`
}

// GenerateRequest for POST /api/study/generate
type GenerateRequest struct {
	Subject     string `json:"subject" binding:"required"`
	Level       string `json:"level" binding:"required,oneof=SL HL"`
	Topic       string `json:"topic" binding:"required"`
	CommandTerm string `json:"command_term"`
	Marks       int    `json:"marks" binding:"omitempty,min=1,max=20"`
}

// GradeRequest for POST /api/study/grade
type GradeRequest struct {
	QuestionID string `json:"question_id" binding:"required"`
	Answer     string `json:"answer" binding:"required"`
}

// GradeResult is produced by one grading call.
type GradeResult struct {
	MarkEarned   int      `json:"mark_earned"`
	MarkTotal    int      `json:"mark_total"`
	Percentage   float64  `json:"percentage"`
	Grade        int      `json:"grade"`
	Strengths    []string `json:"strengths"`
	Improvements []string `json:"improvements"`
	Commentary   string   `json:"commentary"`
	XPAwarded    int      `json:"xp_awarded,omitempty"`
	Badges       []string `json:"badges,omitempty"`
}

// StudyAttempt is a graded answer kept for history and insights.
type StudyAttempt struct {
	ID         string    `json:"id"`
	QuestionID string    `json:"question_id"`
	Subject    string    `json:"subject"`
	Topic      string    `json:"topic"`
	MarkEarned int       `json:"mark_earned"`
	MarkTotal  int       `json:"mark_total"`
	Grade      int       `json:"grade"`
	CreatedAt  time.Time `json:"created_at"`
}

// Deck groups flashcards.
type Deck struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Subject   string    `json:"subject"`
	Title     string    `json:"title"`
	CardCount int       `json:"card_count"`
	DueCount  int       `json:"due_count"`
	Mastery   float64   `json:"mastery"`
	CreatedAt time.Time `json:"created_at"`
}

// Flashcard carries both content and scheduling state.
type Flashcard struct {
	ID           string     `json:"id"`
	DeckID       string     `json:"deck_id"`
	Front        string     `json:"front"`
	Back         string     `json:"back"`
	Difficulty   int        `json:"difficulty"`
	EaseFactor   float64    `json:"ease_factor"`
	IntervalDays int        `json:"interval_days"`
	Repetitions  int        `json:"repetitions"`
	Lapses       int        `json:"lapses"`
	DueAt        time.Time  `json:"due_at"`
	Mastery      int        `json:"mastery"`
	LastReviewed *time.Time `json:"last_reviewed,omitempty"`
}

// DeckCreateRequest for POST /api/flashcards/decks
type DeckCreateRequest struct {
	Subject string `json:"subject" binding:"required"`
	Title   string `json:"title" binding:"required,max=120"`
}

// CardCreateRequest for POST /api/flashcards/decks/:id/cards
type CardCreateRequest struct {
	Front      string `json:"front" binding:"required"`
	Back       string `json:"back" binding:"required"`
	Difficulty int    `json:"difficulty" binding:"omitempty,min=1,max=5"`
}

// DeckGenerateRequest for POST /api/flashcards/decks/:id/generate
type DeckGenerateRequest struct {
	Topic string `json:"topic" binding:"required"`
	Count int    `json:"count" binding:"omitempty,min=1,max=20"`
}

// ReviewRequest for POST /api/flashcards/review. Quality is 1 (again) to 4 (easy).
type ReviewRequest struct {
	CardID     string     `json:"card_id" binding:"required"`
	Quality    int        `json:"quality" binding:"required,min=1,max=4"`
	ReviewedAt *time.Time `json:"reviewed_at,omitempty"`
}

// ExamPaper is an assembled mock paper.
type ExamPaper struct {
	ID              string         `json:"id"`
	Subject         string         `json:"subject"`
	Level           string         `json:"level"`
	PaperNumber     int            `json:"paper_number"`
	Title           string         `json:"title"`
	DurationMinutes int            `json:"duration_minutes"`
	ReadingMinutes  int            `json:"reading_minutes"`
	TotalMarks      int            `json:"total_marks"`
	Seed            int64          `json:"seed"`
	Questions       []ExamQuestion `json:"questions"`
	CreatedAt       time.Time      `json:"created_at"`
}

// ExamQuestion is one numbered question of a paper.
type ExamQuestion struct {
	Number      int     `json:"number"`
	QuestionID  string  `json:"question_id"`
	Topic       string  `json:"topic"`
	CommandTerm string  `json:"command_term"`
	Marks       int     `json:"marks"`
	Text        string  `json:"text"`
	Markscheme  *string `json:"markscheme,omitempty"`
}

// PaperRequest for POST /api/exams/papers
type PaperRequest struct {
	Subject         string             `json:"subject" binding:"required"`
	Level           string             `json:"level" binding:"required,oneof=SL HL"`
	PaperNumber     int                `json:"paper_number" binding:"required,min=1,max=3"`
	QuestionCount   int                `json:"question_count" binding:"required,min=1,max=40"`
	DurationMinutes int                `json:"duration_minutes" binding:"required,min=1,max=300"`
	ReadingMinutes  int                `json:"reading_minutes" binding:"omitempty,min=0,max=15"`
	TopicWeights    map[string]float64 `json:"topic_weights"`
}

// ExamPlan describes how many questions each topic contributes.
type ExamPlan struct {
	QuestionsPerExam int
	PerTopic         map[string]int
}

// ExamSession is a user's run through a paper.
type ExamSession struct {
	ID             string            `json:"id"`
	PaperID        string            `json:"paper_id"`
	UserID         string            `json:"user_id"`
	StartedAt      time.Time         `json:"started_at"`
	ReadingEndsAt  time.Time         `json:"reading_ends_at"`
	EndsAt         time.Time         `json:"ends_at"`
	SubmittedAt    *time.Time        `json:"submitted_at,omitempty"`
	Answers        map[int]string    `json:"answers"`
	EstimatedMarks *int              `json:"estimated_marks,omitempty"`
	AwardedMarks   *int              `json:"awarded_marks,omitempty"`
	Grade          *int              `json:"grade,omitempty"`
	Feedback       map[int]GradeResult `json:"feedback,omitempty"`
}

// SessionStartRequest for POST /api/exams/sessions
type SessionStartRequest struct {
	PaperID string `json:"paper_id" binding:"required"`
}

// AnswerRequest for PUT /api/exams/sessions/:id/answers/:number
type AnswerRequest struct {
	Answer string `json:"answer"`
}

// SessionStatus for GET /api/exams/sessions/:id
type SessionStatus struct {
	SessionID        string `json:"session_id"`
	Phase            string `json:"phase"`
	AnsweredCount    int    `json:"answered_count"`
	RemainingCount   int    `json:"remaining_count"`
	RemainingSeconds int    `json:"remaining_seconds"`
	TimeRemaining    string `json:"time_remaining"`
}

// ExamSubmission is the payload posted at the end of a session.
// Every question number is present; unanswered questions carry "".
type ExamSubmission struct {
	Answers        map[int]string `json:"answers"`
	EstimatedMarks int            `json:"estimated_marks"`
}

// ExamResult is returned by submit.
type ExamResult struct {
	SessionID      string              `json:"session_id"`
	AwardedMarks   int                 `json:"awarded_marks"`
	TotalMarks     int                 `json:"total_marks"`
	EstimatedMarks int                 `json:"estimated_marks"`
	Percentage     float64             `json:"percentage"`
	Grade          int                 `json:"grade"`
	TopicBreakdown map[string]int      `json:"topic_breakdown"`
	Feedback       map[int]GradeResult `json:"feedback"`
	XPAwarded      int                 `json:"xp_awarded"`
}

// ExamHistoryEntry is one completed session.
type ExamHistoryEntry struct {
	SessionID    string    `json:"session_id"`
	Title        string    `json:"title"`
	Subject      string    `json:"subject"`
	AwardedMarks int       `json:"awarded_marks"`
	TotalMarks   int       `json:"total_marks"`
	Grade        int       `json:"grade"`
	SubmittedAt  time.Time `json:"submitted_at"`
}

// PlannerTask is a to-do in the study planner.
type PlannerTask struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Subject     string     `json:"subject"`
	Priority    string     `json:"priority"`
	DueDate     *time.Time `json:"due_date"`
	Completed   bool       `json:"completed"`
	CreatedAt   time.Time  `json:"created_at"`
}

// TaskRequest for task create/update.
type TaskRequest struct {
	Title       string     `json:"title" binding:"required,max=200"`
	Description string     `json:"description"`
	Subject     string     `json:"subject"`
	Priority    string     `json:"priority" binding:"omitempty,oneof=low medium high"`
	DueDate     *time.Time `json:"due_date"`
}

// CommunityPost as listed in the feed.
type CommunityPost struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Content      string    `json:"content"`
	Subject      string    `json:"subject"`
	Author       string    `json:"author"`
	AuthorID     string    `json:"author_id"`
	Votes        int       `json:"votes"`
	UserVote     int       `json:"user_vote"`
	CommentCount int       `json:"comment_count"`
	CreatedAt    time.Time `json:"created_at"`
}

// PostPage is a paginated feed response.
type PostPage struct {
	Posts   []CommunityPost `json:"posts"`
	Page    int             `json:"page"`
	PerPage int             `json:"per_page"`
	Total   int             `json:"total"`
	HasMore bool            `json:"has_more"`
}

// PostCreateRequest for POST /api/community/posts
type PostCreateRequest struct {
	Title   string `json:"title" binding:"required,max=200"`
	Content string `json:"content" binding:"required"`
	Subject string `json:"subject"`
}

// VoteRequest for POST /api/community/posts/:id/vote
type VoteRequest struct {
	Value *int `json:"value" binding:"required,min=-1,max=1"`
}

// VoteResult is the authoritative vote state after a vote.
type VoteResult struct {
	PostID   string `json:"post_id"`
	Votes    int    `json:"votes"`
	UserVote int    `json:"user_vote"`
}

// Comment on a community post.
type Comment struct {
	ID        string    `json:"id"`
	PostID    string    `json:"post_id"`
	Author    string    `json:"author"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// CommentRequest for POST /api/community/posts/:id/comments
type CommentRequest struct {
	Content string `json:"content" binding:"required"`
}

// PastPaper is a shared uploaded document.
type PastPaper struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Subject     string    `json:"subject"`
	Year        int       `json:"year"`
	FileName    string    `json:"file_name"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	Excerpt     string    `json:"excerpt"`
	Uploader    string    `json:"uploader"`
	CreatedAt   time.Time `json:"created_at"`
}

// StudyGroup is a community group.
type StudyGroup struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Subject     string    `json:"subject"`
	Description string    `json:"description"`
	MemberCount int       `json:"member_count"`
	IsMember    bool      `json:"is_member"`
	CreatedAt   time.Time `json:"created_at"`
}

// GroupCreateRequest for POST /api/community/groups
type GroupCreateRequest struct {
	Name        string `json:"name" binding:"required,max=100"`
	Subject     string `json:"subject"`
	Description string `json:"description"`
}

// GroupMessage is a message posted in a group.
type GroupMessage struct {
	ID        string    `json:"id"`
	GroupID   string    `json:"group_id"`
	Author    string    `json:"author"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// MessageRequest is a chat message body.
type MessageRequest struct {
	Content string `json:"content" binding:"required,max=4000"`
}

// TutorMessage is one turn of the AI tutor conversation.
type TutorMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// TutorRequest for POST /api/tutor/chat
type TutorRequest struct {
	Message string `json:"message" binding:"required,max=4000"`
	Subject string `json:"subject"`
}

// Application is a university application in the admissions tracker.
type Application struct {
	ID             string     `json:"id"`
	University     string     `json:"university"`
	Course         string     `json:"course"`
	RequiredPoints int        `json:"required_points"`
	Status         string     `json:"status"`
	Deadline       *time.Time `json:"deadline"`
	Notes          string     `json:"notes"`
}

// ApplicationRequest for application create/update.
type ApplicationRequest struct {
	University     string     `json:"university" binding:"required"`
	Course         string     `json:"course" binding:"required"`
	RequiredPoints int        `json:"required_points" binding:"omitempty,min=24,max=45"`
	Status         string     `json:"status" binding:"omitempty,oneof=researching drafting submitted offer rejected"`
	Deadline       *time.Time `json:"deadline"`
	Notes          string     `json:"notes"`
}

// PointsPrediction is the predicted diploma total and per-application fit.
type PointsPrediction struct {
	SubjectGrades map[string]int    `json:"subject_grades"`
	CoreBonus     int               `json:"core_bonus"`
	Total         int               `json:"total"`
	Applications  []ApplicationFit  `json:"applications"`
}

// ApplicationFit says whether the prediction meets an offer.
type ApplicationFit struct {
	ApplicationID  string `json:"application_id"`
	University     string `json:"university"`
	RequiredPoints int    `json:"required_points"`
	Meets          bool   `json:"meets"`
	Gap            int    `json:"gap"`
}

// Milestone is a lifecycle tracker checkbox.
type Milestone struct {
	Key       string     `json:"key"`
	Title     string     `json:"title"`
	Done      bool       `json:"done"`
	DoneAt    *time.Time `json:"done_at,omitempty"`
	SortOrder int        `json:"sort_order"`
}

// Insights is the analytics dashboard payload.
type Insights struct {
	SubjectAverages   map[string]float64 `json:"subject_averages"`
	GradeDistribution map[int]int        `json:"grade_distribution"`
	Retention         float64            `json:"retention"`
	ReviewsLast30Days int                `json:"reviews_last_30_days"`
	Exams             []ExamHistoryEntry `json:"exams"`
	StreakDays        int                `json:"streak_days"`
	XP                int                `json:"xp"`
	Level             int                `json:"level"`
}

// Dashboard is the landing summary.
type Dashboard struct {
	Profile      Profile         `json:"profile"`
	DueCards     int             `json:"due_cards"`
	TasksToday   []PlannerTask   `json:"tasks_today"`
	RecentGrades []StudyAttempt  `json:"recent_grades"`
	Unread       int             `json:"unread_notifications"`
}

// Notification is an in-app notification.
type Notification struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Link      string    `json:"link"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// PushSubscription is a browser push endpoint registration.
type PushSubscription struct {
	Endpoint string `json:"endpoint" binding:"required,url"`
	Keys     struct {
		P256dh string `json:"p256dh" binding:"required"`
		Auth   string `json:"auth" binding:"required"`
	} `json:"keys"`
}

// ErrorLog represents an entry in the error_logs table
type ErrorLog struct {
	ID           int       `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Source       string    `json:"source"`
	Subject      *string   `json:"subject"`
	ErrorMessage string    `json:"error_message"`
	Detail       *string   `json:"detail"`
}

// AdminEvent represents an entry in the admin_events table
type AdminEvent struct {
	ID        int       `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Actor     string    `json:"actor"`
	Target    string    `json:"target"`
	Notes     string    `json:"notes"`
}

// QuestionStats for the admin question bank page
type QuestionStats struct {
	Subject      string  `json:"subject"`
	Topic        string  `json:"topic"`
	Questions    int     `json:"questions"`
	Attempts     int     `json:"attempts"`
	AveragePct   float64 `json:"average_pct"`
}

// Setting represents an entry in the settings table
type Setting struct {
	Key         string    `json:"key"`
	Value       string    `json:"value"`
	Description string    `json:"description"`
	UpdatedAt   time.Time `json:"updated_at"`
	UpdatedBy   string    `json:"updated_by"`
}

// Catalogue is the YAML seed file: subjects, seed questions and starter decks.
type Catalogue struct {
	Subjects  []Subject          `yaml:"subjects"`
	Questions []CatalogueQuestion `yaml:"questions"`
	Decks     []CatalogueDeck    `yaml:"decks"`
}

// CatalogueQuestion is a seed question in the YAML catalogue.
type CatalogueQuestion struct {
	Subject     string `yaml:"subject"`
	Level       string `yaml:"level"`
	Topic       string `yaml:"topic"`
	CommandTerm string `yaml:"command_term"`
	Marks       int    `yaml:"marks"`
	Question    string `yaml:"question"`
	ModelAnswer string `yaml:"model_answer"`
}

// CatalogueDeck is a public starter deck.
type CatalogueDeck struct {
	Subject string `yaml:"subject"`
	Title   string `yaml:"title"`
	Cards   []struct {
		Front string `yaml:"front"`
		Back  string `yaml:"back"`
	} `yaml:"cards"`
}
