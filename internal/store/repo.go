package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a row does not exist or is not owned by
	// the caller. Repositories never distinguish the two.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a conditional write found the row in an
	// unexpected state.
	ErrConflict = errors.New("conflict")
)

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	StatusActive    SessionStatus = "active"
	StatusCompleted SessionStatus = "completed"
	StatusAbandoned SessionStatus = "abandoned"
)

// Terminal reports whether no further transition is allowed.
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusAbandoned
}

// Valid reports whether s is a known status.
func (s SessionStatus) Valid() bool {
	switch s {
	case StatusActive, StatusCompleted, StatusAbandoned:
		return true
	}
	return false
}

// Role identifies who authored a dialogue turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ProblemAnalysis is the structured description of a photographed problem.
type ProblemAnalysis struct {
	QuestionText string   `json:"question_text"`
	GradeLevel   string   `json:"grade_level"`
	Difficulty   int      `json:"difficulty"`
	KeyNumbers   []string `json:"key_numbers"`
	KeyRelation  string   `json:"key_relation"`
	FinalAnswer  string   `json:"final_answer"`
	Questions    []string `json:"questions"`

	// Placeholder is set when the image could not be understood and the
	// analysis only asks the user to retake the photo.
	Placeholder bool `json:"placeholder,omitempty"`
}

// Turn is one entry of a session's dialogue log.
type Turn struct {
	ID        string    `json:"id"`
	Sequence  int       `json:"sequence"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Round     int       `json:"round"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is one attempt at one problem.
type Session struct {
	ID               string          `json:"id"`
	OwnerID          string          `json:"owner_id"`
	ProblemText      string          `json:"problem_text"`
	Analysis         ProblemAnalysis `json:"analysis"`
	ImageRef         string          `json:"image_ref,omitempty"`
	Turns            []Turn          `json:"turns"`
	Round            int             `json:"round"`
	TotalRounds      int             `json:"total_rounds"`
	Status           SessionStatus   `json:"status"`
	CompletionReason string          `json:"completion_reason,omitempty"`
	StartedAt        time.Time       `json:"started_at"`
	EndedAt          time.Time       `json:"ended_at,omitempty"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// UserTurns returns the turns authored by the student, in order.
func (s *Session) UserTurns() []Turn {
	var out []Turn
	for _, t := range s.Turns {
		if t.Role == RoleUser {
			out = append(out, t)
		}
	}
	return out
}

// SessionFilter narrows a session listing. Zero values mean "any".
type SessionFilter struct {
	Status SessionStatus
	From   time.Time
	To     time.Time
	Limit  int
	Offset int
}

// RoundCommit is the atomic unit written after a dialogue round: the turns
// to append, and optionally the completion of the session.
type RoundCommit struct {
	ExpectedRound    int
	Turns            []Turn
	Complete         bool
	CompletionReason string
	At               time.Time
}

// ReportSource records whether a report came from the model or the local
// fallback.
type ReportSource string

const (
	SourceCollaborator ReportSource = "collaborator"
	SourceFallback     ReportSource = "fallback"
)

// ThinkingScores rates four dimensions of the student's reasoning, 1 to 5.
type ThinkingScores struct {
	Understanding int `json:"understanding"`
	Reasoning     int `json:"reasoning"`
	Calculation   int `json:"calculation"`
	Expression    int `json:"expression"`
}

// KnowledgePoint is one concept touched by the problem and how well it was
// mastered.
type KnowledgePoint struct {
	Name    string `json:"name"`
	Mastery string `json:"mastery"`
}

// BasicStats are the deterministic numbers derived from the dialogue log.
type BasicStats struct {
	LearningMinutes    float64 `json:"learning_minutes"`
	AnswerCount        int     `json:"answer_count"`
	AverageAnswerRunes float64 `json:"average_answer_length"`
	ParticipationScore float64 `json:"participation_score"`
	DepthScore         float64 `json:"depth_score"`
}

// Report is the cached evaluation of one completed session.
type Report struct {
	SessionID       string           `json:"session_id"`
	OwnerID         string           `json:"owner_id"`
	Score           int              `json:"score"`
	Level           string           `json:"level"`
	Strengths       []string         `json:"strengths"`
	Improvements    []string         `json:"improvements"`
	Thinking        ThinkingScores   `json:"thinking"`
	KnowledgePoints []KnowledgePoint `json:"knowledge_points"`
	Suggestions     []string         `json:"suggestions"`
	NextSteps       []string         `json:"next_steps"`
	Stats           BasicStats       `json:"stats"`
	Source          ReportSource     `json:"source"`
	GeneratedAt     time.Time        `json:"generated_at"`
}

// HistoryEntry is one row of a user's capped learning history.
type HistoryEntry struct {
	OwnerID         string        `json:"-"`
	SessionID       string        `json:"session_id"`
	ProblemText     string        `json:"problem_text"`
	Status          SessionStatus `json:"status"`
	Score           *int          `json:"score,omitempty"`
	Rounds          int           `json:"rounds"`
	LearningMinutes float64       `json:"learning_minutes"`
	StartedAt       time.Time     `json:"started_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// HistoryCap is the maximum number of history entries kept per user.
const HistoryCap = 50

// UserStats is the derived per-user rollup.
type UserStats struct {
	OwnerID              string    `json:"-"`
	TotalQuestions       int       `json:"total_questions"`
	CompletedSessions    int       `json:"completed_sessions"`
	TotalLearningMinutes float64   `json:"total_learning_minutes"`
	AverageScore         float64   `json:"average_score"`
	CurrentStreak        int       `json:"current_streak"`
	LongestStreak        int       `json:"longest_streak"`
	ActiveDays           int       `json:"active_days"`
	Achievement          string    `json:"achievement"`
	ComputedAt           time.Time `json:"computed_at"`
}

// User is the profile record keyed by the resolved identifier.
type User struct {
	ID          string         `json:"id"`
	Nickname    string         `json:"nickname"`
	AvatarRef   string         `json:"avatar_ref"`
	Settings    map[string]any `json:"settings"`
	Achievement string         `json:"achievement"`
	SyncCount   int            `json:"sync_count"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// ProfilePatch carries the fields a user may edit. Nil means unchanged.
type ProfilePatch struct {
	Nickname  *string
	AvatarRef *string
	Settings  map[string]any
}

// BehaviorEvent is one append-only behavior log row.
type BehaviorEvent struct {
	Sequence  int64          `json:"sequence"`
	Timestamp time.Time      `json:"timestamp"`
	OwnerID   string         `json:"owner_id"`
	SessionID string         `json:"session_id,omitempty"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// QueryOpts configures event queries with filtering and pagination.
type QueryOpts struct {
	Limit   int       // max results (0 = unlimited)
	After   int64     // sequence > After
	Before  int64     // sequence < Before
	From    time.Time // timestamp >= From
	To      time.Time // timestamp <= To
	OwnerID string    // behavior events only
	Purpose string    // LLM events only
}

// LLMRequestEventData captures the data for a single LLM request event.
type LLMRequestEventData struct {
	Provider     string
	Model        string
	Purpose      string
	InputTokens  int
	OutputTokens int
	LatencyMs    int64
	Success      bool
	ErrorMessage string
	RequestBody  string
	ResponseBody string
}

// LLMRequestEvent is a stored LLM request event.
type LLMRequestEvent struct {
	ID        int64
	Timestamp time.Time
	LLMRequestEventData
}

// PurposeUsage aggregates LLM calls for one purpose.
type PurposeUsage struct {
	Purpose      string
	Calls        int
	InputTokens  int
	OutputTokens int
	AvgLatencyMs int
}

// ModelUsage aggregates LLM calls for one model.
type ModelUsage struct {
	Model        string
	Calls        int
	InputTokens  int
	OutputTokens int
}

// SessionRepo persists sessions and their dialogue turns.
type SessionRepo interface {
	// Create inserts the session if no row with its id exists. created is
	// false when the id was already taken; the stored session is returned
	// in that case.
	Create(ctx context.Context, s *Session) (stored *Session, created bool, err error)

	// Get loads a session with its turns. ErrNotFound when missing or not
	// owned by ownerID.
	Get(ctx context.Context, id, ownerID string) (*Session, error)

	// AppendTurn appends one turn to an active session.
	AppendTurn(ctx context.Context, id, ownerID string, t Turn) (Turn, error)

	// AppendOpening appends t as the first assistant turn unless one exists,
	// and returns the stored first assistant turn either way. ErrConflict
	// when the session is not active and has no opening yet.
	AppendOpening(ctx context.Context, id, ownerID string, t Turn) (Turn, error)

	// AdvanceRound increments the round of an active session, capped at
	// total+1. Other sessions report their round unchanged.
	AdvanceRound(ctx context.Context, id, ownerID string, at time.Time) (int, error)

	// SetStatus moves an active session to a terminal status. ErrConflict
	// when the session is not active.
	SetStatus(ctx context.Context, id, ownerID string, status SessionStatus, reason string, at time.Time) error

	// CommitRound compares-and-swaps the round, appends turns and optionally
	// completes the session in one transaction. ErrConflict on a CAS miss.
	CommitRound(ctx context.Context, id, ownerID string, c RoundCommit) (*Session, error)

	// List returns the owner's sessions ordered by start time descending,
	// without turns, plus the total matching count.
	List(ctx context.Context, ownerID string, f SessionFilter) ([]Session, int, error)

	// ListAll returns every session of the owner without turns. Used by the
	// stats recompute.
	ListAll(ctx context.Context, ownerID string) ([]Session, error)

	// StaleActive returns ids and owners of active sessions not updated
	// since cutoff.
	StaleActive(ctx context.Context, cutoff time.Time) ([]Session, error)
}

// ReportRepo persists reports.
type ReportRepo interface {
	// CreateIfAbsent inserts r unless a report for the session already
	// exists, then returns whatever is stored.
	CreateIfAbsent(ctx context.Context, r *Report) (stored *Report, created bool, err error)

	// Get returns the report for a session. ErrNotFound when absent or not
	// owned by ownerID.
	Get(ctx context.Context, sessionID, ownerID string) (*Report, error)

	// Scores returns session id to score for all the owner's reports.
	Scores(ctx context.Context, ownerID string) (map[string]int, error)
}

// HistoryRepo maintains the capped per-user learning history.
type HistoryRepo interface {
	// Upsert inserts or replaces the entry for e.SessionID and evicts the
	// oldest entries beyond HistoryCap.
	Upsert(ctx context.Context, e HistoryEntry) error

	// SetScore records a report score on an existing entry.
	SetScore(ctx context.Context, ownerID, sessionID string, score int, at time.Time) error

	// List returns up to limit entries, most recent first.
	List(ctx context.Context, ownerID string, limit int) ([]HistoryEntry, error)
}

// StatsRepo stores the derived user stats.
type StatsRepo interface {
	Put(ctx context.Context, s *UserStats) error
	// Get returns ErrNotFound when stats were never computed.
	Get(ctx context.Context, ownerID string) (*UserStats, error)
}

// UserRepo stores user profiles.
type UserRepo interface {
	// Sync creates the user if absent, records the achievement label and
	// increments the sync counter.
	Sync(ctx context.Context, id, achievement string, at time.Time) error
	UpdateProfile(ctx context.Context, id string, p ProfilePatch, at time.Time) (*User, error)
	Get(ctx context.Context, id string) (*User, error)
}

// EventRepo provides append and query access to the event tables.
type EventRepo interface {
	// AppendLLMRequest records an LLM API call event.
	AppendLLMRequest(ctx context.Context, data LLMRequestEventData) error
	QueryLLMEvents(ctx context.Context, opts QueryOpts) ([]LLMRequestEvent, error)
	// GetLLMEvent returns nil, nil when no event has the id.
	GetLLMEvent(ctx context.Context, id int64) (*LLMRequestEvent, error)
	LLMUsageByPurpose(ctx context.Context) ([]PurposeUsage, error)
	LLMUsageByModel(ctx context.Context) ([]ModelUsage, error)

	AppendBehavior(ctx context.Context, e BehaviorEvent) (int64, error)
	QueryBehavior(ctx context.Context, opts QueryOpts) ([]BehaviorEvent, error)
}
