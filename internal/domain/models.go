package domain

import (
	"sort"
	"time"
)

// Phase is the lifecycle stage of a session. It only moves forward.
type Phase string

const (
	PhaseWaiting  Phase = "waiting"
	PhaseActive   Phase = "active"
	PhaseFinished Phase = "finished"
)

// Mode selects how a session runs and scores answers.
type Mode string

const (
	// ModeLive drives questions on a shared countdown and rewards speed.
	ModeLive Mode = "live"
	// ModeScheduled is exam style: self-paced, last answer wins, full points.
	ModeScheduled Mode = "scheduled"
)

type AccessMode string

const (
	AccessPublic  AccessMode = "public"
	AccessPrivate AccessMode = "private"
)

// Grading chooses the live scoring rule.
type Grading string

const (
	GradingSpeedAccuracy Grading = "speed_accuracy"
	GradingAccuracyOnly  Grading = "accuracy_only"
)

type ConnectionStatus string

const (
	StatusActive    ConnectionStatus = "active"
	StatusAbandoned ConnectionStatus = "abandoned"
)

type QuestionType string

const (
	QuestionSingle   QuestionType = "single"
	QuestionMultiple QuestionType = "multiple"
)

// DefaultMaxPoints is used when a question does not set its own maximum.
const DefaultMaxPoints = 1000

// Option represents a possible answer for a question. Its index in
// Question.Options is its stable identity.
type Option struct {
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
}

// Question models a single or multi-select question.
type Question struct {
	ID        string       `json:"id"`
	Position  int          `json:"position"`
	Text      string       `json:"text"`
	Type      QuestionType `json:"type"`
	Options   []Option     `json:"options"`
	MaxPoints int          `json:"maxPoints"` // defaults to DefaultMaxPoints if zero
	TimeLimit int          `json:"timeLimit"` // seconds, optional
}

// Points returns the maximum score for the question.
func (q Question) Points() int {
	if q.MaxPoints > 0 {
		return q.MaxPoints
	}
	return DefaultMaxPoints
}

// CorrectIndices lists the indices of options flagged correct, ascending.
func (q Question) CorrectIndices() []int {
	out := make([]int, 0, 1)
	for i, opt := range q.Options {
		if opt.Correct {
			out = append(out, i)
		}
	}
	return out
}

// Quiz is an ordered collection of questions owned by the content store.
type Quiz struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Questions []Question `json:"questions"`
}

// Ordered returns a copy of the quiz with questions sorted by position.
func (q Quiz) Ordered() Quiz {
	questions := make([]Question, len(q.Questions))
	copy(questions, q.Questions)
	sort.SliceStable(questions, func(i, j int) bool {
		return questions[i].Position < questions[j].Position
	})
	q.Questions = questions
	return q
}

// LiveConfig is captured at creation and never changes once the session starts.
type LiveConfig struct {
	TimePerQuestion  int     `json:"timePerQuestion"` // seconds; zero defers to the question
	ShowRanking      bool    `json:"showRanking"`
	ShuffleQuestions bool    `json:"shuffleQuestions"`
	ShuffleOptions   bool    `json:"shuffleOptions"`
	Grading          Grading `json:"grading"`
}

// ScheduledConfig describes an exam window.
type ScheduledConfig struct {
	StartsAt        *time.Time `json:"startsAt,omitempty"`
	EndsAt          *time.Time `json:"endsAt,omitempty"`
	TotalMinutes    int        `json:"totalMinutes"`
	AllowNavigation bool       `json:"allowNavigation"`
	AutoSubmit      bool       `json:"autoSubmit"`
}

// Participant is a roster entry with running totals mirrored from the ledger.
type Participant struct {
	UserID      string           `json:"userId"`
	DisplayName string           `json:"displayName"`
	Status      ConnectionStatus `json:"status"`
	Correct     int              `json:"correct"`
	Incorrect   int              `json:"incorrect"`
	Unanswered  int              `json:"unanswered"`
	Score       int              `json:"score"`
	JoinedAt    time.Time        `json:"joinedAt"`
}

// Session is one live quiz instance.
type Session struct {
	ID              string          `json:"id"`
	Pin             string          `json:"pin"`
	QuizID          string          `json:"quizId"`
	OwnerID         string          `json:"ownerId"`
	Mode            Mode            `json:"mode"`
	Access          AccessMode      `json:"access"`
	Phase           Phase           `json:"phase"`
	Live            LiveConfig      `json:"live"`
	Scheduled       ScheduledConfig `json:"scheduled"`
	CurrentQuestion int             `json:"currentQuestion"`
	QuestionOrder   []int           `json:"questionOrder,omitempty"`
	Participants    []Participant   `json:"participants"`
	CreatedAt       time.Time       `json:"createdAt"`
	StartedAt       *time.Time      `json:"startedAt,omitempty"`
	FinishedAt      *time.Time      `json:"finishedAt,omitempty"`
}

// Clone returns a deep copy so stores never share slices with callers.
func (s Session) Clone() Session {
	s.Participants = append([]Participant(nil), s.Participants...)
	s.QuestionOrder = append([]int(nil), s.QuestionOrder...)
	return s
}

// Participant returns the roster index for userID, or -1.
func (s Session) Participant(userID string) int {
	for i := range s.Participants {
		if s.Participants[i].UserID == userID {
			return i
		}
	}
	return -1
}

// ActiveCount counts roster entries still connected.
func (s Session) ActiveCount() int {
	n := 0
	for _, p := range s.Participants {
		if p.Status == StatusActive {
			n++
		}
	}
	return n
}

// QuestionAt maps a cycle position to the quiz question index, honouring
// a shuffled order when one was fixed at start.
func (s Session) QuestionAt(position int) int {
	if position >= 0 && position < len(s.QuestionOrder) {
		return s.QuestionOrder[position]
	}
	return position
}

type ParticipationState string

const (
	ParticipationActive   ParticipationState = "active"
	ParticipationFinished ParticipationState = "finished"
)

// Answer is one accepted submission.
type Answer struct {
	QuestionID string    `json:"questionId"`
	Selected   []int     `json:"selected"`
	Correct    bool      `json:"correct"`
	TimeSpent  float64   `json:"timeSpent"` // seconds
	Points     int       `json:"points"`
	AnsweredAt time.Time `json:"answeredAt"`
}

// Participation is the ledger for one (session, participant) pair.
type Participation struct {
	SessionID  string             `json:"sessionId"`
	UserID     string             `json:"userId"`
	Mode       Mode               `json:"mode"`
	State      ParticipationState `json:"state"`
	Score      int                `json:"score"`
	Correct    int                `json:"correct"`
	Incorrect  int                `json:"incorrect"`
	Unanswered int                `json:"unanswered"`
	TotalTime  float64            `json:"totalTime"`
	StartedAt  time.Time          `json:"startedAt"`
	FinishedAt *time.Time         `json:"finishedAt,omitempty"`
	Answers    []Answer           `json:"answers"`
}

// Clone returns a deep copy of the participation.
func (p Participation) Clone() Participation {
	answers := make([]Answer, len(p.Answers))
	for i, a := range p.Answers {
		a.Selected = append([]int(nil), a.Selected...)
		answers[i] = a
	}
	p.Answers = answers
	return p
}

// AnswerFor returns the index of the answer recorded for questionID, or -1.
func (p Participation) AnswerFor(questionID string) int {
	for i := range p.Answers {
		if p.Answers[i].QuestionID == questionID {
			return i
		}
	}
	return -1
}

// AnswerResult summarizes the outcome of a submission for a single user.
type AnswerResult struct {
	QuestionID string `json:"questionId"`
	Correct    bool   `json:"correct"`
	Points     int    `json:"points"`
	Duplicate  bool   `json:"duplicate"`
	TotalScore int    `json:"totalScore"`
}

// RankingEntry is a leaderboard row.
type RankingEntry struct {
	Rank        int    `json:"rank"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Score       int    `json:"score"`
}

// QuestionReport is the per-question selection histogram.
type QuestionReport struct {
	QuestionID     string   `json:"questionId"`
	Text           string   `json:"text"`
	Options        []Option `json:"options"`
	Histogram      []int    `json:"histogram"`
	CorrectIndex   int      `json:"correctIndex"`
	CorrectIndices []int    `json:"correctIndices"`
}

// SessionSummary is the end-of-session record handed to report sinks.
type SessionSummary struct {
	SessionID  string           `json:"sessionId"`
	QuizID     string           `json:"quizId"`
	Pin        string           `json:"pin"`
	Mode       Mode             `json:"mode"`
	FinishedAt time.Time        `json:"finishedAt"`
	Ranking    []RankingEntry   `json:"ranking"`
	Questions  []QuestionReport `json:"questions"`
}
