package domain

// Events emitted to a session room, keyed by the session pin.
const (
	EventParticipantJoined       = "participant_joined"
	EventQuestionStarted         = "question_started"
	EventAnswerReceived          = "answer_received"
	EventQuestionResults         = "question_results"
	EventSessionFinished         = "session_finished"
	EventParticipantDisconnected = "participant_disconnected"
)

type ParticipantJoined struct {
	Name   string `json:"name"`
	UserID string `json:"userId"`
	Total  int    `json:"total"`
}

// PublicOption is an option stripped of its correctness flag.
type PublicOption struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// PublicQuestion is what participants are allowed to see of a question.
type PublicQuestion struct {
	ID        string         `json:"id"`
	Text      string         `json:"text"`
	Type      QuestionType   `json:"type"`
	Points    int            `json:"points"`
	TimeLimit int            `json:"timeLimit"`
	Options   []PublicOption `json:"options"`
}

// NewPublicQuestion strips correctness from q.
func NewPublicQuestion(q Question) PublicQuestion {
	options := make([]PublicOption, len(q.Options))
	for i, opt := range q.Options {
		options[i] = PublicOption{Index: i, Text: opt.Text}
	}
	qType := q.Type
	if qType == "" {
		qType = QuestionSingle
	}
	return PublicQuestion{
		ID:        q.ID,
		Text:      q.Text,
		Type:      qType,
		Points:    q.Points(),
		TimeLimit: q.TimeLimit,
		Options:   options,
	}
}

type QuestionStarted struct {
	PublicQuestion
	Position int `json:"position"`
	Total    int `json:"total"`
}

type AnswerReceived struct{}

type QuestionResults struct {
	QuestionID     string         `json:"questionId"`
	Position       int            `json:"position"`
	Histogram      []int          `json:"histogram"`
	CorrectIndex   int            `json:"correctIndex"`
	CorrectIndices []int          `json:"correctIndices"`
	PartialRanking []RankingEntry `json:"partialRanking,omitempty"`
}

type SessionFinished struct {
	Ranking []RankingEntry   `json:"ranking"`
	Report  []QuestionReport `json:"report"`
}

// Disconnect modes.
const (
	DisconnectLobby = "lobby"
	DisconnectGame  = "game"
)

type ParticipantDisconnected struct {
	Mode   string `json:"mode"`
	UserID string `json:"userId"`
	Total  int    `json:"total"`
}
