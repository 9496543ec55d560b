package http

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/infra/memory"
	"live-quiz-service/internal/logger"
	"live-quiz-service/internal/metrics"
	"live-quiz-service/internal/schedule"
)

type fixture struct {
	service *app.SessionService
	hub     *Hub
	clock   *schedule.ManualClock
	metrics *metrics.Metrics
	server  *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logger.Discard()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	f := &fixture{
		clock:   schedule.NewManualClock(),
		metrics: m,
		hub:     NewHub(m, log),
	}
	f.service = app.NewSessionService(app.Dependencies{
		Sessions:       memory.NewSessionStore(),
		Participations: memory.NewParticipationStore(),
		Quizzes:        memory.NewStaticQuizLoader(map[string]domain.Quiz{"quiz-1": sampleQuiz()}),
		Broadcaster:    f.hub,
		Clock:          f.clock,
		Metrics:        m,
		Logger:         log,
	}, app.DefaultSettings())

	router := NewRouter(NewSessionHandler(f.service, log), NewWSHandler(f.service, f.hub, log), reg, log)
	f.server = httptest.NewServer(router)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fixture) createSession(t *testing.T) domain.Session {
	t.Helper()
	session, err := f.service.CreateSession(context.Background(), app.NewSession{
		QuizID:  "quiz-1",
		OwnerID: "prof",
		Live:    domain.LiveConfig{TimePerQuestion: 30, ShowRanking: true},
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return session
}

func (f *fixture) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws?" + query
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

type frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// readUntil skips frames until one of type want arrives.
func readUntil(t *testing.T, conn *websocket.Conn, want string) frame {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		_ = conn.SetReadDeadline(deadline)
		var msg frame
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %s: %v", want, err)
		}
		if msg.Type == want {
			return msg
		}
	}
}

func TestWebSocketLiveRound(t *testing.T) {
	f := newFixture(t)
	session := f.createSession(t)

	observer := f.dial(t, "pin="+session.Pin)
	readUntil(t, observer, msgJoined)

	player := f.dial(t, "pin="+session.Pin+"&userId=u1&name=Alice")
	joined := readUntil(t, player, msgJoined)
	var res app.JoinResult
	if err := json.Unmarshal(joined.Payload, &res); err != nil {
		t.Fatalf("decode joined: %v", err)
	}
	if res.SessionID != session.ID || res.Total != 1 {
		t.Fatalf("unexpected join result %+v", res)
	}
	readUntil(t, observer, domain.EventParticipantJoined)

	if _, err := f.service.Start(context.Background(), session.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	started := readUntil(t, player, domain.EventQuestionStarted)
	var question domain.QuestionStarted
	if err := json.Unmarshal(started.Payload, &question); err != nil {
		t.Fatalf("decode question: %v", err)
	}
	if question.ID != "q1" || question.Position != 1 || question.Total != 2 {
		t.Fatalf("unexpected question %+v", question)
	}
	if strings.Contains(string(started.Payload), "correct") {
		t.Fatalf("question leaked correctness: %s", started.Payload)
	}
	readUntil(t, observer, domain.EventQuestionStarted)

	if err := player.WriteJSON(map[string]any{
		"type":    msgAnswer,
		"payload": map[string]any{"questionId": "q1", "selected": []int{1}, "timeSpent": 0},
	}); err != nil {
		t.Fatalf("write answer: %v", err)
	}
	result := readUntil(t, player, msgAnswerResult)
	var answer domain.AnswerResult
	if err := json.Unmarshal(result.Payload, &answer); err != nil {
		t.Fatalf("decode answer: %v", err)
	}
	if !answer.Correct || answer.Points != 1000 {
		t.Fatalf("unexpected answer result %+v", answer)
	}

	// The only participant answered, so the round concludes early.
	readUntil(t, observer, domain.EventAnswerReceived)
	results := readUntil(t, observer, domain.EventQuestionResults)
	var summary domain.QuestionResults
	if err := json.Unmarshal(results.Payload, &summary); err != nil {
		t.Fatalf("decode results: %v", err)
	}
	if summary.CorrectIndex != 1 || summary.Histogram[1] != 1 {
		t.Fatalf("unexpected results %+v", summary)
	}
}

func TestWebSocketRejectsUnknownPin(t *testing.T) {
	f := newFixture(t)
	u := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws?pin=000000"
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	if err == nil {
		t.Fatalf("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != 404 {
		t.Fatalf("expected 404, got %+v", resp)
	}
}

func TestWebSocketObserverCannotAnswer(t *testing.T) {
	f := newFixture(t)
	session := f.createSession(t)
	observer := f.dial(t, "pin="+session.Pin)
	readUntil(t, observer, msgJoined)

	if err := observer.WriteJSON(map[string]any{"type": msgAnswer, "payload": map[string]any{"questionId": "q1"}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	readUntil(t, observer, msgError)

	if err := observer.WriteJSON(map[string]any{"type": msgPing}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	readUntil(t, observer, msgPong)
}

func TestWebSocketCloseLeavesLobby(t *testing.T) {
	f := newFixture(t)
	session := f.createSession(t)
	observer := f.dial(t, "pin="+session.Pin)
	readUntil(t, observer, msgJoined)

	player := f.dial(t, "pin="+session.Pin+"&userId=u1&name=Alice")
	readUntil(t, player, msgJoined)
	player.Close()

	readUntil(t, observer, domain.EventParticipantDisconnected)
	got, err := f.service.Get(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Participants) != 0 {
		t.Fatalf("expected empty lobby, got %+v", got.Participants)
	}
}

func TestWebSocketSecondSocketKeepsParticipant(t *testing.T) {
	f := newFixture(t)
	session := f.createSession(t)
	observer := f.dial(t, "pin="+session.Pin)
	readUntil(t, observer, msgJoined)

	first := f.dial(t, "pin="+session.Pin+"&userId=u1&name=Alice")
	readUntil(t, first, msgJoined)
	second := f.dial(t, "pin="+session.Pin+"&userId=u1&name=Alice")
	readUntil(t, second, msgJoined)

	first.Close()
	waitRoomSize(t, f.hub, session.Pin, 2)
	// Give a wrongly issued disconnect time to land before checking the roster.
	time.Sleep(100 * time.Millisecond)

	got, err := f.service.Get(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Participants) != 1 || got.Participants[0].UserID != "u1" {
		t.Fatalf("expected u1 to stay on the roster, got %+v", got.Participants)
	}

	second.Close()
	readUntil(t, observer, domain.EventParticipantDisconnected)
	got, err = f.service.Get(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Participants) != 0 {
		t.Fatalf("expected empty lobby after last socket, got %+v", got.Participants)
	}
}

func waitRoomSize(t *testing.T, hub *Hub, room string, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for hub.RoomSize(room) != want {
		if time.Now().After(deadline) {
			t.Fatalf("room %s has %d sockets, want %d", room, hub.RoomSize(room), want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		ID:    "quiz-1",
		Title: "Arithmetic",
		Questions: []domain.Question{
			{
				ID:       "q1",
				Position: 1,
				Text:     "What is 2 + 2?",
				Options:  []domain.Option{{Text: "3"}, {Text: "4", Correct: true}, {Text: "5"}},
			},
			{
				ID:       "q2",
				Position: 2,
				Text:     "What is 3 * 3?",
				Options:  []domain.Option{{Text: "9", Correct: true}, {Text: "6"}},
			},
		},
	}
}
