package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

// Socket-only message types. Room events use the domain event names.
const (
	msgJoined       = "joined"
	msgAnswer       = "answer"
	msgAnswerResult = "answer_result"
	msgPing         = "ping"
	msgPong         = "pong"
	msgError        = "error"
)

type inbound struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	QuestionID string  `json:"questionId"`
	Selected   []int   `json:"selected"`
	TimeSpent  float64 `json:"timeSpent"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type WSHandler struct {
	service  *app.SessionService
	hub      *Hub
	upgrader websocket.Upgrader
	log      logrus.FieldLogger
}

func NewWSHandler(service *app.SessionService, hub *Hub, log logrus.FieldLogger) *WSHandler {
	return &WSHandler{
		service: service,
		hub:     hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: log,
	}
}

// ServeWS attaches a socket to the room of the session behind ?pin=.
// With ?userId= the socket joins as a participant; without it the socket
// only observes (moderator screen).
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	pin := r.URL.Query().Get("pin")
	userID := r.URL.Query().Get("userId")
	displayName := r.URL.Query().Get("name")
	if pin == "" {
		http.Error(w, "missing pin", http.StatusBadRequest)
		return
	}
	session, err := h.service.GetByPin(r.Context(), pin)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("ws upgrade failed")
		return
	}
	log := h.log.WithFields(logrus.Fields{"pin": pin, "user_id": userID})
	client := newClient(h.hub, conn, pin, userID, log)

	// Register before joining so the socket sees its own join broadcast.
	h.hub.register(client)
	go client.writePump()

	var joined any = app.JoinResult{SessionID: session.ID, Pin: session.Pin, Mode: session.Mode, Phase: session.Phase, Total: len(session.Participants)}
	if userID != "" {
		res, err := h.service.Join(r.Context(), pin, userID, displayName)
		if err != nil {
			client.replyError(err.Error())
			h.hub.unregister(client)
			return
		}
		joined = res
	}
	client.reply(msgJoined, joined)

	client.readPump(func(msg inbound) {
		h.dispatch(client, session.ID, msg)
	})

	// Another tab of the same user keeps the participant active.
	if remaining := h.hub.unregister(client); userID == "" || remaining > 0 {
		return
	}
	// The request context is gone once the socket has closed.
	if err := h.service.Disconnect(context.Background(), session.ID, userID); err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
		log.WithError(err).Warn("disconnect reconcile failed")
	}
}

func (h *WSHandler) dispatch(c *Client, sessionID string, msg inbound) {
	switch msg.Type {
	case msgAnswer:
		if c.userID == "" {
			c.replyError("observers cannot answer")
			return
		}
		var payload answerPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			c.replyError("invalid answer payload")
			return
		}
		res, err := h.service.SubmitAnswer(context.Background(), app.Submission{
			SessionID:  sessionID,
			UserID:     c.userID,
			QuestionID: payload.QuestionID,
			Selected:   payload.Selected,
			TimeSpent:  payload.TimeSpent,
		})
		if err != nil {
			c.replyError(err.Error())
			return
		}
		c.reply(msgAnswerResult, res)
	case msgPing:
		c.reply(msgPong, nil)
	default:
		c.replyError("unsupported message type")
	}
}
