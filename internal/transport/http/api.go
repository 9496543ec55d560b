package http

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

// SessionHandler exposes the session lifecycle over REST.
type SessionHandler struct {
	service  *app.SessionService
	validate *requestValidator
	log      logrus.FieldLogger
}

func NewSessionHandler(service *app.SessionService, log logrus.FieldLogger) *SessionHandler {
	return &SessionHandler{
		service:  service,
		validate: newRequestValidator(),
		log:      log,
	}
}

// decode reads and validates a JSON body. It writes the 400 itself and
// reports whether the handler may continue.
func (h *SessionHandler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid request body", r))
		return false
	}
	fields, err := h.validate.Validate(dst)
	if err == nil {
		return true
	}
	resp := errorResp(codeFor(http.StatusBadRequest), err.Error(), r)
	resp.Error.Fields = fields
	writeJSON(w, http.StatusBadRequest, resp)
	return false
}

func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !h.decode(w, r, &req) {
		return
	}
	session, err := h.service.CreateSession(r.Context(), req.toDomain())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := app.SessionFilter{
		OwnerID: q.Get("ownerId"),
		Phase:   domain.Phase(q.Get("phase")),
	}
	sessions, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	session, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *SessionHandler) GetByPin(w http.ResponseWriter, r *http.Request) {
	session, err := h.service.GetByPin(r.Context(), chi.URLParam(r, "pin"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *SessionHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateSessionRequest
	if !h.decode(w, r, &req) {
		return
	}
	session, err := h.service.UpdateSettings(r.Context(), chi.URLParam(r, "id"), req.toDomain())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionHandler) Join(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.service.Join(r.Context(), chi.URLParam(r, "pin"), req.UserID, req.Name)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	session, err := h.service.Start(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *SessionHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	session, err := h.service.Finalize(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *SessionHandler) Conclude(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid question index", r))
		return
	}
	concluded, err := h.service.ConcludeQuestion(r.Context(), chi.URLParam(r, "id"), index)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"concluded": concluded})
}

func (h *SessionHandler) Answer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.service.SubmitAnswer(r.Context(), app.Submission{
		SessionID:  chi.URLParam(r, "id"),
		UserID:     req.UserID,
		QuestionID: req.QuestionID,
		Selected:   req.Selected,
		TimeSpent:  req.TimeSpent,
	})
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *SessionHandler) Ranking(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid limit", r))
			return
		}
		limit = n
	}
	ranking, err := h.service.Ranking(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ranking": ranking})
}

func (h *SessionHandler) Report(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.FinalReport(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"questions": report})
}

func (h *SessionHandler) Questions(w http.ResponseWriter, r *http.Request) {
	questions, err := h.service.ExamQuestions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"questions": questions})
}

func (h *SessionHandler) Progress(w http.ResponseWriter, r *http.Request) {
	participation, err := h.service.Progress(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "userId"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, participation)
}
