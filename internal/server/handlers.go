package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ziadkadry99/askdb/internal/agent"
)

// registerEngineRoutes mounts the question/answer API under /api/v0.
func registerEngineRoutes(r chi.Router, engine *agent.Engine, info map[string]any) {
	h := &handler{engine: engine, info: info}
	r.Route("/api/v0", func(r chi.Router) {
		r.Get("/generate_sql", h.generateSQL)
		r.Get("/run_sql", h.runSQL)
		r.Get("/get_error_history", h.errorHistory)
		r.Get("/generate_followup_questions", h.followupQuestions)
		r.Get("/generate_summary", h.summary)
		r.Get("/load_question", h.loadQuestion)
		r.Get("/get_question_history", h.questionHistory)
		r.Get("/get_training_data", h.trainingData)
		r.Get("/generate_questions", h.generateQuestions)
		r.Get("/generate_rewritten_question", h.rewrittenQuestion)
		r.Get("/debug_cache", h.debugCache)
		r.Get("/get_config", h.config)

		r.Post("/fix_sql", h.fixSQL)
		r.Post("/update_sql", h.updateSQL)
		r.Post("/train", h.train)
		r.Post("/remove_training_data", h.removeTraining)
		r.Post("/answer_conversation", h.answerConversation)
	})
}

type handler struct {
	engine *agent.Engine
	info   map[string]any
}

func (h *handler) generateSQL(w http.ResponseWriter, r *http.Request) {
	question := r.URL.Query().Get("question")
	if strings.TrimSpace(question) == "" {
		writeBadRequest(w, "question is required")
		return
	}

	id, gen, err := h.engine.StartQuestion(r.Context(), question)
	if err != nil {
		writeError(w, err)
		return
	}

	typ := "sql"
	if !gen.Valid {
		typ = "text"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"type":        typ,
		"id":          id,
		"text":        gen.SQL,
		"valid":       gen.Valid,
		"attempts":    gen.Attempts,
		"exact_match": gen.ExactMatch,
	})
}

func (h *handler) runSQL(w http.ResponseWriter, r *http.Request) {
	id, ok := requireID(w, r)
	if !ok {
		return
	}
	res, err := h.engine.RunSQL(agent.WithRequestID(r.Context(), id), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) errorHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := requireID(w, r)
	if !ok {
		return
	}
	history, err := h.engine.ErrorHistory(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"type":          "error_history",
		"id":            id,
		"error_history": history,
	})
}

func (h *handler) followupQuestions(w http.ResponseWriter, r *http.Request) {
	id, ok := requireID(w, r)
	if !ok {
		return
	}
	questions, enabled, err := h.engine.GenerateFollowupQuestions(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"type":      "question_list",
		"id":        id,
		"questions": questions,
		"enabled":   enabled,
		"header":    "Here are some potential followup questions:",
	})
}

func (h *handler) summary(w http.ResponseWriter, r *http.Request) {
	id, ok := requireID(w, r)
	if !ok {
		return
	}
	summary, enabled, err := h.engine.GenerateSummary(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"type":    "text",
		"id":      id,
		"text":    summary,
		"enabled": enabled,
	})
}

func (h *handler) loadQuestion(w http.ResponseWriter, r *http.Request) {
	id, ok := requireID(w, r)
	if !ok {
		return
	}
	q, err := h.engine.LoadQuestion(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Type string `json:"type"`
		*agent.LoadedQuestion
	}{Type: "question_cache", LoadedQuestion: q})
}

func (h *handler) questionHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.engine.QuestionHistory(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"type": "question_history", "questions": history})
}

func (h *handler) trainingData(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"type": "df", "df": h.engine.ListTraining(r.Context())})
}

func (h *handler) generateQuestions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"type":      "question_list",
		"questions": h.engine.GenerateQuestions(r.Context()),
		"header":    "Here are some questions you can ask:",
	})
}

func (h *handler) rewrittenQuestion(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	next := q.Get("new_question")
	if strings.TrimSpace(next) == "" {
		writeBadRequest(w, "new_question is required")
		return
	}
	rewritten, err := h.engine.GenerateRewrittenQuestion(r.Context(), q.Get("last_question"), next)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"type": "rewritten_question", "question": rewritten})
}

func (h *handler) debugCache(w http.ResponseWriter, r *http.Request) {
	id, ok := requireID(w, r)
	if !ok {
		return
	}
	fields, err := h.engine.DebugCache(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "fields": fields})
}

func (h *handler) config(w http.ResponseWriter, r *http.Request) {
	opts := h.engine.Options()
	out := map[string]any{
		"dialect":               opts.Dialect,
		"max_attempts":          opts.MaxAttempts,
		"max_retries":           opts.MaxRetries,
		"allow_llm_to_see_data": opts.AllowLLMToSeeData,
		"can_execute":           h.engine.CanExecute(),
	}
	for k, v := range h.info {
		out[k] = v
	}
	writeJSON(w, http.StatusOK, map[string]any{"type": "config", "config": out})
}

type fixRequest struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

func (h *handler) fixSQL(w http.ResponseWriter, r *http.Request) {
	var req fixRequest
	if !decode(w, r, &req) {
		return
	}
	if req.ID == "" || req.Error == "" {
		writeBadRequest(w, "id and error are required")
		return
	}
	gen, err := h.engine.FixSQL(r.Context(), req.ID, req.Error)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"type": "sql", "id": req.ID, "text": gen.SQL, "valid": gen.Valid})
}

type updateRequest struct {
	ID  string `json:"id"`
	SQL string `json:"sql"`
}

func (h *handler) updateSQL(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if !decode(w, r, &req) {
		return
	}
	if req.ID == "" {
		writeBadRequest(w, "id is required")
		return
	}
	valid, err := h.engine.UpdateSQL(r.Context(), req.ID, req.SQL)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"type": "sql", "id": req.ID, "text": req.SQL, "valid": valid})
}

func (h *handler) train(w http.ResponseWriter, r *http.Request) {
	var req agent.TrainRequest
	if !decode(w, r, &req) {
		return
	}
	id, err := h.engine.Train(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

type removeRequest struct {
	ID string `json:"id"`
}

func (h *handler) removeTraining(w http.ResponseWriter, r *http.Request) {
	var req removeRequest
	if !decode(w, r, &req) {
		return
	}
	if req.ID == "" {
		writeBadRequest(w, "id is required")
		return
	}
	ok, err := h.engine.RemoveTraining(r.Context(), req.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": ok})
}

type answerRequest struct {
	ID      string            `json:"id"`
	Answers map[string]string `json:"answers"`
}

func (h *handler) answerConversation(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if !decode(w, r, &req) {
		return
	}
	if req.ID == "" {
		writeBadRequest(w, "id is required")
		return
	}
	enh, err := h.engine.AnswerConversation(r.Context(), req.ID, req.Answers)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Type string `json:"type"`
		*agent.Enhancement
	}{Type: "enhanced_question", Enhancement: enh})
}

func requireID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeBadRequest(w, "id is required")
		return "", false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeBadRequest(w, "invalid request body")
		return false
	}
	return true
}

// statusFor maps engine errors onto HTTP statuses: caller mistakes are 400,
// upstream model or embedding failures 502.
func statusFor(err error) int {
	var (
		rerr *agent.RetrievalError
		serr *agent.SynthesisError
	)
	switch {
	case agent.IsInputError(err):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &rerr), errors.As(err, &serr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{"type": "error", "error": err.Error()})
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"type": "error", "error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
