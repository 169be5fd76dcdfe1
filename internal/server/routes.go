package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/heymuze/muze/internal/engine"
	"github.com/heymuze/muze/internal/store"
)

type userJSON struct {
	PhoneNumber       string `json:"phone_number"`
	DisplayName       string `json:"display_name,omitempty"`
	Timezone          string `json:"timezone"`
	QuietStart        int    `json:"quiet_hours_start"`
	QuietEnd          int    `json:"quiet_hours_end"`
	Onboarded         bool   `json:"onboarded"`
	LastInteractionAt *int64 `json:"last_interaction_at,omitempty"`
	CreatedAt         int64  `json:"created_at"`
}

type loopJSON struct {
	Topic         string `json:"topic"`
	Status        string `json:"status"`
	LastUpdated   int64  `json:"last_updated,omitempty"`
	NextEventDate string `json:"next_event_date,omitempty"`
	Weight        int    `json:"weight"`
	Description   string `json:"description,omitempty"`
}

type nudgeJSON struct {
	ID          int64  `json:"id"`
	PhoneNumber string `json:"phone_number"`
	Topic       string `json:"topic"`
	Weight      int    `json:"weight"`
	MessageText string `json:"message_text"`
	ScheduledAt int64  `json:"scheduled_at"`
	Status      string `json:"status"`
	CreatedAt   int64  `json:"created_at"`
	ApprovedAt  *int64 `json:"approved_at,omitempty"`
	SentAt      *int64 `json:"sent_at,omitempty"`
}

func toUserJSON(u *store.User) userJSON {
	return userJSON{
		PhoneNumber:       u.PhoneNumber,
		DisplayName:       u.DisplayName,
		Timezone:          u.Timezone,
		QuietStart:        u.QuietStart,
		QuietEnd:          u.QuietEnd,
		Onboarded:         u.Onboarded,
		LastInteractionAt: u.LastInteractionAt,
		CreatedAt:         u.CreatedAt,
	}
}

func toNudgeJSON(n *store.PendingNudge) nudgeJSON {
	return nudgeJSON{
		ID:          n.ID,
		PhoneNumber: n.PhoneNumber,
		Topic:       n.Topic,
		Weight:      n.Weight,
		MessageText: n.MessageText,
		ScheduledAt: n.ScheduledAt,
		Status:      n.Status,
		CreatedAt:   n.CreatedAt,
		ApprovedAt:  n.ApprovedAt,
		SentAt:      n.SentAt,
	}
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.db.ListUsers()
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}

	out := make([]userJSON, len(users))
	for i := range users {
		out[i] = toUserJSON(&users[i])
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"count": len(out), "users": out})
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PhoneNumber string `json:"phone_number"`
		DisplayName string `json:"display_name"`
		Timezone    string `json:"timezone"`
		QuietStart  int    `json:"quiet_hours_start"`
		QuietEnd    int    `json:"quiet_hours_end"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}
	if req.PhoneNumber == "" {
		http.Error(w, `{"error":"phone_number is required"}`, http.StatusBadRequest)
		return
	}
	if req.Timezone != "" {
		if _, err := time.LoadLocation(req.Timezone); err != nil {
			http.Error(w, `{"error":"unknown timezone"}`, http.StatusBadRequest)
			return
		}
	}

	existing, err := s.db.GetUser(req.PhoneNumber)
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}
	if existing != nil {
		http.Error(w, `{"error":"user already exists"}`, http.StatusConflict)
		return
	}

	user := &store.User{
		PhoneNumber: req.PhoneNumber,
		DisplayName: req.DisplayName,
		Timezone:    req.Timezone,
		QuietStart:  req.QuietStart,
		QuietEnd:    req.QuietEnd,
	}
	if err := s.db.CreateUser(user); err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toUserJSON(user))
}

func (s *Server) handleOnboardUser(w http.ResponseWriter, r *http.Request) {
	phone := chi.URLParam(r, "phone")

	user, err := s.db.GetUser(phone)
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}
	if user == nil {
		http.Error(w, `{"error":"user not found"}`, http.StatusNotFound)
		return
	}

	if err := s.db.SetOnboarded(phone, true); err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "onboarded"})
}

func (s *Server) handleUserDetails(w http.ResponseWriter, r *http.Request) {
	phone := chi.URLParam(r, "phone")

	user, err := s.db.GetUser(phone)
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}
	if user == nil {
		http.Error(w, `{"error":"user not found"}`, http.StatusNotFound)
		return
	}

	loops, err := s.db.GetLoops(phone)
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}
	nudges, err := s.db.NudgesForUser(phone)
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}

	loopsOut := make([]loopJSON, len(loops))
	for i, l := range loops {
		loopsOut[i] = loopJSON{
			Topic:         l.Topic,
			Status:        l.Status,
			LastUpdated:   l.LastUpdated,
			NextEventDate: l.NextEventDate,
			Weight:        l.Weight,
			Description:   l.Description,
		}
	}
	nudgesOut := make([]nudgeJSON, len(nudges))
	for i := range nudges {
		nudgesOut[i] = toNudgeJSON(&nudges[i])
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"user":        toUserJSON(user),
		"open_loops":  loopsOut,
		"open_nudges": nudgesOut,
	})
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	phone := chi.URLParam(r, "phone")

	var req struct {
		Timezone   string `json:"timezone"`
		QuietStart *int   `json:"quiet_hours_start"`
		QuietEnd   *int   `json:"quiet_hours_end"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}

	user, err := s.db.GetUser(phone)
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}
	if user == nil {
		http.Error(w, `{"error":"user not found"}`, http.StatusNotFound)
		return
	}

	// Missing fields keep their current values.
	timezone := user.Timezone
	if req.Timezone != "" {
		timezone = req.Timezone
	}
	quietStart := user.QuietStart
	if req.QuietStart != nil {
		quietStart = *req.QuietStart
	}
	quietEnd := user.QuietEnd
	if req.QuietEnd != nil {
		quietEnd = *req.QuietEnd
	}

	if err := s.db.UpdateUserSettings(phone, timezone, quietStart, quietEnd); err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "updated"})
}

func (s *Server) handleUserMessages(w http.ResponseWriter, r *http.Request) {
	phone := chi.URLParam(r, "phone")

	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}

	messages, err := s.db.RecentMessages(phone, limit)
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}

	type messageJSON struct {
		ID        int64  `json:"id"`
		Direction string `json:"direction"`
		Body      string `json:"body"`
		CreatedAt int64  `json:"created_at"`
	}
	out := make([]messageJSON, len(messages))
	for i, m := range messages {
		out[i] = messageJSON{ID: m.ID, Direction: m.Direction, Body: m.Body, CreatedAt: m.CreatedAt}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"count": len(out), "messages": out})
}

// handleIncomingMessage ingests a message from the user (relayed by an
// operator or an external gateway) and runs it through loop extraction.
func (s *Server) handleIncomingMessage(w http.ResponseWriter, r *http.Request) {
	phone := chi.URLParam(r, "phone")

	var req struct {
		Body string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}
	if req.Body == "" {
		http.Error(w, `{"error":"body is required"}`, http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()
	if err := s.engine.ProcessIncoming(ctx, phone, req.Body); err != nil {
		status := http.StatusInternalServerError
		if user, gerr := s.db.GetUser(phone); gerr == nil && user == nil {
			status = http.StatusNotFound
		}
		http.Error(w, `{"error":"`+err.Error()+`"}`, status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "processed"})
}

func (s *Server) handleGetCorpus(w http.ResponseWriter, r *http.Request) {
	phone := chi.URLParam(r, "phone")

	user, err := s.db.GetUser(phone)
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}
	if user == nil {
		http.Error(w, `{"error":"user not found"}`, http.StatusNotFound)
		return
	}

	corpus, err := s.db.GetCorpus(phone)
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"phone_number": phone, "corpus": corpus})
}

func (s *Server) handlePutCorpus(w http.ResponseWriter, r *http.Request) {
	phone := chi.URLParam(r, "phone")

	var req struct {
		Corpus string `json:"corpus"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}

	user, err := s.db.GetUser(phone)
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}
	if user == nil {
		http.Error(w, `{"error":"user not found"}`, http.StatusNotFound)
		return
	}

	if err := s.db.SaveCorpus(phone, req.Corpus); err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "saved"})
}

// Loop mutations take the topic in the body; topics are free text and
// would be mangled as path segments.
func (s *Server) handleResolveLoop(w http.ResponseWriter, r *http.Request) {
	s.mutateLoop(w, r, s.db.ResolveLoop, "resolved")
}

func (s *Server) handleDeleteLoop(w http.ResponseWriter, r *http.Request) {
	s.mutateLoop(w, r, s.db.DeleteLoop, "deleted")
}

func (s *Server) mutateLoop(w http.ResponseWriter, r *http.Request, op func(phone, topic string) error, status string) {
	phone := chi.URLParam(r, "phone")

	var req struct {
		Topic string `json:"topic"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}
	if req.Topic == "" {
		http.Error(w, `{"error":"topic is required"}`, http.StatusBadRequest)
		return
	}

	loop, err := s.db.GetLoop(phone, req.Topic)
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}
	if loop == nil {
		http.Error(w, `{"error":"loop not found"}`, http.StatusNotFound)
		return
	}

	if err := op(phone, req.Topic); err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": status, "topic": req.Topic})
}

func (s *Server) handleListNudges(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}

	nudges, err := s.db.ListNudges(status, limit)
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}

	out := make([]nudgeJSON, len(nudges))
	for i := range nudges {
		out[i] = toNudgeJSON(&nudges[i])
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"count": len(out), "nudges": out})
}

func (s *Server) handleApproveNudge(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "nudgeID"), 10, 64)
	if err != nil {
		http.Error(w, `{"error":"invalid nudge id"}`, http.StatusBadRequest)
		return
	}

	if err := s.db.ApproveNudge(id); err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusConflict)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "approved"})
}

func (s *Server) handleSkipNudge(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "nudgeID"), 10, 64)
	if err != nil {
		http.Error(w, `{"error":"invalid nudge id"}`, http.StatusBadRequest)
		return
	}

	if err := s.db.SkipNudge(id); err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusConflict)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "skipped"})
}

// handleNudgePreview batches a user's open nudges into the single
// message an approver would actually see delivered.
func (s *Server) handleNudgePreview(w http.ResponseWriter, r *http.Request) {
	phone := chi.URLParam(r, "phone")

	user, err := s.db.GetUser(phone)
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}
	if user == nil {
		http.Error(w, `{"error":"user not found"}`, http.StatusNotFound)
		return
	}

	nudges, err := s.db.NudgesForUser(phone)
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}
	if len(nudges) == 0 {
		http.Error(w, `{"error":"no open nudges"}`, http.StatusNotFound)
		return
	}

	questions := make([]string, len(nudges))
	for i, n := range nudges {
		questions[i] = n.MessageText
	}
	corpus, _ := s.db.GetCorpus(phone)

	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()
	preview := s.engine.BatchQuestions(ctx, user.DisplayName, questions, corpus)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"phone_number": phone,
		"count":        len(questions),
		"preview":      preview,
	})
}

func (s *Server) handleCronDispatch(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Minute)
	defer cancel()

	result, err := s.engine.RunDispatchCycle(ctx)
	if errors.Is(err, engine.ErrCycleRunning) {
		http.Error(w, `{"error":"dispatch cycle already running"}`, http.StatusConflict)
		return
	}
	if err != nil {
		http.Error(w, fmt.Sprintf(`{"error":"%s"}`, err.Error()), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

func (s *Server) handleCronSendApproved(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	result, err := s.engine.RunApprovedSendCycle(ctx)
	if errors.Is(err, engine.ErrCycleRunning) {
		http.Error(w, `{"error":"send cycle already running"}`, http.StatusConflict)
		return
	}
	if err != nil {
		http.Error(w, fmt.Sprintf(`{"error":"%s"}`, err.Error()), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}
