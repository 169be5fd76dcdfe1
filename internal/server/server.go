package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/heymuze/muze/internal/engine"
	"github.com/heymuze/muze/internal/store"
)

// Server is the muze admin/ops HTTP API: the approval dashboard surface
// and the cron entry points for the two engine cycles.
type Server struct {
	db      *store.DB
	engine  *engine.Engine
	router  chi.Router
	version string
	started time.Time
}

// New creates a new Server with the given database, engine, and version
// string.
func New(db *store.DB, eng *engine.Engine, version string) *Server {
	s := &Server{
		db:      db,
		engine:  eng,
		version: version,
		started: time.Now(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Get("/users", s.handleListUsers)
		r.Post("/users", s.handleCreateUser)
		r.Get("/users/{phone}/details", s.handleUserDetails)
		r.Put("/users/{phone}/settings", s.handleUpdateSettings)
		r.Post("/users/{phone}/onboard", s.handleOnboardUser)
		r.Get("/users/{phone}/messages", s.handleUserMessages)
		r.Post("/users/{phone}/messages", s.handleIncomingMessage)
		r.Get("/users/{phone}/corpus", s.handleGetCorpus)
		r.Put("/users/{phone}/corpus", s.handlePutCorpus)
		r.Post("/users/{phone}/loops/resolve", s.handleResolveLoop)
		r.Post("/users/{phone}/loops/delete", s.handleDeleteLoop)

		r.Get("/nudges", s.handleListNudges)
		r.Post("/nudges/{nudgeID}/approve", s.handleApproveNudge)
		r.Post("/nudges/{nudgeID}/skip", s.handleSkipNudge)
		r.Get("/nudges/{phone}/preview", s.handleNudgePreview)

		r.Post("/cron/dispatch", s.handleCronDispatch)
		r.Post("/cron/send-approved", s.handleCronSendApproved)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if err := s.db.Ping(); err != nil {
		dbOK = false
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.started).Seconds(),
		"db":      dbOK,
		"db_path": s.db.Path,
	})
}
