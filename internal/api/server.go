package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/rs/cors"

	"taskflow/internal/metrics"
	"taskflow/pkg/audit"
	"taskflow/pkg/execution"
	"taskflow/pkg/identity"
	"taskflow/pkg/session"
	"taskflow/pkg/task"
)

// SessionCookie is the name of the cookie carrying the session token.
const SessionCookie = "taskflow_session"

// Config wires the Server to its collaborators.
type Config struct {
	Identity   *identity.Service
	Tasks      *task.Registry
	Executions *execution.Registry
	Audit      audit.Store      // optional; /audit routes 404 without it
	Metrics    *metrics.Metrics // optional
	Logger     log.Logger

	SecureCookie bool
	CORSOrigins  []string
}

// Server is the HTTP API server.
type Server struct {
	identity *identity.Service
	tasks    *task.Registry
	execs    *execution.Registry
	audit    audit.Store
	metrics  *metrics.Metrics
	logger   log.Logger

	secureCookie bool
	router       chi.Router
}

// New creates a new Server.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	s := &Server{
		identity:     cfg.Identity,
		tasks:        cfg.Tasks,
		execs:        cfg.Executions,
		audit:        cfg.Audit,
		metrics:      cfg.Metrics,
		logger:       logger,
		secureCookie: cfg.SecureCookie,
		router:       chi.NewRouter(),
	}
	s.routes(cfg.CORSOrigins)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes(origins []string) {
	r := s.router

	if len(origins) > 0 {
		r.Use(cors.New(cors.Options{
			AllowedOrigins:   origins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Content-Type", "X-Requested-With"},
			AllowCredentials: true,
		}).Handler)
	}
	r.Use(middleware.StripSlashes)
	r.Use(middleware.RequestID)
	r.Use(s.instrument)
	r.Use(s.recoverer)
	r.Use(s.loadSession)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.writeMessage(w, http.StatusNotFound, false, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.writeMessage(w, http.StatusMethodNotAllowed, false, "Method not allowed")
	})

	// Auth
	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", s.handleLogin)
		r.Post("/logout", s.handleLogout)
		r.Get("/check", s.handleCheck)
		r.Get("/profile", s.handleProfile)
	})

	// Tasks
	r.Route("/tasks", func(r chi.Router) {
		r.Get("/", s.handleTaskList)
		r.Post("/", s.handleTaskCreate)
		r.Get("/show/{id:[0-9]+}", s.handleTaskGet)
		r.Get("/collaborators", s.handleCollaborators)
		r.Get("/my-tasks", s.handleMyTasks)
	})

	// Executions
	r.Route("/executions", func(r chi.Router) {
		r.Get("/", s.handleExecutionList)
		r.Post("/submit", s.handleExecutionSubmit)
		r.Get("/show/{id:[0-9]+}", s.handleExecutionGet)
		r.Get("/download/{id:[0-9]+}", s.handleExecutionDownload)
		r.Post("/review/{id:[0-9]+}", s.handleExecutionReview)
	})

	// Audit
	if s.audit != nil {
		r.Get("/audit", s.handleAuditList)
		r.Get("/audit/verify", s.handleAuditVerify)
	}

	// System
	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
}

type sessionKey struct{}

// loadSession resolves the session cookie, if any, for the handlers.
func (s *Server) loadSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie(SessionCookie)
		if err != nil || c.Value == "" {
			next.ServeHTTP(w, r)
			return
		}
		sess, err := s.identity.CurrentSession(r.Context(), c.Value)
		if err != nil {
			s.writeFault(w, r, err)
			return
		}
		if sess != nil {
			r = r.WithContext(context.WithValue(r.Context(), sessionKey{}, sess))
		}
		next.ServeHTTP(w, r)
	})
}

func currentSession(r *http.Request) *session.Session {
	sess, _ := r.Context().Value(sessionKey{}).(*session.Session)
	return sess
}

func (s *Server) setSessionCookie(w http.ResponseWriter, sess *session.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    sess.Token,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		Secure:   s.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   s.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

// instrument counts requests by route pattern and status.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		if s.metrics != nil {
			s.metrics.Requests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		}
		level.Debug(s.logger).Log("method", r.Method, "route", route, "status", status,
			"took", time.Since(start), "request_id", middleware.GetReqID(r.Context()))
	})
}

// recoverer turns a handler panic into a logged 500.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				level.Error(s.logger).Log("msg", "panic", "path", r.URL.Path, "panic", v,
					"request_id", middleware.GetReqID(r.Context()))
				s.writeMessage(w, http.StatusInternalServerError, false, "Internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeData(w, http.StatusOK, map[string]string{"status": "ok"})
}
