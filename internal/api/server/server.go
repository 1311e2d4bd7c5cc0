package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/xela07ax/procurement-approvals/internal/api/handler"
	"github.com/xela07ax/procurement-approvals/internal/infra/auth"
	"go.uber.org/zap"
)

type Options struct {
	// Validator включает привязку участника к токену. При nil личность берется из тела.
	Validator    auth.TokenValidator
	MaxBodyBytes int64
	Metrics      http.Handler
}

type APIServer struct {
	router *chi.Mux
	logger *zap.Logger
	opts   Options

	workflowHandler  *handler.WorkflowHandler  // /workflows
	referenceHandler *handler.ReferenceHandler // /document-types, /roles
	healthHandler    *handler.HealthHandler    // /health
}

// NewAPIServer собирает HTTP API сервиса согласований.
func NewAPIServer(
	logger *zap.Logger,
	opts Options,
	workflowH *handler.WorkflowHandler,
	referenceH *handler.ReferenceHandler,
	healthH *handler.HealthHandler,
) *APIServer {
	s := &APIServer{
		router:           chi.NewRouter(),
		logger:           logger.Named("approvals-api"),
		opts:             opts,
		workflowHandler:  workflowH,
		referenceHandler: referenceH,
		healthHandler:    healthH,
	}

	s.routes()
	return s
}

func (s *APIServer) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(TracingMiddleware)
	r.Use(AccessLog(s.logger))
	r.Use(middleware.Recoverer)

	// --- 2. Служебные роуты ---
	r.Get("/health", s.healthHandler.Health)
	if s.opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.opts.Metrics)
	}

	// --- 3. API: с токеном, если задан ключ IdP ---
	r.Group(func(r chi.Router) {
		if s.opts.Validator != nil {
			r.Use(auth.NewMiddleware(s.opts.Validator, s.logger))
		}
		r.Use(LimitBody(s.opts.MaxBodyBytes))

		r.Get("/document-types", s.referenceHandler.ListDocumentTypes)
		r.Get("/document-types/{type}", s.referenceHandler.GetDocumentType)
		r.Get("/roles/{id}", s.referenceHandler.GetRole)

		r.Route("/workflows/{documentId}", func(r chi.Router) {
			r.Get("/", s.workflowHandler.Get)
			r.Get("/history", s.workflowHandler.History)
			r.Post("/draft", s.workflowHandler.Draft)
			r.Post("/submit", s.workflowHandler.Submit)
			r.Post("/actions", s.workflowHandler.Act)
			r.Post("/resubmit", s.workflowHandler.Resubmit)
			r.Post("/attachments", s.workflowHandler.Upload)
			r.Get("/attachments/{attachmentId}", s.workflowHandler.Download)
		})
	})
}

// ServeHTTP позволяет использовать APIServer как стандартный http.Handler
func (s *APIServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
