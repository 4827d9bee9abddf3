package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/mind-engage/mindengage-qbank/internal/attempt"
	auth "github.com/mind-engage/mindengage-qbank/internal/auth/middleware"
	"github.com/mind-engage/mindengage-qbank/internal/bank"
	"github.com/mind-engage/mindengage-qbank/internal/capture"
	"github.com/mind-engage/mindengage-qbank/internal/logger"
	"github.com/mind-engage/mindengage-qbank/internal/metrics"
	"github.com/mind-engage/mindengage-qbank/internal/rbac"
	"github.com/mind-engage/mindengage-qbank/internal/storage"
)

type Deps struct {
	Auth     *auth.AuthService
	Login    auth.LoginConfig
	Bank     *bank.Bank
	Attempts *attempt.Service
	Capturer *capture.Capturer
	Blobs    storage.BlobStore
	Limiter  *Limiter
	Metrics  *metrics.Metrics
	Log      *zap.Logger

	CORSOrigins    []string
	MaxUploadBytes int64
	// Ready backs /readyz; nil means always ready.
	Ready func(ctx context.Context) error
}

func NewRouter(d Deps) http.Handler {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Capturer == nil {
		d.Capturer = capture.New(capture.DefaultPolicy)
	}
	if d.MaxUploadBytes <= 0 {
		d.MaxUploadBytes = capture.DefaultPolicy.MaxBytes
	}
	log := d.Log

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, logger.Middleware(log), middleware.Recoverer)
	r.Use(d.Metrics.Middleware)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if d.Ready != nil {
			if err := d.Ready(r.Context()); err != nil {
				log.Warn("not ready", zap.Error(err))
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	})
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())
	}

	r.Post("/auth/login", auth.LoginHandler(d.Auth, d.Login, log))

	// Protected API (JWT → actor in context → RBAC)
	r.Group(func(pr chi.Router) {
		pr.Use(auth.JWTMiddleware(d.Auth))

		// Authoring
		pr.With(rbac.Require(rbac.PermQuestionCreate)).Post("/questions", CreateQuestionHandler(d.Bank, log))
		pr.With(rbac.Require(rbac.PermQuestionView)).Get("/questions", SearchQuestionsHandler(d.Bank, log))
		pr.With(rbac.Require(rbac.PermQuestionView)).Get("/questions/{id}", GetQuestionHandler(d.Bank, log))
		pr.With(rbac.Require(rbac.PermQuestionEdit)).Put("/questions/{id}", UpdateQuestionHandler(d.Bank, log))
		pr.With(rbac.Require(rbac.PermQuestionEdit)).Delete("/questions/{id}", DeactivateQuestionHandler(d.Bank, log))

		pr.With(rbac.Require(rbac.PermQuestionCreate)).Post("/assessments", CreateAssessmentHandler(d.Bank, log))
		pr.With(rbac.RequireAny(rbac.PermAttemptCreate, rbac.PermQuestionView)).
			Get("/assessments/{id}", GetAssessmentHandler(d.Bank, log))

		pr.With(rbac.Require(rbac.PermQuestionCreate)).Post("/media", UploadMediaHandler(d.Blobs, d.MaxUploadBytes, log))
		pr.With(rbac.RequireAny(rbac.PermQuestionView, rbac.PermAttemptViewOwn)).Get("/media/*", GetMediaHandler(d.Blobs, d.Attempts, log))

		// Attempts
		pr.With(rbac.Require(rbac.PermAttemptCreate)).Post("/attempts", StartAttemptHandler(d.Attempts, log))
		pr.With(rbac.RequireAny(rbac.PermAttemptViewOwn, rbac.PermAttemptViewAll)).
			Get("/attempts/{attemptID}", GetAttemptHandler(d.Attempts, log))
		pr.With(rbac.Require(rbac.PermAttemptSave), d.Limiter.Middleware).
			Post("/attempts/{attemptID}/answers", AnswerHandler(d.Attempts, log))
		pr.With(rbac.Require(rbac.PermAttemptSave), d.Limiter.Middleware).
			Post("/attempts/{attemptID}/tick", TickHandler(d.Attempts, log))
		pr.With(rbac.Require(rbac.PermAttemptSave), d.Limiter.Middleware).
			Post("/attempts/{attemptID}/files", UploadAnswerHandler(d.Attempts, d.Capturer, d.Blobs, d.MaxUploadBytes, log))
		pr.With(rbac.Require(rbac.PermAttemptSubmit)).
			Post("/attempts/{attemptID}/submit", SubmitHandler(d.Attempts, log))
		pr.With(rbac.Require(rbac.PermAttemptGrade)).
			Post("/attempts/{attemptID}/grading", GradeHandler(d.Attempts, log))
	})

	return r
}
