// Package api serves the collector over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"igcollector/internal/worker"
	errs "igcollector/pkg/errors"
	"igcollector/pkg/logger"
	"igcollector/pkg/metrics"
	"igcollector/pkg/models"
	"igcollector/pkg/scraper"
	"igcollector/pkg/storage"
)

const (
	defaultLimit = 20
	maxLimit     = 200
)

// SessionInitializer creates or refreshes a session from credentials
type SessionInitializer interface {
	InitSession(ctx context.Context, username, secret string) (*models.Session, error)
}

// Fetcher runs fetches synchronously
type Fetcher interface {
	SearchHashtags(ctx context.Context, tags []string, amountPerTag int) scraper.Batch
}

// Jobs runs fetches in the background
type Jobs interface {
	Submit(target models.Target) (worker.Status[scraper.Result], error)
	Get(id string) (worker.Status[scraper.Result], error)
}

// Handler holds the dependencies of every endpoint
type Handler struct {
	store   storage.Store
	init    SessionInitializer
	fetcher Fetcher
	jobs    Jobs
	logger  logger.Logger
}

// NewHandler creates a handler
func NewHandler(store storage.Store, init SessionInitializer, fetcher Fetcher, jobs Jobs, log logger.Logger) *Handler {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Handler{
		store:   store,
		init:    init,
		fetcher: fetcher,
		jobs:    jobs,
		logger:  log.WithField("component", "api"),
	}
}

// Router returns the routes of the service
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(h.requestLogger)
	r.Use(chiMiddleware.Recoverer)

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", h.ListSessions)
		r.Post("/init", h.InitSession)
		r.Get("/{id}", h.GetSession)
		r.Put("/{id}", h.UpdateSession)
		r.Delete("/{id}", h.DeleteSession)
	})

	r.Post("/fetch", h.SubmitFetch)
	r.Get("/jobs/{id}", h.GetJob)
	r.Post("/hashtags/search", h.SearchHashtags)

	r.Route("/content", func(r chi.Router) {
		r.Get("/", h.ListContent)
		r.Get("/{kind}/{name}", h.GetContent)
		r.Delete("/{id}", h.DeleteContent)
	})

	return r
}

// Health reports liveness
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logger.LogRequest(h.logger, r.Method, r.URL.Path, ww.Status(), float64(time.Since(start).Microseconds())/1000)
	})
}

// JSON writes a JSON response.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, code, message string) {
	JSON(w, status, map[string]string{"error": message, "code": code})
}

// fail maps a typed error to its HTTP status
func (h *Handler) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.WithError(err).Error("Request failed")
	}
	Error(w, status, errs.Code(err), err.Error())
}

func statusFor(err error) int {
	switch errs.TypeOf(err) {
	case errs.ErrorTypeInvalidInput:
		return http.StatusBadRequest
	case errs.ErrorTypeNotFound:
		return http.StatusNotFound
	case errs.ErrorTypeSessionBlocked:
		return http.StatusConflict
	case errs.ErrorTypeNoSessionAvailable, errs.ErrorTypeExhaustedRetries:
		return http.StatusServiceUnavailable
	case errs.ErrorTypeChallengeRequired, errs.ErrorTypeStaleSession,
		errs.ErrorTypeSoftRestriction, errs.ErrorTypeCooldown:
		return http.StatusBadGateway
	case errs.ErrorTypeCancelled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func decode(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errs.Wrap(errs.ErrorTypeInvalidInput, "malformed request body", err)
	}
	return nil
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errs.New(errs.ErrorTypeInvalidInput, "id must be a positive integer")
	}
	return id, nil
}

// paging reads offset and limit from the query string
func paging(r *http.Request) (offset, limit int, err error) {
	q := r.URL.Query()
	limit = defaultLimit
	if v := q.Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			return 0, 0, errs.New(errs.ErrorTypeInvalidInput, "offset must be a non-negative integer")
		}
	}
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 1 {
			return 0, 0, errs.New(errs.ErrorTypeInvalidInput, "limit must be a positive integer")
		}
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return offset, limit, nil
}
