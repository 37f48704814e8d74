// Package http exposes the analytics read API over chi: segment
// overviews, per-customer lookups and classification of new feature
// vectors.
package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	apierrors "segcli/internal/errors"
	"segcli/internal/services"
)

// AnalyticsHandler handles the analytics endpoints.
type AnalyticsHandler struct {
	service      *services.AnalyticsService
	logger       *slog.Logger
	errorHandler *apierrors.ErrorHandler
	validate     *validator.Validate
}

// NewAnalyticsHandler creates the handler.
func NewAnalyticsHandler(service *services.AnalyticsService, logger *slog.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{
		service:      service,
		logger:       logger,
		errorHandler: apierrors.NewErrorHandler(logger, false),
		validate:     validator.New(),
	}
}

// RegisterRoutes mounts the analytics routes.
func (h *AnalyticsHandler) RegisterRoutes(r chi.Router) {
	r.Route("/analytics", func(r chi.Router) {
		r.Get("/overview", h.GetOverview)
		r.Get("/segments", h.GetSegments)
		r.Get("/summary", h.GetSummary)
		r.Get("/customer/{customerID}", h.GetCustomer)
		r.Post("/classify", h.Classify)
		r.Post("/reload", h.Reload)
	})
}

// GetOverview returns base-wide totals.
func (h *AnalyticsHandler) GetOverview(w http.ResponseWriter, r *http.Request) {
	overview, err := h.service.Overview(r.Context())
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, overview)
}

// GetSegments returns the per-segment profiles.
func (h *AnalyticsHandler) GetSegments(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.service.Segments(r.Context())
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]any{"segments": profiles})
}

// GetSummary returns RFM distribution statistics.
func (h *AnalyticsHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.service.Summary(r.Context())
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]any{"features": summaries})
}

// GetCustomer returns one customer's features and model outputs.
func (h *AnalyticsHandler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "customerID")

	detail, err := h.service.Customer(r.Context(), customerID)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, detail)
}

// ClassifyRequest is the classification request body.
type ClassifyRequest struct {
	Recency   float64 `json:"recency" validate:"gte=0"`
	Frequency float64 `json:"frequency" validate:"gt=0"`
	Monetary  float64 `json:"monetary" validate:"gt=0"`
}

// Bind implements render.Binder.
func (req *ClassifyRequest) Bind(r *http.Request) error {
	return nil
}

// Classify scores a raw RFM vector against the fitted models.
func (h *AnalyticsHandler) Classify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ClassifyRequest
	if err := render.Bind(r, &req); err != nil {
		h.errorHandler.HandleError(w, r, apierrors.InvalidRequestWithError(err))
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		h.errorHandler.HandleError(w, r, validationProblem(err))
		return
	}

	result, err := h.service.Classify(ctx, req.Recency, req.Frequency, req.Monetary)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.logger.InfoContext(ctx, "classified feature vector",
		slog.Int("cluster", result.Cluster),
		slog.String("segment", result.Segment))
	render.JSON(w, r, result)
}

// Reload drops the artifact cache, picking up freshly trained models
// without a restart.
func (h *AnalyticsHandler) Reload(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Reload(r.Context()); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]any{"reloaded": true, "loaded_at": h.service.LoadedAt()})
}

// validationProblem converts validator errors into the API error model.
func validationProblem(err error) *apierrors.APIError {
	if fieldErrors, ok := err.(validator.ValidationErrors); ok && len(fieldErrors) > 0 {
		details := make([]apierrors.ValidationError, 0, len(fieldErrors))
		for _, fe := range fieldErrors {
			details = append(details, apierrors.ValidationError{
				Field:   fe.Field(),
				Message: "failed " + fe.Tag() + " validation",
			})
		}
		return apierrors.NewWithDetails(http.StatusBadRequest, "VALIDATION_FAILED", "Request validation failed", details)
	}
	return apierrors.ErrValidationFailed
}
