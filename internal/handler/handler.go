package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"bonus-planner-api/internal/models"
	"bonus-planner-api/internal/service"
	"bonus-planner-api/internal/validation"
)

// Handler provides HTTP handlers for the API.
type Handler struct {
	service     *service.Service
	maxBodySize int64
	logger      *zap.Logger
}

// NewHandlerOptions holds options for creating a handler.
type NewHandlerOptions struct {
	MaxBodySize int64
	Logger      *zap.Logger
}

// DefaultHandlerOptions returns default handler options.
func DefaultHandlerOptions() NewHandlerOptions {
	return NewHandlerOptions{
		MaxBodySize: 10 << 20, // 10MB default
		Logger:      zap.NewNop(),
	}
}

// NewHandler creates a new handler instance.
func NewHandler(svc *service.Service) *Handler {
	return NewHandlerWithOptions(svc, DefaultHandlerOptions())
}

// NewHandlerWithOptions creates a new handler instance with custom options.
func NewHandlerWithOptions(svc *service.Service, opts NewHandlerOptions) *Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Handler{
		service:     svc,
		maxBodySize: opts.MaxBodySize,
		logger:      opts.Logger,
	}
}

// Register mounts the API routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Route("/offers", func(r chi.Router) {
			r.Get("/", h.ListOffers)
			r.Post("/", h.CreateOffer)
			r.Get("/{id}", h.GetOffer)
			r.Put("/{id}", h.UpdateOffer)
			r.Delete("/{id}", h.DeleteOffer)
			r.Post("/{id}/refresh", h.RefreshOffer)
		})
		r.Post("/planning/generate", h.GeneratePlan)
		r.Get("/storage/stats", h.Stats)
		r.Post("/storage/backup", h.Backup)
		r.Get("/features", h.ListFeatures)
		r.Put("/features/{name}", h.SetFeature)
	})
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Ping(r.Context()); err != nil {
		h.respondError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// ListOffers handles GET /api/offers
func (h *Handler) ListOffers(w http.ResponseWriter, r *http.Request) {
	offers, err := h.service.ListOffers(r.Context())
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, offers)
}

// CreateOffer handles POST /api/offers
func (h *Handler) CreateOffer(w http.ResponseWriter, r *http.Request) {
	var req models.CreateOfferRequest
	if !h.decode(w, r, &req) {
		return
	}

	offer, err := h.service.CreateOffer(r.Context(), req)
	var dup *service.DuplicateOfferError
	if errors.As(err, &dup) {
		h.respondJSON(w, http.StatusConflict, models.DuplicateOfferResponse{
			Error:            "This offer is already being tracked.",
			DuplicateOfferID: dup.Existing.ID,
			DuplicateOffer:   dup.Existing,
		})
		return
	}
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respondJSON(w, http.StatusCreated, offer)
}

// GetOffer handles GET /api/offers/{id}
func (h *Handler) GetOffer(w http.ResponseWriter, r *http.Request) {
	id, ok := h.offerID(w, r)
	if !ok {
		return
	}

	offer, err := h.service.GetOffer(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, offer)
}

// UpdateOffer handles PUT /api/offers/{id}
func (h *Handler) UpdateOffer(w http.ResponseWriter, r *http.Request) {
	id, ok := h.offerID(w, r)
	if !ok {
		return
	}

	var req models.UpdateOfferRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.Field = validation.SanitizeString(req.Field)

	offer, err := h.service.UpdateOffer(r.Context(), id, req)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, offer)
}

// DeleteOffer handles DELETE /api/offers/{id}
func (h *Handler) DeleteOffer(w http.ResponseWriter, r *http.Request) {
	id, ok := h.offerID(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteOffer(r.Context(), id); err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, models.MessageResponse{Message: "Offer deleted successfully"})
}

// RefreshOffer handles POST /api/offers/{id}/refresh. An empty body
// re-extracts the whole offer.
func (h *Handler) RefreshOffer(w http.ResponseWriter, r *http.Request) {
	id, ok := h.offerID(w, r)
	if !ok {
		return
	}

	var req models.RefreshOfferRequest
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		h.respondError(w, http.StatusBadRequest, "invalid JSON in request body")
		return
	}

	if field := validation.SanitizeString(req.Field); field != "" {
		if err := h.service.RefreshField(r.Context(), id, field); err != nil {
			h.respondServiceError(w, err)
			return
		}
		h.respondJSON(w, http.StatusAccepted, models.RefreshFieldResponse{Status: "refreshing", Field: field})
		return
	}

	offer, err := h.service.RefreshOffer(r.Context(), id, req.URL)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, offer)
}

// GeneratePlan handles POST /api/planning/generate
func (h *Handler) GeneratePlan(w http.ResponseWriter, r *http.Request) {
	var req models.GeneratePlanRequest
	if !h.decode(w, r, &req) {
		return
	}

	plan, err := h.service.GeneratePlan(r.Context(), req.Params())
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, plan)
}

// Stats handles GET /api/storage/stats
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, stats)
}

// Backup handles POST /api/storage/backup
func (h *Handler) Backup(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.Backup(r.Context())
	if err != nil {
		h.logger.Error("backup failed", zap.Error(err))
		h.respondError(w, http.StatusInternalServerError, "Failed to create backup")
		return
	}
	h.respondJSON(w, http.StatusOK, resp)
}

// ListFeatures handles GET /api/features
func (h *Handler) ListFeatures(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.service.Features().All())
}

type setFeatureRequest struct {
	Enabled *bool `json:"enabled"`
}

// SetFeature handles PUT /api/features/{name}
func (h *Handler) SetFeature(w http.ResponseWriter, r *http.Request) {
	name := validation.SanitizeString(chi.URLParam(r, "name"))

	var req setFeatureRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Enabled == nil {
		h.respondError(w, http.StatusBadRequest, "enabled is required")
		return
	}

	if !h.service.Features().Set(name, *req.Enabled) {
		h.respondError(w, http.StatusNotFound, "Feature not found")
		return
	}
	h.respondJSON(w, http.StatusOK, models.MessageResponse{Message: "Feature updated"})
}

// decode reads a required JSON body into dst, answering 400 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	// Limit request body size to prevent abuse
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if err == io.EOF {
			h.respondError(w, http.StatusBadRequest, "request body is required")
			return false
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		h.respondError(w, http.StatusBadRequest, "invalid JSON in request body")
		return false
	}
	return true
}

func (h *Handler) offerID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id < 1 {
		h.respondError(w, http.StatusNotFound, "Offer not found")
		return 0, false
	}
	return id, true
}

// respondServiceError maps service errors to status codes.
func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	var verr *validation.ValidationError
	switch {
	case errors.As(err, &verr):
		status := http.StatusBadRequest
		if verr.Message == validation.MsgInvalidURL {
			status = http.StatusUnprocessableEntity
		}
		h.respondError(w, status, verr.Error())
	case errors.Is(err, service.ErrOfferNotFound):
		h.respondError(w, http.StatusNotFound, "Offer not found")
	case errors.Is(err, service.ErrNoPlan):
		h.respondError(w, http.StatusNotFound, "No unopened offers available for planning")
	case errors.Is(err, service.ErrNoExtractor):
		h.respondError(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.logger.Error("request failed", zap.Error(err))
		h.respondError(w, http.StatusInternalServerError, "internal server error")
	}
}

// respondJSON sends a JSON response with the given status code.
func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response with the given status code and message.
func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, models.ErrorResponse{Error: message})
}
