package notifications

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/bissquit/alert-relay/internal/pkg/ctxlog"
	"github.com/bissquit/alert-relay/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// errorMappings serve the /api/v1 endpoints.
var errorMappings = []httputil.ErrorMapping{
	{Error: ErrNotificationNotFound, Status: http.StatusNotFound, Message: "notification not found"},
	{Error: ErrInvalidRequest, Status: http.StatusBadRequest},
}

// dispatchStatus maps dispatch errors to the status of the dispatch endpoint.
var dispatchStatus = []httputil.ErrorMapping{
	{Error: ErrInvalidRequest, Status: http.StatusBadRequest},
	{Error: ErrUnsupportedChannel, Status: http.StatusBadRequest},
	{Error: ErrDuplicateRequest, Status: http.StatusConflict},
	{Error: ErrRateLimitExceeded, Status: http.StatusTooManyRequests},
	{Error: ErrProviderDelivery, Status: http.StatusBadGateway},
	{Error: ErrSettingsLookup, Status: http.StatusInternalServerError},
}

// Handler handles HTTP requests for the notifications module.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new notifications handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterFunctionRoutes registers the trigger and dispatch endpoints.
func (h *Handler) RegisterFunctionRoutes(r chi.Router) {
	r.Post("/process-notification-queue", h.ProcessQueue)
	r.Post("/send-alert-notification", h.SendAlertNotification)
}

// RegisterRoutes registers the queue, delivery log and settings endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/notifications", h.Enqueue)
	r.Get("/notifications/{id}", h.GetNotification)

	r.Route("/users/{userID}", func(r chi.Router) {
		r.Get("/delivery-logs", h.ListDeliveryLogs)
		r.Get("/notification-settings", h.GetSettings)
		r.Put("/notification-settings", h.UpdateSettings)
	})
}

// ProcessQueueResponse is the reply of the queue trigger.
type ProcessQueueResponse struct {
	Success   bool `json:"success"`
	Processed int  `json:"processed"`
	Failed    int  `json:"failed"`
}

// ProcessQueue handles POST /functions/v1/process-notification-queue.
func (h *Handler) ProcessQueue(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.ProcessQueue(r.Context())
	if err != nil {
		ctxlog.FromContext(r.Context()).Error("queue processing failed", "error", err)
		httputil.Error(w, http.StatusInternalServerError, err.Error())
		return
	}

	httputil.JSON(w, http.StatusOK, ProcessQueueResponse{
		Success:   true,
		Processed: result.Processed,
		Failed:    result.Failed,
	})
}

// SendAlertNotification handles POST /functions/v1/send-alert-notification.
func (h *Handler) SendAlertNotification(w http.ResponseWriter, r *http.Request) {
	var req NotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	result, err := h.service.Dispatch(r.Context(), r.Header.Get("Idempotency-Key"), req)
	if err != nil {
		status := httputil.StatusFor(err, dispatchStatus)
		if status == http.StatusInternalServerError {
			ctxlog.FromContext(r.Context()).Error("dispatch failed", "error", err)
		}
		httputil.JSON(w, status, result)
		return
	}

	httputil.JSON(w, http.StatusOK, result)
}

// Enqueue handles POST /api/v1/notifications.
func (h *Handler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var in EnqueueInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(in); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	n, err := h.service.Enqueue(r.Context(), in)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusCreated, n)
}

// GetNotification handles GET /api/v1/notifications/{id}.
func (h *Handler) GetNotification(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if uuid.Validate(id) != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid notification id")
		return
	}

	n, err := h.service.GetNotification(r.Context(), id)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, n)
}

// ListDeliveryLogs handles GET /api/v1/users/{userID}/delivery-logs.
func (h *Handler) ListDeliveryLogs(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httputil.Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := h.service.ListDeliveryLogs(r.Context(), userID, limit)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, entries)
}

// GetSettings handles GET /api/v1/users/{userID}/notification-settings.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	settings, err := h.service.GetSettings(r.Context(), userID)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, settings)
}

// UpdateSettings handles PUT /api/v1/users/{userID}/notification-settings.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	var in UpdateSettingsInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := h.validator.Struct(in); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	settings, err := h.service.UpdateSettings(r.Context(), userID, in)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, settings)
}

func userIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := chi.URLParam(r, "userID")
	if err := uuid.Validate(userID); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid user id")
		return "", false
	}
	return userID, true
}
