package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"marketplace-chat/internal/models"
	"marketplace-chat/internal/presence"
	"marketplace-chat/internal/services"
	"marketplace-chat/pkg/logger"
)

const internalKeyHeader = "X-Internal-Key"

// InternalHandlers is the HTTP surface for other backend modules: they use
// it to raise notifications and to close conversations.
type InternalHandlers struct {
	conversations *services.ConversationService
	notifications *services.NotificationService
	gateway       *WebSocketHandlers
	presence      *presence.Registry
	apiKey        string
}

func NewInternalHandlers(conversations *services.ConversationService, notifications *services.NotificationService, gateway *WebSocketHandlers, registry *presence.Registry, apiKey string) *InternalHandlers {
	return &InternalHandlers{
		conversations: conversations,
		notifications: notifications,
		gateway:       gateway,
		presence:      registry,
		apiKey:        apiKey,
	}
}

type notifyRequest struct {
	RecipientIDs []int64 `json:"recipientIds"`
	Title        string  `json:"title"`
	Message      string  `json:"message"`
	Category     string  `json:"category"`
	Path         string  `json:"path"`
}

type jobEventRequest struct {
	RecipientIDs []int64 `json:"recipientIds"`
	JobID        int64   `json:"jobId"`
	Kind         string  `json:"kind"`
	JobTitle     string  `json:"jobTitle"`
}

type offerEventRequest struct {
	RecipientID int64  `json:"recipientId"`
	JobID       int64  `json:"jobId"`
	OfferID     int64  `json:"offerId"`
	Kind        string `json:"kind"`
	JobTitle    string `json:"jobTitle"`
}

type reviewEventRequest struct {
	RecipientID  int64  `json:"recipientId"`
	JobID        int64  `json:"jobId"`
	Rating       int    `json:"rating"`
	ReviewerName string `json:"reviewerName"`
}

type deliveredResponse struct {
	Requested     int                    `json:"requested"`
	Created       int                    `json:"created"`
	Notifications []*models.Notification `json:"notifications"`
}

// Register mounts the routes. Without an API key only /healthz is served.
func (h *InternalHandlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Health)
	if h.apiKey == "" {
		logger.Info("Internal API disabled (INTERNAL_API_KEY not set)")
		return
	}
	mux.Handle("POST /internal/notifications", h.guard(h.Notify))
	mux.Handle("POST /internal/events/job", h.guard(h.JobEvent))
	mux.Handle("POST /internal/events/offer", h.guard(h.OfferEvent))
	mux.Handle("POST /internal/events/review", h.guard(h.ReviewEvent))
	mux.Handle("POST /internal/rooms/{id}/deactivate", h.guard(h.DeactivateRoom))
}

func (h *InternalHandlers) guard(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(internalKeyHeader)
		if subtle.ConstantTimeCompare([]byte(key), []byte(h.apiKey)) != 1 {
			logger.Warn("Rejected internal request to %s from %s", r.URL.Path, r.RemoteAddr)
			writeJSON(w, http.StatusUnauthorized, models.Failed(models.ErrAuthenticationFailed))
			return
		}
		next(w, r)
	})
}

func (h *InternalHandlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.OK("", map[string]interface{}{
		"status": "ok",
		"online": h.presence.OnlineCount(),
	}))
}

func (h *InternalHandlers) Notify(w http.ResponseWriter, r *http.Request) {
	var req notifyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.RecipientIDs) == 0 || req.Title == "" || req.Message == "" {
		writeError(w, fmt.Errorf("%w: recipientIds, title and message are required", models.ErrInvalidArgument))
		return
	}
	category := req.Category
	if category == "" {
		category = services.CategorySystem
	}

	created := h.notifications.NotifyMany(r.Context(), req.RecipientIDs, services.NotificationInput{
		Title:    req.Title,
		Message:  req.Message,
		Category: category,
		Path:     req.Path,
	})
	writeJSON(w, http.StatusOK, models.OK("notifications processed", deliveredResponse{
		Requested:     len(req.RecipientIDs),
		Created:       len(created),
		Notifications: created,
	}))
}

func (h *InternalHandlers) JobEvent(w http.ResponseWriter, r *http.Request) {
	var req jobEventRequest
	if !decodeBody(w, r, &req) {
		return
	}
	kind, err := services.ParseJobEventKind(req.Kind)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(req.RecipientIDs) == 0 || req.JobID <= 0 {
		writeError(w, fmt.Errorf("%w: recipientIds and jobId are required", models.ErrInvalidArgument))
		return
	}

	created := h.notifications.NotifyJobEvent(r.Context(), req.RecipientIDs, services.JobEvent{
		JobID:    req.JobID,
		JobTitle: req.JobTitle,
		Kind:     kind,
	})
	writeJSON(w, http.StatusOK, models.OK("notifications processed", deliveredResponse{
		Requested:     len(req.RecipientIDs),
		Created:       len(created),
		Notifications: created,
	}))
}

func (h *InternalHandlers) OfferEvent(w http.ResponseWriter, r *http.Request) {
	var req offerEventRequest
	if !decodeBody(w, r, &req) {
		return
	}
	kind, err := services.ParseOfferEventKind(req.Kind)
	if err != nil {
		writeError(w, err)
		return
	}
	if req.RecipientID <= 0 || req.JobID <= 0 || req.OfferID <= 0 {
		writeError(w, fmt.Errorf("%w: recipientId, jobId and offerId are required", models.ErrInvalidArgument))
		return
	}

	n := h.notifications.NotifyOfferEvent(r.Context(), req.RecipientID, services.OfferEvent{
		JobID:    req.JobID,
		OfferID:  req.OfferID,
		JobTitle: req.JobTitle,
		Kind:     kind,
	})
	writeJSON(w, http.StatusOK, models.OK("notification processed", singleResult(n)))
}

func (h *InternalHandlers) ReviewEvent(w http.ResponseWriter, r *http.Request) {
	var req reviewEventRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.RecipientID <= 0 || req.JobID <= 0 || req.Rating < 1 || req.Rating > 5 {
		writeError(w, fmt.Errorf("%w: recipientId, jobId and a rating from 1 to 5 are required", models.ErrInvalidArgument))
		return
	}

	n := h.notifications.NotifyReviewEvent(r.Context(), req.RecipientID, services.ReviewEvent{
		JobID:        req.JobID,
		Rating:       req.Rating,
		ReviewerName: req.ReviewerName,
	})
	writeJSON(w, http.StatusOK, models.OK("notification processed", singleResult(n)))
}

func (h *InternalHandlers) DeactivateRoom(w http.ResponseWriter, r *http.Request) {
	roomID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || roomID <= 0 {
		writeError(w, fmt.Errorf("%w: invalid room id", models.ErrInvalidArgument))
		return
	}

	info, err := h.conversations.DeactivateRoom(r.Context(), roomID)
	if err != nil {
		logger.Error("Deactivate room %d: %v", roomID, err)
		writeError(w, err)
		return
	}

	payload := map[string]int64{"roomId": roomID}
	for _, participant := range []int64{info.CreatorID, info.WorkerID} {
		if err := h.gateway.SendToPrincipal(participant, models.EventRoomClosed, payload).Err(); err != nil {
			logger.Warn("room_closed for user %d: %v", participant, err)
		}
	}
	writeJSON(w, http.StatusOK, models.OK("room deactivated", info))
}

func singleResult(n *models.Notification) deliveredResponse {
	res := deliveredResponse{Requested: 1, Notifications: []*models.Notification{}}
	if n != nil {
		res.Created = 1
		res.Notifications = append(res.Notifications, n)
	}
	return res
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, fmt.Errorf("%w: invalid request body", models.ErrInvalidArgument))
		return false
	}
	return true
}

func statusFor(err error) int {
	switch models.ErrorCode(err) {
	case models.CodeAuthenticationFailed:
		return http.StatusUnauthorized
	case models.CodeForbidden:
		return http.StatusForbidden
	case models.CodeNotFound:
		return http.StatusNotFound
	case models.CodeInvalidArgument:
		return http.StatusBadRequest
	case models.CodeUpstreamFailure:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), models.Failed(err))
}

func writeJSON(w http.ResponseWriter, status int, body models.Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("Error writing response: %v", err)
	}
}
