package http

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/fjod/commerce-pipeline/notification-service/internal/store"
	"github.com/fjod/commerce-pipeline/pkg/auth"
	"github.com/fjod/commerce-pipeline/pkg/httpapi"
	"github.com/go-chi/chi/v5"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

type NotificationLister interface {
	ListByRecipient(ctx context.Context, recipient string, limit int) ([]store.Notification, error)
}

type NotificationsHandler struct {
	notifications NotificationLister
	log           *slog.Logger
}

func NewNotificationsHandler(notifications NotificationLister, log *slog.Logger) *NotificationsHandler {
	return &NotificationsHandler{notifications: notifications, log: log}
}

// Routes mounts under /api/notifications.
func (h *NotificationsHandler) Routes(v *auth.Verifier) chi.Router {
	r := chi.NewRouter()
	r.Use(auth.Middleware(v, auth.RoleUser, auth.RoleAdmin))
	r.Get("/me", h.ListMine)
	return r
}

type NotificationDTO struct {
	ID      int64     `json:"id"`
	Topic   string    `json:"topic"`
	Subject string    `json:"subject"`
	Body    string    `json:"body"`
	SentAt  time.Time `json:"sentAt"`
}

type NotificationListDTO struct {
	Notifications []NotificationDTO `json:"notifications"`
}

// GET /api/notifications/me?limit=
func (h *NotificationsHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	if p.Email == "" {
		httpapi.RespondError(w, http.StatusBadRequest, "missing_email", "Token carries no email address")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = defaultLimit
	}
	limit = min(limit, maxLimit)

	sent, err := h.notifications.ListByRecipient(r.Context(), p.Email, limit)
	if err != nil {
		httpapi.RespondInternal(w, r, h.log, err)
		return
	}

	resp := NotificationListDTO{Notifications: make([]NotificationDTO, 0, len(sent))}
	for _, n := range sent {
		resp.Notifications = append(resp.Notifications, NotificationDTO{
			ID:      n.ID,
			Topic:   n.Topic,
			Subject: n.Subject,
			Body:    n.Body,
			SentAt:  n.SentAt,
		})
	}
	httpapi.RespondJSON(w, http.StatusOK, resp)
}
