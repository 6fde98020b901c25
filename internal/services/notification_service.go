package services

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"marketplace-chat/internal/database"
	"marketplace-chat/internal/models"
	"marketplace-chat/internal/telemetry"
	"marketplace-chat/internal/websocket"
	"marketplace-chat/pkg/logger"

	"golang.org/x/sync/errgroup"
)

// Notification categories, stored in the notification subtitle column.
const (
	CategoryMessage = "message"
	CategoryJob     = "job"
	CategoryOffer   = "offer"
	CategoryReview  = "review"
	CategoryDirect  = "direct"
	CategorySystem  = "system"
)

const (
	maxTitleLength        = 120
	maxNotificationLength = 1000
	messagePreviewLength  = 100
)

type NotificationInput struct {
	Title    string
	Message  string
	Category string
	Path     string
}

// NotificationService persists notifications and pushes them to inbox rooms.
// Persistence is the durability boundary; the push on top of it is
// best-effort and never reported to the caller.
type NotificationService struct {
	store       database.NotificationRepository
	identity    IdentityOracle
	rooms       RoomDirectory
	metrics     *telemetry.Metrics
	concurrency int
}

func NewNotificationService(store database.NotificationRepository, identity IdentityOracle, rooms RoomDirectory, metrics *telemetry.Metrics, concurrency int) *NotificationService {
	if concurrency <= 0 {
		concurrency = 8
	}
	return &NotificationService{
		store:       store,
		identity:    identity,
		rooms:       rooms,
		metrics:     metrics,
		concurrency: concurrency,
	}
}

// JoinInbox subscribes a connection to its own principal's inbox. A principal
// can never subscribe to another principal's inbox.
func (s *NotificationService) JoinInbox(ctx context.Context, connectionID string, principal models.Principal, targetPrincipalID int64) (*models.InboxState, error) {
	if targetPrincipalID != principal.ID {
		return nil, forbidden("cannot subscribe to another user's notifications")
	}

	unread, err := s.store.UnreadCount(ctx, principal.ID)
	if err != nil {
		return nil, upstream("unread count", err)
	}

	if err := s.rooms.Join(connectionID, websocket.NameForInbox(principal.ID)); err != nil {
		return nil, fmt.Errorf("join inbox: %w", err)
	}

	return &models.InboxState{PrincipalID: principal.ID, UnreadCount: unread}, nil
}

// LeaveInbox always targets the caller's own inbox.
func (s *NotificationService) LeaveInbox(connectionID string, principal models.Principal) error {
	return s.rooms.Leave(connectionID, websocket.NameForInbox(principal.ID))
}

// Notify persists a notification for recipientID and then pushes it to the
// recipient's inbox. Only a persistence failure is returned.
func (s *NotificationService) Notify(ctx context.Context, recipientID int64, in NotificationInput) (*models.Notification, error) {
	if recipientID <= 0 {
		return nil, invalidArgument("recipient id must be positive")
	}
	if strings.TrimSpace(in.Title) == "" || strings.TrimSpace(in.Message) == "" {
		return nil, invalidArgument("title and message are required")
	}

	n, err := s.store.CreateNotification(ctx, recipientID, in.Title, in.Category, in.Message, in.Path)
	if err != nil {
		return nil, upstream("create notification", err)
	}
	s.metrics.NotificationCreated(ctx, in.Category)

	s.deliver(ctx, n)
	return n, nil
}

// deliver pushes a stored notification. Failures are logged here and go no further.
func (s *NotificationService) deliver(ctx context.Context, n *models.Notification) {
	report := s.rooms.Broadcast(websocket.NameForInbox(n.RecipientID), models.EventNotificationReceived, n)
	if err := report.Err(); err != nil {
		logger.Warn("Notification %d for user %d not delivered: %v", n.ID, n.RecipientID, err)
		return
	}
	if report.Attempted == 0 {
		logger.Debug("Notification %d stored for offline user %d", n.ID, n.RecipientID)
	}
}

// NotifyMany notifies every recipient concurrently. A failure for one
// recipient is logged and does not affect the others; the notifications that
// were stored are returned in recipient order.
func (s *NotificationService) NotifyMany(ctx context.Context, recipientIDs []int64, in NotificationInput) []*models.Notification {
	results := make([]*models.Notification, len(recipientIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, recipientID := range recipientIDs {
		g.Go(func() error {
			n, err := s.Notify(gctx, recipientID, in)
			if err != nil {
				logger.Warn("Notification %q for user %d failed: %v", in.Category, recipientID, err)
				return nil
			}
			results[i] = n
			return nil
		})
	}
	_ = g.Wait()

	created := make([]*models.Notification, 0, len(results))
	for _, n := range results {
		if n != nil {
			created = append(created, n)
		}
	}
	return created
}

// notifyQuietly is Notify for callers in the middle of another operation:
// the error is logged and never returned.
func (s *NotificationService) notifyQuietly(ctx context.Context, recipientID int64, in NotificationInput) *models.Notification {
	n, err := s.Notify(ctx, recipientID, in)
	if err != nil {
		logger.Warn("Notification %q for user %d failed: %v", in.Category, recipientID, err)
		return nil
	}
	return n
}

// SendNotification handles the client-facing send_notification event: the
// sender is the authenticated caller and is recorded in the link path.
func (s *NotificationService) SendNotification(ctx context.Context, sender models.Principal, ev models.SendNotificationEvent) (*models.Notification, error) {
	if ev.PrincipalID == sender.ID {
		return nil, invalidArgument("cannot send a notification to yourself")
	}
	if strings.TrimSpace(ev.Title) == "" || strings.TrimSpace(ev.Message) == "" {
		return nil, invalidArgument("title and message are required")
	}
	if utf8.RuneCountInString(ev.Title) > maxTitleLength {
		return nil, invalidArgument("title must be at most %d characters", maxTitleLength)
	}
	if utf8.RuneCountInString(ev.Message) > maxNotificationLength {
		return nil, invalidArgument("message must be at most %d characters", maxNotificationLength)
	}

	exists, err := s.identity.Exists(ctx, ev.PrincipalID)
	if err != nil {
		return nil, upstream("recipient lookup", err)
	}
	if !exists {
		return nil, fmt.Errorf("user %d: %w", ev.PrincipalID, models.ErrNotFound)
	}

	category := ev.Category
	if category == "" {
		category = CategoryDirect
	}
	return s.Notify(ctx, ev.PrincipalID, NotificationInput{
		Title:    ev.Title,
		Message:  ev.Message,
		Category: category,
		Path:     fmt.Sprintf("/profile/%d", sender.ID),
	})
}

func MessagePath(roomID int64) string { return fmt.Sprintf("/messages/%d", roomID) }
func JobPath(jobID int64) string      { return fmt.Sprintf("/jobs/%d", jobID) }
func OfferPath(jobID, offerID int64) string {
	return fmt.Sprintf("/jobs/%d/offers/%d", jobID, offerID)
}
func ReviewPath(jobID int64) string { return fmt.Sprintf("/jobs/%d/reviews", jobID) }

// NotifyNewMessage tells recipientID that sender wrote msg.
func (s *NotificationService) NotifyNewMessage(ctx context.Context, recipientID int64, sender models.Principal, msg *models.Message) *models.Notification {
	return s.notifyQuietly(ctx, recipientID, NotificationInput{
		Title:    "New message from " + sender.DisplayName(),
		Message:  truncate(msg.Text, messagePreviewLength),
		Category: CategoryMessage,
		Path:     MessagePath(msg.RoomID),
	})
}

type JobEventKind string

const (
	JobAssigned  JobEventKind = "assigned"
	JobStarted   JobEventKind = "started"
	JobCompleted JobEventKind = "completed"
	JobCancelled JobEventKind = "cancelled"
)

func ParseJobEventKind(s string) (JobEventKind, error) {
	switch k := JobEventKind(s); k {
	case JobAssigned, JobStarted, JobCompleted, JobCancelled:
		return k, nil
	}
	return "", invalidArgument("unknown job event %q", s)
}

type JobEvent struct {
	JobID    int64
	JobTitle string
	Kind     JobEventKind
}

func (e JobEvent) text() (title, message string) {
	switch e.Kind {
	case JobAssigned:
		return "Job assigned", fmt.Sprintf("You have been assigned to %q.", e.JobTitle)
	case JobStarted:
		return "Job started", fmt.Sprintf("Work on %q has started.", e.JobTitle)
	case JobCompleted:
		return "Job completed", fmt.Sprintf("%q has been marked as completed.", e.JobTitle)
	case JobCancelled:
		return "Job cancelled", fmt.Sprintf("%q has been cancelled.", e.JobTitle)
	}
	return "Job updated", fmt.Sprintf("%q has been updated.", e.JobTitle)
}

func (s *NotificationService) NotifyJobEvent(ctx context.Context, recipientIDs []int64, ev JobEvent) []*models.Notification {
	title, message := ev.text()
	return s.NotifyMany(ctx, recipientIDs, NotificationInput{
		Title:    title,
		Message:  message,
		Category: CategoryJob,
		Path:     JobPath(ev.JobID),
	})
}

type OfferEventKind string

const (
	OfferReceived  OfferEventKind = "received"
	OfferAccepted  OfferEventKind = "accepted"
	OfferRejected  OfferEventKind = "rejected"
	OfferWithdrawn OfferEventKind = "withdrawn"
)

func ParseOfferEventKind(s string) (OfferEventKind, error) {
	switch k := OfferEventKind(s); k {
	case OfferReceived, OfferAccepted, OfferRejected, OfferWithdrawn:
		return k, nil
	}
	return "", invalidArgument("unknown offer event %q", s)
}

type OfferEvent struct {
	JobID    int64
	OfferID  int64
	JobTitle string
	Kind     OfferEventKind
}

func (e OfferEvent) text() (title, message string) {
	switch e.Kind {
	case OfferReceived:
		return "New offer", fmt.Sprintf("You received a new offer for %q.", e.JobTitle)
	case OfferAccepted:
		return "Offer accepted", fmt.Sprintf("Your offer for %q was accepted.", e.JobTitle)
	case OfferRejected:
		return "Offer declined", fmt.Sprintf("Your offer for %q was declined.", e.JobTitle)
	case OfferWithdrawn:
		return "Offer withdrawn", fmt.Sprintf("An offer for %q was withdrawn.", e.JobTitle)
	}
	return "Offer updated", fmt.Sprintf("An offer for %q was updated.", e.JobTitle)
}

func (s *NotificationService) NotifyOfferEvent(ctx context.Context, recipientID int64, ev OfferEvent) *models.Notification {
	title, message := ev.text()
	return s.notifyQuietly(ctx, recipientID, NotificationInput{
		Title:    title,
		Message:  message,
		Category: CategoryOffer,
		Path:     OfferPath(ev.JobID, ev.OfferID),
	})
}

type ReviewEvent struct {
	JobID        int64
	Rating       int
	ReviewerName string
}

func (s *NotificationService) NotifyReviewEvent(ctx context.Context, recipientID int64, ev ReviewEvent) *models.Notification {
	reviewer := ev.ReviewerName
	if reviewer == "" {
		reviewer = "Someone"
	}
	return s.notifyQuietly(ctx, recipientID, NotificationInput{
		Title:    "New review",
		Message:  fmt.Sprintf("%s left you a %d-star review.", reviewer, ev.Rating),
		Category: CategoryReview,
		Path:     ReviewPath(ev.JobID),
	})
}
