package services

import (
	"context"
	"strings"
	"sync"
	"unicode/utf8"

	"marketplace-chat/internal/cache"
	"marketplace-chat/internal/database"
	"marketplace-chat/internal/models"
	"marketplace-chat/internal/telemetry"
	"marketplace-chat/internal/websocket"
	"marketplace-chat/pkg/logger"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

// MessageNotifier alerts an absent counterpart about a new message. It has
// no error result: a failed alert never fails the send.
type MessageNotifier interface {
	NotifyNewMessage(ctx context.Context, recipientID int64, sender models.Principal, msg *models.Message) *models.Notification
}

// ConversationService runs join, leave, send and history for conversation
// rooms. Join and history always authorize against the store; sends use the
// permission cache first and fall back to the store on a miss.
type ConversationService struct {
	rooms     database.ConversationRoomRepository
	messages  database.MessageRepository
	cache     *cache.PermissionCache
	directory RoomDirectory
	presence  PresenceIndex
	notifier  MessageNotifier
	metrics   *telemetry.Metrics
	maxLength int

	// per-room locks keep broadcast order equal to persistence order; an
	// entry lives until the room is deactivated
	roomLocks sync.Map
}

type ConversationDeps struct {
	Rooms     database.ConversationRoomRepository
	Messages  database.MessageRepository
	Cache     *cache.PermissionCache
	Directory RoomDirectory
	Presence  PresenceIndex
	Notifier  MessageNotifier
	Metrics   *telemetry.Metrics
	MaxLength int
}

func NewConversationService(deps ConversationDeps) *ConversationService {
	maxLength := deps.MaxLength
	if maxLength <= 0 {
		maxLength = 1000
	}
	return &ConversationService{
		rooms:     deps.Rooms,
		messages:  deps.Messages,
		cache:     deps.Cache,
		directory: deps.Directory,
		presence:  deps.Presence,
		notifier:  deps.Notifier,
		metrics:   deps.Metrics,
		maxLength: maxLength,
	}
}

func (s *ConversationService) lockRoom(roomID int64) func() {
	mu, _ := s.roomLocks.LoadOrStore(roomID, &sync.Mutex{})
	m := mu.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}

// authorize loads the room from the store and checks that principalID is a
// participant. Only participant rooms are written to the cache, and only if
// the room was not invalidated while it was being loaded.
func (s *ConversationService) authorize(ctx context.Context, principalID, roomID int64) (*models.ConversationRoomInfo, error) {
	gen := s.cache.Generation(roomID)
	info, err := s.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return nil, upstream("load conversation room", err)
	}
	if !info.IsParticipant(principalID) {
		return nil, forbidden("not a participant of room %d", roomID)
	}
	if !s.cache.PutIfCurrent(roomID, gen, *info) {
		logger.Debug("Room %d changed while loading, not cached", roomID)
	}
	return info, nil
}

// JoinRoom validates the principal against the stored room, joins the
// broadcast room and returns the full history with the participants.
func (s *ConversationService) JoinRoom(ctx context.Context, connectionID string, principal models.Principal, roomID int64) (*models.JoinedRoom, error) {
	info, err := s.authorize(ctx, principal.ID, roomID)
	if err != nil {
		return nil, err
	}

	room := websocket.NameForConversation(roomID)
	if err := s.directory.Join(connectionID, room); err != nil {
		return nil, err
	}

	messages, err := s.messages.ListMessagesByRoom(ctx, roomID)
	if err != nil {
		_ = s.directory.Leave(connectionID, room)
		return nil, upstream("load history", err)
	}

	return &models.JoinedRoom{
		RoomID:   roomID,
		JobID:    info.JobID,
		IsActive: info.IsActive,
		Messages: messages,
		Participants: []models.Participant{
			{PrincipalID: info.CreatorID, Role: models.RoleCreator, Online: s.presence.IsOnline(info.CreatorID)},
			{PrincipalID: info.WorkerID, Role: models.RoleWorker, Online: s.presence.IsOnline(info.WorkerID)},
		},
	}, nil
}

// LeaveRoom needs no permission check; leaving a room never joined is a no-op.
func (s *ConversationService) LeaveRoom(connectionID string, roomID int64) error {
	return s.directory.Leave(connectionID, websocket.NameForConversation(roomID))
}

func (s *ConversationService) validateText(text string) error {
	if strings.TrimSpace(text) == "" {
		return invalidArgument("message text must not be empty")
	}
	if utf8.RuneCountInString(text) > s.maxLength {
		return invalidArgument("message text must be at most %d characters", s.maxLength)
	}
	return nil
}

// roomForSend returns the room info used to authorize a send, consulting the
// cache first. A cache "no" is treated as unknown and rechecked in the store.
func (s *ConversationService) roomForSend(ctx context.Context, principalID, roomID int64) (models.ConversationRoomInfo, error) {
	if s.cache.CanAccess(principalID, roomID) {
		if info, ok := s.cache.Get(roomID); ok {
			return info, nil
		}
	}

	info, err := s.authorize(ctx, principalID, roomID)
	if err != nil {
		return models.ConversationRoomInfo{}, err
	}
	if !info.IsActive {
		return models.ConversationRoomInfo{}, forbidden("conversation %d is closed", roomID)
	}
	return *info, nil
}

// SendMessage persists text and broadcasts it to the room. The persisted
// message is returned to the sender as its acknowledgement. If the
// counterpart has no connection in the room it gets a notification instead.
func (s *ConversationService) SendMessage(ctx context.Context, connectionID string, principal models.Principal, roomID int64, text string) (*models.Message, error) {
	if err := s.validateText(text); err != nil {
		return nil, err
	}

	info, err := s.roomForSend(ctx, principal.ID, roomID)
	if err != nil {
		return nil, err
	}

	room := websocket.NameForConversation(roomID)

	unlock := s.lockRoom(roomID)
	msg, err := s.messages.CreateMessage(ctx, roomID, principal.ID, text)
	if err != nil {
		unlock()
		return nil, upstream("persist message", err)
	}
	report := s.directory.Broadcast(room, models.EventMessageReceived, msg)
	unlock()

	s.metrics.MessageSent(ctx)
	if err := report.Err(); err != nil {
		logger.Warn("Message %d from connection %s not delivered to every member: %v", msg.ID, connectionID, err)
	}

	counterpart := info.Counterpart(principal.ID)
	if counterpart != 0 && counterpart != principal.ID && !s.directory.PrincipalPresent(room, counterpart) {
		s.notifier.NotifyNewMessage(ctx, counterpart, principal, msg)
	}

	return msg, nil
}

// GetHistory authorizes like JoinRoom. Without a cursor it returns the full
// history; with one it returns at most limit messages. Always ascending.
func (s *ConversationService) GetHistory(ctx context.Context, connectionID string, principal models.Principal, roomID int64, q models.HistoryQuery) ([]*models.Message, error) {
	if _, err := s.authorize(ctx, principal.ID, roomID); err != nil {
		return nil, err
	}

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	var (
		messages []*models.Message
		err      error
	)
	switch {
	case q.BeforeID > 0:
		messages, err = s.messages.ListMessagesBefore(ctx, roomID, q.BeforeID, limit)
	case q.AfterID > 0:
		messages, err = s.messages.ListMessagesAfter(ctx, roomID, q.AfterID, limit)
	default:
		messages, err = s.messages.ListMessagesByRoom(ctx, roomID)
	}
	if err != nil {
		return nil, upstream("load history", err)
	}
	logger.Debug("Connection %s loaded %d messages from room %d", connectionID, len(messages), roomID)
	return messages, nil
}

// InvalidateRoom drops cached permissions for roomID. Called whenever a room
// changes state in the store.
func (s *ConversationService) InvalidateRoom(roomID int64) {
	s.cache.Invalidate(roomID)
}

// DeactivateRoom closes a conversation in the store and evicts it from the
// cache. It returns the room as it was before deactivation.
func (s *ConversationService) DeactivateRoom(ctx context.Context, roomID int64) (*models.ConversationRoomInfo, error) {
	info, err := s.rooms.GetRoom(ctx, roomID)
	if err != nil {
		return nil, upstream("load conversation room", err)
	}
	if err := s.rooms.DeactivateRoom(ctx, roomID); err != nil {
		return nil, upstream("deactivate room", err)
	}
	s.InvalidateRoom(roomID)
	// Sends into an inactive room are refused before they lock, so the
	// room's lock is no longer needed.
	s.roomLocks.Delete(roomID)
	info.IsActive = false
	return info, nil
}
