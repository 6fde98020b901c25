package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"marketplace-chat/internal/models"
)

// MemoryDB is a process-local Database used when no DATABASE_URL is
// configured and as the store behind tests.
type MemoryDB struct {
	mu            sync.RWMutex
	users         map[int64]models.User
	rooms         map[int64]models.ConversationRoomInfo
	messages      map[int64][]*models.Message
	notifications map[int64][]*models.Notification
	nextMessageID int64
	nextNotifID   int64
	now           func() time.Time
}

func NewMemoryDB() *MemoryDB {
	return &MemoryDB{
		users:         make(map[int64]models.User),
		rooms:         make(map[int64]models.ConversationRoomInfo),
		messages:      make(map[int64][]*models.Message),
		notifications: make(map[int64][]*models.Notification),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (db *MemoryDB) Close() error { return nil }

func (db *MemoryDB) AddUser(u models.User) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = db.now()
	}
	db.users[u.ID] = u
}

func (db *MemoryDB) AddRoom(r models.ConversationRoomInfo) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.rooms[r.RoomID] = r
}

func (db *MemoryDB) GetUserByID(_ context.Context, id int64) (*models.User, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	u, ok := db.users[id]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", id, models.ErrNotFound)
	}
	return &u, nil
}

func (db *MemoryDB) UserExists(_ context.Context, id int64) (bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	_, ok := db.users[id]
	return ok, nil
}

func (db *MemoryDB) GetRoom(_ context.Context, roomID int64) (*models.ConversationRoomInfo, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	r, ok := db.rooms[roomID]
	if !ok {
		return nil, fmt.Errorf("conversation room %d: %w", roomID, models.ErrNotFound)
	}
	return &r, nil
}

func (db *MemoryDB) DeactivateRoom(_ context.Context, roomID int64) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	r, ok := db.rooms[roomID]
	if !ok {
		return fmt.Errorf("conversation room %d: %w", roomID, models.ErrNotFound)
	}
	r.IsActive = false
	db.rooms[roomID] = r
	return nil
}

func (db *MemoryDB) CreateMessage(_ context.Context, roomID, senderID int64, text string) (*models.Message, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.nextMessageID++
	msg := &models.Message{
		ID:        db.nextMessageID,
		RoomID:    roomID,
		SenderID:  senderID,
		Text:      text,
		CreatedAt: db.now(),
	}
	db.messages[roomID] = append(db.messages[roomID], msg)
	copied := *msg
	return &copied, nil
}

func (db *MemoryDB) ListMessagesByRoom(_ context.Context, roomID int64) ([]*models.Message, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return copyMessages(db.messages[roomID]), nil
}

func (db *MemoryDB) ListMessagesBefore(_ context.Context, roomID, messageID int64, limit int) ([]*models.Message, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	all := db.messages[roomID]
	end := 0
	for end < len(all) && all[end].ID < messageID {
		end++
	}
	start := 0
	if limit > 0 && end-limit > 0 {
		start = end - limit
	}
	return copyMessages(all[start:end]), nil
}

func (db *MemoryDB) ListMessagesAfter(_ context.Context, roomID, messageID int64, limit int) ([]*models.Message, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	all := db.messages[roomID]
	start := 0
	for start < len(all) && all[start].ID <= messageID {
		start++
	}
	end := len(all)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	return copyMessages(all[start:end]), nil
}

func copyMessages(in []*models.Message) []*models.Message {
	out := make([]*models.Message, 0, len(in))
	for _, m := range in {
		copied := *m
		out = append(out, &copied)
	}
	return out
}

func (db *MemoryDB) CreateNotification(_ context.Context, recipientID int64, title, subtitle, message, path string) (*models.Notification, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.nextNotifID++
	n := &models.Notification{
		ID:          db.nextNotifID,
		RecipientID: recipientID,
		Title:       title,
		Category:    subtitle,
		Message:     message,
		Path:        path,
		CreatedAt:   db.now(),
	}
	db.notifications[recipientID] = append(db.notifications[recipientID], n)
	copied := *n
	return &copied, nil
}

func (db *MemoryDB) UnreadCount(_ context.Context, recipientID int64) (int, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	count := 0
	for _, n := range db.notifications[recipientID] {
		if !n.IsRead {
			count++
		}
	}
	return count, nil
}

// Notifications returns what was stored for recipientID, oldest first.
func (db *MemoryDB) Notifications(recipientID int64) []models.Notification {
	db.mu.RLock()
	defer db.mu.RUnlock()
	out := make([]models.Notification, 0, len(db.notifications[recipientID]))
	for _, n := range db.notifications[recipientID] {
		out = append(out, *n)
	}
	return out
}
