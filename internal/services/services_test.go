package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"marketplace-chat/internal/cache"
	"marketplace-chat/internal/database"
	"marketplace-chat/internal/models"
	"marketplace-chat/internal/presence"
	"marketplace-chat/internal/websocket"

	"github.com/stretchr/testify/require"
)

var errStoreDown = errors.New("connection refused")

// faultyStore wraps the in-memory store and fails selected calls.
type faultyStore struct {
	*database.MemoryDB

	mu                sync.Mutex
	failCreateMessage bool
	failGetRoom       bool
	failUnread        bool
	failNotifyFor     map[int64]bool
	// afterGetRoom runs once, after the next GetRoom has read the room
	afterGetRoom func()
}

func (s *faultyStore) set(fn func(s *faultyStore)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

func (s *faultyStore) CreateMessage(ctx context.Context, roomID, senderID int64, text string) (*models.Message, error) {
	s.mu.Lock()
	fail := s.failCreateMessage
	s.mu.Unlock()
	if fail {
		return nil, errStoreDown
	}
	return s.MemoryDB.CreateMessage(ctx, roomID, senderID, text)
}

func (s *faultyStore) GetRoom(ctx context.Context, roomID int64) (*models.ConversationRoomInfo, error) {
	s.mu.Lock()
	fail := s.failGetRoom
	s.mu.Unlock()
	if fail {
		return nil, errStoreDown
	}
	info, err := s.MemoryDB.GetRoom(ctx, roomID)

	s.mu.Lock()
	hook := s.afterGetRoom
	s.afterGetRoom = nil
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	return info, err
}

func (s *faultyStore) UnreadCount(ctx context.Context, recipientID int64) (int, error) {
	s.mu.Lock()
	fail := s.failUnread
	s.mu.Unlock()
	if fail {
		return 0, errStoreDown
	}
	return s.MemoryDB.UnreadCount(ctx, recipientID)
}

func (s *faultyStore) CreateNotification(ctx context.Context, recipientID int64, title, subtitle, message, path string) (*models.Notification, error) {
	s.mu.Lock()
	fail := s.failNotifyFor[recipientID]
	s.mu.Unlock()
	if fail {
		return nil, errStoreDown
	}
	return s.MemoryDB.CreateNotification(ctx, recipientID, title, subtitle, message, path)
}

type storeIdentity struct {
	users database.UserRepository
}

func (i storeIdentity) Exists(ctx context.Context, id int64) (bool, error) {
	return i.users.UserExists(ctx, id)
}

var (
	ada = models.Principal{ID: 1, Email: "ada@example.com", FirstName: "Ada", LastName: "Creator"}
	bo  = models.Principal{ID: 2, Email: "bo@example.com", FirstName: "Bo"}
	cy  = models.Principal{ID: 3, Email: "cy@example.com", FirstName: "Cy"}
)

const (
	roomID = 42
	jobID  = 9
)

type fixture struct {
	db            *database.MemoryDB
	store         *faultyStore
	directory     *websocket.Directory
	presence      *presence.Registry
	cache         *cache.PermissionCache
	notifications *NotificationService
	conversations *ConversationService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := database.NewMemoryDB()
	for _, p := range []models.Principal{ada, bo, cy} {
		db.AddUser(models.User{ID: p.ID, Email: p.Email, FirstName: p.FirstName, LastName: p.LastName})
	}
	db.AddRoom(models.ConversationRoomInfo{RoomID: roomID, JobID: jobID, CreatorID: ada.ID, WorkerID: bo.ID, IsActive: true})

	f := &fixture{
		db:        db,
		store:     &faultyStore{MemoryDB: db, failNotifyFor: map[int64]bool{}},
		directory: websocket.NewDirectory(nil),
		presence:  presence.NewRegistry(),
		cache:     cache.NewPermissionCache(),
	}
	f.notifications = NewNotificationService(f.store, storeIdentity{users: f.store}, f.directory, nil, 4)
	f.conversations = NewConversationService(ConversationDeps{
		Rooms:     f.store,
		Messages:  f.store,
		Cache:     f.cache,
		Directory: f.directory,
		Presence:  f.presence,
		Notifier:  f.notifications,
		MaxLength: 20,
	})
	return f
}

// connect attaches a client the way the gateway does: presence, directory
// and the principal's own inbox.
func (f *fixture) connect(t *testing.T, p models.Principal) *websocket.Client {
	t.Helper()
	c := websocket.NewClient(nil, p, 64)
	f.presence.Register(c.ID(), p)
	f.directory.Attach(c)
	require.NoError(t, f.directory.Join(c.ID(), websocket.NameForInbox(p.ID)))
	return c
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func drain(t *testing.T, c *websocket.Client) []frame {
	t.Helper()
	var out []frame
	for {
		select {
		case raw, ok := <-c.Outgoing():
			if !ok {
				return out
			}
			var f frame
			require.NoError(t, json.Unmarshal(raw, &f))
			out = append(out, f)
		default:
			return out
		}
	}
}

func framesOf(t *testing.T, c *websocket.Client, event string) []frame {
	t.Helper()
	var out []frame
	for _, f := range drain(t, c) {
		if f.Event == event {
			out = append(out, f)
		}
	}
	return out
}

func decode[T any](t *testing.T, f frame) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(f.Data, &v), fmt.Sprintf("decode %s", f.Event))
	return v
}
