// Package cache holds in-process caches consulted on the hot path.
package cache

import (
	"sync"

	"marketplace-chat/internal/models"
)

// PermissionCache keeps conversation room metadata so message sends can be
// authorized without a store round trip. Entries never expire on their own;
// whoever deactivates a room must call Invalidate.
//
// Each room has a generation that Invalidate bumps. A reader that loaded a
// room from the store fills the cache with PutIfCurrent, so a load that
// raced with an invalidation cannot bring the old state back.
type PermissionCache struct {
	mu          sync.RWMutex
	rooms       map[int64]models.ConversationRoomInfo
	generations map[int64]uint64
}

func NewPermissionCache() *PermissionCache {
	return &PermissionCache{
		rooms:       make(map[int64]models.ConversationRoomInfo),
		generations: make(map[int64]uint64),
	}
}

// Generation is read before loading a room from the store.
func (c *PermissionCache) Generation(roomID int64) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generations[roomID]
}

// PutIfCurrent stores info only if roomID has not been invalidated since
// generation gen was read. It reports whether the entry was written.
func (c *PermissionCache) PutIfCurrent(roomID int64, gen uint64, info models.ConversationRoomInfo) bool {
	info.RoomID = roomID
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generations[roomID] != gen {
		return false
	}
	c.rooms[roomID] = info
	return true
}

func (c *PermissionCache) Put(roomID int64, info models.ConversationRoomInfo) {
	info.RoomID = roomID
	c.mu.Lock()
	c.rooms[roomID] = info
	c.mu.Unlock()
}

func (c *PermissionCache) Get(roomID int64) (models.ConversationRoomInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	info, ok := c.rooms[roomID]
	return info, ok
}

func (c *PermissionCache) Invalidate(roomID int64) {
	c.mu.Lock()
	delete(c.rooms, roomID)
	c.generations[roomID]++
	c.mu.Unlock()
}

func (c *PermissionCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.rooms)
}

// CanAccess is a fast-path check. false means "unknown", not "denied": the
// caller must confirm against the store before refusing anything.
func (c *PermissionCache) CanAccess(principalID, roomID int64) bool {
	info, ok := c.Get(roomID)
	if !ok {
		return false
	}
	return info.IsActive && info.IsParticipant(principalID)
}
