package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"marketplace-chat/internal/models"
	"marketplace-chat/internal/telemetry"
	"marketplace-chat/pkg/logger"
)

var ErrUnknownConnection = errors.New("unknown connection")

// DeliveryReport describes a fan-out. Dropped frames are a delivery failure
// for that client only; they never fail the operation that caused them.
type DeliveryReport struct {
	Event     string
	Target    string
	Attempted int
	Delivered int
	Dropped   int
}

func (r DeliveryReport) Err() error {
	if r.Dropped == 0 {
		return nil
	}
	return fmt.Errorf("%s to %s: %d of %d frames dropped", r.Event, r.Target, r.Dropped, r.Attempted)
}

// Directory owns attached clients and their room memberships. Detaching a
// client removes it from every room it joined.
type Directory struct {
	mu         sync.RWMutex
	clients    map[string]*Client
	rooms      map[string]map[string]*Client
	membership map[string]map[string]struct{}
	metrics    *telemetry.Metrics
}

func NewDirectory(metrics *telemetry.Metrics) *Directory {
	return &Directory{
		clients:    make(map[string]*Client),
		rooms:      make(map[string]map[string]*Client),
		membership: make(map[string]map[string]struct{}),
		metrics:    metrics,
	}
}

func (d *Directory) Attach(c *Client) {
	d.mu.Lock()
	d.clients[c.id] = c
	d.membership[c.id] = make(map[string]struct{})
	d.mu.Unlock()
}

// Detach removes the client from all rooms, tells the remaining members of
// conversation rooms it left, and closes its send channel.
func (d *Directory) Detach(connectionID string) {
	d.mu.Lock()
	c, ok := d.clients[connectionID]
	if !ok {
		d.mu.Unlock()
		return
	}
	var left []string
	for room := range d.membership[connectionID] {
		d.removeMemberLocked(room, connectionID)
		left = append(left, room)
	}
	delete(d.membership, connectionID)
	delete(d.clients, connectionID)
	d.mu.Unlock()

	for _, room := range left {
		d.announce(room, c, models.EventUserLeftRoom)
	}
	c.Close()
}

func (d *Directory) ConnectionIDs() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ids := make([]string, 0, len(d.clients))
	for id := range d.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (d *Directory) Client(connectionID string) (*Client, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.clients[connectionID]
	return c, ok
}

// Join adds the connection to room. Joining twice is a no-op. Other members
// of a conversation room are told about the newcomer; the joiner is not.
func (d *Directory) Join(connectionID, room string) error {
	d.mu.Lock()
	c, ok := d.clients[connectionID]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("join %s: %w", room, ErrUnknownConnection)
	}
	if _, already := d.membership[connectionID][room]; already {
		d.mu.Unlock()
		return nil
	}
	members, ok := d.rooms[room]
	if !ok {
		members = make(map[string]*Client)
		d.rooms[room] = members
	}
	members[connectionID] = c
	d.membership[connectionID][room] = struct{}{}
	d.mu.Unlock()

	d.announce(room, c, models.EventUserJoinedRoom)
	return nil
}

// Leave removes the connection from room. Leaving a room that was never
// joined, or from an unknown connection, is a no-op.
func (d *Directory) Leave(connectionID, room string) error {
	d.mu.Lock()
	c, ok := d.clients[connectionID]
	if !ok {
		d.mu.Unlock()
		return nil
	}
	if _, member := d.membership[connectionID][room]; !member {
		d.mu.Unlock()
		return nil
	}
	d.removeMemberLocked(room, connectionID)
	delete(d.membership[connectionID], room)
	d.mu.Unlock()

	d.announce(room, c, models.EventUserLeftRoom)
	return nil
}

func (d *Directory) removeMemberLocked(room, connectionID string) {
	members := d.rooms[room]
	delete(members, connectionID)
	if len(members) == 0 {
		delete(d.rooms, room)
	}
}

// announce sends a presence event to the other members of a conversation
// room. Inbox rooms get no presence events.
func (d *Directory) announce(room string, actor *Client, event string) {
	roomID, ok := ParseConversation(room)
	if !ok {
		return
	}
	payload := models.RoomPresencePayload{
		RoomID:      roomID,
		PrincipalID: actor.principal.ID,
		Timestamp:   time.Now().UTC(),
	}
	report := d.fanOut(room, event, payload, d.membersExcept(room, actor.id))
	if err := report.Err(); err != nil {
		logger.Warn("Presence event not fully delivered: %v", err)
	}
}

func (d *Directory) MembersOf(room string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ids := make([]string, 0, len(d.rooms[room]))
	for id := range d.rooms[room] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (d *Directory) IsMember(connectionID, room string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.membership[connectionID][room]
	return ok
}

// PrincipalPresent reports whether any connection of principalID is a member of room.
func (d *Directory) PrincipalPresent(room string, principalID int64) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, c := range d.rooms[room] {
		if c.principal.ID == principalID {
			return true
		}
	}
	return false
}

func (d *Directory) RoomsOf(connectionID string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rooms := make([]string, 0, len(d.membership[connectionID]))
	for room := range d.membership[connectionID] {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms
}

func (d *Directory) membersExcept(room, connectionID string) []*Client {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]*Client, 0, len(d.rooms[room]))
	for id, c := range d.rooms[room] {
		if id != connectionID {
			out = append(out, c)
		}
	}
	return out
}

// Broadcast queues event for every current member of room without waiting
// for any client to acknowledge it.
func (d *Directory) Broadcast(room, event string, data interface{}) DeliveryReport {
	return d.fanOut(room, event, data, d.membersExcept(room, ""))
}

// SendTo queues event for the given connections, skipping unknown ids.
func (d *Directory) SendTo(connectionIDs []string, event string, data interface{}) DeliveryReport {
	d.mu.RLock()
	targets := make([]*Client, 0, len(connectionIDs))
	for _, id := range connectionIDs {
		if c, ok := d.clients[id]; ok {
			targets = append(targets, c)
		}
	}
	d.mu.RUnlock()
	return d.fanOut("connections", event, data, targets)
}

// closeOnDrop lists events a client cannot silently miss. A client whose
// buffer is full for one of them is closed so it reconnects and reloads
// history.
var closeOnDrop = map[string]bool{
	models.EventMessageReceived: true,
}

func (d *Directory) fanOut(target, event string, data interface{}, clients []*Client) DeliveryReport {
	report := DeliveryReport{Event: event, Target: target, Attempted: len(clients)}
	if len(clients) == 0 {
		return report
	}

	frame, err := json.Marshal(models.OutboundFrame{Event: event, Data: data})
	if err != nil {
		logger.Error("Error marshaling %s for %s: %v", event, target, err)
		report.Dropped = len(clients)
		return report
	}

	for _, c := range clients {
		if err := c.enqueue(frame); err != nil {
			report.Dropped++
			if closeOnDrop[event] && errors.Is(err, ErrSendBufferFull) {
				logger.Warn("Connection %s is not keeping up, closing after dropped %s", c.id, event)
				c.Close()
				continue
			}
			logger.Debug("Dropped %s for connection %s: %v", event, c.id, err)
			continue
		}
		report.Delivered++
	}
	d.metrics.DeliveriesDropped(context.Background(), event, report.Dropped)
	return report
}
