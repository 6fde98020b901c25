package websocket

import (
	"encoding/json"
	"testing"

	"marketplace-chat/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type received struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func newTestClient(t *testing.T, d *Directory, principalID int64, buffer int) *Client {
	t.Helper()
	c := NewClient(nil, models.Principal{ID: principalID}, buffer)
	d.Attach(c)
	return c
}

// drain returns every frame queued for c without blocking.
func drain(t *testing.T, c *Client) []received {
	t.Helper()
	var out []received
	for {
		select {
		case raw, ok := <-c.Outgoing():
			if !ok {
				return out
			}
			var f received
			require.NoError(t, json.Unmarshal(raw, &f))
			out = append(out, f)
		default:
			return out
		}
	}
}

func events(frames []received) []string {
	names := make([]string, 0, len(frames))
	for _, f := range frames {
		names = append(names, f.Event)
	}
	return names
}

func TestRoomNames(t *testing.T) {
	assert.Equal(t, "conversation:42", NameForConversation(42))
	assert.Equal(t, "inbox:7", NameForInbox(7))

	id, ok := ParseConversation("conversation:42")
	assert.True(t, ok)
	assert.Equal(t, int64(42), id)

	for _, name := range []string{"inbox:42", "conversation:", "conversation:x", "conversation:-1"} {
		_, ok := ParseConversation(name)
		assert.False(t, ok, name)
	}
}

func TestDirectoryJoinAnnouncesToOthers(t *testing.T) {
	d := NewDirectory(nil)
	a := newTestClient(t, d, 1, 8)
	b := newTestClient(t, d, 2, 8)
	room := NameForConversation(42)

	require.NoError(t, d.Join(a.ID(), room))
	assert.Empty(t, drain(t, a), "joiner is not told about itself")

	require.NoError(t, d.Join(b.ID(), room))
	frames := drain(t, a)
	require.Len(t, frames, 1)
	assert.Equal(t, models.EventUserJoinedRoom, frames[0].Event)

	var p models.RoomPresencePayload
	require.NoError(t, json.Unmarshal(frames[0].Data, &p))
	assert.Equal(t, int64(42), p.RoomID)
	assert.Equal(t, int64(2), p.PrincipalID)
	assert.Empty(t, drain(t, b))

	// joining twice changes nothing and announces nothing
	require.NoError(t, d.Join(b.ID(), room))
	assert.Empty(t, drain(t, a))
	assert.ElementsMatch(t, []string{a.ID(), b.ID()}, d.MembersOf(room))
	assert.Equal(t, []string{room}, d.RoomsOf(b.ID()))
}

func TestDirectoryInboxHasNoPresenceEvents(t *testing.T) {
	d := NewDirectory(nil)
	a := newTestClient(t, d, 1, 8)
	b := newTestClient(t, d, 1, 8)
	inbox := NameForInbox(1)

	require.NoError(t, d.Join(a.ID(), inbox))
	require.NoError(t, d.Join(b.ID(), inbox))
	require.NoError(t, d.Leave(b.ID(), inbox))
	assert.Empty(t, drain(t, a))
}

func TestDirectoryLeave(t *testing.T) {
	d := NewDirectory(nil)
	a := newTestClient(t, d, 1, 8)
	b := newTestClient(t, d, 2, 8)
	room := NameForConversation(3)

	require.NoError(t, d.Leave(a.ID(), room), "leaving a room never joined is a no-op")
	require.NoError(t, d.Leave("unknown", room))

	require.NoError(t, d.Join(a.ID(), room))
	require.NoError(t, d.Join(b.ID(), room))
	drain(t, a)

	require.NoError(t, d.Leave(b.ID(), room))
	assert.Equal(t, []string{models.EventUserLeftRoom}, events(drain(t, a)))
	assert.False(t, d.IsMember(b.ID(), room))
	assert.False(t, d.PrincipalPresent(room, 2))
	assert.True(t, d.PrincipalPresent(room, 1))
}

func TestDirectoryJoinUnknownConnection(t *testing.T) {
	d := NewDirectory(nil)
	err := d.Join("nope", NameForConversation(1))
	assert.ErrorIs(t, err, ErrUnknownConnection)
}

func TestDirectoryDetachRemovesMemberships(t *testing.T) {
	d := NewDirectory(nil)
	a := newTestClient(t, d, 1, 8)
	b := newTestClient(t, d, 2, 8)
	room := NameForConversation(42)

	require.NoError(t, d.Join(a.ID(), room))
	require.NoError(t, d.Join(a.ID(), NameForInbox(1)))
	require.NoError(t, d.Join(b.ID(), room))
	drain(t, a)

	d.Detach(b.ID())
	assert.Equal(t, []string{models.EventUserLeftRoom}, events(drain(t, a)))
	assert.Equal(t, []string{a.ID()}, d.MembersOf(room))
	assert.Empty(t, d.RoomsOf(b.ID()))
	_, ok := d.Client(b.ID())
	assert.False(t, ok)

	_, open := <-b.Outgoing()
	assert.False(t, open, "detached client is closed")

	d.Detach(b.ID())
	d.Detach(a.ID())
	assert.Empty(t, d.MembersOf(room))
	assert.Empty(t, d.MembersOf(NameForInbox(1)))
	assert.Empty(t, d.ConnectionIDs())
}

func TestDirectoryBroadcast(t *testing.T) {
	d := NewDirectory(nil)
	a := newTestClient(t, d, 1, 8)
	b := newTestClient(t, d, 2, 8)
	outsider := newTestClient(t, d, 3, 8)
	room := NameForConversation(42)

	require.NoError(t, d.Join(a.ID(), room))
	require.NoError(t, d.Join(b.ID(), room))
	drain(t, a)

	report := d.Broadcast(room, models.EventMessageReceived, models.Message{ID: 1, RoomID: 42, Text: "hi"})
	assert.NoError(t, report.Err())
	assert.Equal(t, 2, report.Attempted)
	assert.Equal(t, 2, report.Delivered)

	for _, c := range []*Client{a, b} {
		frames := drain(t, c)
		require.Len(t, frames, 1)
		assert.Equal(t, models.EventMessageReceived, frames[0].Event)
		assert.JSONEq(t, `{"id":1,"roomId":42,"senderId":0,"text":"hi","createdAt":"0001-01-01T00:00:00Z"}`, string(frames[0].Data))
	}
	assert.Empty(t, drain(t, outsider))

	empty := d.Broadcast(NameForConversation(99), models.EventMessageReceived, nil)
	assert.Zero(t, empty.Attempted)
	assert.NoError(t, empty.Err())
}

func TestDirectorySlowClientIsClosedNotBlocked(t *testing.T) {
	d := NewDirectory(nil)
	fast := newTestClient(t, d, 1, 8)
	slow := newTestClient(t, d, 2, 1)
	room := NameForConversation(42)

	require.NoError(t, d.Join(fast.ID(), room))
	require.NoError(t, d.Join(slow.ID(), room))
	drain(t, fast)

	first := d.Broadcast(room, models.EventMessageReceived, "one")
	assert.Equal(t, 2, first.Delivered)

	second := d.Broadcast(room, models.EventMessageReceived, "two")
	assert.Equal(t, 1, second.Delivered)
	assert.Equal(t, 1, second.Dropped)
	assert.Error(t, second.Err())

	assert.Len(t, drain(t, fast), 2)
	assert.Len(t, drain(t, slow), 1, "queued frames are still flushed")
	assert.ErrorIs(t, slow.Emit(models.EventPing, nil), ErrClientClosed)
	assert.NoError(t, fast.Emit(models.EventPing, nil))
}

func TestDirectoryDroppedNotificationKeepsClientOpen(t *testing.T) {
	d := NewDirectory(nil)
	c := newTestClient(t, d, 1, 1)
	inbox := NameForInbox(1)
	require.NoError(t, d.Join(c.ID(), inbox))

	require.Equal(t, 1, d.Broadcast(inbox, models.EventNotificationReceived, "one").Delivered)
	report := d.Broadcast(inbox, models.EventNotificationReceived, "two")
	assert.Equal(t, 1, report.Dropped)

	assert.Len(t, drain(t, c), 1)
	assert.NoError(t, c.Emit(models.EventPing, nil), "client stays open")
}

func TestDirectorySendTo(t *testing.T) {
	d := NewDirectory(nil)
	a := newTestClient(t, d, 1, 8)
	b := newTestClient(t, d, 1, 8)

	report := d.SendTo([]string{a.ID(), b.ID(), "gone"}, models.EventRoomClosed, map[string]int64{"roomId": 4})
	assert.Equal(t, 2, report.Attempted)
	assert.Equal(t, 2, report.Delivered)
	assert.Equal(t, []string{models.EventRoomClosed}, events(drain(t, a)))
	assert.Equal(t, []string{models.EventRoomClosed}, events(drain(t, b)))
}

func TestClientEmitAfterClose(t *testing.T) {
	c := NewClient(nil, models.Principal{ID: 1}, 1)
	require.NotEmpty(t, c.ID())

	require.NoError(t, c.Emit(models.EventPing, nil))
	assert.ErrorIs(t, c.Emit(models.EventPing, nil), ErrSendBufferFull)

	c.Close()
	c.Close()
	assert.ErrorIs(t, c.Emit(models.EventPing, nil), ErrClientClosed)
}
