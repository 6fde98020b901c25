package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Inbound event names. These are the wire contract with clients.
const (
	EventAuthenticate     = "authenticate"
	EventJoinRoom         = "join_room"
	EventLeaveRoom        = "leave_room"
	EventSendMessage      = "send_message"
	EventGetHistory       = "get_history"
	EventJoinInbox        = "join_inbox"
	EventLeaveInbox       = "leave_inbox"
	EventSendNotification = "send_notification"
	EventListOnline       = "list_online"
	EventPing             = "ping"
)

// Outbound event names.
const (
	EventConnected            = "connected"
	EventConnectionError      = "connection_error"
	EventMessageReceived      = "message_received"
	EventUserJoinedRoom       = "user_joined_room"
	EventUserLeftRoom         = "user_left_room"
	EventNotificationReceived = "notification_received"
	EventRoomClosed           = "room_closed"
	EventError                = "error"
)

// ResponseEvent names the reply to an inbound event.
func ResponseEvent(event string) string {
	return event + "_response"
}

// Frame is the JSON shape of every websocket text message in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type OutboundFrame struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// Response is the uniform reply envelope. success=false with error set is the
// only failure signal clients rely on.
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func OK(message string, data interface{}) Response {
	return Response{Success: true, Message: message, Data: data}
}

func Failed(err error) Response {
	return Response{Success: false, Message: PublicMessage(err), Error: ErrorCode(err)}
}

type ConnectedPayload struct {
	PrincipalID  int64     `json:"principalId"`
	ConnectionID string    `json:"connectionId"`
	ConnectedAt  time.Time `json:"connectedAt"`
}

type ConnectionErrorPayload struct {
	Reason string `json:"reason"`
}

type RoomPresencePayload struct {
	RoomID      int64     `json:"roomId"`
	PrincipalID int64     `json:"principalId"`
	Timestamp   time.Time `json:"timestamp"`
}

type OnlinePayload struct {
	Count        int     `json:"count"`
	PrincipalIDs []int64 `json:"principalIds"`
}

type PongPayload struct {
	Pong string `json:"pong"`
}

// InboundEvent is one of the typed client events below. The set is closed:
// only types in this package implement it.
type InboundEvent interface {
	EventName() string
	validate() error
}

type AuthenticateEvent struct {
	Token string `json:"token"`
}

type JoinRoomEvent struct {
	RoomID int64 `json:"roomId"`
}

type LeaveRoomEvent struct {
	RoomID int64 `json:"roomId"`
}

type SendMessageEvent struct {
	RoomID int64  `json:"roomId"`
	Text   string `json:"text"`
}

type GetHistoryEvent struct {
	RoomID   int64 `json:"roomId"`
	BeforeID int64 `json:"beforeId,omitempty"`
	AfterID  int64 `json:"afterId,omitempty"`
	Limit    int   `json:"limit,omitempty"`
}

type JoinInboxEvent struct {
	PrincipalID int64 `json:"principalId"`
}

type LeaveInboxEvent struct {
	PrincipalID int64 `json:"principalId"`
}

type SendNotificationEvent struct {
	PrincipalID int64  `json:"principalId"`
	Title       string `json:"title"`
	Message     string `json:"message"`
	Category    string `json:"category,omitempty"`
}

type ListOnlineEvent struct{}

type PingEvent struct{}

func (AuthenticateEvent) EventName() string     { return EventAuthenticate }
func (JoinRoomEvent) EventName() string         { return EventJoinRoom }
func (LeaveRoomEvent) EventName() string        { return EventLeaveRoom }
func (SendMessageEvent) EventName() string      { return EventSendMessage }
func (GetHistoryEvent) EventName() string       { return EventGetHistory }
func (JoinInboxEvent) EventName() string        { return EventJoinInbox }
func (LeaveInboxEvent) EventName() string       { return EventLeaveInbox }
func (SendNotificationEvent) EventName() string { return EventSendNotification }
func (ListOnlineEvent) EventName() string       { return EventListOnline }
func (PingEvent) EventName() string             { return EventPing }

func (e AuthenticateEvent) validate() error {
	if e.Token == "" {
		return invalid("token is required")
	}
	return nil
}

func (e JoinRoomEvent) validate() error  { return positiveID("roomId", e.RoomID) }
func (e LeaveRoomEvent) validate() error { return positiveID("roomId", e.RoomID) }

func (e SendMessageEvent) validate() error {
	return positiveID("roomId", e.RoomID)
}

func (e GetHistoryEvent) validate() error {
	if err := positiveID("roomId", e.RoomID); err != nil {
		return err
	}
	if e.BeforeID < 0 || e.AfterID < 0 {
		return invalid("cursor ids must be positive")
	}
	if e.BeforeID > 0 && e.AfterID > 0 {
		return invalid("beforeId and afterId are mutually exclusive")
	}
	if e.Limit < 0 {
		return invalid("limit must not be negative")
	}
	return nil
}

func (e JoinInboxEvent) validate() error  { return positiveID("principalId", e.PrincipalID) }
func (e LeaveInboxEvent) validate() error { return positiveID("principalId", e.PrincipalID) }

func (e SendNotificationEvent) validate() error {
	return positiveID("principalId", e.PrincipalID)
}

func (ListOnlineEvent) validate() error { return nil }
func (PingEvent) validate() error       { return nil }

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

func positiveID(field string, id int64) error {
	if id <= 0 {
		return invalid("%s must be a positive integer", field)
	}
	return nil
}

// DecodeInbound parses one client frame into its typed event. The returned
// name is the raw event name when it could be read, so the caller can address
// the error response even for an unknown or malformed event.
func DecodeInbound(raw []byte) (InboundEvent, string, error) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, "", invalid("frame is not valid JSON")
	}
	if frame.Event == "" {
		return nil, "", invalid("event name is required")
	}

	var ev InboundEvent
	switch frame.Event {
	case EventAuthenticate:
		ev = &AuthenticateEvent{}
	case EventJoinRoom:
		ev = &JoinRoomEvent{}
	case EventLeaveRoom:
		ev = &LeaveRoomEvent{}
	case EventSendMessage:
		ev = &SendMessageEvent{}
	case EventGetHistory:
		ev = &GetHistoryEvent{}
	case EventJoinInbox:
		ev = &JoinInboxEvent{}
	case EventLeaveInbox:
		ev = &LeaveInboxEvent{}
	case EventSendNotification:
		ev = &SendNotificationEvent{}
	case EventListOnline:
		return ListOnlineEvent{}, frame.Event, nil
	case EventPing:
		return PingEvent{}, frame.Event, nil
	default:
		return nil, frame.Event, invalid("unknown event %q", frame.Event)
	}

	data := bytes.TrimSpace(frame.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, frame.Event, invalid("%s requires a payload", frame.Event)
	}
	if err := json.Unmarshal(data, ev); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return nil, frame.Event, invalid("field %s has the wrong type", typeErr.Field)
		}
		return nil, frame.Event, invalid("malformed %s payload", frame.Event)
	}

	ev = deref(ev)
	if err := ev.validate(); err != nil {
		return nil, frame.Event, err
	}
	return ev, frame.Event, nil
}

// deref turns the pointer used for unmarshalling back into the value type,
// so consumers switch on value types only.
func deref(ev InboundEvent) InboundEvent {
	switch e := ev.(type) {
	case *AuthenticateEvent:
		return *e
	case *JoinRoomEvent:
		return *e
	case *LeaveRoomEvent:
		return *e
	case *SendMessageEvent:
		return *e
	case *GetHistoryEvent:
		return *e
	case *JoinInboxEvent:
		return *e
	case *LeaveInboxEvent:
		return *e
	case *SendNotificationEvent:
		return *e
	}
	return ev
}
