package models

import "time"

// Principal is the authenticated identity behind a connection.
type Principal struct {
	ID        int64  `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

func (p Principal) DisplayName() string {
	switch {
	case p.FirstName != "" && p.LastName != "":
		return p.FirstName + " " + p.LastName
	case p.FirstName != "":
		return p.FirstName
	case p.Email != "":
		return p.Email
	}
	return "Someone"
}

type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	CreatedAt time.Time `json:"createdAt"`
}

// ConversationRoomInfo is the authorization-relevant view of a conversation room.
type ConversationRoomInfo struct {
	RoomID    int64 `json:"roomId"`
	JobID     int64 `json:"jobId"`
	CreatorID int64 `json:"creatorId"`
	WorkerID  int64 `json:"workerId"`
	IsActive  bool  `json:"isActive"`
}

func (r *ConversationRoomInfo) IsParticipant(principalID int64) bool {
	return principalID == r.CreatorID || principalID == r.WorkerID
}

// Counterpart returns the other participant, or 0 if principalID is not a participant.
func (r *ConversationRoomInfo) Counterpart(principalID int64) int64 {
	switch principalID {
	case r.CreatorID:
		return r.WorkerID
	case r.WorkerID:
		return r.CreatorID
	}
	return 0
}

type ParticipantRole string

const (
	RoleCreator ParticipantRole = "creator"
	RoleWorker  ParticipantRole = "worker"
)

type Participant struct {
	PrincipalID int64           `json:"principalId"`
	Role        ParticipantRole `json:"role"`
	Online      bool            `json:"online"`
}

type Message struct {
	ID        int64     `json:"id"`
	RoomID    int64     `json:"roomId"`
	SenderID  int64     `json:"senderId"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

type Notification struct {
	ID          int64     `json:"id"`
	RecipientID int64     `json:"recipientId"`
	Title       string    `json:"title"`
	Category    string    `json:"category"`
	Message     string    `json:"message"`
	Path        string    `json:"path"`
	IsRead      bool      `json:"isRead"`
	CreatedAt   time.Time `json:"createdAt"`
}

// JoinedRoom is returned to a connection that successfully joined a conversation room.
type JoinedRoom struct {
	RoomID       int64         `json:"roomId"`
	JobID        int64         `json:"jobId"`
	IsActive     bool          `json:"isActive"`
	Messages     []*Message    `json:"messages"`
	Participants []Participant `json:"participants"`
}

// HistoryQuery selects a slice of a room's history. Zero cursors mean the whole history.
type HistoryQuery struct {
	BeforeID int64
	AfterID  int64
	Limit    int
}

type InboxState struct {
	PrincipalID int64 `json:"principalId"`
	UnreadCount int   `json:"unreadCount"`
}
