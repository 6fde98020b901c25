package database

import (
	"context"

	"marketplace-chat/internal/models"
)

// Lookups that find nothing return an error wrapping models.ErrNotFound.

type UserRepository interface {
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	UserExists(ctx context.Context, id int64) (bool, error)
}

type ConversationRoomRepository interface {
	GetRoom(ctx context.Context, roomID int64) (*models.ConversationRoomInfo, error)
	DeactivateRoom(ctx context.Context, roomID int64) error
}

// MessageRepository lists are always ascending by creation time.
type MessageRepository interface {
	CreateMessage(ctx context.Context, roomID, senderID int64, text string) (*models.Message, error)
	ListMessagesByRoom(ctx context.Context, roomID int64) ([]*models.Message, error)
	ListMessagesBefore(ctx context.Context, roomID, messageID int64, limit int) ([]*models.Message, error)
	ListMessagesAfter(ctx context.Context, roomID, messageID int64, limit int) ([]*models.Message, error)
}

type NotificationRepository interface {
	CreateNotification(ctx context.Context, recipientID int64, title, subtitle, message, path string) (*models.Notification, error)
	UnreadCount(ctx context.Context, recipientID int64) (int, error)
}

type Database interface {
	UserRepository
	ConversationRoomRepository
	MessageRepository
	NotificationRepository
	Close() error
}
