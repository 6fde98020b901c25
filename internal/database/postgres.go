package database

import (
	"context"
	"errors"
	"fmt"

	"marketplace-chat/internal/models"
	"marketplace-chat/pkg/logger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresDB struct {
	pool *pgxpool.Pool
}

func NewPostgresDB(ctx context.Context, databaseURL string) (*PostgresDB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Connected to database successfully")
	return &PostgresDB{pool: pool}, nil
}

func (db *PostgresDB) Close() error {
	db.pool.Close()
	return nil
}

func notFound(what string, id int64, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %d: %w", what, id, models.ErrNotFound)
	}
	return fmt.Errorf("%s %d: %w", what, id, err)
}

// User Repository Implementation
func (db *PostgresDB) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	query := `SELECT id, email, first_name, last_name, created_at FROM users WHERE id = $1`

	user := &models.User{}
	err := db.pool.QueryRow(ctx, query, id).Scan(
		&user.ID, &user.Email, &user.FirstName, &user.LastName, &user.CreatedAt,
	)
	if err != nil {
		return nil, notFound("user", id, err)
	}

	return user, nil
}

func (db *PostgresDB) UserExists(ctx context.Context, id int64) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`

	var exists bool
	err := db.pool.QueryRow(ctx, query, id).Scan(&exists)
	return exists, err
}

// Conversation Room Repository Implementation
func (db *PostgresDB) GetRoom(ctx context.Context, roomID int64) (*models.ConversationRoomInfo, error) {
	query := `SELECT id, job_id, creator_id, worker_id, is_active FROM conversation_rooms WHERE id = $1`

	room := &models.ConversationRoomInfo{}
	err := db.pool.QueryRow(ctx, query, roomID).Scan(
		&room.RoomID, &room.JobID, &room.CreatorID, &room.WorkerID, &room.IsActive,
	)
	if err != nil {
		return nil, notFound("conversation room", roomID, err)
	}

	return room, nil
}

func (db *PostgresDB) DeactivateRoom(ctx context.Context, roomID int64) error {
	tag, err := db.pool.Exec(ctx, `UPDATE conversation_rooms SET is_active = false WHERE id = $1`, roomID)
	if err != nil {
		return fmt.Errorf("deactivate room %d: %w", roomID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("conversation room %d: %w", roomID, models.ErrNotFound)
	}
	return nil
}

// Message Repository Implementation
func (db *PostgresDB) CreateMessage(ctx context.Context, roomID, senderID int64, text string) (*models.Message, error) {
	query := `
		INSERT INTO messages (room_id, sender_id, text, created_at)
		VALUES ($1, $2, $3, NOW())
		RETURNING id, room_id, sender_id, text, created_at`

	msg := &models.Message{}
	err := db.pool.QueryRow(ctx, query, roomID, senderID, text).Scan(
		&msg.ID, &msg.RoomID, &msg.SenderID, &msg.Text, &msg.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}

	return msg, nil
}

// Message lists are ordered by id: created_at comes from NOW(), which is the
// transaction start and can disagree with insertion order.
func (db *PostgresDB) ListMessagesByRoom(ctx context.Context, roomID int64) ([]*models.Message, error) {
	query := `
		SELECT id, room_id, sender_id, text, created_at
		FROM messages
		WHERE room_id = $1
		ORDER BY id ASC`

	return db.queryMessages(ctx, query, roomID)
}

func (db *PostgresDB) ListMessagesBefore(ctx context.Context, roomID, messageID int64, limit int) ([]*models.Message, error) {
	query := `
		SELECT id, room_id, sender_id, text, created_at
		FROM messages
		WHERE room_id = $1 AND id < $2
		ORDER BY id DESC
		LIMIT $3`

	messages, err := db.queryMessages(ctx, query, roomID, messageID, limit)
	if err != nil {
		return nil, err
	}

	// Reverse to show oldest first
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

func (db *PostgresDB) ListMessagesAfter(ctx context.Context, roomID, messageID int64, limit int) ([]*models.Message, error) {
	query := `
		SELECT id, room_id, sender_id, text, created_at
		FROM messages
		WHERE room_id = $1 AND id > $2
		ORDER BY id ASC
		LIMIT $3`

	return db.queryMessages(ctx, query, roomID, messageID, limit)
}

func (db *PostgresDB) queryMessages(ctx context.Context, query string, args ...any) ([]*models.Message, error) {
	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []*models.Message{}
	for rows.Next() {
		msg := &models.Message{}
		if err := rows.Scan(&msg.ID, &msg.RoomID, &msg.SenderID, &msg.Text, &msg.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

// Notification Repository Implementation
func (db *PostgresDB) CreateNotification(ctx context.Context, recipientID int64, title, subtitle, message, path string) (*models.Notification, error) {
	query := `
		INSERT INTO notifications (recipient_id, title, subtitle, message, path, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, false, NOW())
		RETURNING id, recipient_id, title, subtitle, message, path, is_read, created_at`

	n := &models.Notification{}
	err := db.pool.QueryRow(ctx, query, recipientID, title, subtitle, message, path).Scan(
		&n.ID, &n.RecipientID, &n.Title, &n.Category, &n.Message, &n.Path, &n.IsRead, &n.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create notification: %w", err)
	}

	return n, nil
}

func (db *PostgresDB) UnreadCount(ctx context.Context, recipientID int64) (int, error) {
	query := `SELECT COUNT(*) FROM notifications WHERE recipient_id = $1 AND is_read = false`

	var count int
	err := db.pool.QueryRow(ctx, query, recipientID).Scan(&count)
	return count, err
}
