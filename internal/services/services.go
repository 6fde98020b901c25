package services

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"marketplace-chat/internal/models"
	"marketplace-chat/internal/websocket"
)

// RoomDirectory is the subset of *websocket.Directory the pipelines use.
type RoomDirectory interface {
	Join(connectionID, room string) error
	Leave(connectionID, room string) error
	Broadcast(room, event string, data interface{}) websocket.DeliveryReport
	PrincipalPresent(room string, principalID int64) bool
}

type PresenceIndex interface {
	IsOnline(principalID int64) bool
}

type IdentityOracle interface {
	Exists(ctx context.Context, principalID int64) (bool, error)
}

func invalidArgument(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", models.ErrInvalidArgument, fmt.Sprintf(format, args...))
}

func forbidden(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", models.ErrForbidden, fmt.Sprintf(format, args...))
}

// upstream marks a store failure unless it is already a NotFound.
func upstream(op string, err error) error {
	if errors.Is(err, models.ErrNotFound) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, models.ErrUpstreamFailure, err)
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max]) + "…"
}
