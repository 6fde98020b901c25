package handlers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"marketplace-chat/internal/auth"
	"marketplace-chat/internal/models"
	"marketplace-chat/internal/presence"
	"marketplace-chat/internal/services"
	"marketplace-chat/internal/telemetry"
	ws "marketplace-chat/internal/websocket"
	"marketplace-chat/pkg/logger"

	"github.com/gorilla/websocket"
)

type Authenticator interface {
	Authenticate(ctx context.Context, token string) (models.Principal, error)
}

type GatewayConfig struct {
	AuthTimeout    time.Duration
	EventTimeout   time.Duration
	SendBuffer     int
	AllowedOrigins []string
}

// WebSocketHandlers is the connection gateway: it authenticates new
// connections, tracks their presence and routes their events to the
// conversation and notification pipelines.
type WebSocketHandlers struct {
	auth          Authenticator
	presence      *presence.Registry
	directory     *ws.Directory
	conversations *services.ConversationService
	notifications *services.NotificationService
	metrics       *telemetry.Metrics
	cfg           GatewayConfig
	upgrader      websocket.Upgrader
}

func NewWebSocketHandlers(authenticator Authenticator, registry *presence.Registry, directory *ws.Directory, conversations *services.ConversationService, notifications *services.NotificationService, metrics *telemetry.Metrics, cfg GatewayConfig) *WebSocketHandlers {
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = 10 * time.Second
	}
	h := &WebSocketHandlers{
		auth:          authenticator,
		presence:      registry,
		directory:     directory,
		conversations: conversations,
		notifications: notifications,
		metrics:       metrics,
		cfg:           cfg,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *WebSocketHandlers) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

func credentialFromRequest(r *http.Request) string {
	if token := auth.BearerToken(r.Header.Get("Authorization")); token != "" {
		return token
	}
	return r.URL.Query().Get("token")
}

func (h *WebSocketHandlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Upgrade error: %v", err)
		return
	}

	client, err := h.OnConnect(conn, credentialFromRequest(r), r.RemoteAddr)
	if err != nil {
		return
	}

	go client.WritePump()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client.ReadPump(ctx, func(ctx context.Context, raw []byte) {
		h.Dispatch(ctx, client.ID(), raw)
	})

	h.OnDisconnect(client.ID())
}

// OnConnect authenticates conn within the auth timeout. The credential comes
// from the upgrade request or, if empty, from a first "authenticate" frame.
// On failure the peer gets a generic connection_error and is closed.
func (h *WebSocketHandlers) OnConnect(conn *websocket.Conn, credential, remoteAddr string) (*ws.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.AuthTimeout)
	defer cancel()

	principal, err := h.authenticate(ctx, conn, credential)
	if err != nil {
		reason := "authentication failed"
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "authentication timed out"
		}
		h.metrics.AuthFailed(ctx, reason)
		logger.Warn("Authentication failed for %s: %v", remoteAddr, err)
		ws.Reject(conn, reason)
		return nil, err
	}
	conn.SetReadDeadline(time.Time{})

	client := ws.NewClient(conn, principal, h.cfg.SendBuffer)
	h.Attach(client)
	return client, nil
}

func (h *WebSocketHandlers) authenticate(ctx context.Context, conn *websocket.Conn, credential string) (models.Principal, error) {
	if credential == "" {
		deadline, _ := ctx.Deadline()
		raw, err := ws.ReadHandshakeFrame(conn, deadline)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return models.Principal{}, fmt.Errorf("%w: %w", models.ErrAuthenticationFailed, context.DeadlineExceeded)
			}
			return models.Principal{}, fmt.Errorf("%w: read handshake: %w", models.ErrAuthenticationFailed, err)
		}
		ev, _, err := models.DecodeInbound(raw)
		if err != nil {
			return models.Principal{}, fmt.Errorf("%w: %w", models.ErrAuthenticationFailed, err)
		}
		authEv, ok := ev.(models.AuthenticateEvent)
		if !ok {
			return models.Principal{}, fmt.Errorf("%w: expected %s, got %s", models.ErrAuthenticationFailed, models.EventAuthenticate, ev.EventName())
		}
		credential = authEv.Token
	}

	principal, err := h.auth.Authenticate(ctx, credential)
	if err != nil {
		if ctx.Err() != nil {
			return models.Principal{}, fmt.Errorf("%w: %w", err, ctx.Err())
		}
		return models.Principal{}, err
	}
	return principal, nil
}

// Attach registers an authenticated client: presence, directory, personal
// inbox, then the connected acknowledgement.
func (h *WebSocketHandlers) Attach(client *ws.Client) models.ConnectedPayload {
	principal := client.Principal()
	entry := h.presence.Register(client.ID(), principal)
	h.directory.Attach(client)
	if err := h.directory.Join(client.ID(), ws.NameForInbox(principal.ID)); err != nil {
		logger.Error("Auto-join of inbox failed for connection %s: %v", client.ID(), err)
	}
	h.metrics.ConnectionOpened(context.Background())

	payload := models.ConnectedPayload{
		PrincipalID:  principal.ID,
		ConnectionID: client.ID(),
		ConnectedAt:  entry.ConnectedAt,
	}
	if err := client.Emit(models.EventConnected, payload); err != nil {
		logger.Warn("Could not acknowledge connection %s: %v", client.ID(), err)
	}
	logger.Info("User %d connected (connection %s)", principal.ID, client.ID())
	return payload
}

// OnDisconnect forgets the connection. Room memberships go with the client.
func (h *WebSocketHandlers) OnDisconnect(connectionID string) {
	entry, last := h.presence.Unregister(connectionID)
	h.directory.Detach(connectionID)
	if entry.ConnectionID == "" {
		return
	}
	h.metrics.ConnectionClosed(context.Background())
	logger.Info("User %d disconnected (connection %s, offline: %t)", entry.PrincipalID, connectionID, last)
}

// Dispatch decodes one inbound frame, runs it and answers the originating
// connection with <event>_response. Responses are never broadcast.
func (h *WebSocketHandlers) Dispatch(ctx context.Context, connectionID string, raw []byte) {
	client, ok := h.directory.Client(connectionID)
	if !ok {
		return
	}

	ev, name, err := models.DecodeInbound(raw)
	if err != nil {
		event := models.EventError
		if name != "" {
			event = models.ResponseEvent(name)
		}
		h.reply(client, event, models.Failed(err))
		return
	}

	if h.cfg.EventTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.cfg.EventTimeout)
		defer cancel()
	}

	resp := h.route(ctx, client, ev)
	h.reply(client, models.ResponseEvent(ev.EventName()), resp)
}

func (h *WebSocketHandlers) reply(client *ws.Client, event string, resp models.Response) {
	if err := client.Emit(event, resp); err != nil {
		logger.Warn("Could not send %s to connection %s: %v", event, client.ID(), err)
	}
}

func (h *WebSocketHandlers) route(ctx context.Context, client *ws.Client, ev models.InboundEvent) models.Response {
	principal := client.Principal()
	connID := client.ID()

	var (
		resp models.Response
		err  error
	)
	switch e := ev.(type) {
	case models.AuthenticateEvent:
		err = fmt.Errorf("%w: connection is already authenticated", models.ErrInvalidArgument)

	case models.JoinRoomEvent:
		var joined *models.JoinedRoom
		if joined, err = h.conversations.JoinRoom(ctx, connID, principal, e.RoomID); err == nil {
			resp = models.OK("joined room", joined)
		}

	case models.LeaveRoomEvent:
		if err = h.conversations.LeaveRoom(connID, e.RoomID); err == nil {
			resp = models.OK("left room", map[string]int64{"roomId": e.RoomID})
		}

	case models.SendMessageEvent:
		var msg *models.Message
		if msg, err = h.conversations.SendMessage(ctx, connID, principal, e.RoomID, e.Text); err == nil {
			resp = models.OK("message sent", msg)
		}

	case models.GetHistoryEvent:
		var messages []*models.Message
		q := models.HistoryQuery{BeforeID: e.BeforeID, AfterID: e.AfterID, Limit: e.Limit}
		if messages, err = h.conversations.GetHistory(ctx, connID, principal, e.RoomID, q); err == nil {
			resp = models.OK("", map[string]interface{}{"roomId": e.RoomID, "messages": messages})
		}

	case models.JoinInboxEvent:
		var state *models.InboxState
		if state, err = h.notifications.JoinInbox(ctx, connID, principal, e.PrincipalID); err == nil {
			resp = models.OK("joined inbox", state)
		}

	case models.LeaveInboxEvent:
		if err = h.notifications.LeaveInbox(connID, principal); err == nil {
			resp = models.OK("left inbox", map[string]int64{"principalId": principal.ID})
		}

	case models.SendNotificationEvent:
		var n *models.Notification
		if n, err = h.notifications.SendNotification(ctx, principal, e); err == nil {
			resp = models.OK("notification sent", n)
		}

	case models.ListOnlineEvent:
		ids := h.presence.OnlinePrincipals()
		resp = models.OK("", models.OnlinePayload{Count: len(ids), PrincipalIDs: ids})

	case models.PingEvent:
		resp = models.OK("", models.PongPayload{Pong: time.Now().UTC().Format(time.RFC3339)})

	default:
		err = fmt.Errorf("%w: unsupported event %s", models.ErrInvalidArgument, ev.EventName())
	}

	if err != nil {
		h.logFailure(principal.ID, connID, ev.EventName(), err)
		return models.Failed(err)
	}
	return resp
}

func (h *WebSocketHandlers) logFailure(principalID int64, connID, event string, err error) {
	switch models.ErrorCode(err) {
	case models.CodeUpstreamFailure, models.CodeInternal:
		logger.Error("%s failed for user %d (connection %s): %v", event, principalID, connID, err)
	case models.CodeForbidden:
		logger.Warn("%s denied for user %d (connection %s): %v", event, principalID, connID, err)
	default:
		logger.Debug("%s rejected for user %d (connection %s): %v", event, principalID, connID, err)
	}
}

// SendToPrincipal emits an event to every open connection of principalID.
func (h *WebSocketHandlers) SendToPrincipal(principalID int64, event string, data interface{}) ws.DeliveryReport {
	return h.directory.SendTo(h.presence.ConnectionsOf(principalID), event, data)
}

// Shutdown closes every open client; their pumps then run the normal
// disconnect path.
func (h *WebSocketHandlers) Shutdown() {
	for _, id := range h.directory.ConnectionIDs() {
		if c, ok := h.directory.Client(id); ok {
			c.Close()
		}
	}
}
