package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"testing"

	"marketplace-chat/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (s *testServer) post(path, key string, body interface{}) (int, models.Response) {
	s.t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(s.t, err)

	req, err := http.NewRequest(http.MethodPost, s.server.URL+path, bytes.NewReader(raw))
	require.NoError(s.t, err)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(internalKeyHeader, key)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(s.t, err)
	defer resp.Body.Close()

	var out models.Response
	require.NoError(s.t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	s.connect(1)

	resp, err := http.Get(s.server.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out models.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, map[string]interface{}{"status": "ok", "online": float64(1)}, out.Data)
}

func TestInternalRequiresKey(t *testing.T) {
	s := newTestServer(t)

	status, out := s.post("/internal/notifications", "", notifyRequest{RecipientIDs: []int64{1}, Title: "t", Message: "m"})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, models.CodeAuthenticationFailed, out.Error)

	status, _ = s.post("/internal/notifications", "wrong", notifyRequest{RecipientIDs: []int64{1}, Title: "t", Message: "m"})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Empty(t, s.db.Notifications(1))
}

func TestInternalNotify(t *testing.T) {
	s := newTestServer(t)
	a := s.connect(1)

	status, out := s.post("/internal/notifications", testInternalKey, notifyRequest{
		RecipientIDs: []int64{1, 2},
		Title:        "Welcome",
		Message:      "Your account is verified",
	})
	require.Equal(t, http.StatusOK, status)
	assert.True(t, out.Success)

	var n models.Notification
	require.NoError(t, json.Unmarshal(readUntil(t, a, models.EventNotificationReceived).Data, &n))
	assert.Equal(t, "Welcome", n.Title)
	assert.Equal(t, "system", n.Category)
	assert.Len(t, s.db.Notifications(2), 1)

	status, out = s.post("/internal/notifications", testInternalKey, notifyRequest{Title: "no recipients"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, models.CodeInvalidArgument, out.Error)
}

func TestInternalMarketplaceEvents(t *testing.T) {
	s := newTestServer(t)

	status, _ := s.post("/internal/events/job", testInternalKey, jobEventRequest{RecipientIDs: []int64{2}, JobID: 9, Kind: "assigned", JobTitle: "Fix sink"})
	require.Equal(t, http.StatusOK, status)
	require.Len(t, s.db.Notifications(2), 1)
	assert.Equal(t, "/jobs/9", s.db.Notifications(2)[0].Path)

	status, _ = s.post("/internal/events/offer", testInternalKey, offerEventRequest{RecipientID: 1, JobID: 9, OfferID: 4, Kind: "received", JobTitle: "Fix sink"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "/jobs/9/offers/4", s.db.Notifications(1)[0].Path)

	status, _ = s.post("/internal/events/review", testInternalKey, reviewEventRequest{RecipientID: 1, JobID: 9, Rating: 5, ReviewerName: "Bo"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Bo left you a 5-star review.", s.db.Notifications(1)[1].Message)

	status, out := s.post("/internal/events/job", testInternalKey, jobEventRequest{RecipientIDs: []int64{2}, JobID: 9, Kind: "vanished"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, models.CodeInvalidArgument, out.Error)

	status, _ = s.post("/internal/events/review", testInternalKey, reviewEventRequest{RecipientID: 1, JobID: 9, Rating: 6})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestInternalDeactivateRoom(t *testing.T) {
	s := newTestServer(t)
	a := s.connect(1)
	b := s.connect(2)

	send(t, a, models.EventJoinRoom, models.JoinRoomEvent{RoomID: testRoomID})
	require.True(t, response(t, readUntil(t, a, models.ResponseEvent(models.EventJoinRoom))).Success)

	status, out := s.post("/internal/rooms/42/deactivate", testInternalKey, struct{}{})
	require.Equal(t, http.StatusOK, status)
	assert.True(t, out.Success)

	readUntil(t, a, models.EventRoomClosed)
	readUntil(t, b, models.EventRoomClosed)

	send(t, a, models.EventSendMessage, models.SendMessageEvent{RoomID: testRoomID, Text: "anyone?"})
	ack := response(t, readUntil(t, a, models.ResponseEvent(models.EventSendMessage)))
	assert.False(t, ack.Success)
	assert.Equal(t, models.CodeForbidden, ack.Error)

	status, out = s.post("/internal/rooms/999/deactivate", testInternalKey, struct{}{})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, models.CodeNotFound, out.Error)

	status, _ = s.post("/internal/rooms/abc/deactivate", testInternalKey, struct{}{})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusForbidden, statusFor(models.ErrForbidden))
	assert.Equal(t, http.StatusBadGateway, statusFor(models.ErrUpstreamFailure))
	assert.Equal(t, http.StatusInternalServerError, statusFor(assert.AnError))
}
