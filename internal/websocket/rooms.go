package websocket

import (
	"strconv"
	"strings"
)

const (
	conversationPrefix = "conversation:"
	inboxPrefix        = "inbox:"
)

func NameForConversation(roomID int64) string {
	return conversationPrefix + strconv.FormatInt(roomID, 10)
}

func NameForInbox(principalID int64) string {
	return inboxPrefix + strconv.FormatInt(principalID, 10)
}

// ParseConversation extracts the room id from a conversation room name.
func ParseConversation(name string) (int64, bool) {
	rest, ok := strings.CutPrefix(name, conversationPrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
