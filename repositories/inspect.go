package repositories

import (
	"chat-relay/internal"
	"fmt"
	"strings"
)

// InspectMapper renders the records this package writes.
func InspectMapper(key string, val []byte) internal.InspectRow {
	row := internal.DefaultMapper(key, val)
	switch {
	case strings.HasPrefix(key, connectionPrefix):
		row.Type = "CONNECTION"
	case strings.HasPrefix(key, userIndexPrefix):
		row.Type = "USER_INDEX"
		return row
	case strings.HasPrefix(key, messagePrefix):
		row.Type = "MESSAGE"
	case strings.HasPrefix(key, outboxPrefix):
		row.Type = "OUTBOX"
	default:
		return row
	}

	record, err := unmarshalRecord(val)
	if err != nil {
		row.Detail = "Error: unmarshal failed"
		return row
	}
	switch row.Type {
	case "CONNECTION":
		conn := toConnection(record)
		row.Timestamp = conn.ConnectedAt.Format("15:04:05")
		row.Detail = fmt.Sprintf("user=%s expires=%s", conn.UserID, conn.ExpiresAt.Format("2006-01-02 15:04"))
	case "MESSAGE":
		msg := toMessage(record)
		row.Timestamp = msg.CreatedAt
		row.Detail = fmt.Sprintf("sender=%s content=%q", msg.SenderID, truncate(msg.Content, 40))
	case "OUTBOX":
		evt, err := toEvent(record)
		if err != nil {
			row.Detail = "Error: corrupt payload"
			return row
		}
		row.Timestamp = evt.PublishedAt.Format("15:04:05")
		row.Detail = fmt.Sprintf("event=%s payloads=%d", evt.ID, len(evt.Payloads))
	}
	return row
}

func truncate(s string, n int) string {
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "…"
}
