package api

import (
	"bytes"
	"chat-relay/domain"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
)

const maxBodyBytes = 1 << 20

// Payload is a decoded request body. Raw is the JSON the fields came from,
// unwrapped from a proxy envelope when the request arrived in one.
type Payload struct {
	Fields map[string]any
	Raw    []byte
}

// ReadPayload accepts either the JSON payload itself or an envelope of the form
// {"body": "<json>"|{…}|null, "isBase64Encoded": bool}.
func ReadPayload(w http.ResponseWriter, r *http.Request) (Payload, error) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return Payload{}, badRequest("Request body is too large")
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return Payload{}, badRequest("Request body is required")
	}

	var event map[string]any
	if err := json.Unmarshal(raw, &event); err != nil {
		return Payload{}, badRequest("Request body must be valid JSON")
	}
	if event == nil {
		return Payload{}, badRequest("Request body is required")
	}
	body, wrapped := event["body"]
	if !wrapped {
		return Payload{Fields: event, Raw: raw}, nil
	}
	encoded, _ := event["isBase64Encoded"].(bool)
	return unwrap(body, encoded)
}

func unwrap(body any, encoded bool) (Payload, error) {
	switch b := body.(type) {
	case nil:
		return Payload{}, badRequest("Request body is required")
	case string:
		data := []byte(b)
		if encoded {
			decoded, err := base64.StdEncoding.DecodeString(b)
			if err != nil {
				return Payload{}, badRequest("Request body must be valid JSON")
			}
			data = decoded
		}
		var fields map[string]any
		if err := json.Unmarshal(data, &fields); err != nil {
			return Payload{}, badRequest("Request body must be valid JSON")
		}
		if fields == nil {
			return Payload{}, badRequest("Request body is required")
		}
		return Payload{Fields: fields, Raw: data}, nil
	case map[string]any:
		data, err := json.Marshal(b)
		if err != nil {
			return Payload{}, badRequest("Unsupported body type")
		}
		return Payload{Fields: b, Raw: data}, nil
	default:
		return Payload{}, badRequest("Unsupported body type")
	}
}

// SendMessageRequest reads the message fields. A field of the wrong JSON type is treated as absent.
func (p Payload) SendMessageRequest() domain.SendMessageRequest {
	metadata, _ := p.Fields["metadata"].(map[string]any)
	return domain.SendMessageRequest{
		SenderID:         p.str("senderId"),
		Content:          p.str("content"),
		MessageID:        p.str("messageId"),
		CreatedAt:        p.str("createdAt"),
		ThreadID:         p.str("threadId"),
		ReplyToMessageID: p.str("replyToMessageId"),
		Metadata:         metadata,
	}
}

func (p Payload) str(key string) string {
	v, _ := p.Fields[key].(string)
	return v
}
