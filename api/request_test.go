package api

import (
	"chat-relay/errors"
	"encoding/base64"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func read(body string) (Payload, error) {
	r := httptest.NewRequest("POST", "/messages", strings.NewReader(body))
	return ReadPayload(httptest.NewRecorder(), r)
}

func TestReadPayload_Shapes(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString([]byte(`{"content":"b64"}`))
	tests := []struct {
		name    string
		body    string
		content string
		message string
	}{
		{name: "raw payload", body: `{"content":"raw"}`, content: "raw"},
		{name: "envelope with string body", body: `{"body":"{\"content\":\"str\"}"}`, content: "str"},
		{name: "envelope with object body", body: `{"body":{"content":"obj"}}`, content: "obj"},
		{name: "envelope with base64 body", body: `{"body":"` + encoded + `","isBase64Encoded":true}`, content: "b64"},
		{name: "empty", body: "  ", message: "Request body is required"},
		{name: "null body", body: `{"body":null}`, message: "Request body is required"},
		{name: "invalid json", body: `{"content":`, message: "Request body must be valid JSON"},
		{name: "invalid inner json", body: `{"body":"not json"}`, message: "Request body must be valid JSON"},
		{name: "unsupported body", body: `{"body":42}`, message: "Unsupported body type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)

			payload, err := read(tt.body)

			if tt.message != "" {
				req.ErrorIs(err, errors.ErrValidation)
				var p *Problem
				req.True(errors.As(err, &p))
				req.Equal(tt.message, p.Message)
				return
			}
			req.NoError(err)
			req.Equal(tt.content, payload.SendMessageRequest().Content)
		})
	}
}

func TestPayload_Raw_Is_The_Unwrapped_Json(t *testing.T) {
	req := require.New(t)

	payload, err := read(`{"body":"{\"token\":\"abc\"}"}`)

	req.NoError(err)
	req.JSONEq(`{"token":"abc"}`, string(payload.Raw))
}

func TestPayload_SendMessageRequest_Ignores_Wrong_Types(t *testing.T) {
	req := require.New(t)

	payload, err := read(`{"senderId":7,"content":"hi","threadId":"t","metadata":"nope"}`)
	req.NoError(err)
	msg := payload.SendMessageRequest()

	req.Empty(msg.SenderID)
	req.Equal("hi", msg.Content)
	req.Equal("t", msg.ThreadID)
	req.Nil(msg.Metadata)

	payload, err = read(`{"metadata":{"k":"v"}}`)
	req.NoError(err)
	req.Equal(map[string]any{"k": "v"}, payload.SendMessageRequest().Metadata)
}
