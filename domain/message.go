// Package domain contains core concepts of the chat system.
// This file defines chat messages and the events published for fan-out.
// Messages are immutable once stored.
package domain

import (
	"encoding/json"
	"time"
)

// ChatMessage is a unit of content persisted and broadcast to every connection.
// SenderID is always the authenticated identity, never the raw payload value.
type ChatMessage struct {
	MessageID        string         `json:"messageId"`
	SenderID         string         `json:"senderId"`
	Content          string         `json:"content"`
	CreatedAt        string         `json:"createdAt"`
	ThreadID         string         `json:"threadId,omitempty"`
	ReplyToMessageID string         `json:"replyToMessageId,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// SendMessageRequest is the normalized, still untrusted, input of a send.
type SendMessageRequest struct {
	SenderID         string
	Content          string
	MessageID        string
	CreatedAt        string
	ThreadID         string
	ReplyToMessageID string
	Metadata         map[string]any
}

// PublishedEvent flows through the publish channel to the broadcast engine.
// Payloads of one event are delivered in order to each connection.
type PublishedEvent struct {
	ID          string
	Payloads    [][]byte
	PublishedAt time.Time
}

// envelope is the wire shape pushed to clients: {"message": {...}}.
type envelope struct {
	Message ChatMessage `json:"message"`
}

// NewMessageEvent wraps a stored message into a single-payload event.
func NewMessageEvent(id string, message ChatMessage, at time.Time) (PublishedEvent, error) {
	payload, err := json.Marshal(envelope{Message: message})
	if err != nil {
		return PublishedEvent{}, err
	}
	return PublishedEvent{ID: id, Payloads: [][]byte{payload}, PublishedAt: at}, nil
}
