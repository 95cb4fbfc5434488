// Package api is the HTTP surface of the relay: message submission, history and connection administration.
package api

import (
	"chat-relay/errors"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/samber/lo"
)

var corsHeaders = map[string]string{
	"Content-Type":                     "application/json",
	"Access-Control-Allow-Origin":      "*",
	"Access-Control-Allow-Credentials": "true",
	"Access-Control-Allow-Methods":     "GET,POST,PUT,DELETE,OPTIONS",
	"Access-Control-Allow-Headers":     "Content-Type,Authorization,X-Amz-Date,X-Api-Key,X-Amz-Security-Token",
}

var defaultMessages = map[int]string{
	http.StatusBadRequest:          "Validation failed",
	http.StatusUnauthorized:        "Authentication failed",
	http.StatusForbidden:           "Forbidden",
	http.StatusNotFound:            "Not Found",
	http.StatusMethodNotAllowed:    "Method Not Allowed",
	http.StatusConflict:            "Message already exists",
	http.StatusTooManyRequests:     "Too many requests",
	http.StatusInternalServerError: "Internal Server Error",
}

// Problem carries the text and details returned to the caller for err.
type Problem struct {
	Err     error
	Message string
	Details any
}

func (p *Problem) Error() string {
	return p.Message + ": " + p.Err.Error()
}

func (p *Problem) Unwrap() error { return p.Err }

func problem(err error, message string, details any) error {
	return &Problem{Err: err, Message: message, Details: details}
}

func badRequest(message string) error {
	return problem(errors.ErrValidation, message, nil)
}

func setHeaders(w http.ResponseWriter) {
	for k, v := range corsHeaders {
		w.Header().Set(k, v)
	}
}

// WriteSuccess writes {"ok":true,"message":…} with data merged over it.
func WriteSuccess(w http.ResponseWriter, status int, message string, data map[string]any) {
	body := lo.Assign(map[string]any{"ok": true, "message": message}, data)
	writeJSON(w, status, body)
}

// WriteError maps err to its status and writes the error envelope.
// Internal failures are logged and answered with a generic message.
func WriteError(w http.ResponseWriter, log *slog.Logger, err error) {
	status, code := errors.Classify(err)
	message := defaultMessages[status]
	var details any

	var p *Problem
	if errors.As(err, &p) {
		message, details = p.Message, p.Details
	}
	var validation *errors.ValidationError
	if details == nil && errors.As(err, &validation) {
		details = validation.Details
	}

	if status >= http.StatusInternalServerError {
		log.Error("Request failed", "status", status, "error", err)
		message, details = defaultMessages[http.StatusInternalServerError], nil
	}

	body := map[string]any{"ok": false, "error": message, "errorCode": code}
	if details != nil {
		body["details"] = details
	}
	writeJSON(w, status, body)
}

// WriteNoContent answers a preflight request.
func WriteNoContent(w http.ResponseWriter) {
	setHeaders(w)
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	setHeaders(w)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
