package reqctx

import (
	"context"
	"errors"
)

type contextKey string

const (
	clientIDKey  contextKey = "clientID"
	requestIDKey contextKey = "requestID"
)

// ErrClientIDNotFound is returned when no client ID is found in context.
var ErrClientIDNotFound = errors.New("client ID not found in context")

// ErrNoRequestIDInContext is returned when no request ID is found in context.
var ErrNoRequestIDInContext = errors.New("no request ID found in context")

// WithClientID adds a client ID to the context.
func WithClientID(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, clientIDKey, clientID)
}

// ClientIDFromContext extracts the client ID from the context.
func ClientIDFromContext(ctx context.Context) (string, error) {
	clientID, ok := ctx.Value(clientIDKey).(string)
	if !ok || clientID == "" {
		return "", ErrClientIDNotFound
	}
	return clientID, nil
}

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the request ID from the context.
func RequestIDFromContext(ctx context.Context) (string, error) {
	requestID, ok := ctx.Value(requestIDKey).(string)
	if !ok || requestID == "" {
		return "", ErrNoRequestIDInContext
	}
	return requestID, nil
}
