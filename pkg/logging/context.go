package logging

import (
	"context"

	"github.com/rs/zerolog"
)

type contextKey int

const (
	loggerKey contextKey = iota
	requestIDKey
)

// WithLogger adds a logger to the context.
func WithLogger(ctx context.Context, logger *zerolog.Logger) context.Context {
	if logger == nil {
		logger = Default()
	}
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext extracts the logger from context, or returns the default logger.
func FromContext(ctx context.Context) *zerolog.Logger {
	if ctx == nil {
		return Default()
	}
	if logger, ok := ctx.Value(loggerKey).(*zerolog.Logger); ok && logger != nil {
		return logger
	}
	return Default()
}

// WithRequestID stores the request ID and tags the context logger with it.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	ctx = context.WithValue(ctx, requestIDKey, requestID)
	return WithField(ctx, "request_id", requestID)
}

// RequestID extracts the request ID from context.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithField adds a single field to the logger in the context.
func WithField(ctx context.Context, key string, value any) context.Context {
	c := FromContext(ctx).With()
	switch v := value.(type) {
	case string:
		c = c.Str(key, v)
	case int:
		c = c.Int(key, v)
	case bool:
		c = c.Bool(key, v)
	case error:
		c = c.AnErr(key, v)
	default:
		c = c.Interface(key, v)
	}
	l := c.Logger()
	return WithLogger(ctx, &l)
}

// WithProject tags the context logger with a project id.
func WithProject(ctx context.Context, projectID string) context.Context {
	return WithField(ctx, "project_id", projectID)
}

// WithProposal tags the context logger with a proposal id.
func WithProposal(ctx context.Context, proposalID string) context.Context {
	return WithField(ctx, "proposal_id", proposalID)
}

// WithOperation adds operation context to the logger.
func WithOperation(ctx context.Context, operation string) context.Context {
	return WithField(ctx, "operation", operation)
}
