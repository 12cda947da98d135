// Package logging provides structured logging with request ID support.
package logging

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ContextKey is the type for context keys carried through request scope.
type ContextKey string

const (
	// RequestIDKey is the context key for the per-request correlation id.
	RequestIDKey ContextKey = "request_id"
	// PublisherIDKey is the context key for the authenticated publisher.
	PublisherIDKey ContextKey = "publisher_id"
	// ServiceKey is the context key for the emitting process name.
	ServiceKey ContextKey = "service"
)

// Logger wraps logrus.Logger with service-scoped fields.
type Logger struct {
	*logrus.Logger
	service string
}

// New creates a new Logger for the given service name.
func New(service, level, format string) *Logger {
	logger := logrus.New()

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	}

	logger.SetOutput(os.Stdout)

	return &Logger{Logger: logger, service: service}
}

// WithContext creates a logger entry carrying request-scoped fields.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithField("service", l.service)

	if requestID := ctx.Value(RequestIDKey); requestID != nil {
		entry = entry.WithField("request_id", requestID)
	}
	if publisherID := ctx.Value(PublisherIDKey); publisherID != nil {
		entry = entry.WithField("publisher_id", publisherID)
	}
	return entry
}

// WithFields creates a logger entry with custom fields plus the service name.
func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["service"] = l.service
	return l.Logger.WithFields(fields)
}

// WithError creates a logger entry carrying an error field.
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields{
		"service": l.service,
		"error":   err.Error(),
	})
}

// SetOutput overrides the destination writer (used by tests).
func (l *Logger) SetOutput(output io.Writer) {
	l.Logger.SetOutput(output)
}

// NewRequestID generates a new correlation id.
func NewRequestID() string {
	return uuid.New().String()
}

// WithRequestID attaches a request id to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// RequestIDFromContext retrieves the request id from context, if any.
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(RequestIDKey).(string); ok {
		return v
	}
	return ""
}

// WithPublisherID attaches the authenticated publisher id to the context.
func WithPublisherID(ctx context.Context, publisherID string) context.Context {
	return context.WithValue(ctx, PublisherIDKey, publisherID)
}

// PublisherIDFromContext retrieves the publisher id from context, if any.
func PublisherIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(PublisherIDKey).(string); ok {
		return v
	}
	return ""
}
