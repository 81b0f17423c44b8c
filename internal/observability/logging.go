package observability

import (
	"io"
	"log/slog"
)

// Tags are key-value pairs attached to every message from a logger.
type Tags map[string]string

// NewTags creates Tags from alternating string keys and values, ignoring
// slog.Attr entries' types it does not understand and incomplete pairs.
func NewTags(args ...any) Tags {
	tags := Tags{}
	for len(args) > 0 {
		switch x := args[0].(type) {
		case slog.Attr:
			tags[x.Key] = x.Value.String()
			args = args[1:]
		case string:
			if len(args) < 2 {
				return tags
			}
			attr := slog.Any(x, args[1])
			tags[attr.Key] = attr.Value.String()
			args = args[2:]
		default:
			args = args[1:]
		}
	}
	return tags
}

// CoreLogger wraps slog with tags shared by all derived loggers.
type CoreLogger struct {
	*slog.Logger
	baseTags Tags

	// limiter suppresses repeats of identical error messages. May be nil,
	// in which case every message is logged.
	limiter *RepeatLimiter
}

type CoreLoggerParams struct {
	Tags          Tags
	RepeatLimiter *RepeatLimiter
}

func NewCoreLogger(logger *slog.Logger, params *CoreLoggerParams) *CoreLogger {
	if params == nil {
		params = &CoreLoggerParams{}
	}

	tags := Tags{}
	var args []any
	for key, value := range params.Tags {
		args = append(args, slog.String(key, value))
		tags[key] = value
	}

	return &CoreLogger{
		Logger:   logger.With(args...),
		baseTags: tags,
		limiter:  params.RepeatLimiter,
	}
}

// With returns a derived logger that includes the given tags in each message.
func (cl *CoreLogger) With(args ...any) *CoreLogger {
	return &CoreLogger{
		Logger:   cl.Logger.With(args...),
		baseTags: cl.baseTags,
		limiter:  cl.limiter,
	}
}

// CaptureError logs an error unless an identical message was logged too
// recently.
func (cl *CoreLogger) CaptureError(err error, args ...any) {
	if !cl.limiter.Allow(err.Error()) {
		return
	}
	cl.Error(err.Error(), args...)
}

// GetTags returns the tags associated with the logger.
//
// Used for testing.
func (cl *CoreLogger) GetTags() Tags {
	return cl.baseTags
}

// NewNoOpLogger returns a logger that discards all messages.
//
// Used for testing.
func NewNoOpLogger() *CoreLogger {
	return NewCoreLogger(
		slog.New(slog.NewJSONHandler(io.Discard, nil)),
		nil,
	)
}
