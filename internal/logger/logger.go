// Package logger builds the zerolog root logger and carries per-request
// fields (request, session, component, layer, place) through a context.
package logger

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Config struct {
	Level     string
	Console   bool
	SampleN   int
	Service   string
	Component string
	Version   string
}

type field string

// contextFields lists the fields FromContext copies, in output order.
var contextFields = []field{"request_id", "session_id", "component", "layer", "place"}

func with(ctx context.Context, f field, v string) context.Context {
	if v == "" {
		return ctx
	}
	return context.WithValue(ctx, f, v)
}

// WithRequestID tags ctx with reqID, generating one when empty.
func WithRequestID(ctx context.Context, reqID string) context.Context {
	if reqID == "" {
		reqID = NewID()
	}
	return with(ctx, "request_id", reqID)
}

func WithSessionID(ctx context.Context, id string) context.Context {
	return with(ctx, "session_id", id)
}

func WithComponent(ctx context.Context, component string) context.Context {
	return with(ctx, "component", component)
}

func WithLayer(ctx context.Context, layer string) context.Context {
	return with(ctx, "layer", layer)
}

func WithPlace(ctx context.Context, place string) context.Context {
	return with(ctx, "place", place)
}

// NewID returns 16 random hex characters.
func NewID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// ParseLevel maps LOG_LEVEL to a zerolog level; unknown values mean info.
func ParseLevel(s string) zerolog.Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		s = "warn"
	}
	lvl, err := zerolog.ParseLevel(s)
	if err != nil || s == "" || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// Build configures zerolog globally and returns the root logger. Sampling
// applies to debug and info only, so warnings and errors are always kept.
func Build(cfg Config, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stdout
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.TimestampFieldName = "timestamp"
	zerolog.LevelFieldName = "level"
	zerolog.MessageFieldName = "msg"
	zerolog.SetGlobalLevel(ParseLevel(cfg.Level))

	if cfg.Console {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	base := zerolog.New(out)

	if cfg.SampleN > 1 {
		n := uint32(min(int64(cfg.SampleN), math.MaxUint32))
		base = base.Sample(zerolog.LevelSampler{
			DebugSampler: &zerolog.BasicSampler{N: n},
			InfoSampler:  &zerolog.BasicSampler{N: n},
		})
	}

	zc := base.With().Timestamp()
	for _, kv := range [][2]string{{"service", cfg.Service}, {"component", cfg.Component}, {"version", cfg.Version}} {
		if kv[1] != "" {
			zc = zc.Str(kv[0], kv[1])
		}
	}
	return zc.Logger()
}

// FromContext returns a child of parent carrying the context fields of ctx.
// A nil parent discards output.
func FromContext(ctx context.Context, parent *zerolog.Logger) *zerolog.Logger {
	base := zerolog.Nop()
	if parent != nil {
		base = *parent
	}
	zc := base.With()
	for _, f := range contextFields {
		if s, ok := ctx.Value(f).(string); ok && s != "" {
			zc = zc.Str(string(f), s)
		}
	}
	l := zc.Logger()
	return &l
}
