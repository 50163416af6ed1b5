package logger

import (
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Logger struct{ zerolog.Logger }

// New logs JSON to stdout at level, falling back to info.
func New(level string) *Logger { return NewWithWriter(level, os.Stdout) }

// NewFile also writes to a size-rotated file at path.
func NewFile(level, path string) *Logger {
	if path == "" {
		return New(level)
	}
	rot := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    50, // MB
		MaxBackups: 5,
		MaxAge:     14, // dias
		Compress:   true,
	}
	return NewWithWriter(level, io.MultiWriter(os.Stdout, rot))
}

func NewWithWriter(level string, w io.Writer) *Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339
	z := zerolog.New(w).With().Timestamp().Logger().Level(lvl)
	return &Logger{z}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (s *statusWriter) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (l *Logger) HTTPLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		l.Info().Str("method", r.Method).Str("path", r.URL.Path).Int("status", sw.status).
			Dur("dur", time.Since(start)).Msg("http")
	})
}
