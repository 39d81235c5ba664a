package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
	maxBodyBytes    = 64 << 10
)

func handlerLogger(logger *slog.Logger, name string) *slog.Logger {
	return logger.With(slog.String("component", "http"), slog.String("handler", name))
}

// writeJSON encodes v with status. Encoding errors after the header is sent
// can only be dropped.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// queryInt returns the named query parameter, or def when it is missing or
// below lo.
func queryInt(r *http.Request, name string, def, lo int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || n < lo {
		return def
	}
	return n
}

// parseListOpts reads limit, offset, strategy and since (RFC 3339) from the
// query string. Malformed values fall back to defaults.
func parseListOpts(r *http.Request) domain.ListOpts {
	opts := domain.ListOpts{
		Limit:    min(queryInt(r, "limit", defaultPageSize, 1), maxPageSize),
		Offset:   queryInt(r, "offset", 0, 0),
		Strategy: r.URL.Query().Get("strategy"),
	}
	if ts, err := time.Parse(time.RFC3339Nano, r.URL.Query().Get("since")); err == nil {
		opts.Since = &ts
	}
	return opts
}

// decodeBody decodes an optional JSON body into v.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
