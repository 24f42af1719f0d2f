package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/vita3k/v3kn/api/domain"
)

type contextKey string

const npidKey contextKey = "npid"

// NPIDFromContext returns the authenticated account, or "" on routes
// mounted outside the auth middleware.
func NPIDFromContext(ctx context.Context) string {
	if npid, ok := ctx.Value(npidKey).(string); ok {
		return npid
	}
	return ""
}

func SetNPIDInContext(ctx context.Context, npid string) context.Context {
	return context.WithValue(ctx, npidKey, npid)
}

// respondOK writes the plain-text success line: bare "OK", or
// "OK:<payload>".
func respondOK(w http.ResponseWriter, payload string) {
	w.Header().Set("Content-Type", "text/plain")
	body := "OK"
	if payload != "" {
		body += ":" + payload
	}
	_, _ = io.WriteString(w, body)
}

// WriteErr renders err on the wire: soft statuses as "WARN:<Kind>",
// protocol errors as "ERR:<Kind>" plus any detail suffix, anything
// else as ERR:Internal with the cause logged. Exported for the auth
// middleware.
func WriteErr(w http.ResponseWriter, r *http.Request, err error) {
	var warn domain.Warn
	if errors.As(err, &warn) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "WARN:"+string(warn))
		return
	}
	var perr domain.Error
	if errors.As(err, &perr) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "ERR:"+err.Error())
		return
	}
	slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	http.Error(w, "ERR:Internal", http.StatusInternalServerError)
}

func respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("json encode error", "error", err)
	}
}

// remoteAddr is the client address recorded on accounts: the
// Cloudflare header when fronted, else the socket peer without port.
func remoteAddr(r *http.Request) string {
	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// readFilePart reads the multipart "file" part, the upload convention
// shared by the avatar and storage endpoints.
func readFilePart(r *http.Request) ([]byte, error) {
	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, domain.ErrMissingFile
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	return data, nil
}

// sinceQuery reads the poll watermark. A missing value means "from the
// beginning"; a present but unparseable one is a protocol error.
func sinceQuery(r *http.Request) (int64, error) {
	v := r.URL.Query().Get("since")
	if v == "" {
		return 0, nil
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, domain.ErrInvalidTimestamp
	}
	return i, nil
}
