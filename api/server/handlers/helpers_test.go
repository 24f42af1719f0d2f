package handlers_test

import (
	"bytes"
	"encoding/base64"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vita3k/v3kn/api/config"
	"github.com/vita3k/v3kn/api/server"
	"github.com/vita3k/v3kn/api/services"
	"github.com/vita3k/v3kn/api/store"
)

const testQuota = 50 * 1024 * 1024

// testServer drives the assembled router, middleware included, so
// bodies asserted here are exactly what a console receives.
type testServer struct {
	t       *testing.T
	handler http.Handler
}

func withQuota(quota uint64) func(*config.Config) {
	return func(cfg *config.Config) { cfg.Storage.Quota = quota }
}

func withPollBudget(budget time.Duration) func(*config.Config) {
	return func(cfg *config.Config) { cfg.Polling.Budget = budget }
}

func newTestServer(t *testing.T, opts ...func(*config.Config)) *testServer {
	t.Helper()

	cfg := &config.Config{}
	cfg.Storage.DataDir = filepath.Join(t.TempDir(), "v3kn")
	cfg.Storage.Quota = testQuota
	cfg.Polling.Budget = 5 * time.Second
	for _, opt := range opts {
		opt(cfg)
	}

	st := store.New(cfg.Storage.DataDir)
	require.NoError(t, st.EnsureLayout())

	registry := services.NewPresenceRegistry()
	inbox, err := services.NewEventInbox(st)
	require.NoError(t, err)

	accounts := services.NewAccountService(st, cfg.Storage.Quota)
	friends := services.NewFriendService(st, registry, inbox, services.NewPollSignals(), cfg.Polling.Budget)
	messages := services.NewMessageService(st, services.NewMessageSignal(), cfg.Polling.Budget)
	storage := services.NewStorageService(st, cfg.Storage.Quota)

	srv := server.NewServer(cfg, server.NewRequestGate(), accounts, friends, messages, storage)
	return &testServer{t: t, handler: srv.Router()}
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) get(path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return ts.do(req)
}

func (ts *testServer) postForm(path, token string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return ts.do(req)
}

func (ts *testServer) postJSON(path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return ts.do(req)
}

func (ts *testServer) postMultipart(path, token string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", contentType)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return ts.do(req)
}

// filePart is one "file" part of a multipart upload body.
type filePart struct {
	name string
	data []byte
}

// multipartBody assembles file parts plus optional plain fields.
func multipartBody(t *testing.T, files []filePart, fields map[string]string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range files {
		part, err := mw.CreateFormFile("file", f.name)
		require.NoError(t, err)
		_, err = part.Write(f.data)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

// clientHash mimics the console side: it sends base64 of its own
// password digest, and the server never sees the plaintext.
func clientHash(password string) string {
	return base64.StdEncoding.EncodeToString([]byte("digest:" + password))
}

// createUser registers an account over the wire and returns its token.
func (ts *testServer) createUser(npid, password string) string {
	ts.t.Helper()
	rec := ts.postForm("/v3kn/create", "", url.Values{
		"npid":     {npid},
		"password": {clientHash(password)},
	})
	body := rec.Body.String()
	require.True(ts.t, strings.HasPrefix(body, "OK:"), "create %s: %s", npid, body)
	return strings.TrimPrefix(body, "OK:")
}

// befriend runs the add/accept handshake. The accepting side keeps a
// friends_request_received event in its inbox afterwards.
func (ts *testServer) befriend(aToken, aNPID, bToken, bNPID string) {
	ts.t.Helper()
	rec := ts.postForm("/v3kn/friends/add", aToken, url.Values{"target_npid": {bNPID}})
	require.Equal(ts.t, "OK:RequestSent", rec.Body.String())
	rec = ts.postForm("/v3kn/friends/accept", bToken, url.Values{"target_npid": {aNPID}})
	require.Equal(ts.t, "OK:FriendAdded", rec.Body.String())
}
