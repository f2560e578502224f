package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/movne/advisor-backend/advisor"
	"github.com/movne/advisor-backend/core"
	"github.com/movne/advisor-backend/generate"
	"github.com/movne/advisor-backend/server"
)

// fakeAdvisor scripts service responses for handler tests.
type fakeAdvisor struct {
	chatResp    *advisor.ChatResponse
	chatErr     error
	history     []core.Message
	profile     *core.ClientProfile
	ingestRes   *advisor.IngestResult
	ingestErr   error
	lastChatReq advisor.ChatRequest
}

func (f *fakeAdvisor) Chat(_ context.Context, req advisor.ChatRequest) (*advisor.ChatResponse, error) {
	f.lastChatReq = req
	return f.chatResp, f.chatErr
}

func (f *fakeAdvisor) ChatStream(ctx context.Context, req advisor.ChatRequest, fn generate.StreamFunc) (*advisor.ChatResponse, error) {
	resp, err := f.Chat(ctx, req)
	if err != nil {
		return nil, err
	}
	fn(resp.Response, false)
	fn("", true)
	return resp, nil
}

func (f *fakeAdvisor) History(_ context.Context, _ string, _ int, _ core.Language) ([]core.Message, error) {
	return f.history, nil
}

func (f *fakeAdvisor) Profile(_ context.Context, _ string) (*core.ClientProfile, error) {
	return f.profile, nil
}

func (f *fakeAdvisor) Ingest(_ context.Context, _ advisor.IngestInput) (*advisor.IngestResult, error) {
	return f.ingestRes, f.ingestErr
}

func newTestServer(fake *fakeAdvisor) http.Handler {
	return server.New(fake, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))).Handler()
}

func postJSON(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	h := newTestServer(&fakeAdvisor{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}

func TestChat_OK(t *testing.T) {
	fake := &fakeAdvisor{chatResp: &advisor.ChatResponse{
		Response:  "hello there",
		ClientID:  "c1",
		Language:  core.LanguageEnglish,
		Timestamp: time.Now(),
	}}
	h := newTestServer(fake)

	rec := postJSON(t, h, "/api/v1/chat", map[string]string{
		"message":  "hi",
		"language": "en",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	var resp server.ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "hello there", resp.Response)
	assert.Equal(t, "c1", resp.ClientID)
	assert.Equal(t, "hi", fake.lastChatReq.Message)
}

func TestChat_ValidationFailures(t *testing.T) {
	h := newTestServer(&fakeAdvisor{})

	// Missing message.
	rec := postJSON(t, h, "/api/v1/chat", map[string]string{"language": "en"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Unsupported language.
	rec = postJSON(t, h, "/api/v1/chat", map[string]string{"message": "hi", "language": "fr"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChat_ErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("assemble context: %w", core.ErrContextOverflow), http.StatusRequestEntityTooLarge},
		{fmt.Errorf("assemble context: %w", core.ErrValidation), http.StatusBadRequest},
		{fmt.Errorf("record turn: %w", core.ErrStorage), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		h := newTestServer(&fakeAdvisor{chatErr: tc.err})
		rec := postJSON(t, h, "/api/v1/chat", map[string]string{"message": "hi"})
		assert.Equal(t, tc.code, rec.Code, "error %v", tc.err)
	}
}

func TestHistory_OK(t *testing.T) {
	fake := &fakeAdvisor{history: []core.Message{
		{ID: "m2", UserText: "second", Assistant: "a2", Language: core.LanguageEnglish, Timestamp: time.Now()},
		{ID: "m1", UserText: "first", Assistant: "a1", Language: core.LanguageEnglish, Timestamp: time.Now().Add(-time.Minute)},
	}}
	h := newTestServer(fake)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/history/c1?limit=5", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		ClientID string                  `json:"client_id"`
		Messages []server.HistoryMessage `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "c1", body.ClientID)
	require.Len(t, body.Messages, 2)
	assert.Equal(t, "second", body.Messages[0].UserText)
}

func TestHistory_BadLimit(t *testing.T) {
	h := newTestServer(&fakeAdvisor{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/history/c1?limit=zero", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProfile_FoundAndMissing(t *testing.T) {
	fake := &fakeAdvisor{profile: &core.ClientProfile{
		ClientID:          "c1",
		PreferredLanguage: core.LanguageHebrew,
		InteractionCount:  4,
	}}
	h := newTestServer(fake)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/profile/c1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp server.ProfileResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "he", resp.PreferredLanguage)
	assert.Equal(t, 4, resp.InteractionCount)

	h = newTestServer(&fakeAdvisor{})
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/profile/unknown", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIngest_OK(t *testing.T) {
	fake := &fakeAdvisor{ingestRes: &advisor.IngestResult{DocumentID: "guide", Version: 2, Chunks: 3}}
	h := newTestServer(fake)

	rec := postJSON(t, h, "/api/v1/documents", map[string]any{
		"title":         "guide",
		"content":       "some document text",
		"document_type": "product_guide",
		"language":      "en",
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.EqualValues(t, 2, body["version"])
	assert.EqualValues(t, 3, body["chunks"])
}

func TestIngest_RejectsUnknownType(t *testing.T) {
	h := newTestServer(&fakeAdvisor{})
	rec := postJSON(t, h, "/api/v1/documents", map[string]any{
		"title":         "guide",
		"content":       "text",
		"document_type": "blog_post",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	h := newTestServer(&fakeAdvisor{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/v1/chat", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
