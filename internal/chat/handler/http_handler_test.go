package handler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"conify/internal/chat/repository"
	"conify/internal/chat/service"
	"conify/internal/common"
	"conify/internal/config"
	"conify/internal/events/eventstest"
	"conify/internal/media"
	"conify/internal/metrics"
	"conify/internal/presence"
	"conify/internal/user"
)

const testSecret = "handler-secret"

type fixture struct {
	router  http.Handler
	chat    service.ChatService
	store   *repository.MemoryStore
	tracker *presence.LocalTracker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := zap.NewNop()
	cfg := &config.Config{
		Server: config.ServerConfig{MediaBaseURL: "http://cdn.test/media/"},
		Auth:   config.AuthConfig{JWTSecret: testSecret, CookieName: "authToken"},
		Chat:   config.ChatConfig{MaxUploadBytes: 1024},
	}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	store := repository.NewMemoryStore()
	rec := &eventstest.Recorder{}
	tracker := presence.NewLocalTracker(rec, store.Profiles(), log, m)
	chat := service.NewChatService(store.Conversations(), store.Messages(), store.Profiles(), tracker, rec, log, m,
		service.Options{MaxContentLength: 100, MaxWriteRetries: 3})
	mediaServer := media.NewHTTPServer(media.NewMemoryStorage(), cfg, log)
	ws := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) })

	router := NewRouter(cfg, user.NewResolver(cfg, nil, log), NewChatHandler(chat, tracker, store.Profiles(), log), mediaServer, ws, reg, log)
	return &fixture{router: router, chat: chat, store: store, tracker: tracker}
}

func (f *fixture) do(t *testing.T, method, path string, userID int64, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if userID > 0 {
		tok, err := common.GenerateToken([]byte(testSecret), userID, "", time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func TestRouter_PublicEndpoints(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodGet, "/health", 0, nil, "")
	assert.Equal(t, http.StatusOK, rr.Code)

	_, err := f.chat.SendMessage(context.Background(), service.SendRequest{SenderID: 1, RecipientID: 2, Content: "hi"})
	require.NoError(t, err)
	rr = f.do(t, http.MethodGet, "/metrics", 0, nil, "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "conify_messages_sent_total 1")

	rr = f.do(t, http.MethodGet, "/ws", 0, nil, "")
	assert.Equal(t, http.StatusTeapot, rr.Code)
}

func TestRouter_CORS(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"), "no allow list reflects nothing")
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Credentials"))

	assert.Equal(t, "", allowedOrigin(nil, "https://evil.example"))
	assert.Equal(t, "", allowedOrigin([]string{"https://a.example"}, "https://b.example"))
	assert.Equal(t, "https://a.example", allowedOrigin([]string{"https://a.example"}, "https://a.example"))
	assert.Equal(t, "https://b.example", allowedOrigin([]string{"*"}, "https://b.example"))
	assert.Equal(t, "", allowedOrigin(nil, ""))
}

func TestRouter_RequiresCredential(t *testing.T) {
	f := newFixture(t)

	for _, path := range []string{"/api/v1/conversations", "/api/v1/presence/online-users"} {
		rr := f.do(t, http.MethodGet, path, 0, nil, "")
		assert.Equal(t, http.StatusUnauthorized, rr.Code, path)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/conversations", nil)
	req.Header.Set("Authorization", "Bearer forged")
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestChatHandler_ConversationsAndHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, err := f.chat.SendMessage(ctx, service.SendRequest{SenderID: 1, RecipientID: 2, Content: "one"})
	require.NoError(t, err)
	_, err = f.chat.SendMessage(ctx, service.SendRequest{SenderID: 1, RecipientID: 2, Content: "two"})
	require.NoError(t, err)

	rr := f.do(t, http.MethodGet, "/api/v1/conversations", 2, nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	list := decode[[]service.ConversationSummary](t, rr)
	require.Len(t, list, 1)
	assert.Equal(t, "1_2", list[0].ConversationID)
	assert.Equal(t, int64(1), list[0].CounterpartID)
	assert.Equal(t, 2, list[0].UnreadCount)
	assert.Equal(t, "two", list[0].LastMessage)

	rr = f.do(t, http.MethodGet, "/api/v1/conversations/1/messages", 2, nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	history := decode[service.History](t, rr)
	require.Len(t, history.Messages, 2)
	require.NotNil(t, history.FirstUnreadID)
	assert.Equal(t, first.ID, *history.FirstUnreadID)

	rr = f.do(t, http.MethodGet, "/api/v1/conversations", 2, nil, "")
	assert.Equal(t, 0, decode[[]service.ConversationSummary](t, rr)[0].UnreadCount)

	rr = f.do(t, http.MethodGet, "/api/v1/conversations", 9, nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, "[]", rr.Body.String())
}

func TestChatHandler_HistoryValidation(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodGet, "/api/v1/conversations/abc/messages", 1, nil, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(t, http.MethodGet, "/api/v1/conversations/1/messages", 1, nil, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "validation", decode[map[string]string](t, rr)["code"])

	rr = f.do(t, http.MethodGet, "/api/v1/conversations/5/messages", 1, nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"messages":[],"firstUnreadId":null}`, rr.Body.String())
}

func TestChatHandler_Presence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rr := f.do(t, http.MethodGet, "/api/v1/presence/online-users", 1, nil, "")
	assert.JSONEq(t, "[]", rr.Body.String())

	f.tracker.Connect(ctx, 7, "s1")
	f.tracker.Connect(ctx, 3, "s2")
	rr = f.do(t, http.MethodGet, "/api/v1/presence/online-users", 1, nil, "")
	assert.JSONEq(t, "[3,7]", rr.Body.String())

	rr = f.do(t, http.MethodGet, "/api/v1/presence/7/last-seen", 1, nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"userId":7,"online":true,"lastSeenAt":null}`, rr.Body.String())

	f.tracker.Disconnect(ctx, 7, "s1")
	rr = f.do(t, http.MethodGet, "/api/v1/presence/7/last-seen", 1, nil, "")
	got := decode[lastSeenResponse](t, rr)
	assert.False(t, got.Online)
	require.NotNil(t, got.LastSeenAt)

	rr = f.do(t, http.MethodGet, "/api/v1/presence/0/last-seen", 1, nil, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func multipartBody(t *testing.T, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	h := textproto.MIMEHeader{}
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, filename))
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf, w.FormDataContentType()
}

// pngData starts with the PNG signature so content sniffing sees an image.
var pngData = []byte("\x89PNG\r\n\x1a\n-png-bytes")

func TestMedia_UploadAndServe(t *testing.T) {
	f := newFixture(t)

	body, ct := multipartBody(t, "cat.png", "application/octet-stream", pngData)
	rr := f.do(t, http.MethodPost, "/api/v1/chat/media", 4, body, ct)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	up := decode[map[string]any](t, rr)
	id := up["id"].(string)
	assert.Equal(t, "http://cdn.test/media/"+id, up["url"])
	assert.Equal(t, "image", up["fileType"])

	rr = f.do(t, http.MethodGet, "/media/"+id, 0, nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "image/png", rr.Header().Get("Content-Type"))
	assert.Equal(t, string(pngData), rr.Body.String())

	rr = f.do(t, http.MethodGet, "/media/ffffffffffffffffffffffff", 0, nil, "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestMedia_UploadRejections(t *testing.T) {
	f := newFixture(t)

	body, ct := multipartBody(t, "notes.pdf", "application/pdf", []byte("%PDF"))
	rr := f.do(t, http.MethodPost, "/api/v1/chat/media", 4, body, ct)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	body, ct = multipartBody(t, "huge.png", "image/png", bytes.Repeat([]byte("x"), 4096))
	rr = f.do(t, http.MethodPost, "/api/v1/chat/media", 4, body, ct)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(t, http.MethodPost, "/api/v1/chat/media", 4, bytes.NewBufferString("plain"), "text/plain")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	body, ct = multipartBody(t, "cat.png", "image/png", []byte("<html><script>alert(1)</script></html>"))
	rr = f.do(t, http.MethodPost, "/api/v1/chat/media", 4, body, ct)
	assert.Equal(t, http.StatusBadRequest, rr.Code, "declared type is not trusted")
	assert.Contains(t, rr.Body.String(), "text/html")

	body, ct = multipartBody(t, "empty.png", "image/png", nil)
	rr = f.do(t, http.MethodPost, "/api/v1/chat/media", 4, body, ct)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	body, ct = multipartBody(t, "cat.png", "image/png", pngData)
	rr = f.do(t, http.MethodPost, "/api/v1/chat/media", 0, body, ct)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestMedia_DeleteOnlyByUploader(t *testing.T) {
	f := newFixture(t)

	body, ct := multipartBody(t, "cat.png", "image/png", pngData)
	rr := f.do(t, http.MethodPost, "/api/v1/chat/media", 4, body, ct)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	id := decode[map[string]any](t, rr)["id"].(string)

	rr = f.do(t, http.MethodDelete, "/api/v1/chat/media/"+id, 5, nil, "")
	assert.Equal(t, http.StatusNotFound, rr.Code, "someone else's file")
	rr = f.do(t, http.MethodDelete, "/api/v1/chat/media/"+id, 0, nil, "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	rr = f.do(t, http.MethodGet, "/media/"+id, 0, nil, "")
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = f.do(t, http.MethodDelete, "/api/v1/chat/media/"+id, 4, nil, "")
	assert.Equal(t, http.StatusNoContent, rr.Code)
	rr = f.do(t, http.MethodGet, "/media/"+id, 0, nil, "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	rr = f.do(t, http.MethodDelete, "/api/v1/chat/media/"+id, 4, nil, "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
