package router

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/itchan-dev/itchat/backend/internal/handler"
	"github.com/itchan-dev/itchat/shared/config"
	"github.com/itchan-dev/itchat/shared/csrf"
	"github.com/itchan-dev/itchat/shared/domain"
	jwt_internal "github.com/itchan-dev/itchat/shared/jwt"
	mw "github.com/itchan-dev/itchat/shared/middleware"
	"github.com/itchan-dev/itchat/shared/middleware/ratelimiter"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubMessenger panics on anything the tests do not route to.
type stubMessenger struct {
	handler.Messenger
}

func (stubMessenger) ListThreads(ctx context.Context) ([]domain.ThreadSummary, error) {
	return []domain.ThreadSummary{}, nil
}

func (stubMessenger) SendText(ctx context.Context, threadId domain.ThreadId, text string) (*domain.Message, error) {
	return &domain.Message{Id: "m1", ThreadId: threadId, Body: text}, nil
}

type stubSessions struct{}

func (stubSessions) Session(ctx context.Context, actor domain.UserId) (handler.Messenger, error) {
	return stubMessenger{}, nil
}

type stubPinger struct{}

func (stubPinger) Ping(ctx context.Context) error { return nil }

type testEnv struct {
	router http.Handler
	token  string
	media  string
}

func setupTestEnv(t *testing.T, sendsPerMinute int) testEnv {
	t.Helper()
	public := config.Public{
		AllowedOrigins:    []string{"https://app.example.com"},
		MediaRoot:         t.TempDir(),
		SendRatePerMinute: sendsPerMinute,
	}
	public.ApplyDefaults()
	cfg := &config.Config{Public: public}

	jwt := jwt_internal.New("secret", time.Hour)
	token, err := jwt.NewToken("actor-1")
	require.NoError(t, err)

	limiter := ratelimiter.PerMinute(sendsPerMinute)
	t.Cleanup(limiter.Stop)

	h := handler.New(stubSessions{}, handler.Checks{"store": stubPinger{}}, cfg)
	return testEnv{
		router: newRouter(cfg, h, mw.NewAuth(jwt).NeedAuth(), limiter),
		token:  token,
		media:  public.MediaRoot,
	}
}

func (e testEnv) do(t *testing.T, method, url string, body []byte, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, url, bytes.NewReader(body))
	if authed {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func TestPublicRoutes(t *testing.T) {
	env := setupTestEnv(t, 10)

	rr := env.do(t, http.MethodGet, "/health", nil, false)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/ready", nil, false).Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/metrics", nil, false).Code)
}

func TestAuthRequired(t *testing.T) {
	env := setupTestEnv(t, 10)

	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/v1/threads", nil, false).Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/v1/threads", nil, true).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/v1/unknown", nil, true).Code)
}

func TestSendRateLimit(t *testing.T) {
	env := setupTestEnv(t, 2)
	body := []byte(`{"body":"hello"}`)

	assert.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/v1/threads/t1/messages", body, true).Code)
	assert.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/v1/threads/t1/messages", body, true).Code)
	assert.Equal(t, http.StatusTooManyRequests, env.do(t, http.MethodPost, "/v1/threads/t1/messages", body, true).Code)

	// reads are not limited
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/v1/threads", nil, true).Code)
}

func TestMedia(t *testing.T) {
	env := setupTestEnv(t, 10)
	require.NoError(t, os.MkdirAll(filepath.Join(env.media, "ab"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(env.media, "ab", "abcd.txt"), []byte("menu"), 0o644))

	rr := env.do(t, http.MethodGet, "/media/ab/abcd.txt", nil, true)
	require.Equal(t, http.StatusOK, rr.Code)
	data, err := io.ReadAll(rr.Body)
	require.NoError(t, err)
	assert.Equal(t, "menu", string(data))

	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/media/ab/abcd.txt", nil, false).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/media/ab/", nil, true).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/media/ab/missing.txt", nil, true).Code)
}

func TestCORSPreflight(t *testing.T) {
	env := setupTestEnv(t, 10)

	req := httptest.NewRequest(http.MethodOptions, "/v1/threads", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)

	assert.Equal(t, "https://app.example.com", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rr.Header().Get("Access-Control-Allow-Credentials"))
}

func TestCSRFForCookieClients(t *testing.T) {
	env := setupTestEnv(t, 10)
	body := []byte(`{"body":"hello"}`)

	post := func(csrfCookie, csrfHeader string) int {
		req := httptest.NewRequest(http.MethodPost, "/v1/threads/t1/messages", bytes.NewReader(body))
		req.AddCookie(&http.Cookie{Name: mw.AuthCookie, Value: env.token})
		if csrfCookie != "" {
			req.AddCookie(&http.Cookie{Name: csrf.CookieName, Value: csrfCookie})
		}
		if csrfHeader != "" {
			req.Header.Set(csrf.HeaderName, csrfHeader)
		}
		rr := httptest.NewRecorder()
		env.router.ServeHTTP(rr, req)
		return rr.Code
	}

	assert.Equal(t, http.StatusForbidden, post("", ""))
	assert.Equal(t, http.StatusForbidden, post("a", "b"))
	assert.Equal(t, http.StatusCreated, post("a", "a"))
}
