package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-call-relay/internal/config"
	"github.com/tbourn/go-call-relay/internal/domain"
	"github.com/tbourn/go-call-relay/internal/push"
	"github.com/tbourn/go-call-relay/internal/relay"
	"github.com/tbourn/go-call-relay/internal/repo"
)

// fakePush records vendor calls instead of reaching APN or FCM.
type fakePush struct {
	mu      sync.Mutex
	voip    []string
	calls   []string
	silents []domain.LifecycleSignal
}

func (f *fakePush) SendVoIP(_ context.Context, token string, _ domain.CallEvent) push.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.voip = append(f.voip, token)
	return push.Result{Delivered: true, Detail: `{"status":200}`}
}

func (f *fakePush) SendCall(_ context.Context, token string, _ domain.CallEvent) push.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, token)
	return push.Result{Delivered: true, Detail: `{"success":1,"failure":0}`}
}

func (f *fakePush) SendSilent(_ context.Context, _ string, _ domain.Platform, sig domain.LifecycleSignal) push.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.silents = append(f.silents, sig)
	return push.Result{Delivered: true, Detail: `{"success":1,"failure":0}`}
}

// --- test DB helper (pure-Go sqlite, no CGO) ---
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:router_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func testConfig() config.Config {
	return config.Config{
		APIBasePath: "/api/v1",
		RateRPS:     100,
		RateBurst:   10,
		Security:    config.SecurityConfig{EnableHSTS: false, HSTSMaxAge: 0},
		OTEL:        config.OTELConfig{ServiceName: "test-relay"},
		Relay:       config.RelayConfig{Buffer: 4, PingInterval: time.Second},
	}
}

func newTestRouter(t *testing.T, cfg config.Config) (*gin.Engine, *fakePush, *relay.Hub) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	hub := relay.NewHub(cfg.Relay.Buffer)
	t.Cleanup(hub.Close)
	p := &fakePush{}
	RegisterRoutes(r, newTestDB(t), hub, Pushers{VoIP: p, FCM: p}, cfg)
	return r, p, hub
}

func doJSON(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRegisterRoutes_CORSAllowAll_Health_Metrics_Fallbacks(t *testing.T) {
	r, _, _ := newTestRouter(t, testConfig())

	// /health works
	w := doJSON(r, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("AllowAllOrigins expected '*', got %q", got)
	}
	var health map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &health); err != nil || health["status"] != "ok" || health["db"] != "ok" || health["web_clients"] != float64(0) {
		t.Fatalf("unexpected health body %q (%v)", w.Body.String(), err)
	}

	// /metrics is wired
	w = doJSON(r, http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK || w.Body.Len() == 0 {
		t.Fatalf("GET /metrics bad: code=%d len=%d", w.Code, w.Body.Len())
	}

	// NoRoute → 404
	w = doJSON(r, http.MethodGet, "/nope", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("GET /nope expected 404, got %d", w.Code)
	}

	// NoMethod → 405 (POST /health)
	w = doJSON(r, http.MethodPost, "/health", nil)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /health expected 405, got %d", w.Code)
	}
	var body map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body["code"] != "method_not_allowed" {
		t.Fatalf("unexpected 405 body: %v", body)
	}
}

func TestRegisterRoutes_CORSWithOrigins_HeaderEcho(t *testing.T) {
	cfg := testConfig()
	cfg.APIBasePath = "/api/v2"
	cfg.CORS = config.CORSConfig{AllowedOrigins: []string{"http://example.com"}}
	r, _, _ := newTestRouter(t, cfg)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://example.com")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://example.com" {
		t.Fatalf("expected ACAO echo, got %q", got)
	}

	// The API is mounted under the configured base path.
	if w := doJSON(r, http.MethodGet, "/api/v2/users", nil); w.Code != http.StatusOK {
		t.Fatalf("GET /api/v2/users = %d", w.Code)
	}
}

func TestRegisterRoutes_DirectoryAndSignals(t *testing.T) {
	r, p, _ := newTestRouter(t, testConfig())

	w := doJSON(r, http.MethodPost, "/api/v1/users", map[string]string{
		"username":       "bob",
		"platform":       "android",
		"fcmDeviceToken": "fcm-bob",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("POST /users = %d %s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("Cache-Control"); got != "no-store" {
		t.Fatalf("directory responses must not be cached, got %q", got)
	}

	w = doJSON(r, http.MethodPost, "/api/v1/notifications/call", map[string]string{
		"uuid":   uuid.NewString(),
		"caller": "alice",
		"callee": "bob",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("POST /notifications/call = %d %s", w.Code, w.Body.String())
	}
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["delivered"] != true || out["channel"] != string(domain.TransportFCMCall) {
		t.Fatalf("unexpected outcome %v", out)
	}
	p.mu.Lock()
	calls := append([]string(nil), p.calls...)
	p.mu.Unlock()
	if len(calls) != 1 || calls[0] != "fcm-bob" {
		t.Fatalf("expected one FCM call to bob's token, got %v", calls)
	}

	// Cancel goes to the callee as a silent message.
	w = doJSON(r, http.MethodPost, "/api/v1/notifications/signal", map[string]any{
		"uuid":           uuid.NewString(),
		"caller":         "alice",
		"callee":         "bob",
		"call_cancelled": true,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("POST /notifications/signal = %d %s", w.Code, w.Body.String())
	}
	p.mu.Lock()
	n := len(p.silents)
	p.mu.Unlock()
	if n != 1 {
		t.Fatalf("expected one silent message, got %d", n)
	}

	// Unknown callee.
	w = doJSON(r, http.MethodPost, "/api/v1/notifications/call", map[string]string{
		"uuid":   uuid.NewString(),
		"caller": "alice",
		"callee": "nobody",
	})
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown callee = %d; want 404", w.Code)
	}

	if w := doJSON(r, http.MethodDelete, "/api/v1/users/bob", nil); w.Code != http.StatusNoContent {
		t.Fatalf("DELETE /users/bob = %d", w.Code)
	}
}

func TestRegisterRoutes_WebRingingReachesRelay(t *testing.T) {
	r, _, hub := newTestRouter(t, testConfig())

	if w := doJSON(r, http.MethodPost, "/api/v1/users", map[string]string{
		"username": "carol",
		"platform": "web",
	}); w.Code != http.StatusCreated {
		t.Fatalf("POST /users = %d %s", w.Code, w.Body.String())
	}

	sub := hub.Subscribe()
	defer sub.Close()

	id := uuid.NewString()
	w := doJSON(r, http.MethodPost, "/api/v1/notifications/call", map[string]string{
		"uuid":   id,
		"caller": "alice",
		"callee": "carol",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("POST /notifications/call = %d %s", w.Code, w.Body.String())
	}

	select {
	case msg := <-sub.C():
		ev, ok := msg.Payload.(domain.CallEvent)
		if !ok || ev.ID != id || ev.Callee != "carol" {
			t.Fatalf("unexpected relay payload %#v", msg.Payload)
		}
	case <-time.After(time.Second):
		t.Fatalf("relay message not received")
	}
}

func TestRegisterRoutes_RateLimitSkipsHealthAndSocket(t *testing.T) {
	cfg := testConfig()
	cfg.RateRPS = 0.001
	cfg.RateBurst = 1
	r, _, _ := newTestRouter(t, cfg)

	for i := 0; i < 3; i++ {
		if w := doJSON(r, http.MethodGet, "/health", nil); w.Code != http.StatusOK {
			t.Fatalf("health limited on try %d: %d", i, w.Code)
		}
		// No upgrade headers: the handshake fails, but never with 429.
		if w := doJSON(r, http.MethodGet, "/api/v1/ws", nil); w.Code == http.StatusTooManyRequests {
			t.Fatalf("socket endpoint limited on try %d", i)
		}
	}

	if w := doJSON(r, http.MethodGet, "/api/v1/users", nil); w.Code != http.StatusOK {
		t.Fatalf("first directory read = %d", w.Code)
	}
	w := doJSON(r, http.MethodGet, "/api/v1/users", nil)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second directory read = %d; want 429", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "1" {
		t.Fatalf("Retry-After = %q", got)
	}
}

func TestRegisterRoutes_HealthReportsDirectoryOutage(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	hub := relay.NewHub(1)
	t.Cleanup(hub.Close)
	db := newTestDB(t)
	p := &fakePush{}
	RegisterRoutes(r, db, hub, Pushers{VoIP: p, FCM: p}, testConfig())

	if err := repo.Close(db); err != nil {
		t.Fatalf("close: %v", err)
	}
	w := doJSON(r, http.MethodGet, "/health", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("GET /health with closed db = %d; want 503", w.Code)
	}
}

func TestRegisterRoutes_SwaggerToggle(t *testing.T) {
	r, _, _ := newTestRouter(t, testConfig())
	if w := doJSON(r, http.MethodGet, "/swagger/doc.json", nil); w.Code != http.StatusNotFound {
		t.Fatalf("swagger must be off by default, got %d", w.Code)
	}

	cfg := testConfig()
	cfg.SwaggerEnabled = true
	r, _, _ = newTestRouter(t, cfg)
	w := doJSON(r, http.MethodGet, "/swagger/doc.json", nil)
	if w.Code != http.StatusOK || !bytes.Contains(w.Body.Bytes(), []byte("/notifications/call")) {
		t.Fatalf("swagger doc = %d %s", w.Code, w.Body.String())
	}
}

func Test_limitBody_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(limitBody(10))
	r.POST("/echo", func(c *gin.Context) {
		if _, err := io.ReadAll(c.Request.Body); err != nil {
			c.String(http.StatusRequestEntityTooLarge, "too big")
			return
		}
		c.String(http.StatusOK, "ok")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/echo", bytes.NewBufferString("0123456789AB")))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 from limitBody, got %d", w.Code)
	}
}

func Test_groupWithPrefix_And_joinPath(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	groupWithPrefix(r, "/").GET("/one", func(c *gin.Context) { c.String(http.StatusOK, "one") })
	groupWithPrefix(r, "").GET("/two", func(c *gin.Context) { c.String(http.StatusOK, "two") })
	groupWithPrefix(r, "/api").GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	for path, want := range map[string]string{"/one": "one", "/two": "two", "/api/ping": "pong"} {
		w := doJSON(r, http.MethodGet, path, nil)
		if w.Code != http.StatusOK || w.Body.String() != want {
			t.Fatalf("GET %s got %d %q", path, w.Code, w.Body.String())
		}
	}

	for _, tc := range []struct{ base, want string }{
		{"", "/ws"},
		{"/", "/ws"},
		{"/api/v1", "/api/v1/ws"},
	} {
		if got := joinPath(tc.base, "/ws"); got != tc.want {
			t.Fatalf("joinPath(%q) = %q; want %q", tc.base, got, tc.want)
		}
	}
}

func Test_userRepoShim_Proxies(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	var s userRepoShim

	if err := s.CreateUser(ctx, db, &domain.User{Username: "dave", Platform: domain.PlatformIOS, IOSToken: "voip"}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if err := s.UpdateUserDevice(ctx, db, "dave", domain.PlatformAndroid, "fcm", ""); err != nil {
		t.Fatalf("UpdateUserDevice: %v", err)
	}
	u, err := s.GetUser(ctx, db, "dave")
	if err != nil || u.Platform != domain.PlatformAndroid || u.FCMToken != "fcm" || u.IOSToken != "voip" {
		t.Fatalf("GetUser = %+v, %v", u, err)
	}
	if list, err := s.ListUsers(ctx, db); err != nil || len(list) != 1 {
		t.Fatalf("ListUsers = %v, %v", list, err)
	}
	if page, err := s.ListUsersPage(ctx, db, 0, 10); err != nil || len(page) != 1 {
		t.Fatalf("ListUsersPage = %v, %v", page, err)
	}
	if n, latest, err := s.UsersStats(ctx, db); err != nil || n != 1 || latest == nil {
		t.Fatalf("UsersStats = %d, %v, %v", n, latest, err)
	}
	if err := s.DeleteUser(ctx, db, "dave"); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
}
