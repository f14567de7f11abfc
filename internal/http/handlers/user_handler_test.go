package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-call-relay/internal/domain"
	"github.com/tbourn/go-call-relay/internal/repo"
	"github.com/tbourn/go-call-relay/internal/services"
)

// ---------- test DB + repo shim ----------

func newUserDB(t *testing.T) *gorm.DB {
	t.Helper()

	// Unique DSN per call to avoid cross-test contamination
	dsn := fmt.Sprintf("file:user_handlers_%s?mode=memory&cache=shared", uuid.NewString())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// Minimal shim implementing services.UserRepo using the repo package (like router.go)
type testUserRepo struct{}

func (testUserRepo) CreateUser(ctx context.Context, db *gorm.DB, u *domain.User) error {
	return repo.CreateUser(ctx, db, u)
}

func (testUserRepo) GetUser(ctx context.Context, db *gorm.DB, username string) (*domain.User, error) {
	return repo.GetUser(ctx, db, username)
}

func (testUserRepo) ListUsers(ctx context.Context, db *gorm.DB) ([]domain.User, error) {
	return repo.ListUsers(ctx, db)
}

func (testUserRepo) ListUsersPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.User, error) {
	return repo.ListUsersPage(ctx, db, offset, limit)
}

func (testUserRepo) UsersStats(ctx context.Context, db *gorm.DB) (int64, *time.Time, error) {
	return repo.UsersStats(ctx, db)
}

func (testUserRepo) UpdateUserDevice(ctx context.Context, db *gorm.DB, username string, platform domain.Platform, fcmToken, iosToken string) error {
	return repo.UpdateUserDevice(ctx, db, username, platform, fcmToken, iosToken)
}

func (testUserRepo) DeleteUser(ctx context.Context, db *gorm.DB, username string) error {
	return repo.DeleteUser(ctx, db, username)
}

// failingUsers returns the same error from every method.
type failingUsers struct{ err error }

func (f failingUsers) Register(context.Context, services.RegisterInput) (*domain.User, error) {
	return nil, f.err
}
func (f failingUsers) Get(context.Context, string) (*domain.User, error) { return nil, f.err }
func (f failingUsers) List(context.Context) ([]domain.User, error)       { return nil, f.err }
func (f failingUsers) ListPage(context.Context, int, int) ([]domain.User, int64, error) {
	return nil, 0, f.err
}
func (f failingUsers) Stats(context.Context) (int64, *time.Time, error) { return 0, nil, f.err }
func (f failingUsers) UpdateDevice(context.Context, string, services.DeviceInput) (*domain.User, error) {
	return nil, f.err
}
func (f failingUsers) Delete(context.Context, string) error { return f.err }

func newUserRouter(users UserService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := New(&stubDispatcher{}, users)
	r := gin.New()
	r.GET("/users", h.ListUsers)
	r.POST("/users", h.CreateUser)
	r.GET("/users/:username", h.GetUser)
	r.PUT("/users/:username", h.UpdateUser)
	r.DELETE("/users/:username", h.DeleteUser)
	return r
}

func doJSON(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	r.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var er ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
		t.Fatalf("json: %v (%s)", err, w.Body.String())
	}
	return er
}

// ---------- CreateUser ----------

func TestCreateUser_Lifecycle(t *testing.T) {
	svc := services.NewUserService(newUserDB(t), testUserRepo{})
	r := newUserRouter(svc)

	w := doJSON(r, http.MethodPost, "/users", `{"username":"bob","platform":"Android","fcmDeviceToken":"fcm-1"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status=%d body=%s", w.Code, w.Body.String())
	}
	var u domain.User
	if err := json.Unmarshal(w.Body.Bytes(), &u); err != nil {
		t.Fatalf("json: %v", err)
	}
	if u.Username != "bob" || u.Platform != domain.PlatformAndroid || u.FCMToken != "fcm-1" {
		t.Fatalf("unexpected user: %+v", u)
	}

	// duplicate -> 409
	w = doJSON(r, http.MethodPost, "/users", `{"username":"bob","platform":"web"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate status=%d", w.Code)
	}
	if er := decodeError(t, w); er.Code != ErrCodeConflict || er.Message != "username already exists" {
		t.Fatalf("unexpected conflict body: %+v", er)
	}

	// get
	w = doJSON(r, http.MethodGet, "/users/bob", "")
	if w.Code != http.StatusOK {
		t.Fatalf("get status=%d", w.Code)
	}

	// update
	w = doJSON(r, http.MethodPut, "/users/bob", `{"platform":"ios","fcmDeviceToken":"fcm-2","iosDeviceToken":"voip-1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("update status=%d body=%s", w.Code, w.Body.String())
	}
	if err := json.Unmarshal(w.Body.Bytes(), &u); err != nil {
		t.Fatalf("json: %v", err)
	}
	if u.Platform != domain.PlatformIOS || u.FCMToken != "fcm-2" || u.IOSToken != "voip-1" {
		t.Fatalf("unexpected updated user: %+v", u)
	}

	// list
	w = doJSON(r, http.MethodGet, "/users", "")
	var list ListUsersResponse
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("json: %v", err)
	}
	if w.Code != http.StatusOK || len(list.Users) != 1 || list.Users[0].Username != "bob" {
		t.Fatalf("unexpected list: %d %+v", w.Code, list)
	}

	// delete, then 404
	w = doJSON(r, http.MethodDelete, "/users/bob", "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete status=%d", w.Code)
	}
	w = doJSON(r, http.MethodGet, "/users/bob", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("get after delete status=%d", w.Code)
	}
	w = doJSON(r, http.MethodDelete, "/users/bob", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("second delete status=%d", w.Code)
	}
}

func TestCreateUser_Validation(t *testing.T) {
	svc := services.NewUserService(newUserDB(t), testUserRepo{})
	r := newUserRouter(svc)

	cases := map[string]string{
		"bad json":         `{bad`,
		"missing username": `{"platform":"web"}`,
		"missing platform": `{"username":"bob"}`,
		"unknown platform": `{"username":"bob","platform":"symbian"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			w := doJSON(r, http.MethodPost, "/users", body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
			}
			if er := decodeError(t, w); er.Code != ErrCodeBadRequest {
				t.Fatalf("code=%q", er.Code)
			}
		})
	}
}

func TestUpdateUser_ValidationAndNotFound(t *testing.T) {
	svc := services.NewUserService(newUserDB(t), testUserRepo{})
	r := newUserRouter(svc)

	w := doJSON(r, http.MethodPut, "/users/bob", `{"platform":"android"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing fcm token status=%d", w.Code)
	}
	w = doJSON(r, http.MethodPut, "/users/bob", `{"platform":"android","fcmDeviceToken":"f"}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown user status=%d", w.Code)
	}
	w = doJSON(r, http.MethodPut, "/users/bob", `nope`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad json status=%d", w.Code)
	}
}

func TestListUsers_EmptyIsArray(t *testing.T) {
	svc := services.NewUserService(newUserDB(t), testUserRepo{})
	w := doJSON(newUserRouter(svc), http.MethodGet, "/users", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if got := w.Body.String(); got != `{"users":[]}` {
		t.Fatalf("body=%s", got)
	}
}

func TestUserHandlers_InternalErrors(t *testing.T) {
	r := newUserRouter(failingUsers{err: errors.New("db down")})

	w := doJSON(r, http.MethodGet, "/users", "")
	if w.Code != http.StatusInternalServerError || decodeError(t, w).Code != ErrCodeListFailed {
		t.Fatalf("list: %d %s", w.Code, w.Body.String())
	}
	w = doJSON(r, http.MethodPost, "/users", `{"username":"bob","platform":"web"}`)
	if w.Code != http.StatusInternalServerError || decodeError(t, w).Code != ErrCodeCreateFailed {
		t.Fatalf("create: %d %s", w.Code, w.Body.String())
	}
	w = doJSON(r, http.MethodGet, "/users/bob", "")
	if w.Code != http.StatusInternalServerError || decodeError(t, w).Code != ErrCodeInternal {
		t.Fatalf("get: %d %s", w.Code, w.Body.String())
	}
	w = doJSON(r, http.MethodDelete, "/users/bob", "")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("delete: %d", w.Code)
	}
}

func TestListUsers_PaginationAndETag(t *testing.T) {
	svc := services.NewUserService(newUserDB(t), testUserRepo{})
	r := newUserRouter(svc)
	for _, name := range []string{"erin", "bob", "dave", "alice", "carl"} {
		if w := doJSON(r, http.MethodPost, "/users", `{"username":"`+name+`","platform":"web"}`); w.Code != http.StatusCreated {
			t.Fatalf("seed %s: %d", name, w.Code)
		}
	}

	w := doJSON(r, http.MethodGet, "/users?page=2&page_size=2", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var resp ListUsersResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Users) != 2 || resp.Users[0].Username != "carl" || resp.Users[1].Username != "dave" {
		t.Fatalf("unexpected page: %+v", resp.Users)
	}
	if p := resp.Pagination; p == nil || p.Total != 5 || p.TotalPages != 3 || !p.HasNext || p.Page != 2 || p.PageSize != 2 {
		t.Fatalf("unexpected pagination: %+v", resp.Pagination)
	}

	// page_size is capped and page floored.
	w = doJSON(r, http.MethodGet, "/users?page=-3&page_size=1000", "")
	resp = ListUsersResponse{}
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Pagination == nil || resp.Pagination.Page != 1 || resp.Pagination.PageSize != 100 || resp.Pagination.HasNext {
		t.Fatalf("unexpected clamped pagination: %+v", resp.Pagination)
	}

	// Conditional listing.
	w = doJSON(r, http.MethodGet, "/users", "")
	etag := w.Header().Get("ETag")
	if etag == "" {
		t.Fatalf("missing ETag")
	}
	req := httptest.NewRequest(http.MethodGet, "/users", nil)
	req.Header.Set("If-None-Match", etag)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotModified {
		t.Fatalf("expected 304, got %d", w.Code)
	}

	// A deletion changes the tag.
	if w := doJSON(r, http.MethodDelete, "/users/erin", ""); w.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", w.Code)
	}
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 after change, got %d", w.Code)
	}
}

func Test_clampPagination(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		query      string
		page, size int
		wantPaged  bool
	}{
		{"", 0, 0, false},
		{"page=3", 3, 20, true},
		{"page_size=5", 1, 5, true},
		{"page=x&page_size=0", 1, 1, true},
		{"page=2&page_size=500", 2, 100, true},
	}
	for _, tc := range cases {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, "/users?"+tc.query, nil)
		page, size, paged := clampPagination(c)
		if page != tc.page || size != tc.size || paged != tc.wantPaged {
			t.Fatalf("%q -> (%d, %d, %v); want (%d, %d, %v)", tc.query, page, size, paged, tc.page, tc.size, tc.wantPaged)
		}
	}
}
