// User HTTP handlers.
//
// This file exposes REST endpoints for the user directory:
//   - GET    /users (optionally paginated, weak ETag)
//   - POST   /users
//   - GET    /users/{username}
//   - PUT    /users/{username}
//   - DELETE /users/{username}
package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-call-relay/internal/domain"
	"github.com/tbourn/go-call-relay/internal/services"
	"github.com/tbourn/go-call-relay/internal/utils"
)

//
// DTOs
//

// CreateUserRequest registers a username with its platform and tokens.
type CreateUserRequest struct {
	Username       string `json:"username"       example:"bob"`
	Platform       string `json:"platform"       example:"android"`
	FCMDeviceToken string `json:"fcmDeviceToken" example:"fcm-token"`
	IOSDeviceToken string `json:"iosDeviceToken" example:""`
}

// UpdateUserRequest replaces a user's platform and tokens. iosDeviceToken
// is kept when omitted.
type UpdateUserRequest struct {
	Platform       string `json:"platform"       example:"ios"`
	FCMDeviceToken string `json:"fcmDeviceToken" example:"fcm-token"`
	IOSDeviceToken string `json:"iosDeviceToken" example:"voip-token"`
}

// Pagination describes the page returned by a paginated listing.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListUsersResponse wraps the directory listing. Pagination is present only
// when the client asked for a page.
type ListUsersResponse struct {
	Users      []domain.User `json:"users"`
	Pagination *Pagination   `json:"pagination,omitempty"`
}

// clampPagination parses page and page_size query params, bounding them to
// [1, ∞) and [1, 100]. paged is false when neither param was sent.
func clampPagination(c *gin.Context) (page, pageSize int, paged bool) {
	const (
		defaultPageSize = 20
		maxPageSize     = 100
	)
	rawPage, rawSize := c.Query("page"), c.Query("page_size")
	if rawPage == "" && rawSize == "" {
		return 0, 0, false
	}
	page = max(utils.AtoiDefault(rawPage, 1), 1)
	pageSize = utils.Clamp(utils.AtoiDefault(rawSize, defaultPageSize), 1, maxPageSize)
	return page, pageSize, true
}

// userError maps directory errors to HTTP responses.
func userError(c *gin.Context, err error, fallbackCode string) {
	switch {
	case errors.Is(err, services.ErrInvalidUser):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, services.ErrUserNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "user not found")
	case errors.Is(err, services.ErrUserExists):
		fail(c, http.StatusConflict, ErrCodeConflict, "username already exists")
	default:
		fail(c, http.StatusInternalServerError, fallbackCode, err.Error())
	}
}

//
// Handlers
//

// ListUsers godoc
// @ID          listUsers
// @Summary     List users
// @Description Returns the directory ordered by username. Sending page or page_size returns one page with pagination metadata. Supports weak ETag via If-None-Match.
// @Tags        Users
// @Produce     json
// @Param       If-None-Match  header  string  false  "Return 304 if ETag matches"
// @Param       page           query   int     false  "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false  "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200  {object}  handlers.ListUsersResponse
// @Header      200  {string}  ETag  "Weak ETag for the current directory"
// @Success     304  {string}  string  "Not Modified"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /users [get]
func (h *Handlers) ListUsers(c *gin.Context) {
	ctx := c.Request.Context()
	page, pageSize, paged := clampPagination(c)

	// ETag pre-check (best effort).
	if count, latest, err := h.users.Stats(ctx); err == nil {
		var ts int64
		if latest != nil {
			ts = latest.UnixNano()
		}
		etag := fmt.Sprintf(`W/"users:%d:%d:%d:%d"`, count, ts, page, pageSize)
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	if !paged {
		users, err := h.users.List(ctx)
		if err != nil {
			userError(c, err, ErrCodeListFailed)
			return
		}
		if users == nil {
			users = []domain.User{}
		}
		ok(c, http.StatusOK, ListUsersResponse{Users: users})
		return
	}

	users, total, err := h.users.ListPage(ctx, page, pageSize)
	if err != nil {
		userError(c, err, ErrCodeListFailed)
		return
	}
	if users == nil {
		users = []domain.User{}
	}
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListUsersResponse{
		Users: users,
		Pagination: &Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// GetUser godoc
// @ID          getUser
// @Summary     Get a user
// @Tags        Users
// @Produce     json
// @Param       username  path  string  true  "Username"  example(bob)
// @Success     200  {object}  domain.User
// @Failure     404  {object}  handlers.ErrorResponse  "User not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /users/{username} [get]
func (h *Handlers) GetUser(c *gin.Context) {
	u, err := h.users.Get(c.Request.Context(), c.Param("username"))
	if err != nil {
		userError(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, u)
}

// CreateUser godoc
// @ID          createUser
// @Summary     Register a user
// @Description Username and platform (ios, android, web; case-insensitive) are required.
// @Tags        Users
// @Accept      json
// @Produce     json
// @Param       body  body  handlers.CreateUserRequest  true  "New user"
// @Success     201  {object}  domain.User
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     409  {object}  handlers.ErrorResponse  "Username taken"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /users [post]
func (h *Handlers) CreateUser(c *gin.Context) {
	var req CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	u, err := h.users.Register(c.Request.Context(), services.RegisterInput{
		Username: req.Username,
		Platform: req.Platform,
		FCMToken: req.FCMDeviceToken,
		IOSToken: req.IOSDeviceToken,
	})
	if err != nil {
		userError(c, err, ErrCodeCreateFailed)
		return
	}
	ok(c, http.StatusCreated, u)
}

// UpdateUser godoc
// @ID          updateUser
// @Summary     Update a user's device
// @Description Platform and fcmDeviceToken are required; iosDeviceToken is optional.
// @Tags        Users
// @Accept      json
// @Produce     json
// @Param       username  path  string                      true  "Username"  example(bob)
// @Param       body      body  handlers.UpdateUserRequest  true  "Device"
// @Success     200  {object}  domain.User
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "User not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /users/{username} [put]
func (h *Handlers) UpdateUser(c *gin.Context) {
	var req UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	u, err := h.users.UpdateDevice(c.Request.Context(), c.Param("username"), services.DeviceInput{
		Platform: req.Platform,
		FCMToken: req.FCMDeviceToken,
		IOSToken: req.IOSDeviceToken,
	})
	if err != nil {
		userError(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, u)
}

// DeleteUser godoc
// @ID          deleteUser
// @Summary     Remove a user
// @Tags        Users
// @Param       username  path  string  true  "Username"  example(bob)
// @Success     204  {string}  string  "No Content"
// @Failure     404  {object}  handlers.ErrorResponse  "User not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /users/{username} [delete]
func (h *Handlers) DeleteUser(c *gin.Context) {
	if err := h.users.Delete(c.Request.Context(), c.Param("username")); err != nil {
		userError(c, err, ErrCodeInternal)
		return
	}
	noContent(c)
}
