package handlers

import (
	"context"
	"time"

	"github.com/tbourn/go-call-relay/internal/domain"
	"github.com/tbourn/go-call-relay/internal/services"
)

//
// Service contracts (context-aware)
//

// Dispatcher routes call signals. Outcomes carry their own failure class,
// so neither method returns an error.
type Dispatcher interface {
	// DispatchRinging announces a new call to the callee.
	DispatchRinging(ctx context.Context, ev domain.CallEvent) domain.DispatchOutcome
	// DispatchLifecycleChange forwards accept, decline, cancel or update.
	DispatchLifecycleChange(ctx context.Context, sig domain.LifecycleSignal) domain.DispatchOutcome
}

// UserService defines directory operations consumed by HTTP and WebSocket
// handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type UserService interface {
	Register(ctx context.Context, in services.RegisterInput) (*domain.User, error)
	Get(ctx context.Context, username string) (*domain.User, error)
	List(ctx context.Context) ([]domain.User, error)
	ListPage(ctx context.Context, page, pageSize int) ([]domain.User, int64, error)
	Stats(ctx context.Context) (int64, *time.Time, error)
	UpdateDevice(ctx context.Context, username string, in services.DeviceInput) (*domain.User, error)
	Delete(ctx context.Context, username string) error
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for notifications and users.
// It depends on abstract service interfaces to keep transport concerns
// separate from business logic.
type Handlers struct {
	dispatch Dispatcher
	users    UserService
}

// New constructs and returns a Handlers instance bound to the given services.
func New(dispatch Dispatcher, users UserService) *Handlers {
	return &Handlers{dispatch: dispatch, users: users}
}
