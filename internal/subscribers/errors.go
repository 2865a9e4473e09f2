package subscribers

import (
	"errors"
	"fmt"

	"github.com/voyagen/popcorngate/internal/store"
)

// Input validation.
var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrInvalidUserID   = errors.New("invalid user id")
	ErrInvalidStreamID = errors.New("invalid stream id")
	ErrInvalidClaim    = errors.New("invalid auth claim")
)

// Not found.
var (
	ErrUserNotFound        = errors.New("user not found")
	ErrStreamNotFound      = errors.New("stream not found")
	ErrServerNotFound      = errors.New("server not found")
	ErrDeviceNotFound      = errors.New("device not found")
	ErrAssociationNotFound = errors.New("stream is not in the user's list")
)

// Authorization.
var (
	ErrNotLoggedIn        = errors.New("user not logged in")
	ErrUserNotActive      = errors.New("user not active")
	ErrUserRemoved        = errors.New("user removed")
	ErrInvalidPassword    = errors.New("invalid password")
	ErrAccountExpired     = errors.New("account expired")
	ErrNoDevices          = errors.New("no devices")
	ErrDeviceBanned       = errors.New("device banned")
	ErrDeviceLimitReached = errors.New("limit connection reject")
)

// Data integrity and resolution.
var (
	ErrInvalidStreamRecord   = errors.New("invalid stream")
	ErrUnsupportedStreamType = errors.New("stream type not supported")
	ErrNoMatchingOutput      = errors.New("cant parse stream urls")
)

// ErrNotConnected is returned when the document store is unavailable.
var ErrNotConnected = errors.New("not connected to document store")

// storeErr maps a store error onto the domain taxonomy. A store miss becomes
// notFound; anything else is wrapped with op.
func storeErr(op string, err error, notFound error) error {
	switch {
	case errors.Is(err, store.ErrNotConnected):
		return ErrNotConnected
	case errors.Is(err, store.ErrNotFound) && notFound != nil:
		return notFound
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
