package store

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/v2/bson"
)

var (
	// ErrNotFound is returned when a lookup or targeted update matches no document.
	ErrNotFound = errors.New("not found")
	// ErrNotConnected is returned by every operation once the store is closed.
	ErrNotConnected = errors.New("not connected to document store")
)

// Collection names.
const (
	CollectionSubscribers = "subscribers"
	CollectionServers     = "services"
	CollectionStreams     = "streams"
)

// UserList names one of the three association arrays of a subscriber document.
type UserList string

const (
	UserStreams  UserList = "streams"
	UserVods     UserList = "vods"
	UserCatchups UserList = "catchups"
)

// UserLists is the order in which association arrays are searched.
var UserLists = []UserList{UserStreams, UserVods, UserCatchups}

// Store is the document store used by the subscriber manager. Documents
// are returned raw; decoding them is the caller's job.
type Store interface {
	// FindSubscriberByEmail returns the subscriber document with the given login.
	FindSubscriberByEmail(ctx context.Context, email string) (bson.Raw, error)
	// FindSubscriberByID returns the subscriber document with the given id.
	FindSubscriberByID(ctx context.Context, uid bson.ObjectID) (bson.Raw, error)
	// FindUserStream returns the association entry for sid in the given list.
	FindUserStream(ctx context.Context, uid bson.ObjectID, list UserList, sid bson.ObjectID) (bson.Raw, error)
	// ActivateDevice marks a subscriber device as active.
	ActivateDevice(ctx context.Context, uid, deviceID bson.ObjectID) error
	// SetUserStreamField sets one overlay field of an association entry.
	SetUserStreamField(ctx context.Context, uid bson.ObjectID, list UserList, sid bson.ObjectID, field string, value any) error
	// AddUserStream appends an association entry.
	AddUserStream(ctx context.Context, uid bson.ObjectID, list UserList, entry bson.D) error
	// RemoveUserStream removes every association entry for sid.
	RemoveUserStream(ctx context.Context, uid bson.ObjectID, list UserList, sid bson.ObjectID) error

	// FindStream returns a stream document by id.
	FindStream(ctx context.Context, sid bson.ObjectID) (bson.Raw, error)
	// InsertStream inserts a new stream document.
	InsertStream(ctx context.Context, doc bson.Raw) error
	// DeleteStream removes a stream document.
	DeleteStream(ctx context.Context, sid bson.ObjectID) error
	// AddStreamPart appends part to the parts list of sid.
	AddStreamPart(ctx context.Context, sid, part bson.ObjectID) error
	// RemoveStreamPart removes part from the parts list of sid.
	RemoveStreamPart(ctx context.Context, sid, part bson.ObjectID) error

	// FindServerByStream returns the server document hosting sid.
	FindServerByStream(ctx context.Context, sid bson.ObjectID) (bson.Raw, error)
	// AddServerStream appends sid to the stream list of a server.
	AddServerStream(ctx context.Context, serverID, sid bson.ObjectID) error
}
