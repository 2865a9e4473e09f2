package store

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Mongo implements Store on MongoDB. It owns the client and the collection
// handles; Close disconnects and every later call fails with ErrNotConnected.
type Mongo struct {
	client      *mongo.Client
	subscribers *mongo.Collection
	servers     *mongo.Collection
	streams     *mongo.Collection
	closed      atomic.Bool
}

// NewMongo connects to uri and opens the collections of database. Caller must call Close when done.
func NewMongo(ctx context.Context, uri, database string) (*Mongo, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo.Connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping: %w", err)
	}
	db := client.Database(database)
	return &Mongo{
		client:      client,
		subscribers: db.Collection(CollectionSubscribers),
		servers:     db.Collection(CollectionServers),
		streams:     db.Collection(CollectionStreams),
	}, nil
}

// Close disconnects the client.
func (m *Mongo) Close(ctx context.Context) error {
	if m.closed.Swap(true) {
		return nil
	}
	return m.client.Disconnect(ctx)
}

func (m *Mongo) check() error {
	if m.closed.Load() {
		return ErrNotConnected
	}
	return nil
}

func (m *Mongo) findOne(ctx context.Context, coll *mongo.Collection, filter any, opts ...options.Lister[options.FindOneOptions]) (bson.Raw, error) {
	if err := m.check(); err != nil {
		return nil, err
	}
	raw, err := coll.FindOne(ctx, filter, opts...).Raw()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	return raw, err
}

func (m *Mongo) updateOne(ctx context.Context, coll *mongo.Collection, filter, update any) error {
	if err := m.check(); err != nil {
		return err
	}
	res, err := coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// FindSubscriberByEmail returns the subscriber with the given email.
func (m *Mongo) FindSubscriberByEmail(ctx context.Context, email string) (bson.Raw, error) {
	raw, err := m.findOne(ctx, m.subscribers, bson.D{{Key: "email", Value: email}})
	if err != nil {
		return nil, fmt.Errorf("FindSubscriberByEmail: %w", err)
	}
	return raw, nil
}

// FindSubscriberByID returns the subscriber with the given id.
func (m *Mongo) FindSubscriberByID(ctx context.Context, uid bson.ObjectID) (bson.Raw, error) {
	raw, err := m.findOne(ctx, m.subscribers, bson.D{{Key: "_id", Value: uid}})
	if err != nil {
		return nil, fmt.Errorf("FindSubscriberByID: %w", err)
	}
	return raw, nil
}

// FindUserStream projects the matching association entry with the positional operator.
func (m *Mongo) FindUserStream(ctx context.Context, uid bson.ObjectID, list UserList, sid bson.ObjectID) (bson.Raw, error) {
	arr := string(list)
	filter := bson.D{{Key: "_id", Value: uid}, {Key: arr + ".sid", Value: sid}}
	proj := options.FindOne().SetProjection(bson.D{{Key: arr + ".$", Value: 1}})
	raw, err := m.findOne(ctx, m.subscribers, filter, proj)
	if err != nil {
		return nil, fmt.Errorf("FindUserStream: %w", err)
	}
	v, err := raw.LookupErr(arr, "0")
	if err != nil {
		return nil, fmt.Errorf("FindUserStream: %w", ErrNotFound)
	}
	entry, ok := v.DocumentOK()
	if !ok {
		return nil, fmt.Errorf("FindUserStream: %w", ErrNotFound)
	}
	return entry, nil
}

// ActivateDevice flips a device status to active.
func (m *Mongo) ActivateDevice(ctx context.Context, uid, deviceID bson.ObjectID) error {
	filter := bson.D{{Key: "_id", Value: uid}, {Key: "devices._id", Value: deviceID}}
	update := bson.D{{Key: "$set", Value: bson.D{{Key: "devices.$.status", Value: int32(1)}}}}
	if err := m.updateOne(ctx, m.subscribers, filter, update); err != nil {
		return fmt.Errorf("ActivateDevice: %w", err)
	}
	return nil
}

// SetUserStreamField sets <list>.$.<field> on the matching association entry.
func (m *Mongo) SetUserStreamField(ctx context.Context, uid bson.ObjectID, list UserList, sid bson.ObjectID, field string, value any) error {
	arr := string(list)
	filter := bson.D{{Key: "_id", Value: uid}, {Key: arr + ".sid", Value: sid}}
	update := bson.D{{Key: "$set", Value: bson.D{{Key: arr + ".$." + field, Value: value}}}}
	if err := m.updateOne(ctx, m.subscribers, filter, update); err != nil {
		return fmt.Errorf("SetUserStreamField %s.%s: %w", arr, field, err)
	}
	return nil
}

// AddUserStream pushes an association entry.
func (m *Mongo) AddUserStream(ctx context.Context, uid bson.ObjectID, list UserList, entry bson.D) error {
	filter := bson.D{{Key: "_id", Value: uid}}
	update := bson.D{{Key: "$push", Value: bson.D{{Key: string(list), Value: entry}}}}
	if err := m.updateOne(ctx, m.subscribers, filter, update); err != nil {
		return fmt.Errorf("AddUserStream %s: %w", list, err)
	}
	return nil
}

// RemoveUserStream pulls every association entry for sid.
func (m *Mongo) RemoveUserStream(ctx context.Context, uid bson.ObjectID, list UserList, sid bson.ObjectID) error {
	filter := bson.D{{Key: "_id", Value: uid}}
	update := bson.D{{Key: "$pull", Value: bson.D{{Key: string(list), Value: bson.D{{Key: "sid", Value: sid}}}}}}
	if err := m.updateOne(ctx, m.subscribers, filter, update); err != nil {
		return fmt.Errorf("RemoveUserStream %s: %w", list, err)
	}
	return nil
}

// FindStream returns a stream document.
func (m *Mongo) FindStream(ctx context.Context, sid bson.ObjectID) (bson.Raw, error) {
	raw, err := m.findOne(ctx, m.streams, bson.D{{Key: "_id", Value: sid}})
	if err != nil {
		return nil, fmt.Errorf("FindStream: %w", err)
	}
	return raw, nil
}

// InsertStream inserts a stream document.
func (m *Mongo) InsertStream(ctx context.Context, doc bson.Raw) error {
	if err := m.check(); err != nil {
		return err
	}
	if _, err := m.streams.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("InsertStream: %w", err)
	}
	return nil
}

// DeleteStream removes a stream document.
func (m *Mongo) DeleteStream(ctx context.Context, sid bson.ObjectID) error {
	if err := m.check(); err != nil {
		return err
	}
	res, err := m.streams.DeleteOne(ctx, bson.D{{Key: "_id", Value: sid}})
	if err != nil {
		return fmt.Errorf("DeleteStream: %w", err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("DeleteStream: %w", ErrNotFound)
	}
	return nil
}

// AddStreamPart pushes part onto the parts list of sid.
func (m *Mongo) AddStreamPart(ctx context.Context, sid, part bson.ObjectID) error {
	update := bson.D{{Key: "$push", Value: bson.D{{Key: "parts", Value: part}}}}
	if err := m.updateOne(ctx, m.streams, bson.D{{Key: "_id", Value: sid}}, update); err != nil {
		return fmt.Errorf("AddStreamPart: %w", err)
	}
	return nil
}

// RemoveStreamPart pulls part from the parts list of sid.
func (m *Mongo) RemoveStreamPart(ctx context.Context, sid, part bson.ObjectID) error {
	update := bson.D{{Key: "$pull", Value: bson.D{{Key: "parts", Value: part}}}}
	if err := m.updateOne(ctx, m.streams, bson.D{{Key: "_id", Value: sid}}, update); err != nil {
		return fmt.Errorf("RemoveStreamPart: %w", err)
	}
	return nil
}

// FindServerByStream returns the server whose stream list contains sid.
func (m *Mongo) FindServerByStream(ctx context.Context, sid bson.ObjectID) (bson.Raw, error) {
	filter := bson.D{{Key: "streams", Value: bson.D{{Key: "$elemMatch", Value: bson.D{{Key: "$eq", Value: sid}}}}}}
	raw, err := m.findOne(ctx, m.servers, filter)
	if err != nil {
		return nil, fmt.Errorf("FindServerByStream: %w", err)
	}
	return raw, nil
}

// AddServerStream pushes sid onto the stream list of a server.
func (m *Mongo) AddServerStream(ctx context.Context, serverID, sid bson.ObjectID) error {
	update := bson.D{{Key: "$push", Value: bson.D{{Key: "streams", Value: sid}}}}
	if err := m.updateOne(ctx, m.servers, bson.D{{Key: "_id", Value: serverID}}, update); err != nil {
		return fmt.Errorf("AddServerStream: %w", err)
	}
	return nil
}
