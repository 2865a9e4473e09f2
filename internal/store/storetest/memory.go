// Package storetest provides an in-memory store.Store for tests.
package storetest

import (
	"context"
	"fmt"
	"sync"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/voyagen/popcorngate/internal/store"
)

// Memory keeps documents as bson.D values keyed by _id. It mirrors the
// update semantics the Mongo store relies on: positional $set, $push and $pull.
type Memory struct {
	mu          sync.Mutex
	subscribers map[bson.ObjectID]bson.D
	servers     map[bson.ObjectID]bson.D
	streams     map[bson.ObjectID]bson.D
	closed      bool

	// FailOn makes the named operation return the given error once.
	FailOn map[string]error
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		subscribers: make(map[bson.ObjectID]bson.D),
		servers:     make(map[bson.ObjectID]bson.D),
		streams:     make(map[bson.ObjectID]bson.D),
		FailOn:      make(map[string]error),
	}
}

// PutSubscriber stores a subscriber document, replacing any with the same _id.
func (m *Memory) PutSubscriber(doc bson.D) { m.put(m.subscribers, doc) }

// PutServer stores a server document.
func (m *Memory) PutServer(doc bson.D) { m.put(m.servers, doc) }

// PutStream stores a stream document.
func (m *Memory) PutStream(doc bson.D) { m.put(m.streams, doc) }

// Subscriber returns a copy of a stored subscriber document.
func (m *Memory) Subscriber(id bson.ObjectID) (bson.D, bool) { return m.get(m.subscribers, id) }

// Server returns a copy of a stored server document.
func (m *Memory) Server(id bson.ObjectID) (bson.D, bool) { return m.get(m.servers, id) }

// Stream returns a copy of a stored stream document.
func (m *Memory) Stream(id bson.ObjectID) (bson.D, bool) { return m.get(m.streams, id) }

// StreamCount returns the number of stored stream documents.
func (m *Memory) StreamCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.streams)
}

// Close makes every later call fail with store.ErrNotConnected.
func (m *Memory) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
}

func (m *Memory) put(coll map[bson.ObjectID]bson.D, doc bson.D) {
	id, ok := lookup(doc, "_id").(bson.ObjectID)
	if !ok {
		panic("storetest: document without ObjectID _id")
	}
	m.mu.Lock()
	coll[id] = clone(doc)
	m.mu.Unlock()
}

func (m *Memory) get(coll map[bson.ObjectID]bson.D, id bson.ObjectID) (bson.D, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := coll[id]
	if !ok {
		return nil, false
	}
	return clone(doc), true
}

// begin takes the lock and reports injected failures or a closed store.
// The caller must unlock when err is nil.
func (m *Memory) begin(op string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return store.ErrNotConnected
	}
	if err, ok := m.FailOn[op]; ok {
		delete(m.FailOn, op)
		m.mu.Unlock()
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (m *Memory) FindSubscriberByEmail(_ context.Context, email string) (bson.Raw, error) {
	if err := m.begin("FindSubscriberByEmail"); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()
	for _, doc := range m.subscribers {
		if s, ok := lookup(doc, "email").(string); ok && s == email {
			return marshal(doc)
		}
	}
	return nil, fmt.Errorf("FindSubscriberByEmail: %w", store.ErrNotFound)
}

func (m *Memory) FindSubscriberByID(_ context.Context, uid bson.ObjectID) (bson.Raw, error) {
	if err := m.begin("FindSubscriberByID"); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()
	doc, ok := m.subscribers[uid]
	if !ok {
		return nil, fmt.Errorf("FindSubscriberByID: %w", store.ErrNotFound)
	}
	return marshal(doc)
}

func (m *Memory) FindUserStream(_ context.Context, uid bson.ObjectID, list store.UserList, sid bson.ObjectID) (bson.Raw, error) {
	if err := m.begin("FindUserStream"); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()
	doc, ok := m.subscribers[uid]
	if !ok {
		return nil, fmt.Errorf("FindUserStream: %w", store.ErrNotFound)
	}
	arr, _ := lookup(doc, string(list)).(bson.A)
	if i := indexBy(arr, "sid", sid); i >= 0 {
		return marshal(arr[i].(bson.D))
	}
	return nil, fmt.Errorf("FindUserStream: %w", store.ErrNotFound)
}

func (m *Memory) ActivateDevice(_ context.Context, uid, deviceID bson.ObjectID) error {
	if err := m.begin("ActivateDevice"); err != nil {
		return err
	}
	defer m.mu.Unlock()
	doc, ok := m.subscribers[uid]
	if !ok {
		return fmt.Errorf("ActivateDevice: %w", store.ErrNotFound)
	}
	devices, _ := lookup(doc, "devices").(bson.A)
	i := indexBy(devices, "_id", deviceID)
	if i < 0 {
		return fmt.Errorf("ActivateDevice: %w", store.ErrNotFound)
	}
	devices[i] = set(devices[i].(bson.D), "status", int32(1))
	return nil
}

func (m *Memory) SetUserStreamField(_ context.Context, uid bson.ObjectID, list store.UserList, sid bson.ObjectID, field string, value any) error {
	if err := m.begin("SetUserStreamField"); err != nil {
		return err
	}
	defer m.mu.Unlock()
	doc, ok := m.subscribers[uid]
	if !ok {
		return fmt.Errorf("SetUserStreamField: %w", store.ErrNotFound)
	}
	arr, _ := lookup(doc, string(list)).(bson.A)
	i := indexBy(arr, "sid", sid)
	if i < 0 {
		return fmt.Errorf("SetUserStreamField: %w", store.ErrNotFound)
	}
	arr[i] = set(arr[i].(bson.D), field, value)
	return nil
}

func (m *Memory) AddUserStream(_ context.Context, uid bson.ObjectID, list store.UserList, entry bson.D) error {
	if err := m.begin("AddUserStream"); err != nil {
		return err
	}
	defer m.mu.Unlock()
	doc, ok := m.subscribers[uid]
	if !ok {
		return fmt.Errorf("AddUserStream: %w", store.ErrNotFound)
	}
	m.subscribers[uid] = push(doc, string(list), clone(entry))
	return nil
}

func (m *Memory) RemoveUserStream(_ context.Context, uid bson.ObjectID, list store.UserList, sid bson.ObjectID) error {
	if err := m.begin("RemoveUserStream"); err != nil {
		return err
	}
	defer m.mu.Unlock()
	doc, ok := m.subscribers[uid]
	if !ok {
		return fmt.Errorf("RemoveUserStream: %w", store.ErrNotFound)
	}
	arr, _ := lookup(doc, string(list)).(bson.A)
	kept := bson.A{}
	for _, v := range arr {
		if e, ok := v.(bson.D); ok && lookup(e, "sid") == sid {
			continue
		}
		kept = append(kept, v)
	}
	m.subscribers[uid] = set(doc, string(list), kept)
	return nil
}

func (m *Memory) FindStream(_ context.Context, sid bson.ObjectID) (bson.Raw, error) {
	if err := m.begin("FindStream"); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()
	doc, ok := m.streams[sid]
	if !ok {
		return nil, fmt.Errorf("FindStream: %w", store.ErrNotFound)
	}
	return marshal(doc)
}

func (m *Memory) InsertStream(_ context.Context, raw bson.Raw) error {
	if err := m.begin("InsertStream"); err != nil {
		return err
	}
	defer m.mu.Unlock()
	var doc bson.D
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("InsertStream: %w", err)
	}
	id, ok := lookup(doc, "_id").(bson.ObjectID)
	if !ok {
		return fmt.Errorf("InsertStream: missing _id")
	}
	if _, exists := m.streams[id]; exists {
		return fmt.Errorf("InsertStream: duplicate key %s", id.Hex())
	}
	m.streams[id] = doc
	return nil
}

func (m *Memory) DeleteStream(_ context.Context, sid bson.ObjectID) error {
	if err := m.begin("DeleteStream"); err != nil {
		return err
	}
	defer m.mu.Unlock()
	if _, ok := m.streams[sid]; !ok {
		return fmt.Errorf("DeleteStream: %w", store.ErrNotFound)
	}
	delete(m.streams, sid)
	return nil
}

func (m *Memory) AddStreamPart(_ context.Context, sid, part bson.ObjectID) error {
	if err := m.begin("AddStreamPart"); err != nil {
		return err
	}
	defer m.mu.Unlock()
	doc, ok := m.streams[sid]
	if !ok {
		return fmt.Errorf("AddStreamPart: %w", store.ErrNotFound)
	}
	m.streams[sid] = push(doc, "parts", part)
	return nil
}

func (m *Memory) RemoveStreamPart(_ context.Context, sid, part bson.ObjectID) error {
	if err := m.begin("RemoveStreamPart"); err != nil {
		return err
	}
	defer m.mu.Unlock()
	doc, ok := m.streams[sid]
	if !ok {
		return fmt.Errorf("RemoveStreamPart: %w", store.ErrNotFound)
	}
	parts, _ := lookup(doc, "parts").(bson.A)
	kept := bson.A{}
	for _, p := range parts {
		if p != part {
			kept = append(kept, p)
		}
	}
	m.streams[sid] = set(doc, "parts", kept)
	return nil
}

func (m *Memory) FindServerByStream(_ context.Context, sid bson.ObjectID) (bson.Raw, error) {
	if err := m.begin("FindServerByStream"); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()
	for _, doc := range m.servers {
		streams, _ := lookup(doc, "streams").(bson.A)
		for _, s := range streams {
			if s == sid {
				return marshal(doc)
			}
		}
	}
	return nil, fmt.Errorf("FindServerByStream: %w", store.ErrNotFound)
}

func (m *Memory) AddServerStream(_ context.Context, serverID, sid bson.ObjectID) error {
	if err := m.begin("AddServerStream"); err != nil {
		return err
	}
	defer m.mu.Unlock()
	doc, ok := m.servers[serverID]
	if !ok {
		return fmt.Errorf("AddServerStream: %w", store.ErrNotFound)
	}
	m.servers[serverID] = push(doc, "streams", sid)
	return nil
}

// --- bson.D helpers ---

func lookup(doc bson.D, key string) any {
	for _, e := range doc {
		if e.Key == key {
			return e.Value
		}
	}
	return nil
}

func set(doc bson.D, key string, value any) bson.D {
	for i, e := range doc {
		if e.Key == key {
			doc[i].Value = value
			return doc
		}
	}
	return append(doc, bson.E{Key: key, Value: value})
}

func push(doc bson.D, key string, value any) bson.D {
	arr, _ := lookup(doc, key).(bson.A)
	return set(doc, key, append(arr, value))
}

func indexBy(arr bson.A, key string, id bson.ObjectID) int {
	for i, v := range arr {
		if e, ok := v.(bson.D); ok && lookup(e, key) == id {
			return i
		}
	}
	return -1
}

func marshal(doc bson.D) (bson.Raw, error) {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return nil, err
	}
	return bson.Raw(raw), nil
}

// clone deep-copies a document through a marshal round trip.
func clone(doc bson.D) bson.D {
	raw, err := bson.Marshal(doc)
	if err != nil {
		panic(fmt.Sprintf("storetest: marshal: %v", err))
	}
	var out bson.D
	if err := bson.Unmarshal(raw, &out); err != nil {
		panic(fmt.Sprintf("storetest: unmarshal: %v", err))
	}
	return out
}

var _ store.Store = (*Memory)(nil)
