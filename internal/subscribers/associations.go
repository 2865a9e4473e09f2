package subscribers

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/voyagen/popcorngate/internal/models"
	"github.com/voyagen/popcorngate/internal/store"
	"github.com/voyagen/popcorngate/internal/streams"
)

// AddUserStream associates a live stream with the subscriber.
func (m *Manager) AddUserStream(ctx context.Context, c models.Claim, sid string) error {
	return m.addUser(ctx, c, store.UserStreams, sid)
}

// RemoveUserStream removes a live stream association.
func (m *Manager) RemoveUserStream(ctx context.Context, c models.Claim, sid string) error {
	return m.removeUser(ctx, c, store.UserStreams, sid)
}

// AddUserVod associates a VOD with the subscriber.
func (m *Manager) AddUserVod(ctx context.Context, c models.Claim, sid string) error {
	return m.addUser(ctx, c, store.UserVods, sid)
}

// RemoveUserVod removes a VOD association.
func (m *Manager) RemoveUserVod(ctx context.Context, c models.Claim, sid string) error {
	return m.removeUser(ctx, c, store.UserVods, sid)
}

// AddUserCatchup associates a catchup with the subscriber.
func (m *Manager) AddUserCatchup(ctx context.Context, c models.Claim, sid string) error {
	return m.addUser(ctx, c, store.UserCatchups, sid)
}

// RemoveUserCatchup removes a catchup association.
func (m *Manager) RemoveUserCatchup(ctx context.Context, c models.Claim, sid string) error {
	return m.removeUser(ctx, c, store.UserCatchups, sid)
}

// addUser appends a default association entry. An existing association is left as is.
func (m *Manager) addUser(ctx context.Context, c models.Claim, list store.UserList, sid string) error {
	uid, err := parseUserID(c.UserID)
	if err != nil {
		return err
	}
	stream, err := parseStreamID(sid)
	if err != nil {
		return err
	}
	db, err := m.db()
	if err != nil {
		return err
	}
	_, err = db.FindUserStream(ctx, uid, list, stream)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return storeErr("FindUserStream", err, nil)
	}

	entry := bson.D{
		{Key: streams.AssocFieldSID, Value: stream},
		{Key: streams.AssocFieldFavorite, Value: false},
		{Key: streams.AssocFieldPrivate, Value: false},
		{Key: streams.AssocFieldRecent, Value: bson.DateTime(0)},
		{Key: streams.AssocFieldInterruptionTime, Value: int32(0)},
	}
	if list == store.UserCatchups {
		entry = append(bson.D{{Key: streams.FieldClass, Value: models.ClassUserStream}}, entry...)
	}
	if err := db.AddUserStream(ctx, uid, list, entry); err != nil {
		return storeErr("AddUserStream", err, ErrUserNotFound)
	}
	return nil
}

func (m *Manager) removeUser(ctx context.Context, c models.Claim, list store.UserList, sid string) error {
	uid, err := parseUserID(c.UserID)
	if err != nil {
		return err
	}
	stream, err := parseStreamID(sid)
	if err != nil {
		return err
	}
	db, err := m.db()
	if err != nil {
		return err
	}
	if err := db.RemoveUserStream(ctx, uid, list, stream); err != nil {
		return storeErr("RemoveUserStream", err, ErrUserNotFound)
	}
	return nil
}

// FindStream returns a live stream the subscriber is associated with,
// decorated with the subscriber's overlay. VOD streams are not returned.
func (m *Manager) FindStream(ctx context.Context, c models.Claim, sid string) (models.Channel, error) {
	doc, st, overlay, err := m.findUser(ctx, c, store.UserStreams, sid)
	if err != nil {
		return models.Channel{}, err
	}
	if streams.KindOf(st) == streams.KindVod {
		return models.Channel{}, ErrStreamNotFound
	}
	ch, ok := m.decoder.Channel(doc, st, overlay)
	if !ok {
		return models.Channel{}, ErrStreamNotFound
	}
	return ch, nil
}

// FindVod returns a VOD the subscriber is associated with.
func (m *Manager) FindVod(ctx context.Context, c models.Claim, sid string) (models.Vod, error) {
	doc, st, overlay, err := m.findUser(ctx, c, store.UserVods, sid)
	if err != nil {
		return models.Vod{}, err
	}
	if streams.KindOf(st) != streams.KindVod {
		return models.Vod{}, ErrStreamNotFound
	}
	vod, ok := m.decoder.Vod(doc, st, overlay)
	if !ok {
		return models.Vod{}, ErrStreamNotFound
	}
	return vod, nil
}

// FindCatchup returns a catchup the subscriber is associated with.
func (m *Manager) FindCatchup(ctx context.Context, c models.Claim, sid string) (models.Catchup, error) {
	doc, st, overlay, err := m.findUser(ctx, c, store.UserCatchups, sid)
	if err != nil {
		return models.Catchup{}, err
	}
	if streams.KindOf(st) == streams.KindVod {
		return models.Catchup{}, ErrStreamNotFound
	}
	cu, ok := m.decoder.Catchup(doc, overlay)
	if !ok {
		return models.Catchup{}, ErrStreamNotFound
	}
	return cu, nil
}

// findUser loads the association entry and the stream document for sid.
// Every miss along the way is reported as ErrStreamNotFound.
func (m *Manager) findUser(ctx context.Context, c models.Claim, list store.UserList, sid string) (bson.Raw, models.StreamType, models.UserOverlay, error) {
	var overlay models.UserOverlay
	uid, err := parseUserID(c.UserID)
	if err != nil {
		return nil, models.StreamUnknown, overlay, err
	}
	stream, err := parseStreamID(sid)
	if err != nil {
		return nil, models.StreamUnknown, overlay, err
	}
	db, err := m.db()
	if err != nil {
		return nil, models.StreamUnknown, overlay, err
	}
	entry, err := db.FindUserStream(ctx, uid, list, stream)
	if err != nil {
		return nil, models.StreamUnknown, overlay, storeErr("FindUserStream", err, ErrStreamNotFound)
	}
	_, overlay, _ = streams.ReadAssociation(entry)

	doc, st, err := m.loadTyped(ctx, stream)
	if errors.Is(err, ErrInvalidStreamRecord) {
		return nil, models.StreamUnknown, overlay, ErrStreamNotFound
	}
	if err != nil {
		return nil, models.StreamUnknown, overlay, err
	}
	return doc, st, overlay, nil
}
