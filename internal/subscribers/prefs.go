package subscribers

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/voyagen/popcorngate/internal/models"
	"github.com/voyagen/popcorngate/internal/store"
	"github.com/voyagen/popcorngate/internal/streams"
)

// listFor returns the association list a stream type is kept in.
func listFor(st models.StreamType) store.UserList {
	switch streams.KindOf(st) {
	case streams.KindVod:
		return store.UserVods
	case streams.KindCatchup:
		return store.UserCatchups
	default:
		return store.UserStreams
	}
}

// SetFavorite sets the favorite flag of the subscriber's association with sid.
func (m *Manager) SetFavorite(ctx context.Context, c models.Claim, sid string, favorite bool) error {
	return m.setUserField(ctx, c, sid, streams.AssocFieldFavorite, favorite)
}

// SetRecent records when the subscriber last watched sid (ms since epoch).
func (m *Manager) SetRecent(ctx context.Context, c models.Claim, sid string, recent int64) error {
	return m.setUserField(ctx, c, sid, streams.AssocFieldRecent, bson.DateTime(recent))
}

// SetInterruptTime records the playback offset (ms) at which sid was left.
func (m *Manager) SetInterruptTime(ctx context.Context, c models.Claim, sid string, offset int32) error {
	return m.setUserField(ctx, c, sid, streams.AssocFieldInterruptionTime, offset)
}

func (m *Manager) setUserField(ctx context.Context, c models.Claim, sid, field string, value any) error {
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
	_, st, err := m.loadTyped(ctx, stream)
	if err != nil {
		return err
	}
	if err := db.SetUserStreamField(ctx, uid, listFor(st), stream, field, value); err != nil {
		return storeErr("SetUserStreamField", err, ErrAssociationNotFound)
	}
	return nil
}
