package subscribers

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/voyagen/popcorngate/internal/models"
	"github.com/voyagen/popcorngate/internal/store"
	"github.com/voyagen/popcorngate/internal/streams"
)

// association is one decoded entry of a subscriber's stream lists.
type association struct {
	sid     bson.ObjectID
	overlay models.UserOverlay
}

// associations returns the well-formed entries of list in stored order.
func associations(doc bson.Raw, list store.UserList) []association {
	v, err := doc.LookupErr(string(list))
	if err != nil {
		return nil
	}
	arr, ok := v.ArrayOK()
	if !ok {
		return nil
	}
	values, err := arr.Values()
	if err != nil {
		return nil
	}
	out := make([]association, 0, len(values))
	for _, ev := range values {
		entry, ok := ev.DocumentOK()
		if !ok {
			continue
		}
		sid, overlay, ok := streams.ReadAssociation(entry)
		if !ok {
			continue
		}
		out = append(out, association{sid: sid, overlay: overlay})
	}
	return out
}

// GetChannels lists every stream the subscriber is associated with.
// Entries whose stream is missing or fails to decode are skipped.
func (m *Manager) GetChannels(ctx context.Context, c models.Claim) (models.Catalog, error) {
	catalog := models.Catalog{
		Channels:        []models.Channel{},
		Vods:            []models.Vod{},
		PrivateChannels: []models.Channel{},
		PrivateVods:     []models.Vod{},
		Catchups:        []models.Catchup{},
	}
	uid, err := parseUserID(c.UserID)
	if err != nil {
		return catalog, err
	}
	db, err := m.db()
	if err != nil {
		return catalog, err
	}
	user, err := db.FindSubscriberByID(ctx, uid)
	if err != nil {
		return catalog, storeErr("GetChannels", err, ErrUserNotFound)
	}

	for _, list := range store.UserLists {
		for _, a := range associations(user, list) {
			doc, st, err := m.loadTyped(ctx, a.sid)
			if errors.Is(err, ErrNotConnected) {
				return catalog, err
			}
			if err != nil {
				m.log.WithError(err).WithField("stream_id", a.sid.Hex()).Debug("skip stream")
				continue
			}
			switch list {
			case store.UserStreams:
				ch, ok := m.decoder.Channel(doc, st, a.overlay)
				if !ok {
					continue
				}
				if a.overlay.Private {
					catalog.PrivateChannels = append(catalog.PrivateChannels, ch)
				} else {
					catalog.Channels = append(catalog.Channels, ch)
				}
			case store.UserVods:
				vod, ok := m.decoder.Vod(doc, st, a.overlay)
				if !ok {
					continue
				}
				if a.overlay.Private {
					catalog.PrivateVods = append(catalog.PrivateVods, vod)
				} else {
					catalog.Vods = append(catalog.Vods, vod)
				}
			case store.UserCatchups:
				cu, ok := m.decoder.Catchup(doc, a.overlay)
				if !ok {
					continue
				}
				catalog.Catchups = append(catalog.Catchups, cu)
			}
		}
	}
	return catalog, nil
}

// loadTyped fetches a stream document and reads its class tag.
func (m *Manager) loadTyped(ctx context.Context, sid bson.ObjectID) (bson.Raw, models.StreamType, error) {
	doc, err := m.store.FindStream(ctx, sid)
	if err != nil {
		return nil, models.StreamUnknown, storeErr("FindStream", err, ErrStreamNotFound)
	}
	st, ok := streams.ReadType(doc)
	if !ok {
		return nil, models.StreamUnknown, ErrInvalidStreamRecord
	}
	if streams.KindOf(st) == streams.KindUnknown {
		m.log.WithField("stream_id", sid.Hex()).Warn("unknown stream class, treating as live channel")
	}
	return doc, st, nil
}
