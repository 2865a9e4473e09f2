package subscribers

import (
	"context"
	"errors"

	"github.com/voyagen/popcorngate/internal/models"
	"github.com/voyagen/popcorngate/internal/store"
	"github.com/voyagen/popcorngate/internal/streams"
)

// Location is where a requested channel can be played from: a local
// directory to serve files from, or a URL to redirect to.
type Location struct {
	Directory string
	URL       string
}

// IsDirectory reports whether the location is a local directory.
func (l Location) IsDirectory() bool {
	return l.Directory != ""
}

// Resolve finds the playable location of output cid of stream sid for the
// subscriber. Association lists are searched in the order streams, vods,
// catchups and the first match wins.
func (m *Manager) Resolve(ctx context.Context, c models.Claim, sid string, cid int32) (Location, error) {
	loc, err := m.resolve(ctx, c, sid, cid)
	switch {
	case err != nil:
		m.metrics.Resolve("error")
	case loc.IsDirectory():
		m.metrics.Resolve("directory")
	default:
		m.metrics.Resolve("url")
	}
	return loc, err
}

func (m *Manager) resolve(ctx context.Context, c models.Claim, sid string, cid int32) (Location, error) {
	uid, err := parseUserID(c.UserID)
	if err != nil {
		return Location{}, err
	}
	stream, err := parseStreamID(sid)
	if err != nil {
		return Location{}, err
	}
	db, err := m.db()
	if err != nil {
		return Location{}, err
	}
	user, err := db.FindSubscriberByID(ctx, uid)
	if err != nil {
		return Location{}, storeErr("Resolve", err, ErrUserNotFound)
	}

	for _, list := range store.UserLists {
		for _, a := range associations(user, list) {
			if a.sid != stream {
				continue
			}
			doc, st, err := m.loadTyped(ctx, stream)
			if errors.Is(err, ErrStreamNotFound) {
				return Location{}, ErrUnsupportedStreamType
			}
			if err != nil {
				return Location{}, err
			}
			urls, ok := streams.ReadOutputs(doc)
			if !ok {
				return Location{}, ErrNoMatchingOutput
			}
			return m.pickLocation(urls, cid, isProxy(list, st))
		}
	}
	return Location{}, ErrStreamNotFound
}

// isProxy reports whether content for the association is only reachable by
// URL. Catchups are never proxies.
func isProxy(list store.UserList, st models.StreamType) bool {
	switch list {
	case store.UserStreams:
		return st == models.StreamProxy
	case store.UserVods:
		return st == models.StreamVodProxy
	default:
		return false
	}
}

// pickLocation prefers an existing local http root and falls back to the
// output URL. Proxy streams always get the URL.
func (m *Manager) pickLocation(urls []models.OutputURI, cid int32, proxy bool) (Location, error) {
	out, ok := streams.FindOutput(urls, cid)
	if !ok {
		return Location{}, ErrNoMatchingOutput
	}
	if !proxy && m.dirExists(out.HTTPRoot) {
		return Location{Directory: out.HTTPRoot}, nil
	}
	if out.URI == "" {
		return Location{}, ErrNoMatchingOutput
	}
	return Location{URL: out.URI}, nil
}
