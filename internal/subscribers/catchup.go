package subscribers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/v2/bson"
	"golang.org/x/sync/singleflight"

	"github.com/voyagen/popcorngate/internal/cache"
	"github.com/voyagen/popcorngate/internal/models"
	"github.com/voyagen/popcorngate/internal/store"
	"github.com/voyagen/popcorngate/internal/streams"
)

// Defaults written into every new catchup document.
const (
	catchupRestartAttempts = 10
	catchupAudioSelect     = -1
	catchupVideoParser     = "h264parse"
	catchupAudioParser     = "aacparse"
	catchupChunkDuration   = 12
	catchupChunkLifeTime   = 12 * 3600
	catchupLockTTL         = 30 * time.Second
	catchupLockPoll        = 50 * time.Millisecond
)

// CatchupsConfig configures a Catchups.
type CatchupsConfig struct {
	Store    store.Store
	Decoder  *streams.Decoder
	Log      logrus.FieldLogger
	Host     string
	HTTPRoot string
	Redis    *cache.Redis
	Now      func() time.Time
}

// Catchups creates catchup recordings from live channels, reusing an
// existing recording with the same title and time window.
type Catchups struct {
	store    store.Store
	decoder  *streams.Decoder
	log      logrus.FieldLogger
	host     string
	httpRoot string
	redis    *cache.Redis
	now      func() time.Time
	flight   singleflight.Group
}

// NewCatchups returns a Catchups from cfg.
func NewCatchups(cfg CatchupsConfig) *Catchups {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Catchups{
		store:    cfg.Store,
		decoder:  cfg.Decoder,
		log:      cfg.Log,
		host:     cfg.Host,
		httpRoot: cfg.HTTPRoot,
		redis:    cfg.Redis,
		now:      now,
	}
}

type catchupResult struct {
	catchup models.Catchup
	created bool
}

// CreateOrFind returns the catchup of source named title covering
// [start, stop], creating it when none exists. Identical concurrent
// requests are collapsed in-process and, with Redis, serialised across
// processes; only one caller sees created=true.
func (c *Catchups) CreateOrFind(ctx context.Context, source models.Channel, title string, start, stop int64) (models.Catchup, bool, error) {
	key := fmt.Sprintf("%s|%s|%d|%d", source.ID, title, start, stop)
	leader := false
	v, err, _ := c.flight.Do(key, func() (any, error) {
		leader = true
		if c.redis != nil {
			unlock, err := cache.Lock(ctx, c.redis, lockKey(key), catchupLockTTL, catchupLockPoll)
			if err != nil {
				return nil, fmt.Errorf("catchup lock: %w", err)
			}
			defer unlock()
		}
		rec, created, err := c.createOrFind(ctx, source, title, start, stop)
		return catchupResult{catchup: rec, created: created}, err
	})
	if err != nil {
		return models.Catchup{}, false, err
	}
	res := v.(catchupResult)
	return res.catchup, res.created && leader, nil
}

func lockKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return "lock:catchup:" + hex.EncodeToString(sum[:8])
}

func (c *Catchups) createOrFind(ctx context.Context, source models.Channel, title string, start, stop int64) (models.Catchup, bool, error) {
	if c.store == nil {
		return models.Catchup{}, false, ErrNotConnected
	}
	srcID, err := parseStreamID(source.ID)
	if err != nil {
		return models.Catchup{}, false, err
	}
	srcDoc, err := c.store.FindStream(ctx, srcID)
	if err != nil {
		return models.Catchup{}, false, storeErr("FindStream", err, ErrStreamNotFound)
	}

	existing, found, err := c.findExisting(ctx, srcDoc, title, start, stop)
	if err != nil {
		return models.Catchup{}, false, err
	}
	if found {
		return existing, false, nil
	}

	server, err := c.store.FindServerByStream(ctx, srcID)
	if err != nil {
		return models.Catchup{}, false, storeErr("FindServerByStream", err, ErrServerNotFound)
	}
	serverID, ok := lookupObjectID(server, streams.FieldID)
	if !ok {
		return models.Catchup{}, false, ErrInvalidStreamRecord
	}
	srcType, ok := streams.ReadType(srcDoc)
	if !ok {
		return models.Catchup{}, false, ErrInvalidStreamRecord
	}
	outputs, ok := streams.ReadOutputs(srcDoc)
	if !ok {
		return models.Catchup{}, false, ErrInvalidStreamRecord
	}

	id := bson.NewObjectID()
	doc := c.newCatchupDoc(id, source, srcType, outputs, title, start, stop)
	raw, err := bson.Marshal(doc)
	if err != nil {
		return models.Catchup{}, false, fmt.Errorf("marshal catchup: %w", err)
	}
	if err := c.store.InsertStream(ctx, raw); err != nil {
		return models.Catchup{}, false, storeErr("InsertStream", err, nil)
	}
	if err := c.store.AddStreamPart(ctx, srcID, id); err != nil {
		c.rollback(ctx, id, srcID, false)
		return models.Catchup{}, false, storeErr("AddStreamPart", err, ErrStreamNotFound)
	}
	if err := c.store.AddServerStream(ctx, serverID, id); err != nil {
		c.rollback(ctx, id, srcID, true)
		return models.Catchup{}, false, storeErr("AddServerStream", err, ErrServerNotFound)
	}

	rec, ok := c.decoder.Catchup(raw, models.UserOverlay{})
	if !ok {
		return models.Catchup{}, false, ErrInvalidStreamRecord
	}
	c.log.WithFields(logrus.Fields{
		"catchup_id": rec.ID,
		"source_id":  source.ID,
		"created":    true,
	}).Info("catchup created")
	return rec, true, nil
}

// findExisting scans the parts of the source for a catchup with the same
// title and window.
func (c *Catchups) findExisting(ctx context.Context, srcDoc bson.Raw, title string, start, stop int64) (models.Catchup, bool, error) {
	parts, ok := streams.ReadParts(srcDoc)
	if !ok {
		return models.Catchup{}, false, ErrInvalidStreamRecord
	}
	for _, pid := range parts {
		doc, err := c.store.FindStream(ctx, pid)
		if errors.Is(err, store.ErrNotConnected) {
			return models.Catchup{}, false, ErrNotConnected
		}
		if err != nil {
			continue
		}
		if !sameWindow(doc, title, start, stop) {
			continue
		}
		if rec, ok := c.decoder.Catchup(doc, models.UserOverlay{}); ok {
			return rec, true, nil
		}
	}
	return models.Catchup{}, false, nil
}

func sameWindow(doc bson.Raw, title string, start, stop int64) bool {
	name, err := doc.LookupErr(streams.FieldName)
	if err != nil {
		return false
	}
	begin, err := doc.LookupErr(streams.FieldStart)
	if err != nil {
		return false
	}
	end, err := doc.LookupErr(streams.FieldStop)
	if err != nil {
		return false
	}
	n, ok1 := name.StringValueOK()
	s, ok2 := begin.DateTimeOK()
	e, ok3 := end.DateTimeOK()
	return ok1 && ok2 && ok3 && n == title && s == start && e == stop
}

// rollback undoes a partially linked catchup. Failures are logged; the
// caller reports the original link error.
func (c *Catchups) rollback(ctx context.Context, id, srcID bson.ObjectID, linked bool) {
	ctx = context.WithoutCancel(ctx)
	log := c.log.WithFields(logrus.Fields{"catchup_id": id.Hex(), "source_id": srcID.Hex()})
	if linked {
		if err := c.store.RemoveStreamPart(ctx, srcID, id); err != nil {
			log.WithError(err).Error("catchup rollback: unlink part failed")
		}
	}
	if err := c.store.DeleteStream(ctx, id); err != nil {
		log.WithError(err).Error("catchup rollback: delete failed")
	}
}

func (c *Catchups) newCatchupDoc(id bson.ObjectID, source models.Channel, srcType models.StreamType, outputs []models.OutputURI, title string, start, stop int64) bson.D {
	catchupOutputs := c.rewriteOutputs(outputs, srcType, id.Hex())
	output := make(bson.A, 0, len(catchupOutputs))
	for _, o := range catchupOutputs {
		output = append(output, bson.D{
			{Key: "_cls", Value: models.ClassOutputURL},
			{Key: streams.OutputFieldID, Value: o.ID},
			{Key: streams.OutputFieldURI, Value: o.URI},
			{Key: streams.OutputFieldHTTPRoot, Value: o.HTTPRoot},
			{Key: streams.OutputFieldHLSType, Value: o.HLSType},
		})
	}
	input := make(bson.A, 0, len(outputs))
	for _, o := range outputs {
		input = append(input, bson.D{
			{Key: "_cls", Value: models.ClassInputURL},
			{Key: "id", Value: o.ID},
			{Key: "uri", Value: o.URI},
			{Key: "user_agent", Value: int32(0)},
			{Key: "stream_link", Value: false},
		})
	}

	return bson.D{
		{Key: streams.FieldID, Value: id},
		{Key: streams.FieldClass, Value: models.ClassCatchup},
		{Key: streams.FieldCreatedDate, Value: bson.NewDateTimeFromTime(c.now())},
		{Key: streams.FieldName, Value: title},
		{Key: streams.FieldGroup, Value: source.Group},
		{Key: streams.FieldTvgID, Value: source.EPG.TvgID},
		{Key: streams.FieldTvgName, Value: ""},
		{Key: streams.FieldTvgLogo, Value: source.EPG.Icon},
		{Key: streams.FieldPrice, Value: 0.0},
		{Key: streams.FieldVisible, Value: true},
		{Key: streams.FieldIARC, Value: source.IARC},
		{Key: streams.FieldParts, Value: bson.A{}},
		{Key: streams.FieldOutput, Value: output},
		{Key: streams.FieldLogLevel, Value: int32(models.LogLevelInfo)},
		{Key: streams.FieldInput, Value: input},
		{Key: streams.FieldHaveVideo, Value: source.HaveVideo},
		{Key: streams.FieldHaveAudio, Value: source.HaveAudio},
		{Key: streams.FieldAudioSelect, Value: int32(catchupAudioSelect)},
		{Key: streams.FieldLoop, Value: false},
		{Key: streams.FieldAvformat, Value: false},
		{Key: streams.FieldRestartAttempts, Value: int32(catchupRestartAttempts)},
		{Key: streams.FieldAutoExitTime, Value: int32((stop - start) / 1000)},
		{Key: streams.FieldExtraConfigFields, Value: ""},
		{Key: streams.FieldVideoParser, Value: catchupVideoParser},
		{Key: streams.FieldAudioParser, Value: catchupAudioParser},
		{Key: streams.FieldTimeshiftChunkDuration, Value: int32(catchupChunkDuration)},
		{Key: streams.FieldTimeshiftChunkLifeTime, Value: int32(catchupChunkLifeTime)},
		{Key: streams.FieldStart, Value: bson.DateTime(start)},
		{Key: streams.FieldStop, Value: bson.DateTime(stop)},
	}
}

// rewriteOutputs moves every output into the catchup namespace. Outputs of
// a live proxy get a fresh URL on the catchup host; everything else has
// its first "/{type}/" segment replaced in both URL and http root.
func (c *Catchups) rewriteOutputs(outputs []models.OutputURI, srcType models.StreamType, id string) []models.OutputURI {
	catchupType := strconv.Itoa(int(models.StreamCatchup))
	out := make([]models.OutputURI, 0, len(outputs))
	for _, o := range outputs {
		if srcType == models.StreamProxy {
			oid := strconv.Itoa(int(o.ID))
			o.URI = fmt.Sprintf("http://%s/%s/%s/%s/master.m3u8", c.host, catchupType, id, oid)
			o.HTTPRoot = filepath.Join(c.httpRoot, catchupType, id, oid)
		} else {
			from, to := srcType.PathSegment(), models.StreamCatchup.PathSegment()
			o.URI = strings.Replace(o.URI, from, to, 1)
			o.HTTPRoot = strings.Replace(o.HTTPRoot, from, to, 1)
		}
		out = append(out, o)
	}
	return out
}

func lookupObjectID(doc bson.Raw, key string) (bson.ObjectID, bool) {
	v, err := doc.LookupErr(key)
	if err != nil {
		return bson.ObjectID{}, false
	}
	return v.ObjectIDOK()
}

// CreateCatchup creates (or finds) a catchup of a live channel the
// subscriber has access to. A newly created catchup is announced on the
// catchup event queue when Redis is configured.
func (m *Manager) CreateCatchup(ctx context.Context, c models.Claim, sid, title string, start, stop int64) (models.Catchup, bool, error) {
	if title == "" || stop <= start {
		return models.Catchup{}, false, ErrInvalidInput
	}
	source, err := m.FindStream(ctx, c, sid)
	if err != nil {
		return models.Catchup{}, false, err
	}
	rec, created, err := m.catchups.CreateOrFind(ctx, source, title, start, stop)
	if err != nil {
		return models.Catchup{}, false, err
	}
	m.metrics.Catchup(created)
	if created && m.redis != nil {
		ev := cache.CatchupCreated{
			CatchupID: rec.ID,
			SourceID:  source.ID,
			UserID:    c.UserID,
			Title:     title,
			Start:     start,
			Stop:      stop,
		}
		if err := cache.Enqueue(ctx, m.redis, cache.CatchupQueue, ev); err != nil {
			m.metrics.CatchupEventFailed()
			m.log.WithError(err).WithField("catchup_id", rec.ID).Warn("catchup event enqueue failed")
		}
	}
	return rec, created, nil
}
