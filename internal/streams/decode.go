package streams

import (
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/voyagen/popcorngate/internal/models"
)

// Decoder turns raw stream documents into typed records. A document that
// fails validation is reported as a plain false with a logged warning;
// callers treat that as "skip" or "not found".
type Decoder struct {
	log logrus.FieldLogger
}

// NewDecoder returns a Decoder that logs rejected documents to log.
func NewDecoder(log logrus.FieldLogger) *Decoder {
	return &Decoder{log: log}
}

// Channel decodes a live stream. Proxy streams may omit tvg_logo and output.
func (d *Decoder) Channel(doc bson.Raw, st models.StreamType, overlay models.UserOverlay) (models.Channel, bool) {
	dr, ok := d.walk(doc, channelSchema, st == models.StreamProxy, KindChannel)
	if !ok {
		return models.Channel{}, false
	}
	return models.Channel{
		StreamBase: dr.base(overlay),
		Type:       st,
		EPG: models.EPG{
			TvgID:       dr.tvgID,
			DisplayName: dr.name,
			Icon:        dr.tvgLogo,
			URLs:        dr.outputs,
		},
	}, true
}

// Vod decodes a video-on-demand stream. VOD proxies may omit tvg_logo and output.
func (d *Decoder) Vod(doc bson.Raw, st models.StreamType, overlay models.UserOverlay) (models.Vod, bool) {
	dr, ok := d.walk(doc, vodSchema, st == models.StreamVodProxy, KindVod)
	if !ok {
		return models.Vod{}, false
	}
	return models.Vod{
		StreamBase: dr.base(overlay),
		Type:       st,
		Movie: models.Movie{
			DisplayName: dr.name,
			Description: dr.description,
			PreviewIcon: dr.tvgLogo,
			TrailerURL:  dr.trailerURL,
			UserScore:   dr.userScore,
			PrimeDate:   dr.primeDate,
			Country:     dr.country,
			Duration:    dr.duration,
			Type:        dr.vodType,
			URLs:        dr.outputs,
		},
	}, true
}

// Catchup decodes a catchup recording. There is no proxy relaxation.
func (d *Decoder) Catchup(doc bson.Raw, overlay models.UserOverlay) (models.Catchup, bool) {
	dr, ok := d.walk(doc, catchupSchema, false, KindCatchup)
	if !ok {
		return models.Catchup{}, false
	}
	return models.Catchup{
		StreamBase: dr.base(overlay),
		EPG: models.EPG{
			TvgID:       dr.tvgID,
			DisplayName: dr.name,
			Icon:        dr.tvgLogo,
			URLs:        dr.outputs,
		},
		Start: dr.start,
		Stop:  dr.stop,
	}, true
}

// walk reads the document fields once. A known field with the wrong BSON
// type aborts the decode. Scanning stops as soon as every counted field has
// been seen, so fields stored after that point (parts, typically) are not read.
func (d *Decoder) walk(doc bson.Raw, s schema, proxy bool, kind Kind) (draft, bool) {
	var dr draft
	elems, err := doc.Elements()
	if err != nil {
		d.reject(doc, kind, 0, "malformed document")
		return dr, false
	}

	required := s.required()
	seen := make(map[string]bool, required)
	for _, el := range elems {
		key := el.Key()
		f, known := s.fields[key]
		if !known {
			continue
		}
		v := el.Value()
		if v.Type != f.kind || !f.set(&dr, v) {
			d.reject(doc, kind, len(seen), "field "+key+" has wrong type")
			return dr, false
		}
		if f.counted {
			seen[key] = true
			if len(seen) == required {
				return dr, true
			}
		}
	}

	if proxy && len(s.exempt) > 0 && len(seen) == required-len(s.exempt) {
		missingOnlyExempt := true
		for _, name := range s.exempt {
			if seen[name] {
				missingOnlyExempt = false
				break
			}
		}
		if missingOnlyExempt {
			return dr, true
		}
	}
	d.reject(doc, kind, len(seen), "missing mandatory fields")
	return dr, false
}

func (d *Decoder) reject(doc bson.Raw, kind Kind, checksum int, reason string) {
	d.log.WithFields(logrus.Fields{
		"stream_id": rawID(doc),
		"type":      kind.String(),
		"checksum":  checksum,
	}).Warn("invalid stream: " + reason)
}

func (dr draft) base(overlay models.UserOverlay) models.StreamBase {
	return models.StreamBase{
		ID:          dr.id,
		Group:       dr.group,
		IARC:        dr.iarc,
		HaveVideo:   dr.haveVideo,
		HaveAudio:   dr.haveAudio,
		Parts:       dr.parts,
		UserOverlay: overlay,
	}
}

// ReadType reads the _cls tag of a stream document. It reports false when
// the tag is absent or not a string; an unrecognised string yields StreamUnknown.
func ReadType(doc bson.Raw) (models.StreamType, bool) {
	v, err := doc.LookupErr(FieldClass)
	if err != nil {
		return models.StreamUnknown, false
	}
	cls, ok := v.StringValueOK()
	if !ok {
		return models.StreamUnknown, false
	}
	return models.StreamTypeFromClass(cls), true
}

// ReadParts returns the part ids linked under a stream document.
// A missing parts field is an empty list.
func ReadParts(doc bson.Raw) ([]bson.ObjectID, bool) {
	v, err := doc.LookupErr(FieldParts)
	if err != nil {
		return nil, true
	}
	arr, ok := v.ArrayOK()
	if !ok {
		return nil, false
	}
	values, err := arr.Values()
	if err != nil {
		return nil, false
	}
	ids := make([]bson.ObjectID, 0, len(values))
	for _, pv := range values {
		oid, ok := pv.ObjectIDOK()
		if !ok {
			return nil, false
		}
		ids = append(ids, oid)
	}
	return ids, true
}

func rawID(doc bson.Raw) string {
	v, err := doc.LookupErr(FieldID)
	if err != nil {
		return ""
	}
	if oid, ok := v.ObjectIDOK(); ok {
		return oid.Hex()
	}
	return ""
}
