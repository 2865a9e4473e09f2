package streams

import (
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/voyagen/popcorngate/internal/models"
)

// Stream document field names.
const (
	FieldID                     = "_id"
	FieldClass                  = "_cls"
	FieldCreatedDate            = "created_date"
	FieldName                   = "name"
	FieldGroup                  = "group"
	FieldIARC                   = "iarc"
	FieldTvgID                  = "tvg_id"
	FieldTvgName                = "tvg_name"
	FieldTvgLogo                = "tvg_logo"
	FieldHaveVideo              = "have_video"
	FieldHaveAudio              = "have_audio"
	FieldOutput                 = "output"
	FieldInput                  = "input"
	FieldParts                  = "parts"
	FieldPrice                  = "price"
	FieldVisible                = "visible"
	FieldDescription            = "description"
	FieldTrailerURL             = "trailer_url"
	FieldUserScore              = "user_score"
	FieldPrimeDate              = "prime_date"
	FieldCountry                = "country"
	FieldDuration               = "duration"
	FieldVodType                = "vod_type"
	FieldStart                  = "start"
	FieldStop                   = "stop"
	FieldLogLevel               = "log_level"
	FieldAudioSelect            = "audio_select"
	FieldLoop                   = "loop"
	FieldAvformat               = "avformat"
	FieldRestartAttempts        = "restart_attempts"
	FieldAutoExitTime           = "auto_exit_time"
	FieldExtraConfigFields      = "extra_config_fields"
	FieldVideoParser            = "video_parser"
	FieldAudioParser            = "audio_parser"
	FieldTimeshiftChunkDuration = "timeshift_chunk_duration"
	FieldTimeshiftChunkLifeTime = "timeshift_chunk_life_time"
)

// Output URI sub-document field names.
const (
	OutputFieldID       = "id"
	OutputFieldURI      = "uri"
	OutputFieldHTTPRoot = "http_root"
	OutputFieldHLSType  = "hls_type"
)

// Kind is the decoded record variant.
type Kind int

const (
	KindUnknown Kind = iota
	KindChannel
	KindVod
	KindCatchup
)

func (k Kind) String() string {
	switch k {
	case KindChannel:
		return "channel"
	case KindVod:
		return "vod"
	case KindCatchup:
		return "catchup"
	default:
		return "unknown"
	}
}

// KindOf returns the record variant a stream type decodes to.
func KindOf(st models.StreamType) Kind {
	switch {
	case st == models.StreamUnknown:
		return KindUnknown
	case st.IsVOD():
		return KindVod
	case st == models.StreamCatchup:
		return KindCatchup
	default:
		return KindChannel
	}
}

// draft collects field values while walking a document.
type draft struct {
	id          string
	group       string
	iarc        int32
	name        string
	tvgID       string
	tvgLogo     string
	haveVideo   bool
	haveAudio   bool
	outputs     []models.OutputURI
	parts       []string
	description string
	trailerURL  string
	userScore   float64
	primeDate   int64
	country     string
	duration    int32
	vodType     int32
	start       int64
	stop        int64
}

// field describes one expected document field. set receives a value whose
// type already matched kind and reports false for a malformed value.
type field struct {
	kind    bson.Type
	counted bool
	set     func(d *draft, v bson.RawValue) bool
}

// schema is the field table for one record variant. exempt lists the
// mandatory fields a proxy variant may omit.
type schema struct {
	fields map[string]field
	exempt []string
}

// required is the number of counted fields.
func (s schema) required() int {
	n := 0
	for _, f := range s.fields {
		if f.counted {
			n++
		}
	}
	return n
}

func stringField(dst func(*draft) *string) field {
	return field{kind: bson.TypeString, counted: true, set: func(d *draft, v bson.RawValue) bool {
		s, ok := v.StringValueOK()
		*dst(d) = s
		return ok
	}}
}

func int32Field(dst func(*draft) *int32) field {
	return field{kind: bson.TypeInt32, counted: true, set: func(d *draft, v bson.RawValue) bool {
		n, ok := v.Int32OK()
		*dst(d) = n
		return ok
	}}
}

func boolField(dst func(*draft) *bool) field {
	return field{kind: bson.TypeBoolean, counted: true, set: func(d *draft, v bson.RawValue) bool {
		b, ok := v.BooleanOK()
		*dst(d) = b
		return ok
	}}
}

func dateField(dst func(*draft) *int64) field {
	return field{kind: bson.TypeDateTime, counted: true, set: func(d *draft, v bson.RawValue) bool {
		ms, ok := v.DateTimeOK()
		*dst(d) = ms
		return ok
	}}
}

func doubleField(dst func(*draft) *float64) field {
	return field{kind: bson.TypeDouble, counted: true, set: func(d *draft, v bson.RawValue) bool {
		f, ok := v.DoubleOK()
		*dst(d) = f
		return ok
	}}
}

var (
	idField = field{kind: bson.TypeObjectID, counted: true, set: func(d *draft, v bson.RawValue) bool {
		oid, ok := v.ObjectIDOK()
		d.id = oid.Hex()
		return ok
	}}

	outputField = field{kind: bson.TypeArray, counted: true, set: func(d *draft, v bson.RawValue) bool {
		urls, ok := DecodeOutputs(v)
		d.outputs = urls
		return ok
	}}

	partsField = field{kind: bson.TypeArray, set: func(d *draft, v bson.RawValue) bool {
		parts, ok := decodeParts(v)
		d.parts = parts
		return ok
	}}
)

func baseFields() map[string]field {
	return map[string]field{
		FieldID:        idField,
		FieldGroup:     stringField(func(d *draft) *string { return &d.group }),
		FieldIARC:      int32Field(func(d *draft) *int32 { return &d.iarc }),
		FieldName:      stringField(func(d *draft) *string { return &d.name }),
		FieldHaveVideo: boolField(func(d *draft) *bool { return &d.haveVideo }),
		FieldHaveAudio: boolField(func(d *draft) *bool { return &d.haveAudio }),
		FieldTvgLogo:   stringField(func(d *draft) *string { return &d.tvgLogo }),
		FieldOutput:    outputField,
		FieldParts:     partsField,
	}
}

var channelSchema = func() schema {
	f := baseFields()
	f[FieldTvgID] = stringField(func(d *draft) *string { return &d.tvgID })
	return schema{fields: f, exempt: []string{FieldTvgLogo, FieldOutput}}
}()

var catchupSchema = func() schema {
	f := baseFields()
	f[FieldTvgID] = stringField(func(d *draft) *string { return &d.tvgID })
	f[FieldStart] = dateField(func(d *draft) *int64 { return &d.start })
	f[FieldStop] = dateField(func(d *draft) *int64 { return &d.stop })
	return schema{fields: f}
}()

var vodSchema = func() schema {
	f := baseFields()
	f[FieldDescription] = stringField(func(d *draft) *string { return &d.description })
	f[FieldTrailerURL] = stringField(func(d *draft) *string { return &d.trailerURL })
	f[FieldUserScore] = doubleField(func(d *draft) *float64 { return &d.userScore })
	f[FieldPrimeDate] = dateField(func(d *draft) *int64 { return &d.primeDate })
	f[FieldCountry] = stringField(func(d *draft) *string { return &d.country })
	f[FieldDuration] = int32Field(func(d *draft) *int32 { return &d.duration })
	f[FieldVodType] = int32Field(func(d *draft) *int32 { return &d.vodType })
	return schema{fields: f, exempt: []string{FieldTvgLogo, FieldOutput}}
}()

func decodeParts(v bson.RawValue) ([]string, bool) {
	arr, ok := v.ArrayOK()
	if !ok {
		return nil, false
	}
	values, err := arr.Values()
	if err != nil {
		return nil, false
	}
	parts := make([]string, 0, len(values))
	for _, pv := range values {
		oid, ok := pv.ObjectIDOK()
		if !ok {
			return nil, false
		}
		parts = append(parts, oid.Hex())
	}
	return parts, true
}
