package models

// OutputURI is one deliverable endpoint of a stream.
type OutputURI struct {
	ID       int32  `json:"id"`
	URI      string `json:"uri"`
	HTTPRoot string `json:"http_root"`
	HLSType  int32  `json:"hls_type"`
}

// UserOverlay holds the per-subscriber flags stored alongside a stream association.
type UserOverlay struct {
	Favorite         bool  `json:"favorite"`
	Private          bool  `json:"private"`
	Recent           int64 `json:"recent"`            // ms since epoch
	InterruptionTime int32 `json:"interruption_time"` // ms
}

// StreamBase carries the fields shared by every decoded stream record.
type StreamBase struct {
	ID        string   `json:"id"`
	Group     string   `json:"group"`
	IARC      int32    `json:"iarc"`
	HaveVideo bool     `json:"video"`
	HaveAudio bool     `json:"audio"`
	Parts     []string `json:"parts"`
	UserOverlay
}

// EPG is the program-guide metadata of a live channel or catchup.
type EPG struct {
	TvgID       string      `json:"id"`
	DisplayName string      `json:"display_name"`
	Icon        string      `json:"icon"`
	URLs        []OutputURI `json:"urls"`
}

// Channel is a decoded live stream.
type Channel struct {
	StreamBase
	Type StreamType `json:"type"`
	EPG  EPG        `json:"epg"`
}

// Catchup is a decoded time-windowed recording of a live channel.
type Catchup struct {
	StreamBase
	EPG   EPG   `json:"epg"`
	Start int64 `json:"start"` // ms since epoch
	Stop  int64 `json:"stop"`  // ms since epoch
}

// Movie is the metadata block of a VOD.
type Movie struct {
	DisplayName string      `json:"display_name"`
	Description string      `json:"description"`
	PreviewIcon string      `json:"preview_icon"`
	TrailerURL  string      `json:"trailer_url"`
	UserScore   float64     `json:"user_score"`
	PrimeDate   int64       `json:"prime_date"` // ms since epoch
	Country     string      `json:"country"`
	Duration    int32       `json:"duration"`
	Type        int32       `json:"type"`
	URLs        []OutputURI `json:"urls"`
}

// Vod is a decoded video-on-demand stream.
type Vod struct {
	StreamBase
	Type  StreamType `json:"type"`
	Movie Movie      `json:"movie"`
}

// Catalog is everything a subscriber can browse.
type Catalog struct {
	Channels        []Channel `json:"channels"`
	Vods            []Vod     `json:"vods"`
	PrivateChannels []Channel `json:"private_channels"`
	PrivateVods     []Vod     `json:"private_vods"`
	Catchups        []Catchup `json:"catchups"`
}
