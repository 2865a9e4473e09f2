package models

import "strconv"

// StreamType is the numeric stream type. The value doubles as the
// "/{type}/" path segment in output URLs.
type StreamType int

const (
	StreamProxy             StreamType = 0
	StreamVodProxy          StreamType = 1
	StreamRelay             StreamType = 2
	StreamEncode            StreamType = 3
	StreamTimeshiftPlayer   StreamType = 4
	StreamTimeshiftRecorder StreamType = 5
	StreamCatchup           StreamType = 6
	StreamTestLife          StreamType = 7
	StreamVodRelay          StreamType = 8
	StreamVodEncode         StreamType = 9
	StreamCodRelay          StreamType = 10
	StreamCodEncode         StreamType = 11

	// StreamUnknown marks a class tag that is readable but not recognised.
	StreamUnknown StreamType = -1
)

const classPrefix = "pyfastocloud_models.stream.entry."

// Stream class tags as stored in the _cls field.
const (
	ClassProxy             = classPrefix + "ProxyStream"
	ClassVodProxy          = classPrefix + "ProxyVodStream"
	ClassRelay             = classPrefix + "RelayStream"
	ClassEncode            = classPrefix + "EncodeStream"
	ClassTimeshiftPlayer   = classPrefix + "TimeshiftPlayerStream"
	ClassTimeshiftRecorder = classPrefix + "TimeshiftRecorderStream"
	ClassCatchup           = classPrefix + "CatchupStream"
	ClassTestLife          = classPrefix + "TestLifeStream"
	ClassVodRelay          = classPrefix + "VodRelayStream"
	ClassVodEncode         = classPrefix + "VodEncodeStream"
	ClassCodRelay          = classPrefix + "CodRelayStream"
	ClassCodEncode         = classPrefix + "CodEncodeStream"

	ClassOutputURL  = "pyfastocloud_models.common_entries.OutputUrl"
	ClassInputURL   = "pyfastocloud_models.common_entries.InputUrl"
	ClassUserStream = "pyfastocloud_models.subscriber.entry.UserStream"
)

var classTypes = map[string]StreamType{
	ClassProxy:             StreamProxy,
	ClassVodProxy:          StreamVodProxy,
	ClassRelay:             StreamRelay,
	ClassEncode:            StreamEncode,
	ClassTimeshiftPlayer:   StreamTimeshiftPlayer,
	ClassTimeshiftRecorder: StreamTimeshiftRecorder,
	ClassCatchup:           StreamCatchup,
	ClassTestLife:          StreamTestLife,
	ClassVodRelay:          StreamVodRelay,
	ClassVodEncode:         StreamVodEncode,
	ClassCodRelay:          StreamCodRelay,
	ClassCodEncode:         StreamCodEncode,
}

// StreamTypeFromClass maps a _cls value to its stream type.
// Unrecognised classes map to StreamUnknown.
func StreamTypeFromClass(cls string) StreamType {
	if st, ok := classTypes[cls]; ok {
		return st
	}
	return StreamUnknown
}

// IsVOD reports whether the type is served from the vods association.
func (t StreamType) IsVOD() bool {
	return t == StreamVodProxy || t == StreamVodRelay || t == StreamVodEncode
}

// PathSegment returns the "/{type}/" fragment used in output URLs.
func (t StreamType) PathSegment() string {
	return "/" + strconv.Itoa(int(t)) + "/"
}

// Subscriber account statuses.
const (
	SubscriberNotActive = 0
	SubscriberActive    = 1
	SubscriberDeleted   = 2
)

// Device statuses.
const (
	DeviceNotActive = 0
	DeviceActive    = 1
	DeviceBanned    = 2
)

// LogLevelInfo is the syslog-style level written into new catchup documents.
const LogLevelInfo = 6
