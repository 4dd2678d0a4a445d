package marketevent

import (
	"strings"
	"time"
)

// Origin is the provenance of an event.
type Origin int

const (
	OriginUnspecified Origin = iota
	OriginRealtime
	OriginReplay
	OriginArchive
)

func (o Origin) String() string {
	switch o {
	case OriginRealtime:
		return "realtime"
	case OriginReplay:
		return "replay"
	case OriginArchive:
		return "archive"
	default:
		return "unspecified"
	}
}

// ParseOrigin maps "realtime", "replay" and "archive" (any case) to their
// Origin; anything else is OriginUnspecified.
func ParseOrigin(s string) Origin {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "realtime":
		return OriginRealtime
	case "replay":
		return OriginReplay
	case "archive":
		return OriginArchive
	default:
		return OriginUnspecified
	}
}

// PublishMeta is built by the caller for every Publish call.
type PublishMeta struct {
	Source     string
	Origin     Origin
	IngestTime time.Time
	RequestID  string
	Extra      map[string]string
}
