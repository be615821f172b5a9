// Package classify turns frames from the logging program into hub updates.
// Classify names what a frame is; a per-connection Dispatcher runs the
// matching handler, resolving contact destinations through the geo, cty and
// lookup packages.
package classify

import (
	"strings"

	"n3fjpmap/frame"
)

// Kind is the classification of one frame.
type Kind string

const (
	KindMessage Kind = "message"
	KindVersion Kind = "version"
	KindProgram Kind = "program"
	KindOpInfo  Kind = "opinfo"
	KindListing Kind = "listing"
	KindContact Kind = "contact"
	KindLookup  Kind = "lookup"
	KindStatus  Kind = "status"
	KindChat    Kind = "chat"
	KindUnknown Kind = "unknown"
)

// Classify returns the first matching kind in dispatch order. Tag names are
// matched as prefixes so response variants (ENTEREVENTRESPONSE) still match.
func Classify(f frame.Frame) Kind {
	switch {
	case hasTagPrefix(f, "BROADCAST", "DIALOG", "BAMS"):
		return KindMessage
	case hasTagPrefix(f, "APIVERRESPONSE"):
		return KindVersion
	case hasTagPrefix(f, "PROGRAMRESPONSE"):
		return KindProgram
	case hasTagPrefix(f, "OPINFORESPONSE"):
		return KindOpInfo
	case hasTagPrefix(f, "LISTRESPONSE"):
		return KindListing
	case hasTagPrefix(f, "ENTEREVENT"):
		return KindContact
	case hasTagPrefix(f, "COUNTRYLISTLOOKUPRESPONSE"):
		return KindLookup
	case hasTagPrefix(f, "STATIONSTATUS") || isPipeStatus(f.Text()):
		return KindStatus
	case hasTagPrefix(f, "CHAT", "PRESENCE") || isPlainChat(f.Text()):
		return KindChat
	default:
		return KindUnknown
	}
}

func hasTagPrefix(f frame.Frame, names ...string) bool {
	upper := f.Upper()
	for _, name := range names {
		if strings.Contains(upper, "<"+name) {
			return true
		}
	}
	return false
}

func isPipeStatus(text string) bool {
	if strings.Contains(text, "<") {
		return false
	}
	return len(strings.Split(strings.TrimSpace(text), "|")) >= 5
}

func isPlainChat(text string) bool {
	if strings.Contains(text, "<") {
		return false
	}
	station, msg, ok := strings.Cut(text, ":")
	return ok && strings.TrimSpace(station) != "" && strings.TrimSpace(msg) != ""
}
