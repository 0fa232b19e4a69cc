package evidence

import (
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	dateparser "github.com/markusmobius/go-dateparser"
)

// TimelineEvent is a single entry in the rendered incident timeline.
type TimelineEvent struct {
	// Time is the event time; nil for untimed events.
	Time *time.Time `json:"time,omitempty"`

	// Event is a short excerpt describing what happened.
	Event string `json:"event"`

	// Source names the producing tool or role.
	Source string `json:"source"`

	// EvidenceID references the backing ledger item.
	EvidenceID string `json:"evidence_id"`

	// Untimed marks events that carried no parseable timestamp. They keep
	// discovery order and sort after all timed events.
	Untimed bool `json:"untimed,omitempty"`
}

// timestampPattern matches common log timestamp shapes: ISO 8601 dates with
// optional time, and bare HH:mm:ss(.SSS) clock values.
var timestampPattern = regexp.MustCompile(
	`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:?\d{2})?` +
		`|\d{2}/\d{2}/\d{4}[ ]\d{2}:\d{2}:\d{2}` +
		`|\d{2}:\d{2}:\d{2}(?:\.\d+)?`)

const maxEventExcerpt = 160

// BuildTimeline assembles the ordered incident timeline from a ledger
// snapshot. Items with an explicit timestamp use it directly; otherwise the
// first timestamp-looking token in the content is parsed. Timed events sort
// by time (stable within equal times); untimed events follow in discovery
// order. Knowledge items carry no event time and are excluded.
func BuildTimeline(items []Item) []TimelineEvent {
	var timed, untimed []TimelineEvent

	for _, item := range items {
		if item.Kind == KindKnowledge {
			continue
		}

		ev := TimelineEvent{
			Event:      excerpt(item.Content),
			Source:     item.Source,
			EvidenceID: item.ID,
		}

		ts := item.Timestamp
		if ts == nil {
			ts = extractTimestamp(item.Content)
		}
		if ts != nil {
			ev.Time = ts
			timed = append(timed, ev)
		} else {
			ev.Untimed = true
			untimed = append(untimed, ev)
		}
	}

	sort.SliceStable(timed, func(i, j int) bool {
		return timed[i].Time.Before(*timed[j].Time)
	})

	return append(timed, untimed...)
}

// extractTimestamp finds and parses the first timestamp-looking token in the
// content. Returns nil when nothing parseable is present.
func extractTimestamp(content string) *time.Time {
	token := timestampPattern.FindString(content)
	if token == "" {
		return nil
	}

	dt, err := dateparser.Parse(&dateparser.Configuration{
		CurrentTime: time.Now(),
	}, token)
	if err != nil {
		return nil
	}
	t := dt.Time
	return &t
}

// excerpt returns the first non-empty line of content, truncated.
func excerpt(content string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if len(line) > maxEventExcerpt {
			return trimToRuneBoundary(line, maxEventExcerpt) + "..."
		}
		return line
	}
	return ""
}

// trimToRuneBoundary cuts s to at most n bytes without splitting a rune.
func trimToRuneBoundary(s string, n int) string {
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
