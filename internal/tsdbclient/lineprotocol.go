package tsdbclient

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

var fractionalSecondsPattern = regexp.MustCompile(`(\.\d+)(Z|[+-]\d{2}:\d{2})?$`)

// ParseTimestamp parses a TSDB-returned timestamp string. The TSDB may
// report sub-microsecond precision; fractional seconds are truncated to 6
// digits before parsing so Go's RFC3339Nano layout always matches, and the
// result is normalized to UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = fractionalSecondsPattern.ReplaceAllStringFunc(s, func(match string) string {
		sub := fractionalSecondsPattern.FindStringSubmatch(match)
		frac := sub[1]
		zone := sub[2]
		if len(frac) > 7 { // "." + 6 digits
			frac = frac[:7]
		}
		return frac + zone
	})

	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

// EncodeLineProtocol renders points as InfluxDB line protocol, one line per
// point, sorted tag and field keys (required for line protocol's tag-key
// ordering convention and for deterministic output in tests).
func EncodeLineProtocol(points []DataPoint) string {
	var b strings.Builder

	for _, p := range points {
		b.WriteString(escapeMeasurement(p.Measurement))

		tagKeys := make([]string, 0, len(p.Tags))
		for k := range p.Tags {
			tagKeys = append(tagKeys, k)
		}
		sort.Strings(tagKeys)
		for _, k := range tagKeys {
			b.WriteString(",")
			b.WriteString(escapeTag(k))
			b.WriteString("=")
			b.WriteString(escapeTag(p.Tags[k]))
		}

		b.WriteString(" ")

		fieldKeys := make([]string, 0, len(p.Fields))
		for k := range p.Fields {
			fieldKeys = append(fieldKeys, k)
		}
		sort.Strings(fieldKeys)

		for i, k := range fieldKeys {
			if i > 0 {
				b.WriteString(",")
			}
			b.WriteString(escapeTag(k))
			b.WriteString("=")
			b.WriteString(p.Fields[k].LineProtocolValue())
		}

		fmt.Fprintf(&b, " %d\n", p.Time.UTC().UnixNano())
	}

	return b.String()
}

func escapeMeasurement(s string) string {
	s = strings.ReplaceAll(s, ",", "\\,")
	return strings.ReplaceAll(s, " ", "\\ ")
}

func escapeTag(s string) string {
	s = strings.ReplaceAll(s, ",", "\\,")
	s = strings.ReplaceAll(s, "=", "\\=")
	return strings.ReplaceAll(s, " ", "\\ ")
}
