// Package humanfmt renders byte sizes, counts, durations and rates for log
// companion fields and CLI output.
package humanfmt

import (
	"fmt"
	"strconv"
	"time"
)

// IEC byte units.
const (
	KiB = 1024
	MiB = 1024 * KiB
	GiB = 1024 * MiB
	TiB = 1024 * GiB
)

type unit struct {
	size   float64
	suffix string
}

var (
	byteUnits  = []unit{{TiB, " TiB"}, {GiB, " GiB"}, {MiB, " MiB"}, {KiB, " KiB"}}
	countUnits = []unit{{1e9, "B"}, {1e6, "M"}, {1e3, "K"}}
)

// scaled formats v with the first unit it reaches, or ok=false below all units.
func scaled(v float64, units []unit) (string, bool) {
	for _, u := range units {
		if v >= u.size {
			return fmt.Sprintf("%.2f%s", v/u.size, u.suffix), true
		}
	}
	return "", false
}

// Bytes formats a byte count, e.g. "1.23 GiB".
func Bytes(b int64) string {
	if s, ok := scaled(float64(b), byteUnits); ok && b > 0 {
		return s
	}
	return strconv.FormatInt(b, 10) + " B"
}

// Count formats a count with K/M/B suffixes, e.g. "1.50M".
func Count(n int64) string {
	if s, ok := scaled(float64(n), countUnits); ok && n > 0 {
		return s
	}
	return strconv.FormatInt(n, 10)
}

// Duration formats d compactly: "1.23s", "45.6ms", "1m30s", "2h15m".
func Duration(d time.Duration) string {
	switch {
	case d < 0:
		return d.String()
	case d >= time.Hour:
		return wholeUnits(d, time.Hour, time.Minute, "h", "m")
	case d >= time.Minute:
		return wholeUnits(d, time.Minute, time.Second, "m", "s")
	case d >= time.Second:
		return fmt.Sprintf("%.2fs", d.Seconds())
	case d >= time.Millisecond:
		return fmt.Sprintf("%.1fms", float64(d)/float64(time.Millisecond))
	case d >= time.Microsecond:
		return fmt.Sprintf("%.1fµs", float64(d)/float64(time.Microsecond))
	default:
		return fmt.Sprintf("%dns", d.Nanoseconds())
	}
}

func wholeUnits(d, major, minor time.Duration, majorSuffix, minorSuffix string) string {
	hi := d / major
	lo := (d % major) / minor
	if lo == 0 {
		return fmt.Sprintf("%d%s", hi, majorSuffix)
	}
	return fmt.Sprintf("%d%s%d%s", hi, majorSuffix, lo, minorSuffix)
}

// Throughput formats bytes moved over d, e.g. "123.40 MiB/s".
func Throughput(bytes int64, d time.Duration) string {
	if d <= 0 {
		return "∞"
	}
	perSec := float64(bytes) / d.Seconds()
	if s, ok := scaled(perSec, byteUnits); ok {
		return s + "/s"
	}
	return fmt.Sprintf("%.0f B/s", perSec)
}

// Rate formats n things processed over d, e.g. "12.50K rows/s".
func Rate(n int64, what string, d time.Duration) string {
	if d <= 0 {
		return "∞ " + what + "/s"
	}
	perSec := float64(n) / d.Seconds()
	if s, ok := scaled(perSec, countUnits); ok {
		return s + " " + what + "/s"
	}
	return fmt.Sprintf("%.0f %s/s", perSec, what)
}
