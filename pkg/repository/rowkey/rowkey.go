// Package rowkey formats sortable row keys from timestamps.
//
// Keys are built from ticks (100ns intervals since 0001-01-01 UTC) rendered as 21
// zero-padded digits, optionally followed by "-" and a suffix. Lexicographic order of
// chronological keys follows time order; reverse-chronological keys subtract the ticks
// from MaxTicks so the newest entry sorts first.
package rowkey

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nimburion/backupstore/pkg/storeerr"
)

const (
	// MaxTicks is the tick count of 9999-12-31T23:59:59.9999999Z.
	MaxTicks int64 = 3155378975999999999
	// Tick is the resolution of a row key.
	Tick = 100 * time.Nanosecond

	tickDigits       = 21
	ticksPerSecond   = int64(time.Second / 100)
	unixEpochSeconds = int64(62135596800)
)

var (
	minTime = time.Date(1, time.January, 1, 0, 0, 0, 0, time.UTC)
	maxTime = time.Date(9999, time.December, 31, 23, 59, 59, 999999900, time.UTC)
)

// Ticks converts t to ticks, clamped to [0, MaxTicks].
func Ticks(t time.Time) int64 {
	t = t.UTC()
	if t.Before(minTime) {
		return 0
	}
	if t.After(maxTime) {
		return MaxTicks
	}
	return (t.Unix()+unixEpochSeconds)*ticksPerSecond + int64(t.Nanosecond())/100
}

// ReverseTicks returns MaxTicks minus the ticks of t.
func ReverseTicks(t time.Time) int64 {
	return MaxTicks - Ticks(t)
}

// TimeFromTicks converts ticks back to a UTC time.
func TimeFromTicks(ticks int64) time.Time {
	seconds := ticks/ticksPerSecond - unixEpochSeconds
	nanos := (ticks % ticksPerSecond) * 100
	return time.Unix(seconds, nanos).UTC()
}

// Chronological returns a key ordered oldest-first.
func Chronological(t time.Time, suffix string) string {
	return format(Ticks(t), suffix)
}

// ReverseChronological returns a key ordered newest-first.
func ReverseChronological(t time.Time, suffix string) string {
	return format(ReverseTicks(t), suffix)
}

// ChronologicalKeyStart returns the ticks-only chronological key for t, usable as a
// range boundary.
func ChronologicalKeyStart(t time.Time) string {
	return format(Ticks(t), "")
}

// ReverseChronologicalKeyStart returns the ticks-only reverse-chronological key for t.
func ReverseChronologicalKeyStart(t time.Time) string {
	return format(ReverseTicks(t), "")
}

// Default returns the row key assigned to new entities: reverse-chronological ticks of
// the current time without a suffix.
func Default() string {
	return ReverseChronologicalKeyStart(time.Now())
}

// RandomSuffix returns an uppercase uuid without dashes.
func RandomSuffix() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
}

// WithRandomSuffix returns a reverse-chronological key for t with a random suffix,
// unique even when several keys share a timestamp.
func WithRandomSuffix(t time.Time) string {
	return ReverseChronological(t, RandomSuffix())
}

// ParseTicks extracts the tick prefix of key.
func ParseTicks(key string) (int64, error) {
	if len(key) < tickDigits {
		return 0, storeerr.Newf(storeerr.ErrInvalidArgument, "row key %q is shorter than %d digits", key, tickDigits)
	}
	if len(key) > tickDigits && key[tickDigits] != '-' {
		return 0, storeerr.Newf(storeerr.ErrInvalidArgument, "row key %q has no suffix separator", key)
	}
	ticks, err := strconv.ParseInt(key[:tickDigits], 10, 64)
	if err != nil || ticks < 0 || ticks > MaxTicks {
		return 0, storeerr.Newf(storeerr.ErrInvalidArgument, "row key %q has an invalid tick prefix", key)
	}
	return ticks, nil
}

func format(ticks int64, suffix string) string {
	if suffix == "" {
		return fmt.Sprintf("%0*d", tickDigits, ticks)
	}
	return fmt.Sprintf("%0*d-%s", tickDigits, ticks, suffix)
}
