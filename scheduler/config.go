package scheduler

import (
	"sync/atomic"
	"time"

	"github.com/onnwee/chat-archiver/archive"
)

const (
	// DefaultInterval is the sweep cadence when none is configured.
	DefaultInterval = 30 * time.Minute

	MinIntervalMinutes = 1
	MaxIntervalMinutes = 1440
)

// Config holds the runtime-adjustable sweep interval. Reads and writes are
// atomic, so every wait sees one consistent value.
type Config struct {
	interval atomic.Int64
}

// NewConfig returns a Config starting at d, or DefaultInterval when d is out of range.
func NewConfig(d time.Duration) *Config {
	c := &Config{}
	if d < MinIntervalMinutes*time.Minute || d > MaxIntervalMinutes*time.Minute {
		d = DefaultInterval
	}
	c.interval.Store(int64(d))
	return c
}

// Interval returns the current sweep interval.
func (c *Config) Interval() time.Duration { return time.Duration(c.interval.Load()) }

// SetIntervalMinutes replaces the interval. Values outside [1, 1440] are
// rejected with *archive.ConfigError and the current interval is kept.
func (c *Config) SetIntervalMinutes(minutes int) error {
	if minutes < MinIntervalMinutes || minutes > MaxIntervalMinutes {
		return &archive.ConfigError{
			Key:    "interval_minutes",
			Value:  minutes,
			Reason: "must be between 1 and 1440",
		}
	}
	c.interval.Store(int64(time.Duration(minutes) * time.Minute))
	return nil
}
