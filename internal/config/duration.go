package config

import (
	"encoding/json"
	"time"

	"github.com/streamvault/streamvault/pkg/duration"
)

// Duration is a time.Duration that supports extended human-readable parsing,
// e.g. "30 days", "2w", "24h". It implements encoding.TextUnmarshaler for
// Viper/YAML support and json.Unmarshaler for JSON configuration files.
type Duration time.Duration

// ParseDuration parses a human-readable duration string.
func ParseDuration(s string) (Duration, error) {
	d, err := duration.Parse(s)
	if err != nil {
		return 0, err
	}
	return Duration(d), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		// Accept a bare number of nanoseconds as well.
		var raw int64
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		*d = Duration(raw)
		return nil
	}
	return d.UnmarshalText([]byte(s))
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// String returns a human-readable representation.
func (d Duration) String() string {
	return duration.Format(time.Duration(d))
}
