package voiceprofile

import (
	"errors"
	"time"
)

var errNoTimestamp = errors.New("voiceprofile: empty timestamp")

// parseTime parses an ISO-8601 / RFC3339 timestamp as used by the
// "created_at" field in a profile file.
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errNoTimestamp
	}
	return time.Parse(time.RFC3339, s)
}
