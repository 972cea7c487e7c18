package race

import (
	"fmt"
	"net/url"
	"strings"
)

// Ref is the identity of a race as encoded in its result URL:
// /results/<course_id>/<course>/<date>/<race_id>.
type Ref struct {
	CourseID string
	Course   string
	Date     string
	RaceID   string
}

// ParseURL extracts a Ref from a race result URL.
func ParseURL(raw string) (Ref, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return Ref{}, fmt.Errorf("parse race url: %w", err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 4 {
		return Ref{}, fmt.Errorf("race url %q: expected .../<course_id>/<course>/<date>/<race_id>", raw)
	}
	parts = parts[len(parts)-4:]
	ref := Ref{CourseID: parts[0], Course: parts[1], Date: parts[2], RaceID: parts[3]}
	if len(strings.Split(ref.Date, "-")) != 3 {
		return Ref{}, fmt.Errorf("race url %q: segment %q is not a date", raw, ref.Date)
	}
	return ref, nil
}
