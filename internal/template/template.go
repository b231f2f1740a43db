// Package template renders recording output paths from filename templates.
//
// Templates use {variable} placeholders; path separators in the template
// become directories under the recordings root, while separators inside
// substituted values are stripped so a broadcast title cannot escape its
// channel directory.
package template

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

// Error reports an unknown variable in a filename template.
type Error struct {
	Template string
	Variable string
}

func (e *Error) Error() string {
	return fmt.Sprintf("template %q: unknown variable {%s}", e.Template, e.Variable)
}

// Values carries the substitution values for one render.
type Values struct {
	Streamer string
	Title    string
	Game     string
	// TwitchID is the platform's ID for the broadcast.
	TwitchID string
	// ID is the recording's internal identifier.
	ID string
	// Season is the "SYYYY-MM" season label.
	Season string
	// Episode is the per-channel per-month episode number.
	Episode int
	// StartedAt supplies the date and time variables.
	StartedAt time.Time
}

var placeholderPattern = regexp.MustCompile(`\{([a-zA-Z_]+)\}`)

// Render substitutes all placeholders in tmpl and sanitizes each value for
// filesystem use. It returns an *Error for an unknown variable.
func Render(tmpl string, v Values) (string, error) {
	var renderErr error

	rendered := placeholderPattern.ReplaceAllStringFunc(tmpl, func(match string) string {
		name := strings.Trim(match, "{}")
		value, ok := lookup(name, v)
		if !ok {
			if renderErr == nil {
				renderErr = &Error{Template: tmpl, Variable: name}
			}
			return match
		}
		return Sanitize(value)
	})
	if renderErr != nil {
		return "", renderErr
	}

	return rendered, nil
}

func lookup(name string, v Values) (string, bool) {
	switch name {
	case "streamer":
		return v.Streamer, true
	case "title":
		return v.Title, true
	case "game":
		return v.Game, true
	case "twitch_id":
		return v.TwitchID, true
	case "id":
		return v.ID, true
	case "season":
		return v.Season, true
	case "episode":
		return fmt.Sprintf("%02d", v.Episode), true
	case "year":
		return fmt.Sprintf("%04d", v.StartedAt.Year()), true
	case "month":
		return v.StartedAt.Format("01"), true
	case "day":
		return fmt.Sprintf("%02d", v.StartedAt.Day()), true
	case "hour":
		return fmt.Sprintf("%02d", v.StartedAt.Hour()), true
	case "minute":
		return fmt.Sprintf("%02d", v.StartedAt.Minute()), true
	case "second":
		return fmt.Sprintf("%02d", v.StartedAt.Second()), true
	case "timestamp":
		return fmt.Sprintf("%d", v.StartedAt.Unix()), true
	case "datetime":
		return v.StartedAt.Format("2006-01-02_15-04-05"), true
	case "unique":
		return uuid.NewString()[:8], true
	default:
		return "", false
	}
}

// forbidden are characters invalid on common filesystems, plus path
// separators so substituted values cannot create or escape directories.
var forbidden = map[rune]bool{
	'/': true, '\\': true, ':': true, '*': true, '?': true,
	'"': true, '<': true, '>': true, '|': true, '\x00': true,
}

// Sanitize makes a substituted value safe for use as a path component.
// Unicode is NFKC-normalized, forbidden characters become underscores, and
// whitespace collapses to single underscores.
func Sanitize(s string) string {
	s = norm.NFKC.String(s)

	var b strings.Builder
	b.Grow(len(s))
	lastUnderscore := false
	for _, r := range s {
		switch {
		case forbidden[r] || unicode.IsControl(r):
			if !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		case unicode.IsSpace(r):
			if !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		default:
			b.WriteRune(r)
			lastUnderscore = false
		}
	}

	out := strings.Trim(b.String(), "._ ")
	if out == "" {
		return "untitled"
	}
	return out
}
