package hosts

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	apperrors "github.com/umrum/umrum/pkg/errors"
)

// ErrInvalidHostname is returned for input that does not name a host.
var ErrInvalidHostname = fmt.Errorf("%w: invalid hostname", apperrors.ErrInvalidInput)

// NormalizeHostname accepts a bare hostname or a URL and returns the
// lowercase hostname without scheme, port, path or trailing dot.
func NormalizeHostname(raw string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return "", ErrInvalidHostname
		}
		s = u.Hostname()
	} else {
		if i := strings.IndexAny(s, "/?#"); i >= 0 {
			s = s[:i]
		}
		if h, _, err := net.SplitHostPort(s); err == nil {
			s = h
		}
	}
	s = strings.TrimSuffix(s, ".")
	if !validHostname(s) {
		return "", ErrInvalidHostname
	}
	return s, nil
}

func validHostname(s string) bool {
	if s == "" || len(s) > 253 {
		return false
	}
	for _, label := range strings.Split(s, ".") {
		if label == "" || len(label) > 63 {
			return false
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
		for _, r := range label {
			if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-') {
				return false
			}
		}
	}
	return true
}
