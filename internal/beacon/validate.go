package beacon

import (
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

const (
	maxUIDLength = 128
	maxURLLength = 2048
)

// Request is a validated beacon call.
type Request struct {
	TrackingID string
	VisitorID  string
	Path       string
}

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s:%s", field, msg))
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}

// ParseRequest reads hostId, uid and url from the query string. All three
// are required; url must be absolute. The tracked path is the URL's escaped
// path, "/" when empty.
func ParseRequest(r *http.Request) (Request, error) {
	q := r.URL.Query()
	errs := make(map[string]string)

	hostID := strings.TrimSpace(q.Get("hostId"))
	if hostID == "" {
		errs["hostId"] = "hostId is required"
	}

	uid := strings.TrimSpace(q.Get("uid"))
	switch {
	case uid == "":
		errs["uid"] = "uid is required"
	case len(uid) > maxUIDLength:
		errs["uid"] = fmt.Sprintf("uid must be at most %d characters", maxUIDLength)
	}

	var path string
	raw := strings.TrimSpace(q.Get("url"))
	switch {
	case raw == "":
		errs["url"] = "url is required"
	case len(raw) > maxURLLength:
		errs["url"] = fmt.Sprintf("url must be at most %d characters", maxURLLength)
	default:
		u, err := url.Parse(raw)
		if err != nil || !u.IsAbs() || u.Host == "" {
			errs["url"] = "url must be an absolute URL"
			break
		}
		path = u.EscapedPath()
		if path == "" {
			path = "/"
		}
	}

	if len(errs) > 0 {
		return Request{}, &ValidationError{Fields: errs}
	}
	return Request{TrackingID: hostID, VisitorID: uid, Path: path}, nil
}
