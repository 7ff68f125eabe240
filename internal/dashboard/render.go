package dashboard

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"

	"github.com/umrum/umrum/internal/auth"
	"github.com/umrum/umrum/internal/hosts"
	"github.com/umrum/umrum/internal/tracker"
	"github.com/umrum/umrum/pkg/logger"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

var pageNames = []string{"index", "dashboard", "host", "error"}

// hostRow is one line of the dashboard host list.
type hostRow struct {
	Hostname      string
	CurrentVisits tracker.VisitCount
	Err           error
}

// pageData is the union of what the pages render. Each page reads only its
// own fields.
type pageData struct {
	User *auth.Session

	// dashboard
	Hosts    []hostRow
	Hostname string
	Error    string

	// host
	Host      hosts.Host
	Info      tracker.HostInfo
	ReadError string
	PublicURL string

	// error
	Status  string
	Message string
}

func parsePages() (map[string]*template.Template, error) {
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		t, err := template.ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("parsing %s template: %w", name, err)
		}
		pages[name] = t
	}
	return pages, nil
}

func staticFiles() (fs.FS, error) {
	return fs.Sub(staticFS, "static")
}

// render executes page into a buffer first so a template failure still
// produces a clean 500.
func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, page string, data pageData) {
	if sess, ok := auth.SessionFromContext(r.Context()); ok {
		data.User = &sess
	}
	var buf bytes.Buffer
	if err := h.pages[page].ExecuteTemplate(&buf, "layout", data); err != nil {
		logger.FromContext(r.Context()).Error("rendering page failed", "page", page, "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func (h *Handler) renderError(w http.ResponseWriter, r *http.Request, status int, message string) {
	h.render(w, r, status, "error", pageData{
		Status:  fmt.Sprintf("%d %s", status, http.StatusText(status)),
		Message: message,
	})
}
