// Package router assembles the umrum HTTP surface and applies the shared
// middleware chain.
package router

import (
	"net/http"
	"time"

	"github.com/umrum/umrum/internal/auth"
	"github.com/umrum/umrum/pkg/health"
	"github.com/umrum/umrum/pkg/metrics"
	pkgmw "github.com/umrum/umrum/pkg/middleware"
)

// Registrar adds its routes to a mux.
type Registrar interface {
	Register(mux *http.ServeMux)
}

type Options struct {
	Health         *health.Checker
	Sessions       *auth.Sessions
	SessionCookie  string
	Metrics        *metrics.Metrics
	RequestTimeout time.Duration
}

// New builds the full HTTP handler.
//
// Route table:
//
//	GET     /api/ping                 → beacon
//	GET     /api/disconnect           → beacon
//	OPTIONS /api/                     → beacon CORS preflight
//	GET     /signin                   → auth
//	GET     /auth/github/callback     → auth
//	GET     /signout                  → auth
//	GET     /                         → dashboard index
//	GET     /dashboard                → dashboard (signed in)
//	POST    /dashboard/create         → dashboard (signed in)
//	GET     /dashboard/{host}         → dashboard (signed in)
//	GET     /dashboard/{host}/info    → dashboard (signed in)
//	POST    /dashboard/{host}/delete  → dashboard (signed in)
//	GET     /assets/                  → static files
//	GET     /health/live              → liveness
//	GET     /health/ready             → readiness
//
// Middleware chain (outermost first):
//
//	RequestID → AccessLog → Metrics → Deadline → LoadSession → mux
func New(opts Options, routes ...Registrar) http.Handler {
	mux := http.NewServeMux()

	if opts.Health != nil {
		mux.HandleFunc("GET /health/live", opts.Health.LiveHandler())
		mux.HandleFunc("GET /health/ready", opts.Health.ReadyHandler())
	}
	for _, r := range routes {
		r.Register(mux)
	}

	var chain http.Handler = mux
	if opts.Sessions != nil {
		chain = auth.LoadSession(opts.Sessions, opts.SessionCookie)(chain)
	}
	chain = pkgmw.Deadline(opts.RequestTimeout)(chain)
	chain = pkgmw.Metrics(opts.Metrics)(chain)
	chain = pkgmw.AccessLog(chain)
	chain = pkgmw.RequestID(chain)

	return chain
}
