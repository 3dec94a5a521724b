package console

import (
	"net/http"

	"github.com/justinas/alice"
)

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ping", ping)

	protected := alice.New(s.requireAuthentication)
	mux.Handle("GET /api/readings", protected.ThenFunc(s.readings))
	mux.Handle("GET /api/status", protected.ThenFunc(s.status))
	mux.Handle("POST /api/command", protected.ThenFunc(s.commandPost))
	if s.deps.Metrics != nil {
		mux.Handle("GET /metrics", protected.Then(s.deps.Metrics.Handler()))
	}

	standard := alice.New(s.recoverPanic, s.logRequest, securityHeaders)
	return standard.Then(mux)
}
