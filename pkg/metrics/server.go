package metrics

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"
)

// StartServer serves /metrics plus any extra routes (health probes) on port.
// The root page links every route. The returned function shuts the server
// down.
func StartServer(port int, routes map[string]http.Handler) (shutdown func(context.Context) error) {
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      newMux(routes),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	logger := slog.Default().With("component", "metrics-server")

	go func() {
		logger.Info("metrics server listening", "addr", server.Addr, "routes", len(routes)+1)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()

	return server.Shutdown
}

func newMux(routes map[string]http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	paths := []string{"/metrics"}
	for path, h := range routes {
		mux.Handle(path, h)
		paths = append(paths, path)
	}
	sort.Strings(paths)

	var page strings.Builder
	page.WriteString("<html><body><h1>Motif Index</h1><ul>")
	for _, p := range paths {
		fmt.Fprintf(&page, `<li><a href="%[1]s">%[1]s</a></li>`, html.EscapeString(p))
	}
	page.WriteString("</ul></body></html>")
	index := page.String()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, index)
	})
	return mux
}
