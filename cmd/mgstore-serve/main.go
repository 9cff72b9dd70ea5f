// Command mgstore-serve exposes a read-only debug and metrics HTTP
// endpoint over one or more store directories: pprof, Prometheus
// metrics, and a small JSON summary of each store's size. It serves
// no query traffic — query evaluation is out of scope (spec.md's
// Non-goals) — so there is nothing here but introspection.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/xid"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"

	"github.com/mgtoolkit/mgstore/debugserver"
	"github.com/mgtoolkit/mgstore/internal/obs"
	"github.com/mgtoolkit/mgstore/internal/storemeta"
)

func main() {
	addr := flag.String("listen", ":6070", "address to serve debug/metrics HTTP on")
	pprofEnabled := flag.Bool("pprof", true, "serve net/http/pprof handlers under /debug/pprof")
	flag.Parse()

	if _, err := maxprocs.Set(); err != nil {
		log.Fatal(err)
	}
	sync := obs.Init("mgstore-serve")
	defer sync() //nolint:errcheck
	logger := obs.Get()

	dirs := flag.Args()
	if len(dirs) == 0 {
		fmt.Fprintln(flag.CommandLine.Output(), "USAGE: mgstore-serve [-listen ADDR] STOREDIR...")
		flag.PrintDefaults()
		os.Exit(1)
	}

	if self, err := obs.NewSelfCollector(); err != nil {
		logger.Warn("self process metrics unavailable", zap.Error(err))
	} else if err := prometheus.Register(self); err != nil {
		logger.Warn("self process metrics registration failed", zap.Error(err))
	}

	mux := http.NewServeMux()
	debugserver.AddHandlers(mux, *pprofEnabled)
	mux.Handle("/stores", storesHandler(dirs))

	logger.Info("serving", zap.String("addr", *addr), zap.Strings("stores", dirs))
	if err := http.ListenAndServe(*addr, requestIDMiddleware(mux)); err != nil {
		logger.Fatal("listen failed", zap.Error(err))
	}
}

// requestIDMiddleware stamps every request with a sortable, globally
// unique correlation ID so a store's own log lines (build/impact/verify
// runs against the same directory) can be lined up against the request
// that observed them.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := xid.New()
		w.Header().Set("X-Request-Id", id.String())
		obs.Get().Debug("request", zap.String("request_id", id.String()), zap.String("path", r.URL.Path))
		next.ServeHTTP(w, r)
	})
}

type storeSummary struct {
	Dir           string `json:"dir"`
	PageSize      int    `json:"page_size"`
	VocabEntries  int    `json:"vocab_entries"`
	ImpactApplied bool   `json:"impact_applied"`
	Error         string `json:"error,omitempty"`
}

// storesHandler reports each configured store directory's
// store.json contents, refreshed on every request since
// mgstore-build/mgstore-impact may be running concurrently against
// the same directories.
func storesHandler(dirs []string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		summaries := make([]storeSummary, 0, len(dirs))
		for _, dir := range dirs {
			s := storeSummary{Dir: dir}
			meta, err := storemeta.Load(dir)
			if err != nil {
				s.Error = err.Error()
			} else {
				s.PageSize = meta.PageSize
				s.VocabEntries = meta.VocabEntries
				s.ImpactApplied = meta.ImpactApplied
			}
			summaries = append(summaries, s)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(summaries)
	})
}
