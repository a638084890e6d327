package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/labdisplay/gammacal/calib"
	"github.com/labdisplay/gammacal/generichttp"
	"github.com/labdisplay/gammacal/photometer"
	"github.com/labdisplay/gammacal/server/middleware/locker"
	"github.com/labdisplay/gammacal/server/middleware/ratelimit"
	"github.com/labdisplay/gammacal/stimulus"
	"github.com/labdisplay/gammacal/util"
)

// node is a group of routes mounted under one endpoint
type node struct {
	endpoint string
	httper   generichttp.HTTPer
}

// BuildMux mounts the panel, the photometer, and the bench on one router.
// The three share a lock, which the bench holds for the length of a sweep,
// so manual device commands answer 423 while it runs.  Bench metrics are
// registered with reg and served from g at /metrics.
func BuildMux(c Config, d Devices, reg prometheus.Registerer, g prometheus.Gatherer) (chi.Router, error) {
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	supergraph := map[string][]string{}

	lock := locker.New()
	lock.DoNotProtect = append(lock.DoNotProtect, "report")

	b := c.Bench(d)
	m, err := calib.NewMetrics(reg)
	if err != nil {
		return nil, err
	}
	b.Observer = m

	limiter := ratelimit.New(ratelimit.Config{
		Limit:  c.RateLimit.Limit,
		Window: util.MillisToDuration(c.RateLimit.WindowMs),
	})
	nodes := []node{
		{"panel", stimulus.NewHTTPPanel(d.Panel)},
		{"photometer", photometer.NewHTTPMeter(d.Meter, limiter.Check)},
		{"bench", calib.NewHTTPBench(b, lock, c.Engine())},
	}
	for _, n := range nodes {
		// prepare the URL, "panel" => "/panel"
		hndlS := generichttp.SubMuxSanitize(n.endpoint)

		locker.Inject(n.httper.RT(), lock)
		supergraph[hndlS] = n.httper.RT().Endpoints()

		r := chi.NewRouter()
		r.Use(lock.Check)
		n.httper.RT().Bind(r)
		root.Mount(hndlS, r)
	}
	root.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	root.Get("/endpoints", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		err := json.NewEncoder(w).Encode(supergraph)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	return root, nil
}

// serve runs the server until ctx is done
func serve(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: h}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(sctx)
	}()
	log.WithField("addr", addr).Info("now listening for requests")
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (a *app) serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the bench over HTTP",
		Long: `Serve the bench over HTTP.

Routes:
	/panel/*       color, brightness, and backlight of the panel
	/photometer/*  single measurements (rate limited)
	/bench/*       sweeps, offline fits, the last report
	/endpoints     the list of routes
	/metrics       prometheus metrics`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := a.cfg.Dial(cmd.Context())
			if err != nil {
				return err
			}
			defer func() {
				if err := d.Close(); err != nil {
					log.WithError(err).Warn("releasing devices")
				}
			}()
			mux, err := BuildMux(a.cfg, d, prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), a.cfg.Addr, mux)
		},
	}
}
