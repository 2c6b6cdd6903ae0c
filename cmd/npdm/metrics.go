package main

import (
	"context"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const fnameMetrics = "metrics.prom"

// serveMetrics exposes the default registry at /metrics on addr until the returned stop is called.
// It returns the address actually listened on.
func serveMetrics(addr string) (string, func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, errors.Wrap(err, "")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", ln.Addr().String()))

	stop := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("metrics server shutdown", zap.Error(err))
		}
		<-done
	}
	return ln.Addr().String(), stop, nil
}

// writeMetrics writes the default registry in the text exposition format into the run directory.
func writeMetrics(dir string, worker int) error {
	name := fnameMetrics
	if worker > 0 {
		name = workerName(name, worker)
	}
	if err := prometheus.WriteToTextfile(filepath.Join(dir, name), prometheus.DefaultGatherer); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}
