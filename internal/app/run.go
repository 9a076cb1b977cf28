package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"
	"golang.org/x/sync/errgroup"

	"proccontrol/internal/controller"
	"proccontrol/pkg/logging"
)

// runController runs the control loop and, when configured, the metrics
// server, until a signal arrives or the loop fails.
//
// Signal Handling:
//   - SIGINT (Ctrl+C): Triggers graceful shutdown
//   - SIGTERM: Triggers graceful shutdown (sent by Kubernetes and systemd)
func runController(ctx context.Context, services *Services) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	if services.Watcher != nil {
		if err := services.Watcher.Start(gctx); err != nil {
			logging.Warn("Bootstrap", "Not watching workflow definitions: %v", err)
		}
	}

	g.Go(func() error {
		return services.Controller.Run(gctx)
	})

	if addr := services.Settings.Metrics.Addr; addr != "" {
		server := newMetricsServer(addr, services)
		g.Go(func() error {
			logging.Info("Metrics", "Serving /metrics and /healthz on %s", addr)
			if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	err := g.Wait()
	services.notifier.stopping()
	if err != nil {
		logging.Error("Bootstrap", err, "Processing controller stopped")
		return err
	}
	logging.Info("Bootstrap", "Processing controller stopped")
	return nil
}

func newMetricsServer(addr string, services *Services) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", services.Metrics.Handler())
	mux.Handle("/healthz", services.Controller.HealthHandler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: metricsReadHeader,
	}
}

// readinessNotifier reports the loop's readiness to systemd. It is a no-op
// when the process is not started with NOTIFY_SOCKET.
type readinessNotifier struct {
	notify    func(state string) (bool, error)
	readyOnce sync.Once
	stopOnce  sync.Once
}

func sdNotify(state string) (bool, error) {
	return daemon.SdNotify(false, state)
}

func (n *readinessNotifier) stateChanged(state controller.LoopState) {
	switch state {
	case controller.StateWaitForChange:
		n.readyOnce.Do(func() { n.send(daemon.SdNotifyReady) })
	case controller.StateTerminated:
		n.stopping()
	}
}

func (n *readinessNotifier) stopping() {
	n.stopOnce.Do(func() { n.send(daemon.SdNotifyStopping) })
}

func (n *readinessNotifier) send(state string) {
	sent, err := n.notify(state)
	if err != nil {
		logging.Warn("Bootstrap", "sd_notify %s: %v", state, err)
		return
	}
	if sent {
		logging.Debug("Bootstrap", "sd_notify %s", state)
	}
}
