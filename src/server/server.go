package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"

	"tradengine/src/connectors"
	"tradengine/src/model"
)

// SubscriptionLister feeds the operator endpoints.
type SubscriptionLister interface {
	FindActive(ctx context.Context) ([]model.Subscription, error)
}

// SchedulerSnapshotter reports per-state subscription counts.
type SchedulerSnapshotter interface {
	Snapshot() map[string]int
}

var startedAt = time.Now().UTC()

// StartServer runs the operator HTTP surface and blocks until SIGINT or
// SIGTERM, then shuts down gracefully. Trading continues regardless of this
// server; it is observation only.
func StartServer(port string, subs SubscriptionLister, sched SchedulerSnapshotter, prices *PriceBoard) {
	r := chi.NewRouter()

	r.Get("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.WithError(err).Error("\"/healthcheck\" error")
		}
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{
			"service":    "tradengine",
			"started_at": startedAt,
			"uptime":     time.Since(startedAt).String(),
			"venues":     connectors.SupportedVenues(),
		}
		if sched != nil {
			body["scheduler"] = sched.Snapshot()
		}
		if prices != nil {
			body["mark_prices"] = prices.Snapshot()
		}
		writeJSON(w, body)
	})

	r.Get("/subscriptions", func(w http.ResponseWriter, r *http.Request) {
		list, err := subs.FindActive(r.Context())
		if err != nil {
			logger.WithError(err).Error("\"/subscriptions\" error")
			http.Error(w, "failed to list subscriptions", http.StatusInternalServerError)
			return
		}
		writeJSON(w, list)
	})

	addr := ":" + port
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		logger.Infof("Listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server crashed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down gracefully...")
	ctx, cancel := context.WithTimeout(context.Background(), GetConfig().ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Shutdown error")
	}
}

func writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.WithError(err).Error("failed to encode response")
	}
}
