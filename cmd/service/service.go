// ENGINE SERVICE BOOTSTRAP
// Wires the scheduler, cycle runner, notification dispatcher, mark-price
// stream and status server, then blocks until shutdown.
package service

import (
	"context"

	logger "github.com/sirupsen/logrus"

	"tradengine/src/advisor"
	"tradengine/src/bots"
	"tradengine/src/connectors"
	"tradengine/src/database"
	"tradengine/src/engine"
	"tradengine/src/notify"
	"tradengine/src/repository"
	"tradengine/src/risk"
	"tradengine/src/scheduler"
	"tradengine/src/security"
	"tradengine/src/server"
	"tradengine/src/state"
)

type Engine struct {
	// Port overrides the server config when non-empty.
	Port string
}

// Start runs the trading engine until SIGINT/SIGTERM. In-flight cycles are
// drained before it returns.
func (e *Engine) Start() error {
	if err := database.InitMainDB(); err != nil {
		return err
	}

	notifyConfig := notify.GetConfig()
	sinks := []notify.Sink{notify.LogSink{}}
	if notifyConfig.WebhookURL != "" {
		sinks = append(sinks, notify.NewWebhookSink(notifyConfig.WebhookURL, notifyConfig.WebhookTimeout))
	}
	dispatcher := notify.NewDispatcher(notifyConfig.QueueSize, sinks...)
	defer dispatcher.Close()

	subscriptionRepo := repository.NewSubscriptionRepository()
	exceptionRepo := repository.NewExceptionRepository()
	orderRepo := repository.NewOrderRepository()

	store := state.NewStoreWithMainDB()
	runner := engine.NewCycleRunner(
		subscriptionRepo,
		exceptionRepo,
		store,
		risk.NewService(advisor.NewClient()),
		bots.DefaultRegistry(),
		engine.NewExecutor(orderRepo, dispatcher),
		engine.NewReconciler(orderRepo, store, dispatcher),
		dispatcher,
		connectors.New,
		security.OpenCredentials,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched := scheduler.New(subscriptionRepo, runner)
	sched.Start(ctx)

	prices := startMarkPriceBoard(ctx, subscriptionRepo)

	port := e.Port
	if port == "" {
		port = server.GetConfig().Port
	}

	// Blocks until SIGINT/SIGTERM, then the scheduler drains in-flight
	// cycles before the process exits.
	server.StartServer(port, subscriptionRepo, sched, prices)

	cancel()
	sched.Stop()
	return nil
}

// startMarkPriceBoard feeds the status endpoint with live Binance mark
// prices for the symbols under active subscriptions. Best effort: with no
// active Binance symbols the board stays empty.
func startMarkPriceBoard(ctx context.Context, subs *repository.SubscriptionRepository) *server.PriceBoard {
	board := server.NewPriceBoard()

	active, err := subs.FindActive(ctx)
	if err != nil {
		logger.WithError(err).Warn("Failed to list subscriptions for mark price stream")
		return board
	}

	seen := make(map[string]bool)
	var symbols []string
	for _, sub := range active {
		if sub.Venue != connectors.VenueBinance || seen[sub.Symbol] {
			continue
		}
		seen[sub.Symbol] = true
		symbols = append(symbols, sub.Symbol)
	}
	if len(symbols) == 0 {
		return board
	}

	stream := connectors.NewMarkPriceStream(connectors.GetConfig().BinanceStreamURL, symbols)
	go stream.Run(ctx)
	go board.Consume(stream.Updates())
	return board
}
