package connectors

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	logger "github.com/sirupsen/logrus"
	"github.com/shopspring/decimal"
)

// MarkPrice is one update from the Binance mark-price stream.
type MarkPrice struct {
	Symbol string
	Price  decimal.Decimal
	At     time.Time
}

const streamReconnectDelay = 5 * time.Second

// MarkPriceStream subscribes to Binance futures mark-price updates over
// websocket and republishes them on a channel. It reconnects with a flat
// delay until the context is cancelled; consumers only ever see the channel.
type MarkPriceStream struct {
	url     string
	symbols []string
	updates chan MarkPrice
}

// NewMarkPriceStream prepares a stream for the given symbols in Binance
// native form ("BTCUSDT"). Call Run to start it.
func NewMarkPriceStream(streamURL string, symbols []string) *MarkPriceStream {
	return &MarkPriceStream{
		url:     streamURL,
		symbols: symbols,
		updates: make(chan MarkPrice, 64),
	}
}

// Updates is the stream output. It is closed when Run returns.
func (s *MarkPriceStream) Updates() <-chan MarkPrice {
	return s.updates
}

func (s *MarkPriceStream) streamURL() string {
	names := make([]string, 0, len(s.symbols))
	for _, sym := range s.symbols {
		names = append(names, strings.ToLower(sym)+"@markPrice@1s")
	}
	return s.url + "?streams=" + strings.Join(names, "/")
}

// Run blocks until ctx is cancelled, reconnecting on any read or dial error.
func (s *MarkPriceStream) Run(ctx context.Context) {
	defer close(s.updates)

	for {
		if err := s.readOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.WithFields(logger.Fields{
				"url":   s.url,
				"error": err.Error(),
			}).Warn("MARK PRICE STREAM: disconnected, reconnecting")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(streamReconnectDelay):
		}
	}
}

func (s *MarkPriceStream) readOnce(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.streamURL(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Unblock ReadMessage when the context is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	logger.WithField("symbols", s.symbols).Info("MARK PRICE STREAM: connected")

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var envelope struct {
			Data struct {
				EventType string `json:"e"`
				EventTime int64  `json:"E"`
				Symbol    string `json:"s"`
				MarkPrice string `json:"p"`
			} `json:"data"`
		}
		if err := json.Unmarshal(payload, &envelope); err != nil {
			continue
		}
		if envelope.Data.EventType != "markPriceUpdate" {
			continue
		}

		update := MarkPrice{
			Symbol: envelope.Data.Symbol,
			Price:  parseDec(envelope.Data.MarkPrice),
			At:     time.UnixMilli(envelope.Data.EventTime),
		}

		select {
		case s.updates <- update:
		case <-ctx.Done():
			return ctx.Err()
		default:
			// Slow consumer: drop the oldest update in favor of the new one.
			select {
			case <-s.updates:
			default:
			}
			select {
			case s.updates <- update:
			default:
			}
		}
	}
}
