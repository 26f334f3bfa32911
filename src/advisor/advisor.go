// HTTP CLIENT FOR THE EXTERNAL TRADE ADVISOR
package advisor

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	BaseURL string        `envconfig:"ADVISOR_BASE_URL" default:"http://localhost:8090"`
	Timeout time.Duration `envconfig:"ADVISOR_TIMEOUT" default:"10s"`
	APIKey  string        `envconfig:"ADVISOR_API_KEY"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}

// Request is the market snapshot sent to the advisor for one cycle.
type Request struct {
	Venue     string          `json:"venue"`
	Symbol    string          `json:"symbol"`
	Action    string          `json:"action"`
	Entry     decimal.Decimal `json:"entry"`
	Equity    decimal.Decimal `json:"equity"`
	Timeframe string          `json:"timeframe"`
	Rationale string          `json:"rationale,omitempty"`
}

// Advice is the advisor's proposed levels. Callers must re-validate these
// against policy bounds before use; the advisor is not trusted.
type Advice struct {
	StopLoss   decimal.Decimal `json:"stop_loss"`
	TakeProfit decimal.Decimal `json:"take_profit"`
	SizeHint   decimal.Decimal `json:"size_hint"`
	Confidence decimal.Decimal `json:"confidence"`
	Rationale  string          `json:"rationale"`
}

type Client struct {
	http *resty.Client
}

func NewClient() *Client {
	config := GetConfig()
	httpClient := resty.New().
		SetBaseURL(config.BaseURL).
		SetTimeout(config.Timeout)
	if config.APIKey != "" {
		httpClient.SetHeader("Authorization", "Bearer "+config.APIKey)
	}
	return &Client{http: httpClient}
}

// NewClientWithBaseURL is used by tests to point at a local server.
func NewClientWithBaseURL(baseURL string, timeout time.Duration) *Client {
	return &Client{http: resty.New().SetBaseURL(baseURL).SetTimeout(timeout)}
}

// Advise asks the advisor for stop/target levels. Any transport failure,
// non-200 status or undecodable body is an error; the caller decides what
// fallback means.
func (c *Client) Advise(ctx context.Context, req Request) (*Advice, error) {
	var advice Advice
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&advice).
		// Some advisor deployments answer with text/plain; the body is
		// JSON regardless, so decode it as such.
		ForceContentType("application/json").
		Post("/v1/advise")
	if err != nil {
		return nil, fmt.Errorf("advisor: request failed: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("advisor: HTTP %d: %s", resp.StatusCode(), resp.String())
	}
	if advice.StopLoss.LessThanOrEqual(decimal.Zero) || advice.TakeProfit.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("advisor: malformed advice: %s", resp.String())
	}
	return &advice, nil
}
