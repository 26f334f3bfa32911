package connectors

import (
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	defaultRetryBaseDelay  = 500 * time.Millisecond
	defaultRetryMaxBackoff = 8 * time.Second
)

// newRestClient builds the resty client every venue connector uses: shared
// timeout and retry policy, venue base URL. Request signing stays inside
// each connector because every venue signs differently.
func newRestClient(baseURL string) *resty.Client {
	config := GetConfig()

	retryCount := config.RetryAttempts - 1
	if retryCount < 0 {
		retryCount = 0
	}

	return resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(config.HTTPTimeout).
		SetRetryCount(retryCount).
		SetRetryWaitTime(defaultRetryBaseDelay).
		SetRetryMaxWaitTime(defaultRetryMaxBackoff).
		AddRetryCondition(isRetryableResp)
}
