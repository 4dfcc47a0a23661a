package esi

import (
	"context"
	"errors"
	devenv "evetrade/dev/env"
	"evetrade/internal/components/telemetry"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
	"golang.org/x/time/rate"
)

const (
	report_client_retry       = "client.retry"
	report_client_error_limit = "client.error-limit"
	report_client_get         = "client.get"
)

// StatusError is a response ESI answered with a status other than 200.
type StatusError struct {
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("esi %s: status %d: %s", e.Path, e.Status, e.Body)
}

// HasStatus reports whether err is a StatusError with the given status.
func HasStatus(err error, status int) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.Status == status
}

func retryable(status int) bool {
	switch status {
	// 420 is ESI's "error limited"
	case 420, http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Client is a rate limited ESI client that retries transient failures and backs
// off when the error budget runs low.
type Client struct {
	http                *resty.Client
	tel                 telemetry.API
	maxRetries          int
	errorLimitThreshold int
	maxConcurrency      int
	retryInterval       time.Duration
}

func NewClient(config Config, tel telemetry.API) (*Client, error) {
	config = config.withDefaults()
	tel = telemetry.NewScopedAPI("esi", tel)

	token, err := config.loadToken()
	if errors.Is(err, os.ErrNotExist) {
		// public endpoints still work, authenticated ones will answer 401
		tel.ReportWarning("client.token", err)
	} else if err != nil {
		return nil, err
	}

	httpClient := resty.New()
	httpClient.SetTimeout(time.Duration(config.TimeoutSeconds) * time.Second)
	httpClient.SetBaseURL(config.BaseUrl)
	httpClient.SetHeader("user-agent", config.UserAgent)
	httpClient.SetHeader("accept", "application/json")
	httpClient.SetQueryParam("datasource", "tranquility")
	if token != "" {
		httpClient.SetAuthToken(token)
	}

	// max burst >= rps just means that no requests will be dropped
	burst := max(int(config.RequestsPerSecond), 1)
	rateLimiter := rate.NewLimiter(rate.Limit(config.RequestsPerSecond), burst)
	httpClient.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return rateLimiter.Wait(req.Context())
	})
	telemetry.InstrumentResty(httpClient, tel)
	if config.DumpDir != "" {
		dir, err := devenv.ResolvePath(config.DumpDir)
		if err != nil {
			return nil, err
		}
		err = telemetry.DumpResty(httpClient, tel, dir)
		if err != nil {
			return nil, fmt.Errorf("esi dump dir: %w", err)
		}
	}

	return &Client{
		http:                httpClient,
		tel:                 tel,
		maxRetries:          config.MaxRetries,
		errorLimitThreshold: config.ErrorLimitThreshold,
		maxConcurrency:      config.MaxConcurrency,
		retryInterval:       time.Second,
	}, nil
}

// MaxConcurrency is how many requests a caller may have in flight at once.
func (c *Client) MaxConcurrency() int {
	return c.maxConcurrency
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// observeErrorLimit pauses until the error window resets when few errors are
// left, ESI bans clients that exhaust it.
func (c *Client) observeErrorLimit(ctx context.Context, header http.Header) error {
	remain, err := strconv.Atoi(header.Get("X-ESI-Error-Limit-Remain"))
	if err != nil || remain >= c.errorLimitThreshold {
		return nil
	}
	reset, err := strconv.Atoi(header.Get("X-ESI-Error-Limit-Reset"))
	if err != nil {
		reset = 60
	}
	c.tel.ReportWarning(
		report_client_error_limit,
		telemetry.KV{Key: "remain", Value: remain},
		telemetry.KV{Key: "reset_seconds", Value: reset},
	)
	return sleep(ctx, time.Duration(reset)*time.Second)
}

// do performs a GET, retrying transport errors and transient statuses with
// exponential backoff. Any response that is not retried is returned as is.
func (c *Client) do(ctx context.Context, path string, query map[string]string) (*resty.Response, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retryInterval
	bo.MaxInterval = 30 * c.retryInterval
	bo.Reset()

	for attempt := 0; ; attempt++ {
		res, err := c.http.R().
			SetContext(ctx).
			SetQueryParams(query).
			Get(path)
		if err == nil {
			limitErr := c.observeErrorLimit(ctx, res.Header())
			if limitErr != nil {
				return nil, limitErr
			}
			if !retryable(res.StatusCode()) {
				return res, nil
			}
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt >= c.maxRetries {
			if err != nil {
				return nil, fmt.Errorf("esi %s: %w", path, err)
			}
			return res, nil
		}

		wait := bo.NextBackOff()
		if err == nil {
			retryAfter, parseErr := strconv.Atoi(res.Header().Get("Retry-After"))
			if parseErr == nil && retryAfter > 0 {
				wait = time.Duration(retryAfter) * time.Second
			}
		}
		c.tel.ReportWarning(
			report_client_retry,
			telemetry.KV{Key: "path", Value: path},
			telemetry.KV{Key: "attempt", Value: attempt + 1},
			telemetry.KV{Key: "wait", Value: wait.String()},
			describeFailure(res, err),
		)
		err = sleep(ctx, wait)
		if err != nil {
			return nil, err
		}
	}
}

func describeFailure(res *resty.Response, err error) any {
	if err != nil {
		return err
	}
	return telemetry.KV{Key: "status", Value: res.StatusCode()}
}

// Get decodes the JSON body of a single object endpoint into a T.
func Get[T any](ctx context.Context, c *Client, path string, query map[string]string) (T, error) {
	var out T
	res, err := c.do(ctx, path, query)
	if err != nil {
		return out, err
	}
	if res.StatusCode() != http.StatusOK {
		return out, &StatusError{Path: path, Status: res.StatusCode(), Body: res.String()}
	}
	err = json.Unmarshal(res.Body(), &out)
	if err != nil {
		c.tel.ReportBroken(report_client_get, path, err)
		return out, fmt.Errorf("esi %s: decode: %w", path, err)
	}
	return out, nil
}

// BaseUrl is the url every request path is resolved against.
func (c *Client) BaseUrl() string {
	return c.http.BaseURL
}
