package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	checkoutdomain "github.com/smallbiznis/packclaim/internal/checkout/domain"
	"github.com/smallbiznis/packclaim/internal/config"
	"go.uber.org/zap"
)

const (
	defaultAPIBase  = "https://api.stripe.com"
	defaultTimeout  = 15 * time.Second
	maxRequestTries = 3

	// maxRetryAfterSeconds bounds a processor-supplied Retry-After to the
	// backoff's own MaxInterval, rounded up to whole seconds.
	maxRetryAfterSeconds = 2
)

type checkoutSession struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	ExpiresAt int64  `json:"expires_at"`
}

type errorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Client creates Checkout Sessions over the Stripe REST API.
type Client struct {
	apiKey  string
	apiBase string
	client  *http.Client
	log     *zap.Logger

	newBackOff    func() backoff.BackOff
	retryAfterCap int
}

func NewClient(cfg config.StripeConfig, log *zap.Logger) *Client {
	apiBase := strings.TrimRight(strings.TrimSpace(cfg.APIBase), "/")
	if apiBase == "" {
		apiBase = defaultAPIBase
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		apiKey:  strings.TrimSpace(cfg.SecretKey),
		apiBase: apiBase,
		client:  &http.Client{Timeout: timeout},
		log:     log.Named("checkout.stripe"),

		newBackOff:    defaultBackOff,
		retryAfterCap: maxRetryAfterSeconds,
	}
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	return b
}

func (c *Client) Name() string { return "stripe" }

func (c *Client) CreateSession(ctx context.Context, req checkoutdomain.SessionRequest) (checkoutdomain.ProcessorSession, error) {
	if c.apiKey == "" {
		return checkoutdomain.ProcessorSession{}, checkoutdomain.ErrProcessorConfig
	}

	values := url.Values{}
	values.Set("mode", "payment")
	values.Set("line_items[0][quantity]", "1")
	values.Set("line_items[0][price_data][currency]", strings.ToLower(req.Currency))
	values.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(req.Amount, 10))
	values.Set("line_items[0][price_data][product_data][name]", req.ProductName)
	if req.ClientRef != "" {
		values.Set("client_reference_id", req.ClientRef)
	}
	if req.SuccessURL != "" {
		values.Set("success_url", req.SuccessURL)
	}
	if req.CancelURL != "" {
		values.Set("cancel_url", req.CancelURL)
	}
	if !req.ExpiresAt.IsZero() {
		values.Set("expires_at", strconv.FormatInt(req.ExpiresAt.Unix(), 10))
	}

	keys := make([]string, 0, len(req.Metadata))
	for key := range req.Metadata {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		values.Set(fmt.Sprintf("metadata[%s]", key), req.Metadata[key])
		values.Set(fmt.Sprintf("payment_intent_data[metadata][%s]", key), req.Metadata[key])
	}

	session, err := backoff.Retry(ctx, func() (checkoutSession, error) {
		return c.post(ctx, "/v1/checkout/sessions", values, req.IdempotencyKey)
	},
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxTries(maxRequestTries),
		backoff.WithNotify(func(err error, wait time.Duration) {
			c.log.Warn("stripe request retry", zap.Duration("wait", wait), zap.Error(err))
		}),
	)
	if err != nil {
		return checkoutdomain.ProcessorSession{}, classifyFailure(err)
	}

	out := checkoutdomain.ProcessorSession{ID: session.ID, URL: session.URL}
	if session.ExpiresAt > 0 {
		out.ExpiresAt = time.Unix(session.ExpiresAt, 0).UTC()
	}
	return out, nil
}

// post sends one form-encoded request. Client errors are permanent; network
// failures, 429 and 5xx are left for the caller to retry.
func (c *Client) post(ctx context.Context, path string, values url.Values, idempotencyKey string) (checkoutSession, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+path, strings.NewReader(values.Encode()))
	if err != nil {
		return checkoutSession{}, backoff.Permanent(err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return checkoutSession{}, backoff.Permanent(ctx.Err())
		}
		return checkoutSession{}, fmt.Errorf("%w: %v", checkoutdomain.ErrProcessorUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return checkoutSession{}, fmt.Errorf("%w: %v", checkoutdomain.ErrProcessorUnavailable, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
		err := fmt.Errorf("%w: status %d", checkoutdomain.ErrProcessorUnavailable, resp.StatusCode)
		if seconds, convErr := strconv.Atoi(resp.Header.Get("Retry-After")); convErr == nil && seconds > 0 {
			return checkoutSession{}, backoff.RetryAfter(min(seconds, c.retryAfterCap))
		}
		return checkoutSession{}, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var stripeErr errorResponse
		message := "stripe_request_failed"
		if json.Unmarshal(body, &stripeErr) == nil && strings.TrimSpace(stripeErr.Error.Message) != "" {
			message = strings.TrimSpace(stripeErr.Error.Message)
		}
		return checkoutSession{}, backoff.Permanent(fmt.Errorf("%w: %s", checkoutdomain.ErrProcessorRejected, message))
	}

	var session checkoutSession
	if err := json.Unmarshal(body, &session); err != nil {
		return checkoutSession{}, backoff.Permanent(fmt.Errorf("%w: %v", checkoutdomain.ErrProcessorRejected, err))
	}
	if session.ID == "" || session.URL == "" {
		return checkoutSession{}, backoff.Permanent(fmt.Errorf("%w: stripe_response_invalid", checkoutdomain.ErrProcessorRejected))
	}
	return session, nil
}

// classifyFailure keeps the checkout sentinels on whatever the last attempt
// returned. A throttled final attempt surfaces as a bare RetryAfterError.
func classifyFailure(err error) error {
	switch {
	case errors.Is(err, checkoutdomain.ErrProcessorUnavailable),
		errors.Is(err, checkoutdomain.ErrProcessorRejected),
		errors.Is(err, checkoutdomain.ErrProcessorConfig),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: %v", checkoutdomain.ErrProcessorUnavailable, err)
	}
}
