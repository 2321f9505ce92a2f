package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/303webhouse/pandoras-box-sub000/internal/domain/models"
	"github.com/303webhouse/pandoras-box-sub000/pkg/config"
	xhttp "github.com/303webhouse/pandoras-box-sub000/pkg/http"
	"github.com/303webhouse/pandoras-box-sub000/pkg/logger"
)

const (
	pathActiveSignals = "/api/signals/active"
	pathSignal        = "/api/signals/"
	pathBiasStatus    = "/api/bias/composite"
	pathBiasShift     = "/api/bias/shift-status"
	pathBiasOverride  = "/api/bias/override"
)

const userAgent = "pandora-dashboard-core"

var ErrNotConfigured = errors.New("backend client not configured")

// Client talks to the REST backend that owns signals and bias state.
type Client struct {
	baseURL  string
	client   *xhttp.Client
	log      *logger.Logger
	attempts int
	backoff  time.Duration
	now      func() time.Time
}

type Option func(*Client)

// WithRetry sets how many times idempotent GETs are tried on transient errors.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(c *Client) {
		if attempts > 0 {
			c.attempts = attempts
		}
		if backoff > 0 {
			c.backoff = backoff
		}
	}
}

func WithHTTP(hc *xhttp.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.client = hc
		}
	}
}

func New(baseURL string, timeout time.Duration, log *logger.Logger, opts ...Option) *Client {
	if log == nil {
		log = logger.Nop()
	}
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   xhttp.NewClient(xhttp.WithTimeout(timeout), xhttp.WithHeader("User-Agent", userAgent)),
		log:      log.With(logger.String("component", "backend")),
		attempts: 3,
		backoff:  100 * time.Millisecond,
		now:      time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// NewFromConfig builds a client from the backend section.
func NewFromConfig(cfg *config.Config, log *logger.Logger) *Client {
	return New(cfg.Backend.BaseURL, cfg.Backend.Timeout, log)
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values, body, dest interface{}) error {
	if c.client == nil || c.baseURL == "" {
		return ErrNotConfigured
	}
	return c.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:      method,
		URL:         c.baseURL + path,
		QueryParams: query,
		Body:        body,
	}, dest)
}

// get retries transient failures with linear backoff.
func (c *Client) get(ctx context.Context, path string, query url.Values, dest interface{}) error {
	var err error
	for i := 1; i <= c.attempts; i++ {
		err = c.send(ctx, xhttp.MethodGet, path, query, nil, dest)
		if err == nil || !retryable(err) || i == c.attempts {
			break
		}
		c.log.Debug("backend get retry", logger.String("path", path), logger.Int("attempt", i), logger.Error(err))
		select {
		case <-time.After(time.Duration(i) * c.backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	return nil
}

func retryable(err error) bool {
	if errors.Is(err, ErrNotConfigured) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *xhttp.StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return true
}

// signalsResponse accepts either a bare array or an object with signals.
type signalsResponse struct {
	Signals []models.SignalPayload
	HasMore *bool
}

func (r *signalsResponse) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '[' {
		return json.Unmarshal(b, &r.Signals)
	}
	var obj struct {
		Signals []models.SignalPayload `json:"signals"`
		Data    []models.SignalPayload `json:"data"`
		HasMore *bool                  `json:"has_more"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	r.Signals = obj.Signals
	if r.Signals == nil {
		r.Signals = obj.Data
	}
	r.HasMore = obj.HasMore
	return nil
}

func (c *Client) toSignals(ac models.AssetClass, payloads []models.SignalPayload) []models.Signal {
	now := c.now()
	out := make([]models.Signal, 0, len(payloads))
	for _, p := range payloads {
		s := p.ToSignal(now)
		if s.SignalID == "" {
			continue
		}
		if p.AssetClass == "" {
			s.AssetClass = ac
		}
		out = append(out, s)
	}
	return out
}

func (c *Client) FetchActiveSignals(ctx context.Context, ac models.AssetClass) ([]models.Signal, error) {
	var resp signalsResponse
	q := url.Values{"asset_class": {string(ac)}}
	if err := c.get(ctx, pathActiveSignals, q, &resp); err != nil {
		return nil, err
	}
	return c.toSignals(ac, resp.Signals), nil
}

func (c *Client) FetchSignalsPage(ctx context.Context, ac models.AssetClass, offset, limit int) (models.SignalsPage, error) {
	var resp signalsResponse
	q := url.Values{
		"asset_class": {string(ac)},
		"offset":      {strconv.Itoa(offset)},
		"limit":       {strconv.Itoa(limit)},
	}
	if err := c.get(ctx, pathActiveSignals, q, &resp); err != nil {
		return models.SignalsPage{}, err
	}
	return models.SignalsPage{Signals: c.toSignals(ac, resp.Signals), HasMore: resp.HasMore}, nil
}

func (c *Client) FetchBiasStatus(ctx context.Context) (models.BiasStatus, error) {
	var st models.BiasStatus
	if err := c.get(ctx, pathBiasStatus, nil, &st); err != nil {
		return models.BiasStatus{}, err
	}
	return st, nil
}

func (c *Client) FetchBiasShift(ctx context.Context) (models.BiasShift, error) {
	var sh models.BiasShift
	if err := c.get(ctx, pathBiasShift, nil, &sh); err != nil {
		return nil, err
	}
	return sh, nil
}

func (c *Client) AcceptSignal(ctx context.Context, signalID string) error {
	path := pathSignal + url.PathEscape(signalID) + "/accept"
	if err := c.send(ctx, xhttp.MethodPost, path, nil, map[string]string{}, nil); err != nil {
		return fmt.Errorf("accept %s: %w", signalID, err)
	}
	return nil
}

func (c *Client) DismissSignal(ctx context.Context, signalID, reason string) error {
	path := pathSignal + url.PathEscape(signalID) + "/dismiss"
	if err := c.send(ctx, xhttp.MethodPost, path, nil, map[string]string{"reason": reason}, nil); err != nil {
		return fmt.Errorf("dismiss %s: %w", signalID, err)
	}
	return nil
}

type overrideBody struct {
	Direction string    `json:"direction"`
	Reason    string    `json:"reason,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (c *Client) SetBiasOverride(ctx context.Context, direction models.BiasLevel, reason string, expiresAt time.Time) error {
	body := overrideBody{Direction: direction.String(), Reason: reason, ExpiresAt: expiresAt.UTC()}
	if err := c.send(ctx, xhttp.MethodPost, pathBiasOverride, nil, body, nil); err != nil {
		return fmt.Errorf("set override: %w", err)
	}
	return nil
}

func (c *Client) ClearBiasOverride(ctx context.Context) error {
	if err := c.send(ctx, xhttp.MethodDelete, pathBiasOverride, nil, nil, nil); err != nil {
		return fmt.Errorf("clear override: %w", err)
	}
	return nil
}
