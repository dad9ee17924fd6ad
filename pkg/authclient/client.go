// Package authclient is the gateway's synchronous caller into the identity
// service. It never decides identity on its own: any failure to reach the
// service is reported as an error and must be treated as unauthenticated.
package authclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/singleflight"

	"github.com/Skotchmaster/tunehub/pkg/bearer"
	"github.com/Skotchmaster/tunehub/pkg/metrics"
)

var (
	ErrInvalidToken = errors.New("authclient: token rejected")
	ErrUnreachable  = errors.New("authclient: identity service unreachable")
	ErrTimeout      = errors.New("authclient: identity service timed out")
)

// RejectedError carries the reason code the identity service gave for
// refusing a token. It matches ErrInvalidToken.
type RejectedError struct {
	Status int
	Code   string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("authclient: token rejected (%d %s)", e.Status, e.Code)
}

func (e *RejectedError) Is(target error) bool { return target == ErrInvalidToken }

// Decision is the identity service's verdict on one token.
type Decision struct {
	Valid    bool   `json:"valid"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	cb         *gobreaker.CircuitBreaker
	sf         singleflight.Group
}

type Option func(*Client)

// WithTimeout bounds each call to the identity service.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func NewClient(authServiceURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(authServiceURL, "/"),
		timeout: 2 * time.Second,
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	c.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "identity",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     5 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		// a rejected token is a healthy answer
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrInvalidToken)
		},
	})
	return c
}

// HealthCheck reports whether the identity service answers its health
// endpoint.
func (c *Client) HealthCheck(ctx context.Context) error {
	start := time.Now()
	err := c.healthCheck(ctx)
	observe("health", start, err)
	return err
}

func (c *Client) healthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classify(err)
	}
	defer drain(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: health status %d", ErrUnreachable, resp.StatusCode)
	}
	return nil
}

// ValidateToken asks the identity service to introspect an access token.
// Concurrent calls for the same token share one round trip.
func (c *Client) ValidateToken(ctx context.Context, token string) (*Decision, error) {
	start := time.Now()
	ch := c.sf.DoChan(token, func() (any, error) {
		// the shared call outlives any single waiting caller
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return c.cb.Execute(func() (any, error) {
			return c.validate(cctx, token)
		})
	})

	select {
	case <-ctx.Done():
		err := classify(ctx.Err())
		observe("validate", start, err)
		return nil, err
	case res := <-ch:
		err := res.Err
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = fmt.Errorf("%w: %v", ErrUnreachable, err)
		}
		observe("validate", start, err)
		if err != nil {
			return nil, err
		}
		return res.Val.(*Decision), nil
	}
}

func (c *Client) validate(ctx context.Context, token string) (*Decision, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/validate", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", bearer.Header(token))
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classify(err)
	}
	defer drain(resp.Body)

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: validate status %d", ErrUnreachable, resp.StatusCode)
	default:
		var body struct {
			Code string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4<<10)).Decode(&body)
		return nil, &RejectedError{Status: resp.StatusCode, Code: body.Code}
	}

	var d Decision
	if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrUnreachable, err)
	}
	if !d.Valid || d.UserID == "" {
		return nil, &RejectedError{Status: resp.StatusCode, Code: "invalid_decision"}
	}
	return &d, nil
}

func classify(err error) error {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}

func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 64<<10))
	body.Close()
}

func observe(op string, start time.Time, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrInvalidToken):
		outcome = "rejected"
	case errors.Is(err, ErrTimeout):
		outcome = "timeout"
	default:
		outcome = "unreachable"
	}
	metrics.AuthClientRequests.WithLabelValues(op, outcome).Inc()
	metrics.AuthClientDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
