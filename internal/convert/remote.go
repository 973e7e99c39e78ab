package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperr "github.com/sadontsev/flibusta-sub001/internal/errors"
	"github.com/sadontsev/flibusta-sub001/internal/logger"
)

// maxRemoteOutput caps a response body from the converter service.
const maxRemoteOutput = 512 << 20

// Remote talks to a converter service exposing POST /convert?from=&to=
// and GET /health.
type Remote struct {
	base     *url.URL
	username string
	password string
	hasAuth  bool
	client   *http.Client
	timeout  time.Duration
	logger   *slog.Logger
}

// RemoteOption configures Remote.
type RemoteOption func(*Remote)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) RemoteOption {
	return func(r *Remote) {
		if c != nil {
			r.client = c
		}
	}
}

// WithRemoteTimeout sets the per-request deadline.
func WithRemoteTimeout(d time.Duration) RemoteOption {
	return func(r *Remote) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithRemoteLogger sets the logger.
func WithRemoteLogger(log *slog.Logger) RemoteOption {
	return func(r *Remote) { r.logger = logger.OrDiscard(log) }
}

// NewRemote parses rawURL. Credentials embedded in the URL are sent as basic
// auth and removed from request URLs.
func NewRemote(rawURL string, opts ...RemoteOption) (*Remote, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(rawURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse converter url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("converter url %q must be absolute http(s)", u.Redacted())
	}

	r := &Remote{
		client:  &http.Client{},
		timeout: DefaultTimeout,
		logger:  logger.Discard(),
	}
	if u.User != nil {
		r.username = u.User.Username()
		r.password, _ = u.User.Password()
		r.hasAuth = true
		u.User = nil
	}
	r.base = u

	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Endpoint returns the service URL without credentials.
func (r *Remote) Endpoint() string { return r.base.String() }

func (r *Remote) endpoint(p string, query url.Values) string {
	u := *r.base
	u.Path = strings.TrimRight(u.Path, "/") + p
	u.RawQuery = query.Encode()
	return u.String()
}

func (r *Remote) newRequest(ctx context.Context, method, target string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	if r.hasAuth {
		req.SetBasicAuth(r.username, r.password)
	}
	return req, nil
}

// Probe requires GET /health to answer 2xx.
func (r *Remote) Probe(ctx context.Context) error {
	req, err := r.newRequest(ctx, http.MethodGet, r.endpoint("/health", nil), nil)
	if err != nil {
		return err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("converter health: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("converter health: status %d", resp.StatusCode)
	}
	return nil
}

// Convert posts the input and returns the response body.
func (r *Remote) Convert(ctx context.Context, job Job) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	q := url.Values{}
	q.Set("from", job.Source)
	q.Set("to", job.Target)
	req, err := r.newRequest(ctx, http.MethodPost, r.endpoint("/convert", q), bytes.NewReader(job.Input))
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "build converter request")
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, r.transportError(ctx, job.Target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorOutput))
		r.logger.Warn("converter service rejected conversion",
			slog.Int64("book_id", job.BookID),
			slog.String("to", job.Target),
			slog.Int("status", resp.StatusCode))
		return nil, apperr.ConverterFailed(job.Target, truncate(string(body), maxErrorOutput),
			fmt.Errorf("converter service returned status %d", resp.StatusCode))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteOutput))
	if err != nil {
		return nil, r.transportError(ctx, job.Target, err)
	}
	if len(data) == 0 {
		return nil, apperr.OutputMissing(job.Target)
	}

	r.logger.Info("converted book remotely",
		slog.Int64("book_id", job.BookID),
		slog.String("from", job.Source),
		slog.String("to", job.Target),
		slog.Int("bytes", len(data)),
		slog.Duration("elapsed", time.Since(start)))
	return data, nil
}

func (r *Remote) transportError(ctx context.Context, target string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperr.ConverterTimeout(target, err)
	}
	if ctx.Err() != nil {
		return fmt.Errorf("conversion to %s: %w", target, ctx.Err())
	}
	return apperr.Wrapf(err, apperr.CodeConverterUnavailable, "converter service unreachable for %s", target)
}
