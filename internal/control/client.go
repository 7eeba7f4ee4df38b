package control

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/CZERTAINLY/Mutiny/internal/model"
)

// Client is the minion side of the protocol. Transport failures and 5xx
// answers are retried with exponential backoff.
type Client struct {
	baseURL    string
	name       string
	http       *http.Client
	maxElapsed time.Duration
}

type ClientOption func(*Client)

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.http = hc
	}
}

// WithMaxElapsed bounds the retries of a single call.
func WithMaxElapsed(d time.Duration) ClientOption {
	return func(c *Client) {
		c.maxElapsed = d
	}
}

func NewClient(baseURL, name string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		name:       name,
		http:       &http.Client{Timeout: 30 * time.Second},
		maxElapsed: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Name() string {
	return c.name
}

// Hello registers the minion. The controller may not know the name yet
// when the minion starts faster than it is invited, so 404 is retried too.
func (c *Client) Hello(ctx context.Context) (model.SharedConfig, error) {
	var shared model.SharedConfig
	err := c.post(ctx, PathHello, HelloRequest{Name: c.name}, &shared, http.StatusNotFound)
	return shared, err
}

func (c *Client) Pull(ctx context.Context) (model.Command, error) {
	var cmd model.Command
	err := c.post(ctx, PathPull, PullRequest{Name: c.name}, &cmd)
	return cmd, err
}

func (c *Client) Report(ctx context.Context, cmd model.Command, status model.ExecutionStatus) error {
	req := ReportRequest{
		Name:     c.name,
		Action:   cmd.Action,
		Mutation: cmd.Mutation,
		Status:   status,
	}
	return c.post(ctx, PathReport, req, nil)
}

func (c *Client) post(ctx context.Context, path string, in, out any, retryCodes ...int) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", path, err)
	}

	op := func() error {
		err := c.do(ctx, path, body, out)
		var serr *StatusError
		if errors.As(err, &serr) && serr.Code < 500 && !slices.Contains(retryCodes, serr.Code) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		slog.DebugContext(ctx, "control call failed: retrying", "path", path, "error", err, "wait", wait)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = c.maxElapsed
	return backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify)
}

func (c *Client) do(ctx context.Context, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 300 {
		serr := &StatusError{Code: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(&serr.Problem)
		return serr
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return backoff.Permanent(fmt.Errorf("decoding %s response: %w", path, err))
	}
	return nil
}
