package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/divy-sh/breve/internal/handlers"
	"github.com/tmaxmax/go-sse"
)

// Client talks to a breve server: it invokes remote calls over HTTP and subscribes to push
// notifications over Server-Sent Events.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	sseClient  *sse.Client

	subscribeTimeout time.Duration

	logger *slog.Logger
}

const defaultSubscribeTimeout = 10 * time.Second

var (
	errStreamClosed     = errors.New("event stream closed before the subscription was confirmed")
	errSubscribeTimeout = errors.New("timed out waiting for the subscription to be confirmed")
)

// Error is returned when the server answers an invocation with a non-2xx status.
type Error struct {
	Command string
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s (status %d)", e.Command, e.Message, e.Status)
}

// NewClient creates a Client for the server at baseURL.
func NewClient(baseURL string, logger *slog.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid server url %q", baseURL)
	}

	httpClient := &http.Client{}
	return &Client{
		baseURL:    u,
		httpClient: httpClient,
		sseClient:  &sse.Client{HTTPClient: httpClient},

		subscribeTimeout: defaultSubscribeTimeout,

		logger: logger.With(slog.String("module", "remote")),
	}, nil
}

// Invoke runs a remote command and decodes its JSON result into result, which may be nil.
func (c *Client) Invoke(ctx context.Context, command string, args handlers.InvokeArgs, result any) error {
	body, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("failed to marshal %s arguments: %w", command, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL.JoinPath("invoke", command).String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", command, err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send %s request: %w", command, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		var er handlers.ErrorResponse
		data, _ := io.ReadAll(res.Body)
		if err := json.Unmarshal(data, &er); err != nil || er.Error == "" {
			er.Error = strings.TrimSpace(string(data))
		}
		return &Error{Command: command, Status: res.StatusCode, Message: er.Error}
	}

	if result == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", command, err)
	}
	return nil
}

// Subscribe attaches handler to a push notification channel. It returns once the server has
// subscribed the listener, so every notification published after Subscribe returns reaches
// handler. Events are delivered from a background connection that retries on failure and stops
// when ctx is done or the server announces it is closing the stream.
//
// If the server doesn't confirm the subscription within the subscribe timeout, the connection is
// dropped and an error returned.
func (c *Client) Subscribe(ctx context.Context, channel string, handler func(payload json.RawMessage)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	connCtx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(connCtx, http.MethodGet, c.baseURL.JoinPath("events").String(), http.NoBody)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to create events request: %w", err)
	}

	ready := make(chan struct{})
	var readyOnce sync.Once

	conn := c.sseClient.NewConnection(req)
	conn.SubscribeEvent(channel, func(e sse.Event) {
		handler(json.RawMessage(e.Data))
	})
	// Sent again after every reconnection.
	conn.SubscribeEvent(handlers.ReadyEventType, func(sse.Event) {
		readyOnce.Do(func() { close(ready) })
	})
	conn.SubscribeEvent(handlers.CloseEventType, func(sse.Event) {
		cancel()
	})

	done := make(chan error, 1)
	go func() {
		defer cancel()
		err := conn.Connect()
		if err != nil && connCtx.Err() == nil {
			c.logger.Error("Event stream ended",
				slog.String("channel", channel),
				slog.String("err", err.Error()))
		}
		done <- err
	}()

	timer := time.NewTimer(c.subscribeTimeout)
	defer timer.Stop()

	select {
	case <-ready:
		return nil
	case err := <-done:
		if err == nil {
			err = errStreamClosed
		}
		return fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	case <-timer.C:
		cancel()
		return fmt.Errorf("failed to subscribe to %s: %w", channel, errSubscribeTimeout)
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
}
