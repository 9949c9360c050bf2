package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/tmaxmax/go-sse"
)

const (
	// ReadyEventType is sent to a client once its session is subscribed. Every notification
	// published after the client received it is delivered to that client.
	ReadyEventType = "ready"
	// CloseEventType is sent to every client right before the event stream shuts down.
	CloseEventType = "close"
)

// Events publishes push notifications as Server-Sent Events. The SSE event type is the channel name
// and the data is the JSON encoded payload.
type Events struct {
	sseSrv *sse.Server
}

// NewEvents creates an Events whose clients receive all channels.
func NewEvents() *Events {
	return &Events{sseSrv: &sse.Server{
		Provider: &sse.Joe{Replayer: greeter{}},
	}}
}

// Publish sends payload to every connected client on the given channel.
func (e *Events) Publish(channel string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", channel, err)
	}

	msg := sse.Message{Type: sse.Type(channel)}
	msg.AppendData(string(data))

	if err := e.sseSrv.Publish(&msg); err != nil {
		return fmt.Errorf("failed to publish %s: %w", channel, err)
	}
	return nil
}

// ServeHTTP subscribes the client to the event stream.
func (e *Events) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	e.sseSrv.ServeHTTP(w, r)
}

// Shutdown tells clients the stream is closing, then closes all sessions.
func (e *Events) Shutdown(ctx context.Context) error {
	msg := &sse.Message{Type: sse.Type(CloseEventType)}
	// Clients only dispatch events that carry data.
	msg.AppendData("bye")

	// Shutting down regardless.
	_ = e.sseSrv.Publish(msg)

	return e.sseSrv.Shutdown(ctx)
}

// greeter keeps no history. Joe replays to a new session in the same step that registers it, so
// greeting from Replay tells the client it can no longer miss a published notification.
type greeter struct{}

func (greeter) Put(msg *sse.Message, _ []string) (*sse.Message, error) {
	return msg, nil
}

func (greeter) Replay(sub sse.Subscription) error {
	msg := &sse.Message{Type: sse.Type(ReadyEventType)}
	msg.AppendData("ok")

	if err := sub.Client.Send(msg); err != nil {
		return err
	}
	return sub.Client.Flush()
}
