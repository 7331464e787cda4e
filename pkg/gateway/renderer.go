package gateway

import (
	"context"

	"github.com/harun/parley/internal/tracing"
)

// clientRenderer turns chat primitives into events on one connection
type clientRenderer struct {
	client *Client
}

func newClientRenderer(client *Client) *clientRenderer {
	return &clientRenderer{client: client}
}

func (r *clientRenderer) BindSession(ctx context.Context, sessionID string) error {
	r.client.setSessionID(sessionID)
	return r.send(ctx, EventSessionStarted, map[string]string{"session_id": sessionID})
}

func (r *clientRenderer) SendMessage(ctx context.Context, text string) error {
	return r.send(ctx, EventChatMessage, TextData{Text: text})
}

func (r *clientRenderer) StreamFragment(ctx context.Context, delta string) error {
	return r.send(ctx, EventToken, TextData{Text: delta})
}

func (r *clientRenderer) UpdateMessage(ctx context.Context, text string) error {
	return r.send(ctx, EventUpdate, TextData{Text: text})
}

func (r *clientRenderer) send(ctx context.Context, event string, data interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.client.Send(EventMessage{
		Event:   event,
		Data:    data,
		TraceID: tracing.GetTraceID(ctx),
	})
}
