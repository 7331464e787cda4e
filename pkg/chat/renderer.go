package chat

import "context"

// Renderer is the set of UI primitives the handler drives
type Renderer interface {
	// SendMessage delivers a new, complete message
	SendMessage(ctx context.Context, text string) error

	// StreamFragment appends a fragment to the message being streamed
	StreamFragment(ctx context.Context, delta string) error

	// UpdateMessage replaces the content of the message being streamed
	UpdateMessage(ctx context.Context, text string) error
}

// SessionBinder is implemented by renderers that need to know which session
// they render for. BindSession is called once, before the welcome message.
type SessionBinder interface {
	BindSession(ctx context.Context, sessionID string) error
}
