// Package chat implements the hooks a chat front end calls: session start,
// message received and session end. The front end supplies a Renderer; the
// handler never draws anything itself.
//
// Usage:
//
//	h, _ := chat.NewHandler(chat.Config{Sessions: mgr, Runner: runner, Queue: queue, Streaming: true})
//	id, _ := h.OnSessionStart(ctx, renderer)
//	_ = h.OnMessage(ctx, id, "Hello", renderer)
//	h.OnSessionEnd(id)
package chat
