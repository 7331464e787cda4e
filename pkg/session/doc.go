// Package session keeps conversation state for the lifetime of the process.
//
// Invariants:
// - History only grows; messages are never edited or removed.
// - Sessions never share history.
// - Ending a session cancels every turn still running for it.
//
// Usage:
//
//	mgr := session.NewManager(session.ManagerConfig{Agent: spec, RunConfig: cfg})
//	state, _ := mgr.Start(ctx)
//	state.AppendUserMessage("hello")
//	history := state.Snapshot()
//	_ = history
package session
