// Package agent runs conversation turns against a single configured agent.
//
// A turn sends the agent's instructions plus the full session history to the
// model provider and yields the assistant reply, either as one string
// (RunTurn) or as an ordered, single-pass sequence of fragments
// (RunTurnStreaming).
//
// Invariants:
// - Any provider failure surfaces as *RunFailure; there is no retry.
// - A failed turn never produces a partial assistant message.
// - Fragments are forwarded in exactly the order the provider emits them.
//
// Usage:
//
//	runner, _ := agent.NewRunner(agent.Config{Provider: provider, Logger: logger})
//	stream := runner.RunTurnStreaming(ctx, spec, cfg, history)
//	defer stream.Close()
//	for stream.Next() {
//		fmt.Print(stream.Current())
//	}
//	if err := stream.Err(); err != nil {
//		// *RunFailure
//	}
//	reply := stream.FinalOutput()
package agent
