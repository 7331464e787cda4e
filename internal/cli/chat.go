package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/spf13/cobra"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the agent in the terminal",
	Long: `Start one chat session on stdin and stdout.
Type a message and press enter; every line is sent as typed. /quit or end
of input leaves the session.`,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	rt, err := newRuntime(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	return chatSession(ctx, rt, cmd.InOrStdin(), cmd.OutOrStdout())
}

// chatSession runs one session over line-oriented input until the input ends,
// the user quits or ctx is cancelled.
func chatSession(ctx context.Context, rt *runtime, in io.Reader, out io.Writer) error {
	renderer := newTerminalRenderer(out)

	sessionID, err := rt.handler.OnSessionStart(ctx, renderer)
	if err != nil {
		return err
	}
	defer rt.handler.OnSessionEnd(sessionID)

	lines := make(chan string)
	done := make(chan struct{})
	defer close(done)

	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
	}()

	for {
		renderer.prompt()

		var line string
		var ok bool
		select {
		case <-ctx.Done():
			return nil
		case line, ok = <-lines:
		}
		if !ok {
			return nil
		}

		switch strings.TrimSpace(line) {
		case "/quit", "/exit":
			return nil
		}

		// the line goes to the agent as typed, blank lines included
		if err := rt.handler.OnMessage(ctx, sessionID, line, renderer); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
	}
}

// terminalRenderer prints messages line by line. Streamed fragments are
// written as they arrive and the final update only ends the line, unless it
// replaces the streamed text.
type terminalRenderer struct {
	mu       sync.Mutex
	out      io.Writer
	streamed strings.Builder
}

func newTerminalRenderer(out io.Writer) *terminalRenderer {
	return &terminalRenderer{out: out}
}

func (r *terminalRenderer) prompt() {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprint(r.out, "> ")
}

func (r *terminalRenderer) SendMessage(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.streamed.Reset()
	_, err := fmt.Fprintln(r.out, text)
	return err
}

func (r *terminalRenderer) StreamFragment(_ context.Context, delta string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.streamed.WriteString(delta)
	_, err := io.WriteString(r.out, delta)
	return err
}

func (r *terminalRenderer) UpdateMessage(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	streamed := r.streamed.String()
	r.streamed.Reset()

	switch {
	case streamed == text:
		_, err := fmt.Fprintln(r.out)
		return err
	case streamed != "":
		_, err := fmt.Fprintf(r.out, "\n%s\n", text)
		return err
	default:
		_, err := fmt.Fprintln(r.out, text)
		return err
	}
}
