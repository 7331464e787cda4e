package cli

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/harun/parley/internal/config"
	"github.com/harun/parley/pkg/agent"
	"github.com/harun/parley/pkg/agent/agenttest"
	"github.com/stretchr/testify/require"
)

// newTestRuntime builds a runtime backed by a scripted provider
func newTestRuntime(t *testing.T, streaming bool) (*runtime, *agenttest.Provider) {
	t.Helper()

	provider := agenttest.NewProvider().
		Reply("Hello", "Hi", " there", "!").
		Fail("boom", errors.New("upstream returned 500"))

	original := newProvider
	newProvider = func(*config.Config) (agent.Provider, error) { return provider, nil }
	t.Cleanup(func() { newProvider = original })

	cfg := config.DefaultConfig()
	cfg.Logging.Console = false
	cfg.Streaming = streaming
	cfg.APIKey = "test-key"

	rt, err := newRuntime(cfg, io.Discard)
	require.NoError(t, err)
	t.Cleanup(rt.Close)

	return rt, provider
}

// execute runs the root command with args and returns its standard output
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := GetRootCmd()
	output := &bytes.Buffer{}
	cmd.SetOut(output)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	t.Cleanup(func() {
		cmd.SetOut(nil)
		cmd.SetErr(nil)
		cmd.SetArgs(nil)
		cfgFile = ""
		logLevel = ""
	})

	err := cmd.Execute()
	return output.String(), err
}

func hasCommand(name string) bool {
	for _, c := range GetRootCmd().Commands() {
		if c.Name() == name {
			return true
		}
	}
	return false
}
