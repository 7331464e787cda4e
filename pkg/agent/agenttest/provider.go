// Package agenttest provides a deterministic agent.Provider for tests.
package agenttest

import (
	"context"
	"strings"
	"sync"

	"github.com/harun/parley/pkg/agent"
)

type script struct {
	fragments []string
	err       error
	// midStream delivers fragments before failing with err
	midStream bool
	hang      bool
}

// Provider answers by the last user message of each request. Unscripted
// prompts are echoed back as "echo: <prompt>", split on spaces.
type Provider struct {
	mu       sync.Mutex
	scripts  map[string]script
	requests []agent.Request
}

// NewProvider creates an empty scripted provider
func NewProvider() *Provider {
	return &Provider{scripts: make(map[string]script)}
}

// Reply scripts the fragments streamed for prompt. The complete reply is their concatenation.
func (p *Provider) Reply(prompt string, fragments ...string) *Provider {
	return p.set(prompt, script{fragments: fragments})
}

// Fail makes every call for prompt fail with err before any output
func (p *Provider) Fail(prompt string, err error) *Provider {
	return p.set(prompt, script{err: err})
}

// FailMidStream streams fragments for prompt and then fails with err.
// Non-streaming calls fail outright.
func (p *Provider) FailMidStream(prompt string, err error, fragments ...string) *Provider {
	return p.set(prompt, script{fragments: fragments, err: err, midStream: true})
}

// Hang makes calls for prompt block until their context ends
func (p *Provider) Hang(prompt string) *Provider {
	return p.set(prompt, script{hang: true})
}

// Requests returns every request received so far
func (p *Provider) Requests() []agent.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]agent.Request, len(p.requests))
	copy(out, p.requests)
	return out
}

func (p *Provider) Name() string {
	return "scripted"
}

func (p *Provider) Complete(ctx context.Context, request agent.Request) (*agent.Response, error) {
	s := p.record(request)
	if s.hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.err != nil {
		return nil, s.err
	}
	return &agent.Response{Content: strings.Join(s.fragments, "")}, nil
}

func (p *Provider) Stream(ctx context.Context, request agent.Request) (agent.ChunkStream, error) {
	s := p.record(request)
	if s.err != nil && !s.midStream {
		return nil, s.err
	}
	return &chunkStream{ctx: ctx, script: s, index: -1}, nil
}

func (p *Provider) set(prompt string, s script) *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scripts[prompt] = s
	return p
}

func (p *Provider) record(request agent.Request) script {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, request)

	prompt := ""
	if n := len(request.Messages); n > 0 {
		prompt = request.Messages[n-1].Content
	}
	if s, ok := p.scripts[prompt]; ok {
		return s
	}
	return script{fragments: strings.SplitAfter("echo: "+prompt, " ")}
}

type chunkStream struct {
	ctx    context.Context
	script script
	index  int
	err    error
}

func (c *chunkStream) Next() bool {
	if c.err != nil {
		return false
	}
	if c.script.hang {
		<-c.ctx.Done()
		c.err = c.ctx.Err()
		return false
	}
	if err := c.ctx.Err(); err != nil {
		c.err = err
		return false
	}
	if c.index+1 < len(c.script.fragments) {
		c.index++
		return true
	}
	if c.script.midStream {
		c.err = c.script.err
	}
	return false
}

func (c *chunkStream) Current() string {
	if c.index < 0 || c.index >= len(c.script.fragments) {
		return ""
	}
	return c.script.fragments[c.index]
}

func (c *chunkStream) Err() error {
	return c.err
}

func (c *chunkStream) Close() error {
	return nil
}
