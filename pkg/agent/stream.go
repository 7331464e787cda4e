package agent

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/harun/parley/internal/observability"
	"github.com/harun/parley/internal/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Stream is the fragment sequence of one streaming turn. It is single-pass
// and not safe for concurrent use.
type Stream struct {
	provider Provider
	ctx      context.Context
	cancel   context.CancelFunc
	span     trace.Span
	logger   zerolog.Logger
	timeout  time.Duration
	input    History
	request  Request

	chunks    ChunkStream
	current   string
	output    strings.Builder
	fragments int
	state     TurnState
	err       *RunFailure
	started   time.Time
	closed    bool
}

// Next advances to the next fragment. It returns false once the reply is
// complete or the turn failed; check Err to tell them apart.
func (s *Stream) Next() bool {
	if s.state.Terminal() {
		return false
	}

	if s.chunks == nil {
		s.started = time.Now()
		s.state = TurnSending

		if err := validateHistory(s.input); err != nil {
			s.fail(err)
			return false
		}

		chunks, err := s.provider.Stream(s.ctx, s.request)
		if err != nil {
			s.fail(err)
			return false
		}
		s.chunks = chunks
		s.state = TurnStreaming
	}

	if s.chunks.Next() {
		s.current = s.chunks.Current()
		s.output.WriteString(s.current)
		s.fragments++
		observability.RecordStreamFragment(s.provider.Name())
		return true
	}
	s.current = ""

	if err := s.chunks.Err(); err != nil {
		s.fail(err)
		return false
	}
	// a provider may end the body quietly when the context is cancelled
	if err := s.ctx.Err(); err != nil {
		s.fail(err)
		return false
	}

	s.finish()
	return false
}

// Current returns the fragment produced by the last successful Next
func (s *Stream) Current() string {
	return s.current
}

// Err returns the *RunFailure that ended the stream, or nil
func (s *Stream) Err() error {
	if s.err == nil {
		return nil
	}
	return s.err
}

// FinalOutput returns the complete reply once the stream is Done
func (s *Stream) FinalOutput() string {
	if s.state != TurnDone {
		return ""
	}
	return s.output.String()
}

// History returns the canonical history after the turn: the input followed by
// the assistant reply when Done, the input alone otherwise.
func (s *Stream) History() History {
	out := s.input.Clone()
	if s.state == TurnDone {
		out = append(out, Message{Role: RoleAssistant, Content: s.output.String()})
	}
	return out
}

// State returns the turn state
func (s *Stream) State() TurnState {
	return s.state
}

// Close releases the stream. Closing before the sequence is exhausted
// abandons the turn, which then counts as failed.
func (s *Stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	if !s.state.Terminal() {
		s.cancel()
		s.fail(errors.New("stream closed before completion"))
	}

	var err error
	if s.chunks != nil {
		err = s.chunks.Close()
	}
	s.cancel()
	return err
}

func (s *Stream) fail(err error) {
	s.err = asRunFailure(s.ctx, s.timeout, err)
	s.state = TurnFailed

	duration := s.elapsed()
	tracing.RecordError(s.span, s.err)
	s.span.SetAttributes(attribute.Int("fragments", s.fragments))
	s.span.End()
	observability.RecordTurn(s.provider.Name(), modeStreaming, duration, false)

	s.logger.Error().
		Err(s.err.Err).
		Str("failure", s.err.Message).
		Int("fragments", s.fragments).
		Dur("duration", duration).
		Msg("Turn failed")
}

func (s *Stream) finish() {
	s.state = TurnDone

	duration := s.elapsed()
	s.span.SetAttributes(attribute.Int("fragments", s.fragments))
	s.span.End()
	observability.RecordTurn(s.provider.Name(), modeStreaming, duration, true)

	s.logger.Info().
		Int("fragments", s.fragments).
		Int("reply_chars", s.output.Len()).
		Dur("duration", duration).
		Msg("Turn completed")
}

func (s *Stream) elapsed() time.Duration {
	if s.started.IsZero() {
		return 0
	}
	return time.Since(s.started)
}
