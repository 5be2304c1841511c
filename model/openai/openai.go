// Package openai provides a streamer adapter for the OpenAI Chat
// Completions API (including streaming + function/tool calling). It adapts
// callmesh's normalized Request into the SDK's message format and the
// streamed chunks back into core stream events.
package openai

import (
	"context"
	"fmt"

	"github.com/hupe1980/callmesh/core"
	"github.com/hupe1980/callmesh/model"
	"github.com/openai/openai-go"
)

// aggCall aggregates partial tool call streaming deltas (id, name,
// arguments) so a complete tool call event can be emitted once the finish
// reason arrives. Internal helper (unexported).
type aggCall struct{ id, name, args string }

// Options configure the OpenAI streamer adapter. Fields mirror a subset of
// Chat Completion parameters intentionally kept minimal; extend via
// functional options without breaking callers.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
}

// Streamer wraps the OpenAI Chat Completions API behind the generic
// model.Streamer interface.
type Streamer struct {
	client *openai.Client
	opts   Options
}

// NewStreamer creates a new OpenAI streamer using the official client.
func NewStreamer(optFns ...func(o *Options)) *Streamer {
	client := openai.NewClient()
	return NewStreamerFromClient(&client, optFns...)
}

// NewStreamerFromClient creates a new OpenAI streamer from an existing
// client.
func NewStreamerFromClient(client *openai.Client, optFns ...func(o *Options)) *Streamer {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Streamer{client: client, opts: opts}
}

// Stream implements model.Streamer.
func (s *Streamer) Stream(ctx context.Context, req model.Request) (<-chan core.StreamEvent, <-chan error) {
	out := make(chan core.StreamEvent, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)
		s.handleStreaming(ctx, s.buildParams(req), out, errCh)
	}()

	return out, errCh
}

// buildParams assembles the OpenAI request parameters including tool
// definitions.
func (s *Streamer) buildParams(req model.Request) openai.ChatCompletionNewParams {
	var messages []openai.ChatCompletionMessageParamUnion
	if req.Instructions != "" {
		messages = append(messages, openai.SystemMessage(req.Instructions))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Messages:            messages,
		Model:               s.opts.Model,
		Temperature:         openai.Float(s.opts.Temperature),
		MaxCompletionTokens: openai.Int(s.opts.MaxCompletionTokens),
	}

	if len(req.Tools) == 0 {
		return params
	}
	tools := make([]openai.ChatCompletionToolParam, len(req.Tools))
	for i, tdef := range req.Tools {
		tools[i] = openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        tdef.Name,
				Description: openai.String(tdef.Description),
				Parameters:  tdef.Parameters,
			},
		}
	}
	params.Tools = tools
	return params
}

// handleStreaming consumes the SDK stream and forwards content deltas as
// they arrive; tool call deltas are aggregated and emitted as complete
// tool call events at the finish chunk.
func (s *Streamer) handleStreaming(
	ctx context.Context,
	params openai.ChatCompletionNewParams,
	out chan<- core.StreamEvent,
	errCh chan<- error,
) {
	stream := s.client.Chat.Completions.NewStreaming(ctx, params)
	toolAgg := map[int64]*aggCall{}
	var order []int64

	for stream.Next() {
		ck := stream.Current()
		for _, ch := range ck.Choices {
			if ch.Delta.Content != "" {
				select {
				case out <- core.NewContentEvent(ch.Delta.Content):
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				}
			}

			for _, tc := range ch.Delta.ToolCalls {
				ac, ok := toolAgg[tc.Index]
				if !ok {
					ac = &aggCall{}
					toolAgg[tc.Index] = ac
					order = append(order, tc.Index)
				}
				if tc.ID != "" {
					ac.id = tc.ID
				}
				if tc.Function.Name != "" {
					ac.name = tc.Function.Name
				}
				if tc.Function.Arguments != "" {
					ac.args += tc.Function.Arguments
				}
			}

			if ch.FinishReason != "" {
				for _, idx := range order {
					ac := toolAgg[idx]
					select {
					case out <- core.NewToolCallEvent(ac.id, ac.name, ac.args):
					case <-ctx.Done():
						errCh <- ctx.Err()
						return
					}
				}
				select {
				case out <- core.NewFinishedEvent(ch.FinishReason):
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		errCh <- fmt.Errorf("openai streaming error: %w", err)
	}
}

// Info returns metadata describing this OpenAI streamer implementation.
func (s *Streamer) Info() model.Info {
	return model.Info{
		Name:          s.opts.Model,
		Provider:      "openai",
		SupportsTools: true,
	}
}
