// Package anthropic provides a streamer adapter for the Anthropic Claude
// Messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"
	"github.com/hupe1980/callmesh/core"
	"github.com/hupe1980/callmesh/model"
)

// Options configures the Anthropic streamer adapter (temperature, model id,
// max tokens, API key). Extend via functional options to preserve
// stability.
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
}

// Streamer wraps the Anthropic Messages API behind the generic
// model.Streamer interface. The response is fetched as one completion and
// replayed as ordered stream events (content, tool calls, finished);
// incremental SSE streaming can be layered in without changing the
// contract.
type Streamer struct {
	client *anthropic.Client
	opts   Options
}

// NewStreamer creates a new Anthropic streamer using the official client.
func NewStreamer(optFns ...func(o *Options)) *Streamer {
	opts := Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)

	return &Streamer{client: &client, opts: opts}
}

// NewStreamerFromClient creates a new Anthropic streamer from an existing
// client.
func NewStreamerFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Streamer {
	opts := Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
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

		params := anthropic.MessageNewParams{
			Model:       s.opts.Model,
			Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt))},
			MaxTokens:   s.opts.MaxTokens,
			Temperature: anthropic.Float(s.opts.Temperature),
		}
		if req.Instructions != "" {
			params.System = []anthropic.TextBlockParam{{Text: req.Instructions}}
		}
		if len(req.Tools) > 0 {
			params.Tools = buildTools(req.Tools)
		}

		resp, err := s.client.Messages.New(ctx, params)
		if err != nil {
			errCh <- fmt.Errorf("anthropic api error: %w", err)
			return
		}

		for _, block := range resp.Content {
			var ev core.StreamEvent
			switch block.Type {
			case "text":
				textBlock := block.AsText()
				if textBlock.Text == "" {
					continue
				}
				ev = core.NewContentEvent(textBlock.Text)
			case "tool_use":
				toolBlock := block.AsToolUse()
				args := ""
				if toolBlock.Input != nil {
					if argsBytes, err := json.Marshal(toolBlock.Input); err == nil {
						args = string(argsBytes)
					}
				}
				ev = core.NewToolCallEvent(toolBlock.ID, toolBlock.Name, args)
			default:
				continue
			}

			select {
			case out <- ev:
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			}
		}

		finishReason := "stop"
		if resp.StopReason != "" {
			finishReason = string(resp.StopReason)
		}
		select {
		case out <- core.NewFinishedEvent(finishReason):
		case <-ctx.Done():
			errCh <- ctx.Err()
		}
	}()

	return out, errCh
}

// buildTools converts callmesh tool definitions to Anthropic tool format.
func buildTools(tools []model.ToolDefinition) []anthropic.ToolUnionParam {
	anthropicTools := make([]anthropic.ToolUnionParam, len(tools))

	for i, t := range tools {
		inputSchema := anthropic.ToolInputSchemaParam{
			Type: constant.Object("object"),
		}
		if t.Parameters != nil {
			if properties, exists := t.Parameters["properties"]; exists {
				inputSchema.Properties = properties
			}
			if required, exists := t.Parameters["required"]; exists {
				switch req := required.(type) {
				case []string:
					inputSchema.Required = req
				case []any:
					var reqStrings []string
					for _, r := range req {
						if s, ok := r.(string); ok {
							reqStrings = append(reqStrings, s)
						}
					}
					inputSchema.Required = reqStrings
				}
			}
		}
		anthropicTools[i] = anthropic.ToolUnionParamOfTool(inputSchema, t.Name)
	}

	return anthropicTools
}

// Info returns metadata describing this Anthropic streamer implementation.
func (s *Streamer) Info() model.Info {
	return model.Info{
		Name:          string(s.opts.Model),
		Provider:      "anthropic",
		SupportsTools: true,
	}
}
