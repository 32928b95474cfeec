// Package runtime implements the Persona Runtime (C4): drives one
// persona's reply as a streamed sequence of text chunks, grounded on the
// teacher's OpenAI Responses-API streaming provider
// (pkg/connector/provider_openai.go, pkg/connector/streaming.go) adapted
// from a Matrix-room-scoped single-agent loop to a per-turn, per-persona
// call with one retrieval tool instead of the teacher's full tool
// registry.
package runtime

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/responses"
	"github.com/openai/openai-go/v3/shared/constant"
	"github.com/rs/zerolog"

	"github.com/beeper/persona-session-orchestrator/internal/domain"
)

// Mode selects whether the retrieval tool is advertised to the LLM.
type Mode string

const (
	ModeDirect    Mode = "direct"
	ModeRetrieval Mode = "retrieval"
)

// ChunkKind distinguishes the events in a runtime stream.
type ChunkKind string

const (
	ChunkText  ChunkKind = "text"
	ChunkFinal ChunkKind = "final"
	ChunkError ChunkKind = "error"
)

// StreamChunk is one element of the lazy sequence Run produces.
type StreamChunk struct {
	Kind  ChunkKind
	Text  string // incremental text for ChunkText, full assembled text for ChunkFinal
	Err   error  // set for ChunkError
}

// HistoryEntry is one rendered history line fed to the prompt.
type HistoryEntry struct {
	Sender  string
	Content string
}

// Searcher is the retrieval collaborator the runtime calls when the LLM
// invokes the retrieval tool. Implemented in production by the
// orchestrator's adapter over retrieval.Engine; kept as an interface here so
// runtime has no import-time dependency on internal/retrieval.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]SearchHit, error)
}

// SearchHit is one retrieval result surfaced to the prompt/tool output.
type SearchHit struct {
	Text   string
	Source string
	Score  float64
}

const defaultContextBudgetTokens = 8000

const groupChatRules = "You are one participant among possibly several AI personas in a shared group chat with one human user. " +
	"Stay in character. Address the user and other personas naturally. Do not speak for other personas. " +
	"Keep replies concise unless asked for detail."

type retrievalToolArgs struct {
	Query string `json:"query"`
	K     int    `json:"k"`
}

var retrievalToolSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	return jsonschema.For[retrievalToolArgs](nil)
})

// Runtime drives one persona's streamed reply over an OpenAI-compatible
// Responses API endpoint.
type Runtime struct {
	client openai.Client
	model  string
	log    zerolog.Logger
}

// New builds a Runtime bound to one API profile's resolved config.
func New(cfg *domain.ResolvedLLMConfig, log zerolog.Logger) *Runtime {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Runtime{client: openai.NewClient(opts...), model: cfg.Model, log: log}
}

// Run drives persona's reply to history+userMessage, emitting chunks on the
// returned channel. Cancelling ctx stops generation promptly and closes the
// channel; no further chunks are sent after a ChunkError or ChunkFinal.
func (r *Runtime) Run(ctx context.Context, persona *domain.Persona, history []HistoryEntry, userMessage string, mode Mode, search Searcher) <-chan StreamChunk {
	out := make(chan StreamChunk, 16)

	go func() {
		defer close(out)

		input := r.buildInput(persona, history, userMessage)
		params := responses.ResponseNewParams{
			Model:        r.model,
			Instructions: openai.String(r.buildSystemPrompt(persona)),
			Input:        responses.ResponseNewParamsInputUnion{OfInputItemList: input},
		}
		if mode == ModeRetrieval && search != nil {
			tool, err := retrievalTool()
			if err != nil {
				out <- StreamChunk{Kind: ChunkError, Err: fmt.Errorf("runtime: building retrieval tool schema: %w", err)}
				return
			}
			params.Tools = []responses.ToolUnionParam{tool}
		}

		var assembled strings.Builder
		const maxToolRounds = 4
		for round := 0; round < maxToolRounds; round++ {
			stream := r.client.Responses.NewStreaming(ctx, params)
			if stream == nil {
				out <- StreamChunk{Kind: ChunkError, Err: fmt.Errorf("runtime: failed to open response stream")}
				return
			}

			var pendingCallID, pendingCallName, pendingCallArgs string
			haveCall := false
			for stream.Next() {
				select {
				case <-ctx.Done():
					stream.Close()
					out <- StreamChunk{Kind: ChunkFinal, Text: assembled.String()}
					return
				default:
				}

				event := stream.Current()
				switch event.Type {
				case "response.output_text.delta":
					assembled.WriteString(event.Delta)
					out <- StreamChunk{Kind: ChunkText, Text: event.Delta}
				case "response.function_call_arguments.done":
					pendingCallID = event.ItemID
					pendingCallName = event.Name
					pendingCallArgs = event.Arguments
					haveCall = true
				case "response.completed":
					// handled after stream drains
				}
			}
			if err := stream.Err(); err != nil {
				out <- StreamChunk{Kind: ChunkError, Err: fmt.Errorf("runtime: stream error: %w", err)}
				return
			}
			stream.Close()

			if !haveCall {
				out <- StreamChunk{Kind: ChunkFinal, Text: assembled.String()}
				return
			}

			output := r.runRetrievalTool(ctx, search, pendingCallArgs)
			params.Input.OfInputItemList = append(params.Input.OfInputItemList,
				responses.ResponseInputItemParamOfFunctionCall(pendingCallArgs, pendingCallID, pendingCallName),
				functionCallOutputItem(pendingCallID, output),
			)
		}
		out <- StreamChunk{Kind: ChunkFinal, Text: assembled.String()}
	}()

	return out
}

func (r *Runtime) buildSystemPrompt(persona *domain.Persona) string {
	var b strings.Builder
	b.WriteString(persona.SystemPrompt)
	if persona.Tone != "" {
		b.WriteString("\n\nTone: ")
		b.WriteString(persona.Tone)
	}
	b.WriteString("\n\n")
	b.WriteString(groupChatRules)
	return b.String()
}

func (r *Runtime) buildInput(persona *domain.Persona, history []HistoryEntry, userMessage string) responses.ResponseInputParam {
	trimmed := TrimHistoryToBudget(history, r.model, defaultContextBudgetTokens)

	var input responses.ResponseInputParam
	for _, h := range trimmed {
		input = append(input, responses.ResponseInputItemUnionParam{
			OfMessage: &responses.EasyInputMessageParam{
				Role: responses.EasyInputMessageRoleUser,
				Content: responses.EasyInputMessageContentUnionParam{
					OfString: param.NewOpt(fmt.Sprintf("%s: %s", h.Sender, h.Content)),
				},
			},
		})
	}
	input = append(input, responses.ResponseInputItemUnionParam{
		OfMessage: &responses.EasyInputMessageParam{
			Role: responses.EasyInputMessageRoleUser,
			Content: responses.EasyInputMessageContentUnionParam{
				OfString: param.NewOpt(userMessage),
			},
		},
	})
	return input
}

func (r *Runtime) runRetrievalTool(ctx context.Context, search Searcher, rawArgs string) string {
	if search == nil {
		return "[]"
	}
	var args retrievalToolArgs
	if err := unmarshalToolArgs(rawArgs, &args); err != nil {
		return fmt.Sprintf(`{"error": %q}`, err.Error())
	}
	if args.K <= 0 {
		args.K = 3
	}
	hits, err := search.Search(ctx, args.Query, args.K)
	if err != nil {
		return fmt.Sprintf(`{"error": %q}`, err.Error())
	}
	return formatSearchHits(hits)
}

func retrievalTool() (responses.ToolUnionParam, error) {
	schema, err := retrievalToolSchema()
	if err != nil {
		return responses.ToolUnionParam{}, err
	}
	return responses.ToolUnionParam{
		OfFunction: &responses.FunctionToolParam{
			Name:        "search_persona_knowledge",
			Description: openai.String("Search this persona's private knowledge base for passages relevant to a natural-language query."),
			Parameters:  schemaToMap(schema),
			Strict:      param.NewOpt(false),
			Type:        constant.ValueOf[constant.Function](),
		},
	}, nil
}

func functionCallOutputItem(callID, output string) responses.ResponseInputItemUnionParam {
	item := responses.ResponseInputItemFunctionCallOutputParam{
		CallID: callID,
		Output: responses.ResponseInputItemFunctionCallOutputOutputUnionParam{
			OfString: param.NewOpt(output),
		},
	}
	return responses.ResponseInputItemUnionParam{OfFunctionCallOutput: &item}
}
