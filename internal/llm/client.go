package llm

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/nkotha/voicebridge/internal/protocol"
)

const defaultBaseURL = "https://api.sarvam.ai/v1"

// Apology is spoken when generation fails entirely; the turn continues
// rather than aborting.
const Apology = "Sorry, could you say that again?"

// GenericGreeting is the fallback when the greeting cannot be generated.
const GenericGreeting = "Hello! How can I help you today?"

const systemPrompt = `You are a concise voice assistant on a live call. Rules:
- Answer clearly and briefly; this will be spoken aloud
- Answer ONLY from the provided context when one is given; otherwise say you don't have that information
- Give short answers for simple questions, more detail only when asked
- Never use markdown or lists; speak in plain sentences`

const greetingPrompt = `Based on the business info below, generate a short spoken greeting
for a caller. Mention the business name. Keep to 2 sentences max.

Business Info:
%s

Generate ONLY the greeting, nothing else.`

// Client is the generation adapter. It speaks an OpenAI-compatible
// chat-completions API, streaming by default with a single non-streaming
// fallback on client-side errors.
type Client struct {
	oc        openai.Client
	model     string
	maxTokens int64
}

// NewClient constructs the adapter on top of the shared pooled transport.
func NewClient(httpc *http.Client, apiKey, baseURL, model string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		oc: openai.NewClient(
			option.WithAPIKey(apiKey),
			option.WithBaseURL(baseURL),
			option.WithHeader("api-subscription-key", apiKey),
			option.WithHTTPClient(httpc),
			option.WithMaxRetries(0),
		),
		model:     model,
		maxTokens: 128,
	}
}

// buildMessages assembles one system message (context merged in), the bounded
// history window, and the current user turn. The backend requires exactly one
// system message.
func (c *Client) buildMessages(transcript, ragContext string, history []protocol.ConversationTurn) []openai.ChatCompletionMessageParamUnion {
	system := systemPrompt
	if ragContext != "" {
		system += "\n\nContext:\n" + ragContext
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+2)
	messages = append(messages, openai.SystemMessage(system))
	for _, turn := range history {
		switch turn.Role {
		case protocol.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(turn.Content))
		default:
			messages = append(messages, openai.UserMessage(turn.Content))
		}
	}
	messages = append(messages, openai.UserMessage(transcript))
	return messages
}

func (c *Client) params(messages []openai.ChatCompletionMessageParamUnion) openai.ChatCompletionNewParams {
	return openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    messages,
		MaxTokens:   openai.Int(c.maxTokens),
		Temperature: openai.Float(0.7),
	}
}

// Stream yields reply fragments as they arrive. On a client-side (4xx)
// streaming failure it falls back once to a non-streaming call and delivers
// the whole reply as a single fragment. Any terminal failure is reported on
// the error channel after the token channel closes.
func (c *Client) Stream(ctx context.Context, transcript, ragContext string, history []protocol.ConversationTurn) (<-chan string, <-chan error) {
	tokens := make(chan string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(errCh)
		defer close(tokens)

		messages := c.buildMessages(transcript, ragContext, history)
		stream := c.oc.Chat.Completions.NewStreaming(ctx, c.params(messages))
		defer stream.Close()

		sent := 0
		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			if delta := chunk.Choices[0].Delta.Content; delta != "" {
				select {
				case tokens <- delta:
					sent++
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				}
			}
		}
		err := stream.Err()
		if err == nil {
			return
		}
		if ctx.Err() != nil {
			errCh <- ctx.Err()
			return
		}
		if sent == 0 && isClientError(err) {
			log.Printf("llm: streaming failed (%v), trying non-streaming fallback", err)
			text, ferr := c.complete(ctx, messages)
			if ferr == nil && text != "" {
				select {
				case tokens <- text:
				case <-ctx.Done():
					errCh <- ctx.Err()
				}
				return
			}
			errCh <- fmt.Errorf("llm: stream and fallback failed: %w", err)
			return
		}
		errCh <- err
	}()

	return tokens, errCh
}

// Complete performs a single non-streaming generation.
func (c *Client) Complete(ctx context.Context, transcript, ragContext string, history []protocol.ConversationTurn) (string, error) {
	return c.complete(ctx, c.buildMessages(transcript, ragContext, history))
}

func (c *Client) complete(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	resp, err := c.oc.Chat.Completions.New(ctx, c.params(messages))
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("llm: empty choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Greeting generates a short opening line from the business context. With no
// context it returns the generic phrase immediately.
func (c *Client) Greeting(ctx context.Context, businessContext string) (string, error) {
	if strings.TrimSpace(businessContext) == "" {
		return GenericGreeting, nil
	}
	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(fmt.Sprintf(greetingPrompt, businessContext)),
		openai.UserMessage("Generate the greeting now."),
	}
	text, err := c.complete(ctx, messages)
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", fmt.Errorf("llm: empty greeting")
	}
	return text, nil
}

func isClientError(err error) bool {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		return apierr.StatusCode >= 400 && apierr.StatusCode < 500
	}
	return false
}
