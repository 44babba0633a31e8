package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"opsagent/internal/retry"
)

const DefaultModel = "gemini-flash-latest"

// Message is one inbound chat message, optionally with an attached image.
type Message struct {
	Text      string
	Media     []byte
	MediaType string
}

// HasMedia reports whether the message carries an image to analyse.
func (m Message) HasMedia() bool {
	return len(m.Media) > 0
}

// Analyzer turns a message into an Intent.
type Analyzer interface {
	Analyze(ctx context.Context, msg Message) (Intent, error)
}

// generator is the slice of the genai Models service the analyzer needs.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Gemini analyses messages with a Gemini model.
type Gemini struct {
	models generator
	model  string
	retry  retry.Config
}

// NewGemini creates a Gemini analyzer for apiKey.
func NewGemini(ctx context.Context, apiKey, model string, rc retry.Config) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return newGemini(client.Models, model, rc), nil
}

func newGemini(models generator, model string, rc retry.Config) *Gemini {
	if model == "" {
		model = DefaultModel
	}
	return &Gemini{models: models, model: model, retry: rc}
}

// Analyze sends the message to the model and parses the JSON it returns.
func (g *Gemini) Analyze(ctx context.Context, msg Message) (Intent, error) {
	contents := g.buildContents(msg)
	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	}

	reply, err := retry.WithRetry(ctx, g.retry, func(ctx context.Context) (string, error) {
		resp, err := g.models.GenerateContent(ctx, g.model, contents, config)
		if err != nil {
			return "", err
		}
		text := resp.Text()
		if strings.TrimSpace(text) == "" {
			return "", fmt.Errorf("empty model reply")
		}
		return text, nil
	})
	if err != nil {
		return Intent{}, fmt.Errorf("GenAI generate failed: %w", err)
	}

	intent, err := ParseIntent(reply)
	if err != nil {
		log.Debug().Str("reply", reply).Msg("Unparsable model reply")
		return Intent{}, err
	}

	log.Debug().
		Str("action", string(intent.Action)).
		Str("item", intent.Item).
		Int("quantity", intent.Quantity).
		Str("amount", intent.Amount.String()).
		Bool("image", msg.HasMedia()).
		Msg("Parsed intent")
	return intent, nil
}

func (g *Gemini) buildContents(msg Message) []*genai.Content {
	if !msg.HasMedia() {
		return []*genai.Content{
			genai.NewContentFromText(TextPrompt(msg.Text), genai.RoleUser),
		}
	}
	mediaType := msg.MediaType
	if mediaType == "" {
		mediaType = "image/jpeg"
	}
	parts := []*genai.Part{
		genai.NewPartFromText(ImagePrompt(msg.Text)),
		genai.NewPartFromBytes(msg.Media, mediaType),
	}
	return []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
}
