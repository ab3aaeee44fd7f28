// Package gemini extracts receipt fields and disambiguates transactions with Gemini.
package gemini

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/dvloznov/receipt-flow/internal/domain"
	"github.com/dvloznov/receipt-flow/internal/logger"
	"github.com/dvloznov/receipt-flow/internal/retry"
)

// DefaultModelName is the default Gemini model used for extraction.
const DefaultModelName = "gemini-2.5-flash"

// generator is the subset of *genai.Models the client calls.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Client calls Gemini for extraction and selection.
type Client struct {
	models generator
	model  string
	retry  retry.Config
}

// NewClient creates a Gemini API client authenticated with apiKey.
func NewClient(ctx context.Context, apiKey, model string) (*Client, error) {
	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("NewClient: create genai client: %w", err)
	}
	return newClient(gc.Models, model, retry.DefaultConfig()), nil
}

func newClient(models generator, model string, cfg retry.Config) *Client {
	if model == "" {
		model = DefaultModelName
	}
	return &Client{models: models, model: model, retry: cfg}
}

func generationConfig() *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		Temperature:     genai.Ptr[float32](0.1),
		TopK:            genai.Ptr[float32](1),
		TopP:            genai.Ptr[float32](1),
		MaxOutputTokens: 2048,
	}
}

// Extract reads the receipt fields from an image.
func (c *Client) Extract(ctx context.Context, image []byte, fileName string) (domain.ExtractedReceipt, error) {
	log := logger.Component(logger.FromContext(ctx), "gemini")

	return retry.Do(ctx, c.retry, "analyzeReceipt", func(ctx context.Context) (domain.ExtractedReceipt, error) {
		contents := []*genai.Content{
			{
				Role: genai.RoleUser,
				Parts: []*genai.Part{
					{Text: receiptPrompt},
					{
						InlineData: &genai.Blob{
							MIMEType: mimeTypeFor(fileName),
							Data:     image,
						},
					},
				},
			},
		}

		resp, err := c.models.GenerateContent(ctx, c.model, contents, generationConfig())
		if err != nil {
			return domain.ExtractedReceipt{}, fmt.Errorf("Extract: generate content: %w", err)
		}

		text := resp.Text()
		parsed, err := parseReceiptJSON(text)
		if err != nil {
			log.Error().Str("file_name", fileName).Str("raw_response", text).Msg("Failed to parse JSON response")
			return domain.ExtractedReceipt{}, err
		}

		receipt := validateAndNormalize(parsed, fileName)
		log.Info().Str("file_name", fileName).Interface("receipt", receipt).Msg("Receipt analyzed")
		return receipt, nil
	})
}

// SelectBest asks the model which candidate the receipt belongs to and returns
// its ID. A reply without a leading integer yields 0.
func (c *Client) SelectBest(ctx context.Context, receipt domain.ExtractedReceipt, candidates []domain.CandidateTransaction) (int64, error) {
	prompt, err := buildSelectionPrompt(receipt, candidates)
	if err != nil {
		return 0, err
	}
	log := logger.Component(logger.FromContext(ctx), "gemini")

	return retry.Do(ctx, c.retry, "selectBestMatch", func(ctx context.Context) (int64, error) {
		resp, err := c.models.GenerateContent(ctx, c.model, genai.Text(prompt), generationConfig())
		if err != nil {
			return 0, fmt.Errorf("SelectBest: generate content: %w", err)
		}

		text := resp.Text()
		id := parseSelectedID(text)
		log.Info().Int64("selected_id", id).Int("candidates", len(candidates)).Msg("Best match selected")
		return id, nil
	})
}
