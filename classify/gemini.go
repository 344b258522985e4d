package classify

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/minutely/outreach/domain"
)

const promptTemplate = `You are a B2B lead classifier for a video AI company.

Analyze this profile and classify the person into exactly ONE category.

CATEGORIES:
- "Sports": Works in sports broadcasting, sports media, sports leagues, sports streaming, or sports content production.
- "News": Works in news broadcasting, news publishing, digital news media, or general-purpose media/publishing.
- "Entertainment": Works in entertainment media, OTT platforms, film/TV production, or general media that doesn't fit Sports or News.
- "Unknown": Cannot determine industry OR the person does not work in media/broadcasting.

PROFILE DATA:
Name: %s
About: %s
Experience: %s

RESPOND WITH EXACTLY ONE WORD: Sports, News, Entertainment, or Unknown.
Do not include any other text, explanation, or punctuation.`

// GeminiClassifier classifies contacts with the Gemini API.
type GeminiClassifier struct {
	client *genai.Client
	model  string
	log    *zap.Logger
}

// NewGeminiClassifier creates a classifier backed by the Gemini API.
func NewGeminiClassifier(ctx context.Context, apiKey, model string, log *zap.Logger) (*GeminiClassifier, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if model == "" {
		model = "gemini-2.5-flash-lite"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GeminiClassifier{client: client, model: model, log: log.Named("classifier")}, nil
}

// Ensure GeminiClassifier implements the Classifier interface.
var _ Classifier = (*GeminiClassifier)(nil)

// Classify returns an industry for the contact. API failures degrade to
// Unknown so the outreach sequence can proceed unclassified.
func (g *GeminiClassifier) Classify(ctx context.Context, c *domain.Contact) (domain.Industry, error) {
	about := c.AboutText
	if about == "" {
		about = "(not available)"
	}
	experience := c.ExperienceText
	if experience == "" {
		experience = "(not available)"
	}
	prompt := fmt.Sprintf(promptTemplate, c.FullName, about, experience)

	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}
	result, err := g.client.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		g.log.Warn("classification request failed", zap.String("contact", c.ProfileID), zap.Error(err))
		return domain.IndustryUnknown, nil
	}

	industry := Normalize(result.Text())
	g.log.Info("contact classified",
		zap.String("contact", c.ProfileID),
		zap.String("industry", string(industry)))
	return industry, nil
}
