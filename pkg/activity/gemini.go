package activity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// DefaultGeminiModel is a fast model suited to short documents.
const DefaultGeminiModel = "gemini-1.5-flash"

const coverLetterPrompt = `Write a professional cover letter for this job application:

Company: %s
Position: %s
Job Description: %s
My Background: %s

Requirements:
- Show enthusiasm for the role and company
- Highlight relevant experience from my background
- Explain why I'm a great fit
- Professional but engaging tone
- Keep it concise (300-400 words)
- Focus on specific achievements and skills
`

// CoverLetterPrompt renders the generation prompt for req.
func CoverLetterPrompt(req CoverLetterRequest) string {
	return fmt.Sprintf(coverLetterPrompt, req.Company, req.Role, req.JobDescription, req.Resume)
}

// GeminiGenerator generates cover letters with Google Gemini.
type GeminiGenerator struct {
	client *genai.Client
	model  string
}

// NewGeminiGenerator creates a Gemini backed generator.
func NewGeminiGenerator(ctx context.Context, apiKey, model string) (*GeminiGenerator, error) {
	if apiKey == "" {
		return nil, errors.New("gemini API key is required")
	}

	if model == "" {
		model = DefaultGeminiModel
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiGenerator{client: client, model: model}, nil
}

func (g *GeminiGenerator) GenerateCoverLetter(ctx context.Context, req CoverLetterRequest) (string, error) {
	model := g.client.GenerativeModel(g.model)
	model.SetTemperature(0.7)
	model.SetTopP(0.9)
	model.SetTopK(40)
	model.SetMaxOutputTokens(800)

	resp, err := model.GenerateContent(ctx, genai.Text(CoverLetterPrompt(req)))
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}

	return extractText(resp)
}

// Close releases resources held by the client.
func (g *GeminiGenerator) Close() error {
	if g.client != nil {
		return g.client.Close()
	}

	return nil
}

func extractText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", errors.New("no candidates in response")
	}

	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", errors.New("no content in response")
	}

	var parts []string

	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			parts = append(parts, string(text))
		}
	}

	if len(parts) == 0 {
		return "", errors.New("no text parts in response")
	}

	return strings.TrimSpace(strings.Join(parts, "")), nil
}

// UnavailableGenerator is used when no LLM is configured. Every attempt
// fails permanently so the workflow records the failure right away.
type UnavailableGenerator struct {
	Reason string
}

func (u UnavailableGenerator) GenerateCoverLetter(context.Context, CoverLetterRequest) (string, error) {
	reason := u.Reason
	if reason == "" {
		reason = "no cover letter generator configured"
	}

	return "", Permanent(errors.New(reason))
}
