/**
 * Gemini Client for the slip OCR worker
 *
 * Optional helper consulted only when the payer or payee zone came back
 * empty. The model reads the raw OCR text and suggests names; every
 * suggestion is snapped to a phrase that OCR actually produced, so the
 * helper can pick text but never invent it.
 */

package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/arbovm/levenshtein"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/adverant/nexus/slipocr-worker/internal/logging"
	"github.com/adverant/nexus/slipocr-worker/internal/slip"
)

const (
	geminiTimeout = 30 * time.Second
	// Longest run of OCR words considered as one name
	maxPhraseWords = 5
)

const partiesPrompt = `You are reading OCR text from a Thai mobile-banking slip.
Identify the sender (payer) and the recipient (payee) names.

OCR text:
%s

Already extracted (null means missing):
payer: %s
payee: %s

Return ONLY valid JSON in this exact format:
{"payer": "name or null", "payee": "name or null"}

Important:
- Copy names exactly as they appear in the OCR text
- Use null when a name is not present
- Do not include any text before or after the JSON
- Do not use markdown code blocks`

// PartySuggestion is the JSON the model is asked to return
type PartySuggestion struct {
	Payer *string `json:"payer"`
	Payee *string `json:"payee"`
}

// GeminiClient implements processor.Disambiguator using Google Gemini
type GeminiClient struct {
	client   *genai.Client
	model    *genai.GenerativeModel
	generate func(ctx context.Context, prompt string) (string, error)
	logger   *logging.Logger
}

// NewGeminiClient creates a new Gemini helper
func NewGeminiClient(apiKey string, modelName string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-1.5-flash"
	}

	client, err := genai.NewClient(context.Background(), option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SetTemperature(0)

	g := &GeminiClient{
		client: client,
		model:  model,
		logger: logging.NewLogger("GeminiClient"),
	}
	g.generate = g.generateContent
	return g, nil
}

// SuggestParties asks the model for missing payer/payee names
func (g *GeminiClient) SuggestParties(ctx context.Context, rawText string, fields slip.ParsedFields) (*string, *string, error) {
	ctx, cancel := context.WithTimeout(ctx, geminiTimeout)
	defer cancel()

	text, err := g.generate(ctx, buildPartiesPrompt(rawText, fields))
	if err != nil {
		return nil, nil, err
	}

	suggestion, err := parseSuggestion(text)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing gemini response: %w", err)
	}

	candidates := candidatePhrases(rawText)
	payer := snapToCandidates(suggestion.Payer, candidates)
	payee := snapToCandidates(suggestion.Payee, candidates)

	g.logger.Debug("Gemini suggestion",
		"payer_suggested", suggestion.Payer != nil,
		"payee_suggested", suggestion.Payee != nil,
		"payer_snapped", payer != nil,
		"payee_snapped", payee != nil,
	)

	return payer, payee, nil
}

func (g *GeminiClient) generateContent(ctx context.Context, prompt string) (string, error) {
	resp, err := g.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("generating content: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("no response from gemini")
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}
	return responseText.String(), nil
}

// Close closes the Gemini client
func (g *GeminiClient) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}

func buildPartiesPrompt(rawText string, fields slip.ParsedFields) string {
	show := func(f slip.Field) string {
		if v, ok := fields.Get(f); ok {
			return fmt.Sprintf("%q", v)
		}
		return "null"
	}
	return fmt.Sprintf(partiesPrompt, rawText, show(slip.FieldPayer), show(slip.FieldPayee))
}

func parseSuggestion(text string) (*PartySuggestion, error) {
	text = strings.TrimSpace(text)
	// Remove markdown code blocks if present
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var s PartySuggestion
	if err := json.Unmarshal([]byte(text), &s); err != nil {
		return nil, err
	}
	for _, p := range []**string{&s.Payer, &s.Payee} {
		if *p != nil && (strings.TrimSpace(**p) == "" || strings.EqualFold(strings.TrimSpace(**p), "null")) {
			*p = nil
		}
	}
	return &s, nil
}

// candidatePhrases lists every run of 1..maxPhraseWords consecutive OCR words
func candidatePhrases(rawText string) []string {
	words := strings.Fields(rawText)
	var out []string
	for i := range words {
		for n := 1; n <= maxPhraseWords && i+n <= len(words); n++ {
			out = append(out, strings.Join(words[i:i+n], " "))
		}
	}
	return out
}

// snapToCandidates returns the closest OCR phrase, or nil when none is close.
// A match may differ in at most a third of its characters.
func snapToCandidates(suggestion *string, candidates []string) *string {
	if suggestion == nil {
		return nil
	}
	target := strings.Join(strings.Fields(*suggestion), " ")

	best, bestDist := "", -1
	for _, c := range candidates {
		d := levenshtein.Distance(target, c)
		if bestDist < 0 || d < bestDist {
			best, bestDist = c, d
		}
	}
	if bestDist < 0 || bestDist > utf8.RuneCountInString(target)/3 {
		return nil
	}
	return &best
}
