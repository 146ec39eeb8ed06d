package ocr

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// lineScanPrompt asks the model to behave like a plain OCR engine: transcribe
// every line with geometry and confidence, no interpretation.
const lineScanPrompt = `You are an OCR engine. Transcribe every line of text visible in the image, top to bottom. Do NOT interpret, summarize, or correct the text.

Return ONLY valid JSON in this exact format:
{
  "lines": [
    {"text": "LINE TEXT EXACTLY AS PRINTED", "box": {"x": 0, "y": 0, "w": 0, "h": 0}, "confidence": 0.0}
  ]
}

Important:
- One entry per printed line, preserving reading order
- box is the line's bounding rectangle in image pixels
- confidence is your certainty the transcription is correct, between 0.0 and 1.0
- Keep original casing, punctuation and spacing inside each line
- Do not include any text before or after the JSON
- Do not use markdown code blocks`

// Gemini implements the Recognizer interface using Google Gemini vision
type Gemini struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGemini creates a new Gemini Recognizer instance
func NewGemini(apiKey string, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-pro"
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)

	return &Gemini{
		client: client,
		model:  model,
	}, nil
}

// Recognize extracts text lines from a label image
func (g *Gemini) Recognize(ctx context.Context, imageData []byte, contentType string) ([]Line, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	pngData, _, err := PrepareImage(imageData, contentType)
	if err != nil {
		return nil, err
	}

	// PrepareImage always yields PNG, so the format suffix is fixed
	parts := []genai.Part{
		genai.ImageData("png", pngData),
		genai.Text(lineScanPrompt),
	}

	resp, err := g.model.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, fmt.Errorf("generating content: %w", err)
	}

	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, &RecognitionError{Reason: "no response from gemini"}
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}

	lines, err := parseLineJSON(responseText.String())
	if err != nil {
		return nil, &RecognitionError{Reason: "could not read recognized text", Err: err}
	}

	return lines, nil
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}
