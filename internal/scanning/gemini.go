package scanning

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"

	"github.com/zombor/taxcert/internal/render"
)

// Gemini transcribes pages with a Google Gemini vision model.
type Gemini struct {
	client  *genai.Client
	model   *genai.GenerativeModel
	limiter *rate.Limiter
}

// NewGemini creates a new Gemini engine. Requests are paced to perMinute.
func NewGemini(apiKey string, modelName string, perMinute int) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-pro"
	}
	if perMinute <= 0 {
		perMinute = 60
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SetTemperature(0)

	return &Gemini{
		client:  client,
		model:   model,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1),
	}, nil
}

// NewWorker returns a worker sharing the client.
func (g *Gemini) NewWorker(ctx context.Context) (Worker, error) {
	return &geminiWorker{engine: g}, nil
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}

type geminiWorker struct {
	engine *Gemini
}

func (w *geminiWorker) Recognize(ctx context.Context, page *render.Surface, charset string, progress func(float64)) (string, error) {
	data, err := page.PNG()
	if err != nil {
		return "", err
	}
	if err := w.engine.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("waiting for rate limiter: %w", err)
	}
	progress(0.1)

	// genai.ImageData expects just the format suffix, not the MIME type
	resp, err := w.engine.model.GenerateContent(ctx, genai.ImageData("png", data), genai.Text(transcriptionPrompt))
	if err != nil {
		return "", fmt.Errorf("generating content: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("no response from gemini")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}
	progress(1)
	return restrict(stripFences(text.String()), charset), nil
}

func (w *geminiWorker) Close() error {
	return nil
}
