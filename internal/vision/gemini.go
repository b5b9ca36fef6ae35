// Package vision asks a Gemini model to read the title and author printed on
// a cover image and compare them with the requested book.
package vision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/lepinkainen/coverfinder/internal/ratelimit"
	"github.com/lepinkainen/coverfinder/internal/verify"
)

const (
	defaultModel   = "gemini-2.0-flash"
	defaultTimeout = 10 * time.Second
	maxImageBytes  = 8 << 20
)

// ErrNoAPIKey is returned by NewGemini without an API key.
var ErrNoAPIKey = errors.New("gemini API key is required")

const promptTemplate = `You are checking whether an image is the front cover of a specific book.

Expected title: %s
Expected author: %s

Read the title and author printed on the cover. Japanese covers may show the
author in kana instead of kanji; treat readings of the same name as a match.
The image is not valid if it is a placeholder, a photo of something other than
a book cover, a back cover, or unreadable.

Respond with JSON only:
{"coverTitle": string, "coverAuthor": string, "titleMatch": bool, "authorMatch": bool, "confidence": 0-100, "isValid": bool, "reason": string}`

// contentGenerator is the part of genai.Models used here.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// HTTPDoer is an interface for making HTTP requests.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// Gemini implements verify.VisionValidator.
type Gemini struct {
	models     contentGenerator
	model      string
	httpClient HTTPDoer
	limiter    *ratelimit.Limiter
	timeout    time.Duration
}

// Compile-time check that Gemini implements verify.VisionValidator.
var _ verify.VisionValidator = (*Gemini)(nil)

// Option is a functional option for configuring Gemini.
type Option func(*Gemini)

// WithHTTPClient sets the client used to download images.
func WithHTTPClient(c HTTPDoer) Option {
	return func(g *Gemini) {
		if c != nil {
			g.httpClient = c
		}
	}
}

// WithModel overrides the model name.
func WithModel(model string) Option {
	return func(g *Gemini) {
		if model != "" {
			g.model = model
		}
	}
}

// WithTimeout sets the timeout for the image download and the model call each.
func WithTimeout(d time.Duration) Option {
	return func(g *Gemini) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// NewGemini creates a validator backed by the Gemini API.
func NewGemini(ctx context.Context, apiKey string, opts ...Option) (*Gemini, error) {
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return newGemini(client.Models, opts...), nil
}

func newGemini(models contentGenerator, opts ...Option) *Gemini {
	g := &Gemini{
		models:     models,
		model:      defaultModel,
		httpClient: &http.Client{Timeout: defaultTimeout},
		limiter:    ratelimit.Shared("gemini", 250*time.Millisecond),
		timeout:    defaultTimeout,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Validate downloads the image and asks the model to compare it with the
// expected title and author.
func (g *Gemini) Validate(ctx context.Context, imageURL, title, author string) (verify.VisionResult, error) {
	data, mimeType, err := g.download(ctx, imageURL)
	if err != nil {
		return verify.VisionResult{}, err
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return verify.VisionResult{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if author == "" {
		author = "(unknown)"
	}
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(data, mimeType),
			genai.NewPartFromText(fmt.Sprintf(promptTemplate, title, author)),
		}, genai.RoleUser),
	}

	resp, err := g.models.GenerateContent(callCtx, g.model, contents, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0),
	})
	if err != nil {
		return verify.VisionResult{}, fmt.Errorf("gemini generate failed: %w", err)
	}

	return parseResult(resp.Text())
}

func (g *Gemini) download(ctx context.Context, imageURL string) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("creating image request: %w", err)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("downloading image: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("image download returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, "", fmt.Errorf("reading image: %w", err)
	}
	if len(data) == 0 {
		return nil, "", errors.New("image is empty")
	}

	mimeType := http.DetectContentType(data)
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, "", fmt.Errorf("unexpected image content type %q", mimeType)
	}
	return data, mimeType, nil
}

// parseResult decodes the model's JSON answer, tolerating a Markdown fence.
func parseResult(text string) (verify.VisionResult, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)
	if text == "" {
		return verify.VisionResult{}, errors.New("gemini returned an empty answer")
	}

	var res verify.VisionResult
	if err := json.Unmarshal([]byte(text), &res); err != nil {
		return verify.VisionResult{}, fmt.Errorf("decoding gemini answer: %w", err)
	}
	res.Confidence = max(0, min(res.Confidence, 100))
	return res, nil
}
