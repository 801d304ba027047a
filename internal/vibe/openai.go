package vibe

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/vibecast/pkg/musicgen"
)

// Compile-time assertion that OpenAIClassifier satisfies Classifier.
var _ Classifier = (*OpenAIClassifier)(nil)

const systemPrompt = `You describe the musical mood of an image for a live generative music stream.
Respond with ONLY a JSON array of 2 to 4 objects, each {"text": <short music prompt>, "weight": <0.1-1.0>}.
Prompts are genre, instrumentation or mood fragments like "warm analog synths" or "rainy day jazz".
No explanations, no markdown.`

// OpenAIClassifier implements Classifier on a vision-capable chat model.
type OpenAIClassifier struct {
	client oai.Client
	model  string
}

// clsConfig holds optional configuration for the classifier.
type clsConfig struct {
	baseURL string
	timeout time.Duration
}

// ClassifierOption is a functional option for OpenAIClassifier.
type ClassifierOption func(*clsConfig)

// WithBaseURL overrides the default API base URL, for OpenAI-compatible
// gateways and test servers.
func WithBaseURL(url string) ClassifierOption {
	return func(c *clsConfig) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) ClassifierOption {
	return func(c *clsConfig) { c.timeout = d }
}

// NewOpenAIClassifier constructs a classifier against the OpenAI API.
func NewOpenAIClassifier(apiKey, model string, opts ...ClassifierOption) (*OpenAIClassifier, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("vibe: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("vibe: model must not be empty")
	}

	cfg := &clsConfig{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &OpenAIClassifier{
		client: oai.NewClient(reqOpts...),
		model:  model,
	}, nil
}

// Classify implements Classifier.
func (c *OpenAIClassifier) Classify(ctx context.Context, frame []byte) ([]musicgen.WeightedPrompt, error) {
	if len(frame) == 0 {
		return nil, fmt.Errorf("vibe: empty frame")
	}

	mime := http.DetectContentType(frame)
	dataURL := fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(frame))

	parts := []oai.ChatCompletionContentPartUnionParam{
		oai.TextContentPart("Describe this image's musical mood."),
		oai.ImageContentPart(oai.ChatCompletionContentPartImageImageURLParam{URL: dataURL}),
	}

	resp, err := c.client.Chat.Completions.New(ctx, oai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(systemPrompt),
			oai.UserMessage(parts),
		},
		Temperature:         param.NewOpt(0.4),
		MaxCompletionTokens: param.NewOpt(int64(300)),
	})
	if err != nil {
		return nil, fmt.Errorf("vibe: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("vibe: empty choices in response")
	}

	return parsePrompts(resp.Choices[0].Message.Content)
}
