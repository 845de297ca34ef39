package vision

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const detectionPrompt = `Identify every distinct physical object visible in this image.

Return the response as a JSON array with this structure:
[
    {"label": "object_name", "confidence": 0.0}
]

Use short lowercase object names (e.g. "bottle", "cup", "syringe") and a
confidence between 0 and 1 for each object. Return [] if no objects are
recognizable.`

// OpenAIDetector runs object detection through a vision-capable chat model.
type OpenAIDetector struct {
	client    *openai.Client
	model     string
	maxTokens int
	logger    *zap.Logger
}

var _ Detector = (*OpenAIDetector)(nil)

func NewOpenAIDetector(apiKey, model string, maxTokens int, logger *zap.Logger) *OpenAIDetector {
	return &OpenAIDetector{
		client:    openai.NewClient(apiKey),
		model:     model,
		maxTokens: maxTokens,
		logger:    logger,
	}
}

func (d *OpenAIDetector) Detect(ctx context.Context, imagePath string) ([]Detection, error) {
	image, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}

	resp, err := d.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: d.model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role: openai.ChatMessageRoleUser,
					MultiContent: []openai.ChatMessagePart{
						{
							Type: openai.ChatMessagePartTypeText,
							Text: detectionPrompt,
						},
						{
							Type: openai.ChatMessagePartTypeImageURL,
							ImageURL: &openai.ChatMessageImageURL{
								URL:    "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(image),
								Detail: openai.ImageURLDetailLow,
							},
						},
					},
				},
			},
			MaxTokens: d.maxTokens,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("vision completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("vision completion returned no choices")
	}

	response := strings.TrimSpace(resp.Choices[0].Message.Content)
	response = strings.TrimPrefix(response, "```json")
	response = strings.TrimPrefix(response, "```")
	response = strings.TrimSuffix(response, "```")

	var detections []Detection
	if err := json.Unmarshal([]byte(strings.TrimSpace(response)), &detections); err != nil {
		d.logger.Error("Failed to parse vision response",
			zap.Error(err),
			zap.String("response", response))
		return nil, fmt.Errorf("parse vision response: %w", err)
	}

	return detections, nil
}
