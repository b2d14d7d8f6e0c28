package ai

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"github.com/colthorp/healthsync-go/internal/core"
)

const systemPrompt = "You are the backend of a personal health tracking app. " +
	"Perform the requested action using the JSON input and reply with a single JSON object only."

// OpenAICaller calls an OpenAI-compatible chat completion endpoint in JSON mode.
type OpenAICaller struct {
	client *openai.Client
	model  string
	log    *logrus.Entry
}

// OpenAIConfig holds OpenAICaller settings.
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string // optional, for compatible gateways
	Logger  *logrus.Entry
}

// NewOpenAICaller creates a caller. It returns an error when no API key is set.
func NewOpenAICaller(cfg OpenAIConfig) (*OpenAICaller, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s environment variable not set", core.OpenAIKeyEnvVar)
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Logger == nil {
		cfg.Logger = core.DiscardLogger()
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	cfg.Logger.WithField("model", cfg.Model).Debug("initializing OpenAI caller")
	return &OpenAICaller{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
		log:    cfg.Logger,
	}, nil
}

// Call implements Caller.
func (o *OpenAICaller) Call(ctx context.Context, action string, payload map[string]interface{}) (Result, error) {
	user, err := o.userMessage(action, payload)
	if err != nil {
		return nil, err
	}

	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			user,
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	o.log.WithFields(logrus.Fields{"action": action, "model": o.model}).Debug("calling model")
	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		o.log.WithError(err).WithField("action", action).Warn("OpenAI API call failed")
		return nil, fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices", ErrMalformedResponse)
	}
	o.log.WithField("finish_reason", resp.Choices[0].FinishReason).Debug("received model response")
	return parseResult(resp.Choices[0].Message.Content)
}

// userMessage encodes the action and payload. A payload carrying ImageField
// becomes a multi-part message with the image attached.
func (o *OpenAICaller) userMessage(action string, payload map[string]interface{}) (openai.ChatCompletionMessage, error) {
	fields := make(map[string]interface{}, len(payload))
	var image string
	for k, v := range payload {
		if k == ImageField {
			image, _ = v.(string)
			continue
		}
		fields[k] = v
	}

	body, err := json.Marshal(map[string]interface{}{"action": action, "input": fields})
	if err != nil {
		return openai.ChatCompletionMessage{}, fmt.Errorf("encode %s payload: %w", action, err)
	}

	if image == "" {
		return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: string(body)}, nil
	}
	return openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser,
		MultiContent: []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: string(body)},
			{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    "data:image/jpeg;base64," + image,
					Detail: openai.ImageURLDetailAuto,
				},
			},
		},
	}, nil
}
