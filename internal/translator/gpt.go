package translator

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const (
	translatePrompt = `Translate the user's message into the language with BCP-47 tag %q.%s
Reply with the translation only, without quotes or explanations.`
	detectPrompt = `Identify the language of the user's message.
Reply with its lowercase BCP-47 language tag only (for example "en", "ko", "ja", "zh-tw").`
)

// GPTTranslator translates through the OpenAI chat completions API.
type GPTTranslator struct {
	client    *openai.Client
	model     string
	maxTokens int
	logger    *zap.Logger
}

func NewGPTTranslator(apiKey, model string, logger *zap.Logger) *GPTTranslator {
	return NewGPTTranslatorWithConfig(openai.DefaultConfig(apiKey), model, logger)
}

// NewGPTTranslatorWithConfig allows pointing the client at a compatible endpoint.
func NewGPTTranslatorWithConfig(cfg openai.ClientConfig, model string, logger *zap.Logger) *GPTTranslator {
	return &GPTTranslator{
		client:    openai.NewClientWithConfig(cfg),
		model:     model,
		maxTokens: 1024,
		logger:    logger.Named("gpt-translator"),
	}
}

func (t *GPTTranslator) Translate(ctx context.Context, text, target, source string) (string, error) {
	hint := ""
	if source != "" {
		hint = fmt.Sprintf(" The source language is %q.", source)
	}
	out, err := t.complete(ctx, fmt.Sprintf(translatePrompt, target, hint), text)
	if err != nil {
		return "", fmt.Errorf("translate to %s: %w", target, err)
	}
	return out, nil
}

func (t *GPTTranslator) DetectLanguage(ctx context.Context, text string) (string, error) {
	out, err := t.complete(ctx, detectPrompt, text)
	if err != nil {
		return "", fmt.Errorf("detect language: %w", err)
	}
	return strings.ToLower(strings.Trim(out, "\"' .")), nil
}

func (t *GPTTranslator) complete(ctx context.Context, system, user string) (string, error) {
	resp, err := t.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: t.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		MaxTokens:   t.maxTokens,
		Temperature: 0,
	})
	if err != nil {
		t.logger.Error("Failed to get GPT response", zap.Error(err))
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResult
	}
	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	if out == "" {
		return "", ErrEmptyResult
	}
	return out, nil
}
