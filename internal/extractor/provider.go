package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"dealhealth/internal/config"
	"dealhealth/internal/constants"
	pkgerrors "dealhealth/pkg/errors"
)

const systemPrompt = "You are an expert at analyzing promotion tips and extracting structured data."

// NewProvider builds the configured reasoning provider, or nil when
// extraction should run fallback-only.
func NewProvider(cfg config.ExtractorConfig) (ReasoningProvider, error) {
	switch cfg.Provider {
	case constants.ProviderOpenAI:
		return newOpenAIProvider(cfg), nil
	case constants.ProviderAnthropic:
		return newAnthropicProvider(cfg), nil
	case constants.ProviderNone, "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown reasoning provider: %s", cfg.Provider)
	}
}

type openAIProvider struct {
	cfg    config.ExtractorConfig
	client *http.Client
}

func newOpenAIProvider(cfg config.ExtractorConfig) *openAIProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = constants.DefaultHTTPTimeout
	}
	return &openAIProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

func (p *openAIProvider) Name() string { return constants.ProviderOpenAI }

func (p *openAIProvider) Complete(ctx context.Context, prompt string) (string, error) {
	baseURL := p.cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	url := baseURL + "/v1/chat/completions"

	payload := map[string]interface{}{
		"model": p.cfg.Model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": prompt},
		},
		"temperature": p.cfg.Temperature,
		"max_tokens":  p.cfg.MaxTokens,
	}

	var response struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}

	if err := postJSON(ctx, p.client, url, map[string]string{
		"Authorization": "Bearer " + p.cfg.APIKey,
	}, payload, &response); err != nil {
		return "", err
	}

	if len(response.Choices) == 0 {
		return "", pkgerrors.ErrExtraction.WithDetail("message", "provider returned no choices")
	}
	return response.Choices[0].Message.Content, nil
}

type anthropicProvider struct {
	cfg    config.ExtractorConfig
	client *http.Client
}

func newAnthropicProvider(cfg config.ExtractorConfig) *anthropicProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = constants.DefaultHTTPTimeout
	}
	return &anthropicProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

func (p *anthropicProvider) Name() string { return constants.ProviderAnthropic }

func (p *anthropicProvider) Complete(ctx context.Context, prompt string) (string, error) {
	baseURL := p.cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	url := baseURL + "/v1/messages"

	payload := map[string]interface{}{
		"model":       p.cfg.Model,
		"max_tokens":  p.cfg.MaxTokens,
		"temperature": p.cfg.Temperature,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	}

	var response struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}

	if err := postJSON(ctx, p.client, url, map[string]string{
		"x-api-key":         p.cfg.APIKey,
		"anthropic-version": "2023-06-01",
	}, payload, &response); err != nil {
		return "", err
	}

	if len(response.Content) == 0 {
		return "", pkgerrors.ErrExtraction.WithDetail("message", "provider returned no content")
	}
	return response.Content[0].Text, nil
}

func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return pkgerrors.ErrExtraction.WithCause(err).AsRetryable()
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return pkgerrors.ErrExtraction.
			WithDetail("message", fmt.Sprintf("provider returned status %d", resp.StatusCode)).
			AsRetryable()
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode provider response: %w", err)
	}

	return nil
}
