package enhance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/rcliao/agent-desk/internal/config"
)

// Supported providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
)

var defaultModels = map[string]string{
	ProviderOpenAI:    "gpt-4o-mini",
	ProviderAnthropic: "claude-3-5-haiku-latest",
	ProviderOllama:    "llama3.2",
}

// LLM implements Enhancer and Summarizer on a langchaingo model.
type LLM struct {
	llm       llms.Model
	modelName string
}

// NewLLM creates the model selected by cfg. It returns ErrDisabled when no
// provider is configured.
func NewLLM(cfg *config.Config) (*LLM, error) {
	modelName := cfg.LLMModel
	if modelName == "" {
		modelName = defaultModels[cfg.LLMProvider]
	}

	var model llms.Model
	var err error

	switch cfg.LLMProvider {
	case "":
		return nil, ErrDisabled

	case ProviderOllama:
		model, err = ollama.New(
			ollama.WithModel(modelName),
			ollama.WithServerURL(cfg.OllamaHost),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}

	case ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OpenAI API key required")
		}
		model, err = openai.New(
			openai.WithToken(cfg.OpenAIAPIKey),
			openai.WithModel(modelName),
		)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}

	case ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("Anthropic API key required")
		}
		model, err = anthropic.New(
			anthropic.WithToken(cfg.AnthropicAPIKey),
			anthropic.WithModel(modelName),
		)
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.LLMProvider)
	}

	return NewLLMFromModel(model, modelName), nil
}

// NewLLMFromModel wraps an existing langchaingo model.
func NewLLMFromModel(model llms.Model, name string) *LLM {
	return &LLM{llm: model, modelName: name}
}

// Model returns the model name.
func (m *LLM) Model() string {
	return m.modelName
}

func (m *LLM) generateWithSystem(ctx context.Context, systemPrompt, userPrompt string, opts ...llms.CallOption) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, userPrompt),
	}

	response, err := m.llm.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return "", fmt.Errorf("generate with system: %w", err)
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("no response choices")
	}
	return response.Choices[0].Content, nil
}

const enhancePrompt = `You refine requests for a desktop automation agent that controls a web browser.
Use the user's profile and relevant past activity to make the request specific and actionable.
Keep the user's intent; add details such as preferred sites, accounts or locations only when the context supports them.
Also report any new durable personal facts the request reveals (preferences, locations, accounts).

Respond with a single JSON object and nothing else:
{"enhancedQuery": "<refined request>", "personalInfo": {"<fact key>": "<fact value>"}}
Use an empty object for personalInfo when there are no new facts.`

// Enhance asks the model for a refined query and newly observed facts.
func (m *LLM) Enhance(ctx context.Context, req Request) (*Response, error) {
	var b strings.Builder
	b.WriteString("User profile:\n")
	b.WriteString(orNone(req.ProfileContext))
	b.WriteString("\n\nRelevant past activity:\n")
	b.WriteString(orNone(req.MemoryContext))
	b.WriteString("\n\nRequest: ")
	b.WriteString(req.RawQuery)

	text, err := m.generateWithSystem(ctx, enhancePrompt, b.String(), llms.WithTemperature(0.2))
	if err != nil {
		return nil, fmt.Errorf("enhance query: %w", err)
	}
	return parseResponse(text)
}

const summarizePrompt = `Summarize the result of a completed automation task in one short sentence.
State the concrete outcome (values found, actions completed). No preamble.`

// Summarize condenses worker output into a single line.
func (m *LLM) Summarize(ctx context.Context, query, output string) (string, error) {
	user := fmt.Sprintf("Task: %s\n\nOutput:\n%s", query, truncate(output, 4000))
	text, err := m.generateWithSystem(ctx, summarizePrompt, user, llms.WithTemperature(0))
	if err != nil {
		return "", fmt.Errorf("summarize output: %w", err)
	}
	line := firstLine(text)
	if line == "" {
		return "", fmt.Errorf("summarize output: empty response")
	}
	return line, nil
}

// parseResponse extracts the JSON object from a model reply, tolerating code
// fences and surrounding prose.
func parseResponse(text string) (*Response, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("parse enhancement: no JSON object in response")
	}

	var raw struct {
		EnhancedQuery string         `json:"enhancedQuery"`
		PersonalInfo  map[string]any `json:"personalInfo"`
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("parse enhancement: %w", err)
	}

	resp := &Response{
		EnhancedQuery: strings.TrimSpace(raw.EnhancedQuery),
		PersonalInfo:  map[string]string{},
	}
	for k, v := range raw.PersonalInfo {
		k = strings.TrimSpace(k)
		if k == "" || v == nil {
			continue
		}
		switch val := v.(type) {
		case string:
			if strings.TrimSpace(val) != "" {
				resp.PersonalInfo[k] = strings.TrimSpace(val)
			}
		default:
			resp.PersonalInfo[k] = fmt.Sprint(val)
		}
	}
	return resp, nil
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(none)"
	}
	return s
}
