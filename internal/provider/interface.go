// Package provider selects and constructs the hosted chat-completion backend
// at runtime. Supported backends: Ollama, OpenAI, Azure OpenAI, AWS Bedrock
// (via the Ark runtime), and Google Gemini. All backends are exposed through
// the eino ChatModel abstraction so the agent layer stays backend-agnostic.
package provider

import (
	"fmt"
)

// Backend enumerates the supported chat-completion providers.
type Backend string

const (
	// BackendOllama selects a locally running Ollama instance.
	BackendOllama Backend = "ollama"
	// BackendOpenAI selects the OpenAI API.
	BackendOpenAI Backend = "openai"
	// BackendAzure selects Azure OpenAI Service.
	BackendAzure Backend = "azure"
	// BackendBedrock selects AWS Bedrock.
	BackendBedrock Backend = "bedrock"
	// BackendGemini selects Google Gemini via AI Studio.
	BackendGemini Backend = "gemini"
)

// Config holds the full provider configuration resolved from environment
// variables or explicit caller-supplied values.
type Config struct {
	// Backend identifies which chat-completion provider to use.
	Backend Backend

	// Ollama holds Ollama-specific settings.
	Ollama OllamaSettings

	// OpenAI holds OpenAI-specific settings.
	OpenAI OpenAISettings

	// Azure holds Azure OpenAI-specific settings.
	Azure AzureSettings

	// Bedrock holds AWS Bedrock-specific settings.
	Bedrock BedrockSettings

	// Gemini holds Google Gemini-specific settings.
	Gemini GeminiSettings

	// Tuning holds the shared generation parameters applied to any backend.
	Tuning Tuning
}

// OllamaSettings holds Ollama provider settings.
type OllamaSettings struct {
	// Host is the Ollama API endpoint.
	Host string
	// Model is the Ollama model name.
	Model string
}

// OpenAISettings holds OpenAI provider settings.
type OpenAISettings struct {
	// APIKey is the OpenAI API key.
	APIKey string
	// Model is the OpenAI model name.
	Model string
}

// AzureSettings holds Azure OpenAI provider settings.
type AzureSettings struct {
	// APIKey is the Azure OpenAI API key.
	APIKey string
	// Endpoint is the Azure OpenAI resource endpoint.
	Endpoint string
	// Deployment is the Azure OpenAI deployment name.
	Deployment string
	// APIVersion is the Azure OpenAI REST API version.
	APIVersion string
}

// BedrockSettings holds AWS Bedrock provider settings.
type BedrockSettings struct {
	// Endpoint is the Bedrock-compatible runtime endpoint.
	Endpoint string
	// APIKey is the runtime credential.
	APIKey string
	// ModelID is the Bedrock model identifier.
	ModelID string
}

// GeminiSettings holds Google Gemini provider settings.
type GeminiSettings struct {
	// APIKey is the Google API key.
	APIKey string
	// Model is the Gemini model name.
	Model string
}

// Tuning holds generation parameters shared across backends.
type Tuning struct {
	// MaxTokens caps the number of tokens generated per response.
	MaxTokens int
	// Temperature controls response randomness (0.0–1.0).
	Temperature float32
}

// ModelName returns the configured model identifier for the active backend,
// used in response envelopes and logs.
func (c *Config) ModelName() string {
	switch c.Backend {
	case BackendOllama:
		return c.Ollama.Model
	case BackendOpenAI:
		return c.OpenAI.Model
	case BackendAzure:
		return c.Azure.Deployment
	case BackendBedrock:
		return c.Bedrock.ModelID
	case BackendGemini:
		return c.Gemini.Model
	default:
		return ""
	}
}

// Validate checks that the backend-specific required fields are present so
// callers get a clear error at startup rather than on the first request.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendOllama:
		// Host and model have defaults; nothing is strictly required.
		return nil
	case BackendOpenAI:
		if c.OpenAI.APIKey == "" {
			return fmt.Errorf("provider: OPENAI_API_KEY is required for the openai backend")
		}
	case BackendAzure:
		if c.Azure.APIKey == "" {
			return fmt.Errorf("provider: AZURE_OPENAI_API_KEY is required for the azure backend")
		}
		if c.Azure.Endpoint == "" {
			return fmt.Errorf("provider: AZURE_OPENAI_ENDPOINT is required for the azure backend")
		}
		if c.Azure.Deployment == "" {
			return fmt.Errorf("provider: AZURE_OPENAI_DEPLOYMENT is required for the azure backend")
		}
	case BackendBedrock:
		if c.Bedrock.ModelID == "" {
			return fmt.Errorf("provider: BEDROCK_MODEL_ID is required for the bedrock backend")
		}
	case BackendGemini:
		if c.Gemini.APIKey == "" {
			return fmt.Errorf("provider: GOOGLE_API_KEY is required for the gemini backend")
		}
	default:
		return fmt.Errorf("provider: unknown backend %q — valid values: ollama, openai, azure, bedrock, gemini", c.Backend)
	}
	return nil
}
