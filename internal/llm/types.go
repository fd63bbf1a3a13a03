package llm

import (
	"fmt"
	"time"
)

const (
	defaultBaseURL    = "https://api.groq.com/openai/v1"
	defaultModel      = "llama-3.2-3b-preview"
	defaultAPIKeyEnv  = "GROQ_API_KEY"
	defaultRetryAfter = 5 * time.Second
	defaultReset      = 60 * time.Second

	DefaultTemperature = 0.0
	DefaultMaxTokens   = 1000
	DefaultN           = 1
)

// ErrorSentinel is returned in place of completion text when the endpoint
// answers with a body that carries no choices[0].message.content.
const ErrorSentinel = "ERROR: Invalid API response"

// Message roles.
const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// Config is chat completion client configuration.
type Config struct {
	BaseURL   string
	Model     string
	APIKey    string
	APIKeyEnv string
	// DefaultRetryAfter is used when a 429 response has no retry-after header.
	DefaultRetryAfter time.Duration
	// DefaultReset is used when a rate-limit reset header is missing.
	DefaultReset time.Duration
	// RequestsPerMinute paces requests on the client side; zero disables pacing.
	RequestsPerMinute int
}

// Message is a single role-tagged chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SystemMessage returns a system-role message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage returns a user-role message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// Params are generation parameters shared by every request of a batch.
type Params struct {
	Temperature float64
	MaxTokens   int
	N           int
}

// DefaultParams returns temperature 0, 1000 max tokens and a single choice.
func DefaultParams() Params {
	return Params{
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
		N:           DefaultN,
	}
}

// Validate checks that params describe a request the endpoint can serve.
func (p Params) Validate() error {
	if p.MaxTokens <= 0 {
		return fmt.Errorf("max_tokens must be > 0")
	}
	if p.N <= 0 {
		return fmt.Errorf("n must be > 0")
	}
	if p.Temperature < 0 {
		return fmt.Errorf("temperature must be >= 0")
	}
	return nil
}

// CompletionRequest is a single chat completion request.
type CompletionRequest struct {
	Messages    []Message
	Temperature float64
	MaxTokens   int
	N           int
}

// NewCompletionRequest builds a request from params and messages.
func NewCompletionRequest(params Params, messages ...Message) CompletionRequest {
	return CompletionRequest{
		Messages:    messages,
		Temperature: params.Temperature,
		MaxTokens:   params.MaxTokens,
		N:           params.N,
	}
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
	N           int       `json:"n"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

// chatChoice keeps message and content as pointers so a choice that omits
// either is told apart from an empty completion.
type chatChoice struct {
	Message *chatMessage `json:"message"`
}

type chatMessage struct {
	Content *string `json:"content"`
}

type chatUsage struct {
	CompletionTokens int `json:"completion_tokens"`
}
