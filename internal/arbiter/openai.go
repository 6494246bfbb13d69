package arbiter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/the-radar/deliberate/internal/model"
)

const (
	defaultBaseURL    = "https://api.openai.com/v1"
	defaultChatModel  = "gpt-4o-mini"
	defaultTimeout    = 15 * time.Second
	maxResponseBytes  = 1 << 20
	maxScriptExcerpt  = 5000
	systemInstruction = `You are a security reviewer for shell commands an AI coding agent wants to run.
Judge the command on its real-world consequences. Be concise.

Respond in exactly this format:
VERDICT: ALLOW|WARN|BLOCK
EXPLANATION: one sentence describing what the command does and why you chose the verdict
RISK: one specific hazard per line (omit if none)
ALTERNATIVE: one safer alternative per line (omit if none)

ALLOW means routine and reversible. WARN means it changes state in a way a
human should acknowledge. BLOCK means destructive, irreversible, privilege
escalating, obfuscated, or exfiltrating.`
)

// OpenAIArbiter reviews commands through an OpenAI-compatible chat
// completions endpoint. Any compatible server works (Ollama, llama.cpp,
// vLLM) by pointing baseURL at it.
type OpenAIArbiter struct {
	baseURL   string
	apiKey    string
	chatModel string
	client    *http.Client
	logger    *log.Logger
}

// OpenAIOption configures an OpenAIArbiter.
type OpenAIOption func(*OpenAIArbiter)

// WithBaseURL points the arbiter at a different compatible endpoint.
func WithBaseURL(url string) OpenAIOption {
	return func(a *OpenAIArbiter) { a.baseURL = strings.TrimSuffix(url, "/") }
}

// WithChatModel selects the chat model.
func WithChatModel(m string) OpenAIOption {
	return func(a *OpenAIArbiter) { a.chatModel = m }
}

// WithTimeout bounds the whole review call.
func WithTimeout(d time.Duration) OpenAIOption {
	return func(a *OpenAIArbiter) { a.client.Timeout = d }
}

// WithLogger sets a custom logger.
func WithLogger(l *log.Logger) OpenAIOption {
	return func(a *OpenAIArbiter) { a.logger = l }
}

// NewOpenAI creates an arbiter backed by a chat completions API.
func NewOpenAI(apiKey string, opts ...OpenAIOption) *OpenAIArbiter {
	a := &OpenAIArbiter{
		baseURL:   defaultBaseURL,
		apiKey:    apiKey,
		chatModel: defaultChatModel,
		client:    &http.Client{Timeout: defaultTimeout},
		logger:    log.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Review implements Arbiter.
func (a *OpenAIArbiter) Review(ctx context.Context, req *Request, mv *model.Verdict) (*Verdict, error) {
	body, err := json.Marshal(chatRequest{
		Model: a.chatModel,
		Messages: []chatMessage{
			{Role: "system", Content: systemInstruction},
			{Role: "user", Content: buildPrompt(req, mv)},
		},
		Temperature: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: encoding request: %v", ErrArbitrationFailed, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArbitrationFailed, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	start := time.Now()
	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArbitrationFailed, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrArbitrationFailed, err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("%w: malformed response: %v", ErrArbitrationFailed, err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: status %d: %s", ErrArbitrationFailed, resp.StatusCode, parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("%w: response had no choices", ErrArbitrationFailed)
	}

	verdict, err := parseResponse(parsed.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("arbitration complete",
		"verdict", verdict.Risk, "model", a.chatModel, "elapsed", time.Since(start))
	return verdict, nil
}

// buildPrompt assembles the user message. The command is redacted before it
// leaves the process.
func buildPrompt(req *Request, mv *model.Verdict) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Command: %s\n", Redact(req.Command))
	if req.WorkingDir != "" {
		fmt.Fprintf(&b, "Working directory: %s\n", req.WorkingDir)
	}
	if req.User != "" {
		fmt.Fprintf(&b, "User: %s\n", req.User)
	}
	if req.Sudo {
		b.WriteString("Running with elevated privileges (sudo).\n")
	}
	if req.Hint != "" {
		fmt.Fprintf(&b, "Pre-screening hint: %s\n", req.Hint)
	}
	if mv != nil {
		fmt.Fprintf(&b, "Semantic classifier: %s (confidence %.2f, coverage %.2f",
			strings.ToUpper(mv.Risk.String()), mv.Confidence, mv.Coverage)
		if mv.NearestCommand != "" {
			fmt.Fprintf(&b, ", nearest known example: %q labeled %s",
				mv.NearestCommand, mv.NearestLabel)
		}
		b.WriteString(")\n")
	}
	if req.ScriptContent != "" {
		content := req.ScriptContent
		if len(content) > maxScriptExcerpt {
			content = content[:maxScriptExcerpt] + "..."
		}
		fmt.Fprintf(&b, "\nScript content being executed:\n```\n%s\n```\n", Redact(content))
		b.WriteString("Judge the script content, not just the command line.\n")
	}
	return b.String()
}
