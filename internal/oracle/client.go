package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/lucasnoah/repomedic/internal/bugs"
)

// Options configures the repair oracle.
type Options struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client asks an OpenAI-compatible model (Groq by default) for a complete
// corrected file and applies it only after validating the output. A client
// without an API key is usable: it declines every repair, which keeps the
// deterministic-only path working.
type Client struct {
	api     *openai.Client
	model   string
	timeout time.Duration

	// validate checks candidate file content for syntactic soundness.
	// Swappable for tests.
	validate func(ctx context.Context, path, content string) bool
}

// New creates a Client from options, reading the API key from GROQ_API_KEY
// (falling back to GROQ_KEY).
func New(opts Options) *Client {
	c := &Client{
		model:    opts.Model,
		timeout:  opts.Timeout,
		validate: validateSyntax,
	}
	if c.timeout <= 0 {
		c.timeout = 60 * time.Second
	}

	apiKey := os.Getenv("GROQ_API_KEY")
	if apiKey == "" {
		apiKey = os.Getenv("GROQ_KEY")
	}
	if apiKey == "" {
		slog.Warn("no GROQ_API_KEY set; repair oracle disabled")
		return c
	}

	cfg := openai.DefaultConfig(apiKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	c.api = openai.NewClientWithConfig(cfg)
	return c
}

// Configured reports whether the oracle can actually reach a model.
func (c *Client) Configured() bool {
	return c.api != nil
}

// RepairFile asks the model for a full rewrite of the file at path, using the
// bug type and line as hints. The rewrite is applied only when it is
// non-empty, differs from the original, and passes syntax validation; in
// every other case the file is left untouched and false is returned.
func (c *Client) RepairFile(ctx context.Context, path string, bugType bugs.Type, line int) (bool, error) {
	if c.api == nil {
		return false, nil
	}

	source, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", path, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: buildPrompt(string(source), bugType, line)},
		},
	})
	if err != nil {
		return false, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return false, fmt.Errorf("model returned no choices")
	}

	fixed := strings.TrimSpace(resp.Choices[0].Message.Content)
	if fixed == "" || fixed == strings.TrimSpace(string(source)) {
		return false, nil
	}
	fixed += "\n"

	if !c.validate(ctx, path, fixed) {
		return false, nil
	}

	if err := os.WriteFile(path, []byte(fixed), 0o644); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}

func buildPrompt(source string, bugType bugs.Type, line int) string {
	return "Return only the full corrected file. No explanations.\n" +
		fmt.Sprintf("Bug type: %s\n", bugType) +
		fmt.Sprintf("Likely failing line: %d\n", line) +
		"Rules:\n" +
		"- Keep structure and intent\n" +
		"- Minimal safe fixes\n" +
		"- No markdown\n" +
		"- Return complete file\n\n" +
		"File:\n" +
		source
}

// validateSyntax byte-compiles Python candidates before they overwrite the
// original. Files whose syntax cannot be checked here pass through.
func validateSyntax(ctx context.Context, path, content string) bool {
	if !strings.HasSuffix(path, ".py") {
		return true
	}

	tmp, err := os.CreateTemp("", "oracle-*.py")
	if err != nil {
		return false
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return false
	}
	if err := tmp.Close(); err != nil {
		return false
	}

	cmd := exec.CommandContext(ctx, "python3", "-m", "py_compile", tmpName)
	if err := cmd.Run(); err != nil {
		return false
	}
	// py_compile drops a __pycache__ next to the temp file.
	os.RemoveAll(filepath.Join(filepath.Dir(tmpName), "__pycache__"))
	return true
}
