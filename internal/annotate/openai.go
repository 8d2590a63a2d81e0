package annotate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/justerbaster/clobster-railway/internal/metrics"
	"github.com/justerbaster/clobster-railway/internal/model"
)

const (
	defaultOpenAIModel = "gpt-4o-mini"

	persona = "You are Clobster, a savvy lobster trader on Polymarket. You speak in first person, " +
		"are confident but not arrogant, and explain your trades in a clear, engaging way. " +
		"Keep responses to 2-3 sentences."
)

// Doer executes HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// OpenAIConfig configures the chat-completions annotator. BaseURL
// defaults to the public OpenAI API.
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
	Doer    Doer
}

// OpenAI explains trades with a chat-completions model and falls back to
// templates on any error or timeout.
type OpenAI struct {
	client   *openai.Client
	model    string
	timeout  time.Duration
	fallback Annotator
	log      *slog.Logger
}

// New returns an OpenAI annotator when an API key is configured, and the
// template annotator otherwise.
func New(cfg OpenAIConfig, fallback *Templates) Annotator {
	if fallback == nil {
		fallback = NewTemplates(nil)
	}
	if cfg.APIKey == "" {
		slog.Warn("OPENAI_API_KEY not set, trade annotations use templates")
		return fallback
	}
	return NewOpenAI(cfg, fallback)
}

// NewOpenAI creates the model-backed annotator.
func NewOpenAI(cfg OpenAIConfig, fallback Annotator) *OpenAI {
	cc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		cc.BaseURL = cfg.BaseURL
	}
	if cfg.Doer != nil {
		cc.HTTPClient = cfg.Doer
	}

	o := &OpenAI{
		client:   openai.NewClientWithConfig(cc),
		model:    cfg.Model,
		timeout:  cfg.Timeout,
		fallback: fallback,
		log:      slog.Default(),
	}
	if o.model == "" {
		o.model = defaultOpenAIModel
	}
	if o.timeout <= 0 {
		o.timeout = 15 * time.Second
	}
	return o
}

// Explain asks the model for commentary on the trade.
func (o *OpenAI) Explain(ctx context.Context, req Request) string {
	text, err := o.complete(ctx, req)
	if err != nil {
		metrics.AnnotationFallbacks.Inc()
		o.log.Warn("annotation failed, using template", "market", req.MarketTitle, "err", err)
		return o.fallback.Explain(ctx, req)
	}
	return text
}

func (o *OpenAI) complete(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: persona},
			{Role: openai.ChatMessageRoleUser, Content: buildPrompt(req)},
		},
		MaxTokens:   150,
		Temperature: 0.8,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("openai: status %d: %s", apiErr.HTTPStatusCode, apiErr.Message)
		}
		return "", fmt.Errorf("openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: no choices in response")
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("openai: empty completion")
	}
	return text, nil
}

func buildPrompt(req Request) string {
	verb := "buying"
	if req.Action == model.ActionSell {
		verb = "selling"
	}

	var b strings.Builder
	fmt.Fprintf(&b, `Explain why you're %s "%s" at %s%% on this market: "%s"`, verb, req.Outcome, pricePercent(req.Price), req.MarketTitle)
	if len(req.Reasons) > 0 {
		fmt.Fprintf(&b, "\n\nMarket signals: %s", strings.Join(req.Reasons, ", "))
	}
	if req.ExitReason != "" {
		fmt.Fprintf(&b, "\n\nExit trigger: %s", req.ExitReason)
	}
	if req.PnL != nil {
		if req.PnL.IsNegative() {
			fmt.Fprintf(&b, "\n\nThis trade resulted in a loss of $%s.", req.PnL.Abs().StringFixed(2))
		} else {
			fmt.Fprintf(&b, "\n\nThis trade resulted in a profit of $%s.", req.PnL.StringFixed(2))
		}
	}
	if st := req.Stats; st != nil {
		fmt.Fprintf(&b, "\n\nPortfolio: balance $%s, realized P&L $%s, %d open positions, win rate %s%%.",
			st.Balance.StringFixed(2), st.TotalPnL.StringFixed(2), st.ActivePositions, st.WinRate.StringFixed(1))
	}
	return b.String()
}
