package ingest

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/mailstoaleksei-droid/repair-invoice-bot/internal/env"
	"github.com/mailstoaleksei-droid/repair-invoice-bot/internal/logger"
)

const extractionSystemPrompt = `Du bist ein Assistent für die Erfassung von Werkstatt- und Ersatzteilrechnungen.
Du erhältst eine PDF-Rechnung und extrahierst daraus alle enthaltenen Rechnungen.
Regeln:
- invoice_date im Format DD.MM.YYYY.
- total_price ist der NETTO-Betrag; bei einer Gutschrift negativ.
- truck ist das Kennzeichen des Fahrzeugs oder leer, wenn keines genannt ist.
- kategorie ist genau eine der vorgegebenen Kategorien.
- confidence zwischen 0.0 und 1.0: wie sicher bist du, dass alle Felder korrekt sind.
Gib ausschließlich das angeforderte JSON zurück.`

// Structured-output schema: the model must return {"invoices": [...]} with
// exactly the fields of ExtractedInvoice.
var extractionResponseFormat = json.RawMessage(`{
	"type": "json_schema",
	"json_schema": {
		"name": "invoice_extraction",
		"strict": true,
		"schema": {
			"type": "object",
			"properties": {
				"invoices": {
					"type": "array",
					"items": {
						"type": "object",
						"properties": {
							"invoice_date": {"type": "string", "description": "DD.MM.YYYY"},
							"truck": {"type": "string"},
							"total_price": {"type": "number"},
							"invoice_nr": {"type": "string"},
							"seller": {"type": "string"},
							"buyer": {"type": "string"},
							"kategorie": {"type": "string", "enum": ["Reparatur", "Ersatzteile", "TÜV/HU/AU", "Reifen", "Tanken", "Miete", "Wartung", "Versicherung", "Sonstiges"]},
							"confidence": {"type": "number"}
						},
						"required": ["invoice_date", "truck", "total_price", "invoice_nr", "seller", "buyer", "kategorie", "confidence"],
						"additionalProperties": false
					}
				}
			},
			"required": ["invoices"],
			"additionalProperties": false
		}
	}
}`)

// Pricing per 1M tokens.
var modelPricing = map[string]struct{ Input, Output float64 }{
	"gpt-4o-mini": {Input: 0.15, Output: 0.60},
	"gpt-4o":      {Input: 2.50, Output: 10.00},
}

func modelCost(model string, tokensIn, tokensOut int) float64 {
	p, ok := modelPricing[model]
	if !ok {
		p = modelPricing["gpt-4o-mini"]
	}
	return (float64(tokensIn)*p.Input + float64(tokensOut)*p.Output) / 1_000_000
}

type OpenAIConfig struct {
	BaseURL       string
	APIKey        string
	PrimaryModel  string
	FallbackModel string
	PromptVersion string
	// FallbackBelow triggers the stronger fallback model when every invoice
	// from the primary model sits below this confidence.
	FallbackBelow float64
	MaxAttempts   int
	Timeout       time.Duration
}

func OpenAIConfigFromEnv() OpenAIConfig {
	return OpenAIConfig{
		BaseURL:       env.GetString("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		APIKey:        env.GetString("OPENAI_API_KEY", ""),
		PrimaryModel:  env.GetString("MODEL_PRIMARY", "gpt-4o-mini"),
		FallbackModel: env.GetString("MODEL_FALLBACK", "gpt-4o"),
		PromptVersion: env.GetString("PROMPT_VERSION", "v1"),
		FallbackBelow: env.GetFloat("CONFIDENCE_AUTO", 0.8),
		MaxAttempts:   env.GetInt("OPENAI_MAX_ATTEMPTS", 3),
		Timeout:       time.Duration(env.GetInt("OPENAI_TIMEOUT_SECONDS", 60)) * time.Second,
	}
}

// OpenAIExtractor implements Extractor against an OpenAI-compatible
// chat-completions endpoint. The PDF travels as a base64 file part; the
// response is constrained by a structured-output JSON schema. Retryable API
// failures (429, 5xx, transport errors) are retried with exponential backoff
// inside the adapter.
type OpenAIExtractor struct {
	client *http.Client
	cfg    OpenAIConfig
	log    *logger.Logger
}

func NewOpenAIExtractor(cfg OpenAIConfig, log *logger.Logger) *OpenAIExtractor {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &OpenAIExtractor{
		client: &http.Client{Timeout: cfg.Timeout},
		cfg:    cfg,
		log:    log,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type string    `json:"type"`
	Text string    `json:"text,omitempty"`
	File *filePart `json:"file,omitempty"`
}

type filePart struct {
	Filename string `json:"filename"`
	FileData string `json:"file_data"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Temperature    float64         `json:"temperature"`
	Messages       []chatMessage   `json:"messages"`
	ResponseFormat json.RawMessage `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

type extractionPayload struct {
	Invoices []ExtractedInvoice `json:"invoices"`
}

func (x *OpenAIExtractor) Extract(ctx context.Context, doc Document) (*Extraction, error) {
	const component = "Extractor"
	start := time.Now()

	pdf, err := os.ReadFile(doc.Path)
	if err != nil {
		return nil, &AdapterError{Doc: doc.Name, Err: fmt.Errorf("read document: %w", err)}
	}
	messages := x.buildMessages(doc.Name, pdf)

	primary, err := x.tryModel(ctx, doc.Name, x.cfg.PrimaryModel, messages)
	if err != nil {
		return nil, err
	}
	result := primary

	if x.cfg.FallbackModel != "" && x.cfg.FallbackModel != x.cfg.PrimaryModel &&
		len(primary.Invoices) > 0 && x.allBelowFallback(primary.Invoices) {
		x.log.Info(component, "Low confidence from %s for %s, trying %s",
			x.cfg.PrimaryModel, doc.Name, x.cfg.FallbackModel)
		fallback, err := x.tryModel(ctx, doc.Name, x.cfg.FallbackModel, messages)
		if err == nil {
			fallback.CostUSD += primary.CostUSD
			result = fallback
		}
	}

	result.DurationMs = time.Since(start).Milliseconds()
	return result, nil
}

func (x *OpenAIExtractor) allBelowFallback(invoices []ExtractedInvoice) bool {
	for _, inv := range invoices {
		if inv.Confidence >= x.cfg.FallbackBelow {
			return false
		}
	}
	return true
}

func (x *OpenAIExtractor) buildMessages(filename string, pdf []byte) []chatMessage {
	return []chatMessage{
		{Role: "system", Content: extractionSystemPrompt},
		{Role: "user", Content: []contentPart{
			{Type: "text", Text: "Dateiname: " + filename},
			{Type: "file", File: &filePart{
				Filename: filename,
				FileData: "data:application/pdf;base64," + base64.StdEncoding.EncodeToString(pdf),
			}},
		}},
	}
}

func (x *OpenAIExtractor) tryModel(ctx context.Context, docName, model string, messages []chatMessage) (*Extraction, error) {
	raw, resp, err := x.callWithRetry(ctx, docName, model, messages)
	if err != nil {
		return nil, &AdapterError{Doc: docName, Err: err}
	}

	if len(resp.Choices) == 0 {
		return nil, &AdapterError{Doc: docName, Err: fmt.Errorf("model %s returned no choices", model)}
	}

	var payload extractionPayload
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &payload); err != nil {
		return nil, &AdapterError{Doc: docName, Err: fmt.Errorf("malformed model output: %w", err)}
	}

	cost := modelCost(model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	x.log.Info("Extractor", "%s -> %s: %d invoices, %d+%d tokens, $%.4f",
		docName, model, len(payload.Invoices), resp.Usage.PromptTokens, resp.Usage.CompletionTokens, cost)

	return &Extraction{
		Invoices:      payload.Invoices,
		Model:         model,
		PromptVersion: x.cfg.PromptVersion,
		TokensInput:   resp.Usage.PromptTokens,
		TokensOutput:  resp.Usage.CompletionTokens,
		CostUSD:       cost,
		RawResponse:   raw,
	}, nil
}

func (x *OpenAIExtractor) callWithRetry(ctx context.Context, docName, model string, messages []chatMessage) (string, *chatResponse, error) {
	body, err := json.Marshal(chatRequest{
		Model:          model,
		Temperature:    0,
		Messages:       messages,
		ResponseFormat: extractionResponseFormat,
	})
	if err != nil {
		return "", nil, fmt.Errorf("marshal request: %w", err)
	}

	backoff := time.Second
	var lastErr error

	for attempt := 1; attempt <= x.cfg.MaxAttempts; attempt++ {
		raw, resp, retryable, err := x.doRequest(ctx, body)
		if err == nil {
			return raw, resp, nil
		}
		lastErr = err
		if !retryable || attempt == x.cfg.MaxAttempts {
			break
		}

		x.log.Warn("Extractor", "Retry %d for %s with %s: error=%v", attempt, docName, model, err)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return "", nil, ctx.Err()
		}
		if backoff < 8*time.Second {
			backoff *= 2
		}
	}
	return "", nil, lastErr
}

// doRequest performs one HTTP call. The bool reports whether the failure is
// worth retrying: transport errors, 429 and 5xx are, everything else is not.
func (x *OpenAIExtractor) doRequest(ctx context.Context, body []byte) (string, *chatResponse, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		x.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", nil, false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+x.cfg.APIKey)

	httpResp, err := x.client.Do(req)
	if err != nil {
		return "", nil, true, err
	}
	defer httpResp.Body.Close()

	rawBytes, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return "", nil, true, err
	}
	raw := string(rawBytes)

	if httpResp.StatusCode == http.StatusTooManyRequests || httpResp.StatusCode >= 500 {
		return "", nil, true, fmt.Errorf("api status %d: %s", httpResp.StatusCode, truncate(raw, 200))
	}
	if httpResp.StatusCode != http.StatusOK {
		return "", nil, false, fmt.Errorf("api status %d: %s", httpResp.StatusCode, truncate(raw, 200))
	}

	var resp chatResponse
	if err := json.Unmarshal(rawBytes, &resp); err != nil {
		return "", nil, false, fmt.Errorf("decode response: %w", err)
	}
	if resp.Error != nil {
		return "", nil, false, fmt.Errorf("api error %s: %s", resp.Error.Type, resp.Error.Message)
	}
	return raw, &resp, false, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
