// Package openai extracts invoice fields with a vision-capable chat-completions model.
package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/invoice-ingest/internal/common"
	"github.com/joseph-ayodele/invoice-ingest/internal/extract"
)

// Config for the OpenAI client.
type Config struct {
	APIKey      string
	BaseURL     string // default https://api.openai.com/v1
	Model       string // e.g. "gpt-4o-mini"
	Temperature float32
	Timeout     time.Duration // http client timeout
	Retry       extract.RetryPolicy
}

// Client implements extract.Analyzer.
type Client struct {
	cfg       Config
	schema    map[string]any
	transport *extract.Transport
	logger    *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:       cfg,
		schema:    buildInvoiceJSONSchema(),
		transport: extract.NewTransport(&http.Client{Timeout: cfg.Timeout}, cfg.Retry, 0, logger),
		logger:    logger,
	}
}

func (c *Client) Name() string { return "openai" }

// Analyze sends the document as a file part (PDF) or an image part, by URL when one is given.
func (c *Client) Analyze(ctx context.Context, data []byte, mimeType, sourceURL string) (*extract.Result, error) {
	rid := uuid.New().String()
	start := time.Now()

	c.logger.Info("extract.openai.start",
		"req_id", rid,
		"model", c.cfg.Model,
		"mime_type", mimeType,
		"by_url", sourceURL != "",
		"bytes", len(data),
	)

	part, err := documentPart(data, mimeType, sourceURL)
	if err != nil {
		return nil, err
	}
	body := map[string]any{
		"model":           c.cfg.Model,
		"temperature":     c.cfg.Temperature,
		"response_format": map[string]any{"type": "json_object"},
		"messages": []map[string]any{
			{"role": "system", "content": systemPrompt},
			{"role": "system", "content": "JSON Schema:\n" + mustJSON(c.schema)},
			{"role": "user", "content": []map[string]any{
				{"type": "text", "text": "Extract the invoice in this document. Return ONLY JSON that matches the schema."},
				part,
			}},
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, common.UnexpectedError("marshal chat request", err)
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	resp, err := c.transport.Do(ctx, "extract.openai.chat", func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		c.logger.Error("extract.openai.http_error", "req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		return nil, err
	}
	if resp.Status < 200 || resp.Status >= 300 {
		return nil, extract.StatusError("extract.openai.chat", resp)
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(resp.Body, &cc); err != nil {
		c.logger.Error("extract.openai.decode_error", "req_id", rid, "error", err, "raw_bytes", len(resp.Body))
		return nil, common.ExtractionServiceError("decode openai response", err)
	}
	if len(cc.Choices) == 0 {
		c.logger.Error("extract.openai.no_choices", "req_id", rid)
		return nil, common.ExtractionServiceError("no choices in openai response", nil)
	}
	content := []byte(stripFences(cc.Choices[0].Message.Content))

	if err := validateJSONAgainstSchema(c.schema, content); err != nil {
		c.logger.Error("extract.openai.schema_validation_failed",
			"req_id", rid, "error", err, "content", string(content),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, common.ExtractionServiceError("schema validation failed", err)
	}

	var fields invoiceFields
	if err := json.Unmarshal(content, &fields); err != nil {
		return nil, common.ExtractionServiceError("unmarshal fields", err)
	}
	res := fields.toResult()
	res.Raw = json.RawMessage(content)

	c.logger.Info("extract.openai.ok",
		"req_id", rid,
		"lines", len(res.Lines),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

const systemPrompt = "You are an invoice and delivery-note parser. Return ONLY JSON that matches the JSON Schema provided. " +
	"Use ISO-8601 dates (YYYY-MM-DD). Currency must be a 3-letter ISO 4217 code or null. " +
	"Copy tax identifiers exactly as printed. Report amounts as printed when unsure of the number. " +
	"Use null for any field that is not on the document; never invent values."

func documentPart(data []byte, mimeType, sourceURL string) (map[string]any, error) {
	if mimeType == "application/pdf" {
		if len(data) == 0 {
			return nil, common.ExtractionServiceError("pdf analysis needs the file bytes", nil)
		}
		return map[string]any{
			"type": "file",
			"file": map[string]any{
				"filename":  "document.pdf",
				"file_data": dataURL(mimeType, data),
			},
		}, nil
	}
	u := sourceURL
	if u == "" {
		u = dataURL(mimeType, data)
	}
	return map[string]any{
		"type":      "image_url",
		"image_url": map[string]any{"url": u},
	}, nil
}

func dataURL(mimeType string, data []byte) string {
	return fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data))
}

func mustJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}
