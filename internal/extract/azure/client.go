// Package azure analyzes documents with a Document Intelligence style service: submit an
// analyze operation, then poll its Operation-Location until it reaches a terminal status.
package azure

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/invoice-ingest/internal/common"
	"github.com/joseph-ayodele/invoice-ingest/internal/extract"
)

const (
	statusNotStarted = "notStarted"
	statusRunning    = "running"
	statusSucceeded  = "succeeded"
)

// Config for the analyze client.
type Config struct {
	Endpoint          string
	APIKey            string
	ModelID           string
	APIVersion        string
	PollInterval      time.Duration
	Retry             extract.RetryPolicy
	RequestsPerSecond float64
	Timeout           time.Duration // per HTTP call; polling itself is unbounded
}

// Client implements extract.Analyzer.
type Client struct {
	cfg       Config
	transport *extract.Transport
	logger    *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ModelID == "" {
		cfg.ModelID = "prebuilt-invoice"
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "2024-11-30"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	return &Client{
		cfg:       cfg,
		transport: extract.NewTransport(&http.Client{Timeout: cfg.Timeout}, cfg.Retry, cfg.RequestsPerSecond, logger),
		logger:    logger,
	}
}

func (c *Client) Name() string { return "azure" }

type operation struct {
	Status string `json:"status"`
	Error  *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	AnalyzeResult *struct {
		Documents []json.RawMessage `json:"documents"`
	} `json:"analyzeResult"`
}

// Analyze submits the document by URL when one is given, inline otherwise, and blocks until
// the operation finishes. Callers bound the wait through ctx.
func (c *Client) Analyze(ctx context.Context, data []byte, mimeType, sourceURL string) (*extract.Result, error) {
	rid := uuid.New().String()
	start := time.Now()
	c.logger.Info("extract.azure.start",
		"req_id", rid,
		"model", c.cfg.ModelID,
		"mime_type", mimeType,
		"by_url", sourceURL != "",
		"bytes", len(data),
	)

	opURL, err := c.submit(ctx, data, sourceURL)
	if err != nil {
		c.logger.Error("extract.azure.submit_failed", "req_id", rid, "error", err)
		return nil, err
	}

	op, raw, polls, err := c.poll(ctx, opURL)
	if err != nil {
		c.logger.Error("extract.azure.poll_failed", "req_id", rid, "polls", polls, "error", err)
		return nil, err
	}
	if op.AnalyzeResult == nil || len(op.AnalyzeResult.Documents) == 0 {
		c.logger.Warn("extract.azure.no_documents", "req_id", rid, "polls", polls)
		return nil, nil
	}

	res, err := parseDocument(op.AnalyzeResult.Documents[0])
	if err != nil {
		return nil, common.ExtractionServiceError("decode analyze result", err)
	}
	res.Raw = raw

	c.logger.Info("extract.azure.ok",
		"req_id", rid,
		"polls", polls,
		"invoice_number", deref(res.InvoiceNumber),
		"lines", len(res.Lines),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

func (c *Client) submit(ctx context.Context, data []byte, sourceURL string) (string, error) {
	body := map[string]string{}
	if sourceURL != "" {
		body["urlSource"] = sourceURL
	} else {
		body["base64Source"] = base64.StdEncoding.EncodeToString(data)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", common.UnexpectedError("marshal analyze request", err)
	}

	analyzeURL := fmt.Sprintf("%s/documentintelligence/documentModels/%s:analyze?api-version=%s",
		c.cfg.Endpoint, url.PathEscape(c.cfg.ModelID), url.QueryEscape(c.cfg.APIVersion))

	resp, err := c.transport.Do(ctx, "extract.azure.submit", func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, analyzeURL, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Ocp-Apim-Subscription-Key", c.cfg.APIKey)
		return req, nil
	})
	if err != nil {
		return "", err
	}
	if resp.Status != http.StatusAccepted {
		return "", extract.StatusError("extract.azure.submit", resp)
	}
	opURL := resp.Header.Get("Operation-Location")
	if opURL == "" {
		return "", common.ExtractionServiceError("analyze accepted without an Operation-Location", nil)
	}
	return opURL, nil
}

// poll has no deadline of its own; it stops on a terminal status or when ctx ends.
func (c *Client) poll(ctx context.Context, opURL string) (*operation, json.RawMessage, int, error) {
	for polls := 1; ; polls++ {
		if err := extract.Sleep(ctx, c.cfg.PollInterval); err != nil {
			return nil, nil, polls, err
		}
		resp, err := c.transport.Do(ctx, "extract.azure.poll", func(ctx context.Context) (*http.Request, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, opURL, nil)
			if err != nil {
				return nil, err
			}
			req.Header.Set("Ocp-Apim-Subscription-Key", c.cfg.APIKey)
			return req, nil
		})
		if err != nil {
			return nil, nil, polls, err
		}
		if resp.Status != http.StatusOK {
			return nil, nil, polls, extract.StatusError("extract.azure.poll", resp)
		}

		var op operation
		if err := json.Unmarshal(resp.Body, &op); err != nil {
			return nil, nil, polls, common.ExtractionServiceError("decode poll response", err)
		}
		c.logger.Debug("extract.azure.poll", "status", op.Status, "polls", polls)

		switch op.Status {
		case statusNotStarted, statusRunning:
			continue
		case statusSucceeded:
			var raw json.RawMessage
			if op.AnalyzeResult != nil && len(op.AnalyzeResult.Documents) > 0 {
				raw = op.AnalyzeResult.Documents[0]
			}
			return &op, raw, polls, nil
		}
		msg := fmt.Sprintf("analysis ended with status %q", op.Status)
		if op.Error != nil {
			msg = fmt.Sprintf("%s: %s %s", msg, op.Error.Code, op.Error.Message)
		}
		return nil, nil, polls, common.ExtractionServiceError(msg, nil)
	}
}

func parseDocument(doc json.RawMessage) (*extract.Result, error) {
	var d struct {
		DocType string   `json:"docType"`
		Fields  fieldSet `json:"fields"`
	}
	if err := json.Unmarshal(doc, &d); err != nil {
		return nil, err
	}
	fs := d.Fields

	res := &extract.Result{
		Vendor:        "azure",
		Supplier:      fs.party([]string{"VendorName", "SupplierName"}, []string{"VendorTaxId", "SupplierTaxId"}, []string{"VendorAddress", "SupplierAddress"}),
		Customer:      fs.party([]string{"CustomerName"}, []string{"CustomerTaxId"}, []string{"CustomerAddress", "BillingAddress"}),
		InvoiceNumber: fs.text("InvoiceId", "InvoiceNumber"),
		InvoiceDate:   fs.date("InvoiceDate"),
		SaleDate:      fs.date("SaleDate", "ServiceStartDate"),
		PrintDate:     fs.date("PrintDate"),
		DeliveryDate:  fs.date("DeliveryDate", "ServiceEndDate"),
		DueDate:       fs.date("DueDate"),
		Subtotal:      fs.number("SubTotal"),
		TotalTax:      fs.number("TotalTax"),
		InvoiceTotal:  fs.number("InvoiceTotal", "AmountDue"),
		Lines:         fs.lines("Items"),
	}
	res.Currency = fs.currency("InvoiceTotal", "SubTotal", "AmountDue")
	if res.Currency == nil {
		res.Currency = fs.text("CurrencyCode")
		if res.Currency != nil {
			res.Currency = extract.Currency(*res.Currency)
		}
	}
	return res, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
