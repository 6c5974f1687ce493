// Package duplicates asks the invoice service of record whether an invoice was already booked.
package duplicates

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/joseph-ayodele/invoice-ingest/internal/common"
	"github.com/joseph-ayodele/invoice-ingest/internal/rpc"
)

// ExistsMethod is the full gRPC method name served by the invoice service.
const ExistsMethod = "/invoices.v1.InvoicesService/Exists"

// Result is the answer of one existence check.
type Result struct {
	Exists    bool    `json:"exists"`
	InvoiceID *string `json:"invoiceId,omitempty"`
}

// Checker is consulted before an extraction is persisted.
type Checker interface {
	Exists(ctx context.Context, invoiceNumber, documentType, tenantID string) (Result, error)
}

// ExistsRequest is the wire request of ExistsMethod.
type ExistsRequest struct {
	InvoiceNumber string `json:"invoiceNumber"`
	DocumentType  string `json:"documentType"`
	TenantID      string `json:"tenantId"`
}

// Nop answers "does not exist" for everything; used when no invoice service is configured.
type Nop struct{}

func (Nop) Exists(context.Context, string, string, string) (Result, error) { return Result{}, nil }

// GRPCChecker calls the invoice service over gRPC with the JSON codec.
type GRPCChecker struct {
	conn     grpc.ClientConnInterface
	closer   func() error
	timeout  time.Duration
	failOpen bool
	logger   *slog.Logger
}

// New returns Nop when cfg.Addr is empty, otherwise a GRPCChecker dialled to cfg.Addr.
func New(cfg common.InvoicesConfig, logger *slog.Logger) (Checker, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return Nop{}, nil
	}
	return Dial(cfg.Addr, cfg.Timeout, cfg.FailOpen, logger)
}

func Dial(addr string, timeout time.Duration, failOpen bool, logger *slog.Logger) (*GRPCChecker, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(rpc.CallJSON()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial invoice service %s: %w", addr, err)
	}
	c := NewGRPCChecker(conn, timeout, failOpen, logger)
	c.closer = conn.Close
	return c, nil
}

func NewGRPCChecker(conn grpc.ClientConnInterface, timeout time.Duration, failOpen bool, logger *slog.Logger) *GRPCChecker {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &GRPCChecker{conn: conn, timeout: timeout, failOpen: failOpen, logger: logger}
}

// Exists returns the service's answer. When the call fails and the checker fails open, the
// error is logged and the invoice is reported as not existing.
func (c *GRPCChecker) Exists(ctx context.Context, invoiceNumber, documentType, tenantID string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := &ExistsRequest{InvoiceNumber: invoiceNumber, DocumentType: documentType, TenantID: tenantID}
	var out Result
	start := time.Now()
	if err := c.conn.Invoke(ctx, ExistsMethod, req, &out, rpc.CallJSON()); err != nil {
		if c.failOpen {
			c.logger.Warn("duplicates.check.failed_open",
				"tenant_id", tenantID,
				"invoice_number", invoiceNumber,
				"error", err,
				"elapsed_ms", time.Since(start).Milliseconds(),
			)
			return Result{}, nil
		}
		return Result{}, common.UnexpectedError("duplicate check unavailable", err)
	}
	c.logger.Debug("duplicates.check",
		"tenant_id", tenantID,
		"invoice_number", invoiceNumber,
		"exists", out.Exists,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}

func (c *GRPCChecker) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer()
}
