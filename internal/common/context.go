package common

import (
	"context"
)

// Context keys for storing values in context
type contextKey string

const (
	ContextKeyRequestID  contextKey = "request_id"
	ContextKeyTenantID   contextKey = "tenant_id"
	ContextKeyDocumentID contextKey = "document_id"
)

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// RequestIDFromContext extracts the request ID from context
func RequestIDFromContext(ctx context.Context) string {
	if requestID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return requestID
	}
	return ""
}

// WithDocument tags the context with the document being processed and its tenant.
func WithDocument(ctx context.Context, documentID, tenantID string) context.Context {
	ctx = context.WithValue(ctx, ContextKeyDocumentID, documentID)
	return context.WithValue(ctx, ContextKeyTenantID, tenantID)
}

// DocumentFromContext returns the document and tenant ids set by WithDocument.
func DocumentFromContext(ctx context.Context) (documentID, tenantID string) {
	documentID, _ = ctx.Value(ContextKeyDocumentID).(string)
	tenantID, _ = ctx.Value(ContextKeyTenantID).(string)
	return documentID, tenantID
}
