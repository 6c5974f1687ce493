package azure

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/invoice-ingest/internal/common"
	"github.com/joseph-ayodele/invoice-ingest/internal/extract"
)

const succeededBody = `{
  "status": "succeeded",
  "analyzeResult": {
    "documents": [{
      "docType": "invoice",
      "fields": {
        "VendorName": {"type": "string", "valueString": "Suministros Norte SL", "content": "Suministros Norte SL"},
        "VendorTaxId": {"type": "string", "valueString": "ES-A12345674"},
        "CustomerName": {"type": "string", "content": "Bar Central"},
        "CustomerTaxId": {"type": "string", "valueString": "1234"},
        "InvoiceId": {"type": "string", "valueString": "F-2024-001"},
        "InvoiceDate": {"type": "date", "valueDate": "2024-03-05", "content": "05/03/2024"},
        "DeliveryDate": {"type": "date", "content": "31/02/2024"},
        "InvoiceTotal": {"type": "currency", "valueCurrency": {"amount": 1234.56, "currencyCode": "eur"}, "content": "1.234,56 €"},
        "TotalTax": {"type": "currency", "content": "214,26"},
        "Items": {"type": "array", "valueArray": [
          {"type": "object", "valueObject": {
            "Description": {"type": "string", "valueString": "Harina 25kg"},
            "ProductCode": {"type": "string", "valueString": "HR-25"},
            "Quantity": {"type": "number", "valueNumber": 2.5},
            "UnitPrice": {"type": "currency", "valueCurrency": {"amount": 3.60, "currencyCode": "EUR"}},
            "TaxRate": {"type": "string", "content": "10%"}
          }}
        ]}
      }
    }]
  }
}`

func newTestClient(srvURL string, maxRetries int) *Client {
	return NewClient(Config{
		Endpoint:     srvURL,
		APIKey:       "secret",
		PollInterval: time.Millisecond,
		Retry:        extract.RetryPolicy{MaxRetries: maxRetries, BaseBackoff: time.Millisecond},
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestAnalyzeSubmitsAndPollsUntilSucceeded(t *testing.T) {
	var polls atomic.Int32
	var submitted map[string]string

	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("Ocp-Apim-Subscription-Key"))
		switch {
		case r.Method == http.MethodPost:
			assert.Equal(t, "/documentintelligence/documentModels/prebuilt-invoice:analyze", r.URL.Path)
			assert.Equal(t, "2024-11-30", r.URL.Query().Get("api-version"))
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&submitted))
			w.Header().Set("Operation-Location", srv.URL+"/operations/op-1")
			w.WriteHeader(http.StatusAccepted)
		case r.URL.Path == "/operations/op-1":
			if polls.Add(1) < 3 {
				_, _ = w.Write([]byte(`{"status":"running"}`))
				return
			}
			_, _ = w.Write([]byte(succeededBody))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	res, err := newTestClient(srv.URL, 2).Analyze(t.Context(), []byte("%PDF"), "application/pdf", "https://blob.example/doc.pdf")
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, "https://blob.example/doc.pdf", submitted["urlSource"])
	assert.Empty(t, submitted["base64Source"])
	assert.EqualValues(t, 3, polls.Load())

	assert.Equal(t, "Suministros Norte SL", *res.Supplier.Name)
	assert.Equal(t, "A12345674", *res.Supplier.TaxID)
	assert.True(t, res.Supplier.TaxIDValid)
	assert.Equal(t, "1234", *res.Customer.TaxID)
	assert.False(t, res.Customer.TaxIDValid)
	assert.Equal(t, "F-2024-001", *res.InvoiceNumber)
	require.NotNil(t, res.InvoiceDate)
	assert.Equal(t, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), *res.InvoiceDate)
	assert.Nil(t, res.DeliveryDate, "impossible dates become nil")
	assert.Equal(t, "EUR", *res.Currency)
	assert.Equal(t, "1234.56", res.InvoiceTotal.Value.String())
	assert.Nil(t, res.TotalTax.Value)
	assert.Equal(t, "214,26", res.TotalTax.Raw)

	require.Len(t, res.Lines, 1)
	line := res.Lines[0]
	assert.Equal(t, "Harina 25kg", *line.Description)
	assert.Equal(t, "HR-25", *line.ProductCode)
	assert.Equal(t, "2.5", line.Quantity.Value.String())
	assert.Equal(t, "3.6", line.UnitPrice.Value.String())
	assert.Equal(t, "10%", *line.TaxIndicator)
	assert.False(t, line.Amount.Present())
	assert.NotEmpty(t, res.Raw)
}

func TestAnalyzeSendsInlineBytesWithoutURL(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			var body map[string]string
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "aGVsbG8=", body["base64Source"])
			w.Header().Set("Operation-Location", srv.URL+"/operations/op-2")
			w.WriteHeader(http.StatusAccepted)
			return
		}
		_, _ = w.Write([]byte(`{"status":"succeeded","analyzeResult":{"documents":[]}}`))
	}))
	defer srv.Close()

	res, err := newTestClient(srv.URL, 0).Analyze(t.Context(), []byte("hello"), "image/png", "")
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestAnalyzeGivesUpAfterMaxRateLimitRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 3).Analyze(t.Context(), []byte("x"), "application/pdf", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrExtractionService))
	assert.Contains(t, err.Error(), "rate limited")
	assert.EqualValues(t, 4, calls.Load(), "first attempt plus three retries")
}

func TestAnalyzeRetriesRateLimitedPoll(t *testing.T) {
	var polls atomic.Int32
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.Header().Set("Operation-Location", srv.URL+"/operations/op-3")
			w.WriteHeader(http.StatusAccepted)
			return
		}
		if polls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(succeededBody))
	}))
	defer srv.Close()

	res, err := newTestClient(srv.URL, 1).Analyze(t.Context(), nil, "application/pdf", "https://blob.example/a.pdf")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.EqualValues(t, 2, polls.Load())
}

func TestAnalyzeFailsOnTerminalNonSuccessStatus(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.Header().Set("Operation-Location", srv.URL+"/operations/op-4")
			w.WriteHeader(http.StatusAccepted)
			return
		}
		_, _ = w.Write([]byte(`{"status":"failed","error":{"code":"InvalidContent","message":"corrupt file"}}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 0).Analyze(t.Context(), []byte("x"), "application/pdf", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrExtractionService))
	assert.True(t, strings.Contains(err.Error(), `"failed"`))
	assert.Contains(t, err.Error(), "InvalidContent")
}

func TestAnalyzeRejectsUnexpectedSubmitStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"code":"401"}}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 0).Analyze(t.Context(), []byte("x"), "application/pdf", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrExtractionService))
	assert.Contains(t, err.Error(), "401")
}
