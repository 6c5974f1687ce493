package constants

// DocumentStatus is the canonical status for rows in documents.
type DocumentStatus string

// Stable values (store these exact strings in DB).
const (
	StatusPending    DocumentStatus = "PENDING"    // created, waiting for a worker
	StatusProcessing DocumentStatus = "PROCESSING" // claimed by a worker
	StatusDone       DocumentStatus = "DONE"       // terminal, extraction persisted
	StatusFailed     DocumentStatus = "FAILED"     // terminal, see error_reason
)

// DocumentStatuses lists every status in lifecycle order.
var DocumentStatuses = []DocumentStatus{StatusPending, StatusProcessing, StatusDone, StatusFailed}

// Valid reports whether s is one of the four document statuses.
func (s DocumentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusDone, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition is expected.
func (s DocumentStatus) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// MaxErrorReasonLen bounds documents.error_reason.
const MaxErrorReasonLen = 500

// DefaultCurrency is used when the vendor does not report one.
const DefaultCurrency = "EUR"
