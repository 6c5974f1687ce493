package constants

import "strings"

// DocumentType is the commercial document kind declared on submission.
type DocumentType string

const (
	DocumentTypeInvoice      DocumentType = "invoice"
	DocumentTypeDeliveryNote DocumentType = "delivery_note"
)

// AllowedMimeTypes holds the content types the extraction vendors accept.
var AllowedMimeTypes = map[string]struct{}{
	"application/pdf": {},
	"image/jpeg":      {},
	"image/png":       {},
	"image/tiff":      {},
	"image/bmp":       {},
	"image/heif":      {},
}

// MaxUploadBytes caps a single submitted file.
const MaxUploadBytes = 20 * 1024 * 1024

// NormalizeMimeType lowercases and drops parameters ("; charset=...").
func NormalizeMimeType(mt string) string {
	mt = strings.ToLower(strings.TrimSpace(mt))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	if mt == "image/jpg" {
		return "image/jpeg"
	}
	return mt
}

// MimeAllowed reports whether mt (after normalization) can be analyzed.
func MimeAllowed(mt string) bool {
	_, ok := AllowedMimeTypes[NormalizeMimeType(mt)]
	return ok
}

// NormalizeDocumentType maps loose labels onto a DocumentType; unknown labels pass through lowercased.
func NormalizeDocumentType(s string) DocumentType {
	v := strings.ToLower(strings.TrimSpace(s))
	switch v {
	case "":
		return ""
	case "invoice", "factura", "bill":
		return DocumentTypeInvoice
	case "delivery_note", "delivery-note", "deliverynote", "albaran", "albarán":
		return DocumentTypeDeliveryNote
	}
	return DocumentType(v)
}
