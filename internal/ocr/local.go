package ocr

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/ledongthuc/pdf"

	"grocery-backend/internal/shared/storage/object"
)

// LocalCapability implements Capability for local development without AWS.
// PDF text is pulled with github.com/ledongthuc/pdf; plain-text objects are
// passed through. Image formats need a real OCR backend and are rejected.
type LocalCapability struct {
	Store object.Store
}

// NewLocal constructs a store-backed local OCR capability.
func NewLocal(store object.Store) *LocalCapability {
	return &LocalCapability{Store: store}
}

// ExtractText reads the object from the store and extracts its text.
func (l *LocalCapability) ExtractText(ctx context.Context, loc object.Locator, kind string) (string, error) {
	body, err := l.Store.Open(ctx, loc)
	if err != nil {
		return "", fmt.Errorf("local ocr open bucket=%s key=%s: %w", loc.Bucket, loc.Key, err)
	}
	defer body.Close()

	raw, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("local ocr read bucket=%s key=%s: %w", loc.Bucket, loc.Key, err)
	}

	switch kind {
	case "pdf":
		return extractPDF(raw)
	case "txt":
		return string(raw), nil
	default:
		return "", fmt.Errorf("local ocr kind=%s: %w", kind, ErrUnsupportedKind)
	}
}

func extractPDF(data []byte) (string, error) {
	reader := bytes.NewReader(data)
	pdfReader, err := pdf.NewReader(reader, int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	plain, err := pdfReader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	return buf.String(), nil
}

var _ Capability = (*LocalCapability)(nil)
