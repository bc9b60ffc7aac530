package storage

import (
	"context"
	"encoding/base64"
	"strings"
)

const (
	dataURLPrefix          = "data:"
	dataURLBase64Sep       = ";base64,"
	contentTypeOctetStream = "application/octet-stream"
)

// Inline encodes artifacts as data URLs. Nothing is written anywhere, which suits
// small JSON plans and tests.
type Inline struct{}

func (Inline) Put(_ context.Context, _ string, contentType string, data []byte) (string, error) {
	return DataURL(contentType, data), nil
}

// DataURL builds a base64 data URL for data.
func DataURL(contentType string, data []byte) string {
	mt := strings.TrimSpace(contentType)
	if mt == "" {
		mt = contentTypeOctetStream
	}
	return dataURLPrefix + mt + dataURLBase64Sep + base64.StdEncoding.EncodeToString(data)
}
