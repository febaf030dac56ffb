package palace

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// InlineLimit is the largest decoded payload kept inline in the record
// document as a data URL. Anything larger goes to the blob store.
const InlineLimit = 2 << 20

// EncodeDataURL wraps raw payload bytes as a base64 data URL.
func EncodeDataURL(contentType string, data []byte) string {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// DecodeDataURL extracts the content type and raw payload from a
// base64 data URL.
func DecodeDataURL(s string) (contentType string, data []byte, err error) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return "", nil, fmt.Errorf("not a data URL")
	}
	header, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, fmt.Errorf("malformed data URL: missing payload")
	}
	contentType, _ = strings.CutSuffix(header, ";base64")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	data, err = base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("decoding data URL payload: %w", err)
	}
	return contentType, data, nil
}
