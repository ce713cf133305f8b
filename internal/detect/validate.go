package detect

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"
)

const (
	// minImageBytes rejects payloads too small to be a real encoded frame.
	minImageBytes = 100
	maxImageBytes = 10 << 20
)

var dataURLPrefixRe = regexp.MustCompile(`^data:image/[a-z]+;base64,`)

// DecodeImagePayload validates and decodes a base64 image payload as
// received from clients. An optional data-URL prefix is stripped; the rest
// must be valid base64 decoding to a plausibly sized image.
func DecodeImagePayload(payload string) ([]byte, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidImage)
	}

	payload = dataURLPrefixRe.ReplaceAllString(payload, "")

	// Accept both padded and unpadded encodings.
	raw, err := base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
	if err != nil {
		return nil, fmt.Errorf("%w: not base64", ErrInvalidImage)
	}

	if len(raw) < minImageBytes {
		return nil, fmt.Errorf("%w: %d bytes is below the %d byte minimum", ErrInvalidImage, len(raw), minImageBytes)
	}
	if len(raw) > maxImageBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds the %d byte limit", ErrInvalidImage, len(raw), maxImageBytes)
	}
	return raw, nil
}
