package nft

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/disintegration/imaging"
)

// ProcessSnapshot decodes a client-captured outcome snapshot (base64 PNG or
// JPEG, with or without a data-URI prefix), fits it into an edge×edge box,
// and re-encodes it as PNG.
func ProcessSnapshot(encoded string, edge int, maxBytes int64) ([]byte, error) {
	if idx := strings.Index(encoded, ";base64,"); idx >= 0 {
		encoded = encoded[idx+len(";base64,"):]
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if maxBytes > 0 && int64(len(raw)) > maxBytes {
		return nil, fmt.Errorf("snapshot is %d bytes, limit %d", len(raw), maxBytes)
	}

	img, err := imaging.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode snapshot image: %w", err)
	}
	if edge > 0 {
		img = imaging.Fit(img, edge, edge, imaging.Lanczos)
	}

	buf := &bytes.Buffer{}
	if err := imaging.Encode(buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return buf.Bytes(), nil
}
