package nft

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"casino-tx-relay/internal/models"
)

// EncodeMetadata renders the ERC-721 metadata document.
func EncodeMetadata(m models.Metadata) ([]byte, error) {
	if m.Attributes == nil {
		m.Attributes = []models.Attribute{}
	}
	doc, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return doc, nil
}

// DataURI embeds a metadata document directly in the token URI, so minting
// never depends on external storage being reachable.
func DataURI(doc []byte) string {
	return "data:application/json;base64," + base64.StdEncoding.EncodeToString(doc)
}
