package nft

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"casino-tx-relay/internal/models"
)

// Pipeline turns a mint payload into the token URI baked into the NFT.
// With a publisher configured it uploads the snapshot thumbnail and the
// metadata JSON; without one (or when uploads fail) it falls back to an
// inline data URI, so the mint itself never blocks on storage.
type Pipeline struct {
	pub      Publisher
	edge     int
	maxBytes int64
	log      zerolog.Logger
}

// NewPipeline builds a pipeline. pub may be nil (data-URI only mode).
func NewPipeline(pub Publisher, edge int, maxBytes int64, log zerolog.Logger) *Pipeline {
	if edge <= 0 {
		edge = 512
	}
	return &Pipeline{pub: pub, edge: edge, maxBytes: maxBytes, log: log}
}

// TokenURI resolves the URI for one mint. An explicit payload URI wins.
func (p *Pipeline) TokenURI(ctx context.Context, mp models.MintPayload) (string, error) {
	if mp.TokenURI != "" {
		return mp.TokenURI, nil
	}

	meta := *mp.Metadata
	assetID := uuid.New().String()

	if mp.Snapshot != "" && p.pub != nil {
		img, err := ProcessSnapshot(mp.Snapshot, p.edge, p.maxBytes)
		if err != nil {
			p.log.Warn().Err(err).Msg("snapshot unusable, minting without image upload")
		} else if url, err := p.pub.Put(ctx, fmt.Sprintf("nft/%s.png", assetID), "image/png", img); err != nil {
			p.log.Warn().Err(err).Msg("snapshot upload failed")
		} else {
			meta.Image = url
		}
	}

	doc, err := EncodeMetadata(meta)
	if err != nil {
		return "", err
	}

	if p.pub != nil {
		url, err := p.pub.Put(ctx, fmt.Sprintf("nft/%s.json", assetID), "application/json", doc)
		if err == nil {
			return url, nil
		}
		p.log.Warn().Err(err).Msg("metadata upload failed, falling back to data uri")
	}
	return DataURI(doc), nil
}
