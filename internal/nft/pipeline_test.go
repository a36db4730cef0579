package nft

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"casino-tx-relay/internal/models"
)

func sampleMeta() models.Metadata {
	return models.Metadata{
		Name:        "Roulette Win #12",
		Description: "Commemorative round",
		Attributes: []models.Attribute{
			{TraitType: "game", Value: "roulette"},
			{TraitType: "payout", Value: 7.5},
		},
	}
}

func TestDataURIRoundTrip(t *testing.T) {
	doc, err := EncodeMetadata(sampleMeta())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	uri := DataURI(doc)

	const prefix = "data:application/json;base64,"
	if !strings.HasPrefix(uri, prefix) {
		t.Fatalf("unexpected uri prefix: %s", uri)
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(uri, prefix))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	var m models.Metadata
	if err := json.Unmarshal(decoded, &m); err != nil {
		t.Fatalf("unmarshal embedded metadata: %v", err)
	}
	if m.Name != "Roulette Win #12" || len(m.Attributes) != 2 {
		t.Fatalf("metadata lost in round trip: %+v", m)
	}
}

func encodedSnapshot(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 30, B: 30, A: 255})
		}
	}
	buf := &bytes.Buffer{}
	if err := png.Encode(buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestProcessSnapshotFitsAndReencodes(t *testing.T) {
	out, err := ProcessSnapshot("data:image/png;base64,"+encodedSnapshot(t, 64, 32), 16, 1<<20)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("output not png: %v", err)
	}
	if img.Bounds().Dx() != 16 || img.Bounds().Dy() != 8 {
		t.Fatalf("expected 16x8 fit, got %dx%d", img.Bounds().Dx(), img.Bounds().Dy())
	}
}

func TestProcessSnapshotRejectsOversize(t *testing.T) {
	if _, err := ProcessSnapshot(encodedSnapshot(t, 64, 64), 16, 10); err == nil {
		t.Fatalf("expected size limit error")
	}
}

type fakePublisher struct {
	objects map[string][]byte
	fail    bool
}

func (f *fakePublisher) Put(_ context.Context, key, _ string, body []byte) (string, error) {
	if f.fail {
		return "", errors.New("bucket unavailable")
	}
	if f.objects == nil {
		f.objects = make(map[string][]byte)
	}
	f.objects[key] = body
	return "https://cdn.example/" + key, nil
}

func TestTokenURIPublishes(t *testing.T) {
	pub := &fakePublisher{}
	p := NewPipeline(pub, 16, 1<<20, zerolog.Nop())

	meta := sampleMeta()
	uri, err := p.TokenURI(context.Background(), models.MintPayload{
		Player:   "0x90F79bf6EB2c4f870365E785982E1f101E93b906",
		Metadata: &meta,
		Snapshot: encodedSnapshot(t, 32, 32),
	})
	if err != nil {
		t.Fatalf("token uri: %v", err)
	}
	if !strings.HasPrefix(uri, "https://cdn.example/nft/") || !strings.HasSuffix(uri, ".json") {
		t.Fatalf("unexpected uri %s", uri)
	}
	if len(pub.objects) != 2 {
		t.Fatalf("expected snapshot and metadata uploads, got %d objects", len(pub.objects))
	}

	// The uploaded metadata must reference the uploaded image.
	for key, body := range pub.objects {
		if strings.HasSuffix(key, ".json") {
			var m models.Metadata
			if err := json.Unmarshal(body, &m); err != nil {
				t.Fatalf("uploaded metadata invalid: %v", err)
			}
			if !strings.HasSuffix(m.Image, ".png") {
				t.Fatalf("metadata image not wired: %q", m.Image)
			}
		}
	}
}

func TestTokenURIFallsBackToDataURI(t *testing.T) {
	meta := sampleMeta()
	payload := models.MintPayload{Player: "0x90F79bf6EB2c4f870365E785982E1f101E93b906", Metadata: &meta}

	// No publisher at all.
	p := NewPipeline(nil, 0, 0, zerolog.Nop())
	uri, err := p.TokenURI(context.Background(), payload)
	if err != nil {
		t.Fatalf("token uri: %v", err)
	}
	if !strings.HasPrefix(uri, "data:application/json;base64,") {
		t.Fatalf("expected data uri, got %s", uri)
	}

	// Publisher configured but failing: mint still proceeds on a data URI.
	p = NewPipeline(&fakePublisher{fail: true}, 0, 0, zerolog.Nop())
	uri, err = p.TokenURI(context.Background(), payload)
	if err != nil {
		t.Fatalf("token uri with failing publisher: %v", err)
	}
	if !strings.HasPrefix(uri, "data:application/json;base64,") {
		t.Fatalf("expected data uri fallback, got %s", uri)
	}
}

func TestTokenURIExplicitWins(t *testing.T) {
	meta := sampleMeta()
	p := NewPipeline(&fakePublisher{}, 0, 0, zerolog.Nop())
	uri, err := p.TokenURI(context.Background(), models.MintPayload{
		Player:   "0x90F79bf6EB2c4f870365E785982E1f101E93b906",
		Metadata: &meta,
		TokenURI: "ipfs://QmExplicit",
	})
	if err != nil {
		t.Fatalf("token uri: %v", err)
	}
	if uri != "ipfs://QmExplicit" {
		t.Fatalf("explicit uri not honored: %s", uri)
	}
}
