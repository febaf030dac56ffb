package palace

import (
	"errors"
	"strings"
	"testing"
)

func TestImageValidatePayloadInvariant(t *testing.T) {
	img := Image{ID: "img_1", DataURL: "data:image/png;base64,AAAA"}
	if err := img.Validate(); err != nil {
		t.Errorf("inline-only image should validate: %v", err)
	}

	img = Image{ID: "img_2", BlobKey: "img_123_abc"}
	if err := img.Validate(); err != nil {
		t.Errorf("blob-only image should validate: %v", err)
	}

	img = Image{ID: "img_3", DataURL: "data:x", BlobKey: "img_123_abc"}
	if err := img.Validate(); !errors.Is(err, ErrPayloadConflict) {
		t.Errorf("both payloads set: got %v, want ErrPayloadConflict", err)
	}

	img = Image{ID: "img_4"}
	if err := img.Validate(); !errors.Is(err, ErrPayloadMissing) {
		t.Errorf("no payload: got %v, want ErrPayloadMissing", err)
	}
}

func TestAnnotationValidate(t *testing.T) {
	a := Annotation{ID: "ann_1"}
	if err := a.Validate(); err != nil {
		t.Errorf("annotation without image should validate: %v", err)
	}

	a = Annotation{ID: "ann_2", ImageDataURL: "data:x", ImageBlobKey: "img_1_a"}
	if err := a.Validate(); !errors.Is(err, ErrPayloadConflict) {
		t.Errorf("both payloads set: got %v, want ErrPayloadConflict", err)
	}
}

func TestBlobKeys(t *testing.T) {
	p := Palace{
		Images: []Image{
			{ID: "img_1", BlobKey: "k1", Annotations: []Annotation{
				{ID: "ann_1", ImageBlobKey: "k2"},
				{ID: "ann_2"},
			}},
			{ID: "img_2", DataURL: "data:x"},
			{ID: "img_3", BlobKey: "k3"},
		},
	}
	keys := p.BlobKeys()
	want := []string{"k1", "k2", "k3"}
	if len(keys) != len(want) {
		t.Fatalf("got %d keys, want %d", len(keys), len(want))
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("keys[%d] = %q, want %q", i, keys[i], want[i])
		}
	}
}

func TestNewIDPrefix(t *testing.T) {
	id := NewID("palace")
	if !strings.HasPrefix(id, "palace_") {
		t.Errorf("id = %q, want palace_ prefix", id)
	}
	if id == NewID("palace") {
		t.Error("two ids should not collide")
	}
}

func TestIs360(t *testing.T) {
	tests := []struct {
		w, h int
		want bool
	}{
		{4096, 2048, true},  // exact 2:1
		{3600, 2000, true},  // 1.8
		{2300, 1000, true},  // 2.3 boundary
		{1600, 1000, false}, // 1.6
		{2400, 1000, false}, // 2.4
		{1000, 0, false},
	}
	for _, tt := range tests {
		if got := Is360(tt.w, tt.h); got != tt.want {
			t.Errorf("Is360(%d, %d) = %v, want %v", tt.w, tt.h, got, tt.want)
		}
	}
}

func TestCloneIsDeep(t *testing.T) {
	p := Palace{
		ID: "palace_1",
		Images: []Image{
			{ID: "img_1", DataURL: "data:x", Annotations: []Annotation{{ID: "ann_1", Text: "original"}}},
		},
	}
	cp := p.Clone()
	cp.Images[0].Annotations[0].Text = "changed"
	if p.Images[0].Annotations[0].Text != "original" {
		t.Error("Clone shares annotation backing array with the original")
	}
}

func TestDataURLRoundtrip(t *testing.T) {
	payload := []byte{0x89, 0x50, 0x4e, 0x47, 0x00, 0x01}
	url := EncodeDataURL("image/png", payload)
	if !strings.HasPrefix(url, "data:image/png;base64,") {
		t.Fatalf("unexpected prefix: %q", url)
	}

	ct, data, err := DecodeDataURL(url)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if ct != "image/png" {
		t.Errorf("content type = %q, want image/png", ct)
	}
	if string(data) != string(payload) {
		t.Error("payload did not round-trip")
	}
}

func TestDecodeDataURLRejectsGarbage(t *testing.T) {
	if _, _, err := DecodeDataURL("http://example.com/x.png"); err == nil {
		t.Error("expected error for non-data URL")
	}
	if _, _, err := DecodeDataURL("data:image/png;base64"); err == nil {
		t.Error("expected error for missing payload")
	}
	if _, _, err := DecodeDataURL("data:image/png;base64,!!!"); err == nil {
		t.Error("expected error for invalid base64")
	}
}
