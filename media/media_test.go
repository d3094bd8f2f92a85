package media

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/suhailsaqan/mdk/mdkerr"
)

func samplePNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 60), G: uint8(y * 60), B: 100, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestUploadRejectsKnownBadScheme(t *testing.T) {
	_, err := Upload(make([]byte, 32), 0, UploadRequest{Data: samplePNG(t), MimeType: "image/png", SchemeVersion: "mip04-v1"})
	if err == nil {
		t.Fatal("expected rejection of mip04-v1")
	}
	if e, ok := err.(*mdkerr.Error); !ok || e.Kind != mdkerr.KindUnknownSchemeVersion {
		t.Fatalf("expected KindUnknownSchemeVersion, got %v", err)
	}
}

func TestUploadDownloadRoundtrip(t *testing.T) {
	secret := bytes.Repeat([]byte{7}, 32)
	data := samplePNG(t)

	result, err := Upload(secret, 3, UploadRequest{Data: data, MimeType: "image/png", Filename: "a.png", SchemeVersion: "mip04-v2"})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if result.Reference.Width != 4 || result.Reference.Height != 4 {
		t.Errorf("dimensions = %dx%d, want 4x4", result.Reference.Width, result.Reference.Height)
	}

	lookup := func(ctx context.Context, epoch uint64) ([]byte, bool, error) {
		if epoch == 3 {
			return secret, true, nil
		}
		return nil, false, nil
	}
	plaintext, err := Download(context.Background(), result.Reference, result.Objects, 3, 3, lookup)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if !bytes.Equal(plaintext, data) {
		t.Error("round-tripped plaintext does not match original")
	}
}

func TestDownloadFallsBackToCurrentEpoch(t *testing.T) {
	secretOld := bytes.Repeat([]byte{1}, 32)
	secretNew := bytes.Repeat([]byte{2}, 32)
	data := samplePNG(t)

	result, err := Upload(secretNew, 5, UploadRequest{Data: data, MimeType: "image/png", Filename: "b.png", SchemeVersion: "mip04-v2"})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	lookup := func(ctx context.Context, epoch uint64) ([]byte, bool, error) {
		switch epoch {
		case 2:
			return secretOld, true, nil
		case 5:
			return secretNew, true, nil
		}
		return nil, false, nil
	}
	// Hint points at the wrong (stale) epoch; fallback to current (5)
	// must still recover the plaintext.
	plaintext, err := Download(context.Background(), result.Reference, result.Objects, 2, 5, lookup)
	if err != nil {
		t.Fatalf("Download with fallback: %v", err)
	}
	if !bytes.Equal(plaintext, data) {
		t.Error("fallback round-trip mismatch")
	}
}

func TestDownloadDetectsTamperedCiphertext(t *testing.T) {
	secret := bytes.Repeat([]byte{9}, 32)
	data := samplePNG(t)
	result, err := Upload(secret, 1, UploadRequest{Data: data, MimeType: "image/png", Filename: "c.png", SchemeVersion: "mip04-v2"})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	tampered := append([]byte(nil), result.Objects...)
	tampered[0] ^= 0xFF

	lookup := func(ctx context.Context, epoch uint64) ([]byte, bool, error) { return secret, true, nil }
	if _, err := Download(context.Background(), result.Reference, tampered, 1, 1, lookup); err == nil {
		t.Fatal("expected tampered ciphertext to fail decryption")
	}
}
