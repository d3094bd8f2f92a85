// Package media implements the AAD-bound media re-key pipeline: upload
// derives a per-artifact key from the current epoch's exporter secret
// and AEAD-encrypts the processed bytes; download resolves the
// encrypting epoch via the IMETA epoch-hint, decrypts, and verifies the
// original hash.
package media

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"image"
	"io"

	"github.com/buckket/go-blurhash"
	"github.com/minio/minio-go/v7"

	"github.com/suhailsaqan/mdk/mdkerr"
	"github.com/suhailsaqan/mdk/mlsengine"
	"github.com/suhailsaqan/mdk/storage"
)

// RejectedSchemes lists media scheme versions that MUST fail outright:
// mip04-v1 lacked per-message nonces, risking nonce reuse.
var RejectedSchemes = map[string]bool{
	"mip04-v1": true,
}

// SchemeVersion is the only media scheme Upload emits and Download
// accepts; any other value fails with UnknownSchemeVersion.
const SchemeVersion = "mip04-v2"

// UploadRequest is the caller-supplied input to Upload.
type UploadRequest struct {
	Data          []byte
	MimeType      string
	Filename      string
	SchemeVersion string
	StripEXIF     bool
}

// UploadResult is persisted as a storage.MediaReference and published
// as an IMETA tag.
type UploadResult struct {
	Reference storage.MediaReference
	Objects   []byte // encrypted bytes persisted to the object store
}

func deriveKey(exporterSecret []byte, schemeVersion string, originalHash [32]byte, mimeType, filename string) []byte {
	info := bytes.Join([][]byte{[]byte(schemeVersion), originalHash[:], []byte(mimeType), []byte(filename)}, []byte{0})
	return mlsengine.HKDFExpand(exporterSecret, nil, info, mlsengine.AESKeySize)
}

func aad(schemeVersion string, originalHash [32]byte, mimeType, filename string) []byte {
	return bytes.Join([][]byte{[]byte(schemeVersion), originalHash[:], []byte(mimeType), []byte(filename)}, []byte{0})
}

// Upload runs the full upload path: content-sniff, hash, derive key
// from the current epoch's exporter secret, AEAD-encrypt, and compute
// an optional blurhash for still images.
func Upload(currentEpochSecret []byte, currentEpoch uint64, req UploadRequest) (*UploadResult, error) {
	if RejectedSchemes[req.SchemeVersion] || req.SchemeVersion != SchemeVersion {
		return nil, mdkerr.UnknownSchemeVersion(req.SchemeVersion)
	}

	processed := req.Data
	if _, _, err := verifyMimeType(processed, req.MimeType); err != nil {
		return nil, mdkerr.Wrap(mdkerr.KindDecryptionFailed, "mime type verification", err)
	}

	hash := sha256.Sum256(processed)
	key := deriveKey(currentEpochSecret, req.SchemeVersion, hash, req.MimeType, req.Filename)
	nonce, ciphertext, err := mlsengine.AEADEncrypt(key, aad(req.SchemeVersion, hash, req.MimeType, req.Filename), processed)
	if err != nil {
		return nil, mdkerr.Wrap(mdkerr.KindDecryptionFailed, "encrypt media", err)
	}

	ref := storage.MediaReference{
		OriginalHash:  hash,
		MimeType:      req.MimeType,
		Filename:      req.Filename,
		SchemeVersion: req.SchemeVersion,
	}
	copy(ref.Nonce[:], nonce)

	if cfg, _, err := image.DecodeConfig(bytes.NewReader(processed)); err == nil {
		ref.Width, ref.Height = cfg.Width, cfg.Height
		if img, _, err := image.Decode(bytes.NewReader(processed)); err == nil {
			if bh, err := blurhash.Encode(4, 3, img); err == nil {
				ref.Blurhash = bh
			}
		}
	}

	return &UploadResult{Reference: ref, Objects: ciphertext}, nil
}

// ExporterSecretLookup resolves the exporter secret persisted for a
// given group and epoch; both the hinted-epoch attempt and the
// current-epoch fallback go through this.
type ExporterSecretLookup func(ctx context.Context, epoch uint64) ([]byte, bool, error)

// Download runs the full download path: resolve the encrypting epoch
// via the epoch hint, derive the key, decrypt, and verify the hash.
// currentEpoch is used for the fallback arm when the hinted epoch's
// secret is unavailable or decryption under it fails.
func Download(ctx context.Context, ref storage.MediaReference, ciphertext []byte, hintedEpoch, currentEpoch uint64, lookup ExporterSecretLookup) ([]byte, error) {
	if RejectedSchemes[ref.SchemeVersion] || ref.SchemeVersion != SchemeVersion {
		return nil, mdkerr.UnknownSchemeVersion(ref.SchemeVersion)
	}

	plaintext, err := tryDecrypt(ctx, ref, ciphertext, hintedEpoch, lookup)
	if err == nil {
		return plaintext, nil
	}

	var merr *mdkerr.Error
	isFallbackEligible := false
	if e, ok := err.(*mdkerr.Error); ok {
		merr = e
		isFallbackEligible = merr.Kind == mdkerr.KindNoExporterSecretForEpoch || merr.Kind == mdkerr.KindDecryptionFailed
	}
	if !isFallbackEligible || hintedEpoch == currentEpoch {
		return nil, err
	}
	return tryDecrypt(ctx, ref, ciphertext, currentEpoch, lookup)
}

func tryDecrypt(ctx context.Context, ref storage.MediaReference, ciphertext []byte, epoch uint64, lookup ExporterSecretLookup) ([]byte, error) {
	secret, ok, err := lookup(ctx, epoch)
	if err != nil {
		return nil, mdkerr.Wrap(mdkerr.KindNoExporterSecretForEpoch, "lookup exporter secret", err)
	}
	if !ok {
		return nil, mdkerr.NoExporterSecretForEpoch(epoch)
	}
	key := deriveKey(secret, ref.SchemeVersion, ref.OriginalHash, ref.MimeType, ref.Filename)
	plaintext, err := mlsengine.AEADDecrypt(key, ref.Nonce[:], aad(ref.SchemeVersion, ref.OriginalHash, ref.MimeType, ref.Filename), ciphertext)
	if err != nil {
		return nil, mdkerr.DecryptionFailed(err.Error())
	}
	if sha256.Sum256(plaintext) != ref.OriginalHash {
		return nil, mdkerr.HashVerificationFailed()
	}
	return plaintext, nil
}

// ObjectStore is the minio-backed blob store for encrypted media
// artifacts; MediaReference.URL is an opaque pointer into it.
type ObjectStore struct {
	client *minio.Client
	bucket string
}

// NewObjectStore wraps an already-constructed minio client.
func NewObjectStore(client *minio.Client, bucket string) *ObjectStore {
	return &ObjectStore{client: client, bucket: bucket}
}

// Put uploads ciphertext under objectKey and returns the URL to record
// in the MediaReference.
func (s *ObjectStore) Put(ctx context.Context, objectKey string, ciphertext []byte, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, s.bucket, objectKey, bytes.NewReader(ciphertext), int64(len(ciphertext)), minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("put media object: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, objectKey), nil
}

// Get fetches the ciphertext previously stored under objectKey.
func (s *ObjectStore) Get(ctx context.Context, objectKey string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get media object: %w", err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read media object: %w", err)
	}
	return data, nil
}
