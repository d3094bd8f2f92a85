// Package keypackage implements the key-package module: building a
// fresh publishable key package, strictly parsing and validating one
// off the wire, and tracking handles for idempotent deletion.
package keypackage

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"

	"github.com/suhailsaqan/mdk/mdkerr"
	"github.com/suhailsaqan/mdk/mlsengine"
	"github.com/suhailsaqan/mdk/nostrkind"
)

const (
	tagProtocolVersion = "mls_protocol_version"
	tagCiphersuite     = "mls_ciphersuite"
	tagExtensions      = "mls_extensions"
	tagRelays          = "relays"
	tagProtected       = "-"
	tagClient          = "client"
	tagEncoding        = "encoding"

	protocolVersion = "1.0"
	ciphersuiteHex  = "0x0001"
	encodingBase64  = "base64"
)

// Built is the result of Build: the wire-ready envelope fields plus a
// handle for later deletion.
type Built struct {
	EncodedBody string
	Tags        []nostrkind.Tag
	Handle      []byte
}

// Build generates a fresh credential bound to identity, produces a
// KeyPackage carrying the fixed capability set, and assembles the tag
// set in the fixed wire order the spec mandates.
func Build(ks *mlsengine.Keystore, identity [32]byte, relays []string, clientID string, protected bool) (*Built, error) {
	if len(relays) == 0 {
		return nil, mdkerr.KeyPackage("at least one relay is required")
	}
	for _, r := range relays {
		if _, err := url.Parse(r); err != nil || r == "" {
			return nil, mdkerr.KeyPackage(fmt.Sprintf("invalid relay url %q", r))
		}
	}

	kp, handle, err := mlsengine.BuildKeyPackage(ks, identity)
	if err != nil {
		return nil, mdkerr.Wrap(mdkerr.KindKeyPackage, "build key package", err)
	}
	body, err := kp.Marshal()
	if err != nil {
		return nil, mdkerr.Wrap(mdkerr.KindKeyPackage, "marshal key package", err)
	}
	encoded := mlsengine.B64Encode(body)

	tags := []nostrkind.Tag{
		{tagProtocolVersion, protocolVersion},
		{tagCiphersuite, ciphersuiteHex},
		append(nostrkind.Tag{tagExtensions}, kp.Extensions...),
		append(nostrkind.Tag{tagRelays}, relays...),
	}
	if protected {
		tags = append(tags, nostrkind.Tag{tagProtected})
	}
	tags = append(tags, nostrkind.Tag{tagClient, clientID}, nostrkind.Tag{tagEncoding, encodingBase64})

	return &Built{EncodedBody: encoded, Tags: tags, Handle: handle}, nil
}

// normalizeLegacy rewrites well-known legacy tag spellings for parsing
// only; it never mutates the original event and new packages are never
// emitted in these forms.
func normalizeLegacy(version, ciphersuite, encoding, body string) (string, string, string) {
	if version == "1" {
		version = protocolVersion
	}
	if ciphersuite == "1" {
		ciphersuite = ciphersuiteHex
	}
	if encoding == "" && looksLikeHex(body) {
		encoding = encodingBase64
	}
	return version, ciphersuite, encoding
}

func looksLikeHex(s string) bool {
	if len(s) == 0 || len(s)%2 != 0 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// Parse validates the envelope's tag grammar strictly, decodes and
// cryptographically validates the carried KeyPackage, and enforces
// identity binding against the envelope author.
func Parse(event *nostrkind.Event) (*mlsengine.KeyPackagePayload, error) {
	if event.Kind != nostrkind.KindKeyPackage {
		return nil, mdkerr.UnexpectedEvent(nostrkind.KindKeyPackage.String(), event.Kind.String())
	}

	versionTag, ok := event.FirstTag(tagProtocolVersion)
	if !ok {
		return nil, mdkerr.KeyPackage("missing mls_protocol_version tag")
	}
	ciphersuiteTag, ok := event.FirstTag(tagCiphersuite)
	if !ok {
		return nil, mdkerr.KeyPackage("missing mls_ciphersuite tag")
	}
	extensionsTag, ok := event.FirstTag(tagExtensions)
	if !ok {
		return nil, mdkerr.KeyPackage("missing mls_extensions tag")
	}
	relaysTag, ok := event.FirstTag(tagRelays)
	if !ok {
		return nil, mdkerr.KeyPackage("missing relays tag")
	}
	encodingTag, hasEncoding := event.FirstTag(tagEncoding)

	version := ""
	if len(versionTag) > 1 {
		version = versionTag[1]
	}
	ciphersuite := ""
	if len(ciphersuiteTag) > 1 {
		ciphersuite = ciphersuiteTag[1]
	}
	encoding := ""
	if hasEncoding && len(encodingTag) > 1 {
		encoding = encodingTag[1]
	}
	version, ciphersuite, encoding = normalizeLegacy(version, ciphersuite, encoding, event.Content)

	if version != protocolVersion {
		return nil, mdkerr.KeyPackage(fmt.Sprintf("unsupported protocol version %q", version))
	}
	if !strings.EqualFold(ciphersuite, ciphersuiteHex) {
		return nil, mdkerr.KeyPackage(fmt.Sprintf("unsupported ciphersuite %q", ciphersuite))
	}

	required := map[string]bool{mlsengine.ExtensionLastResort: false, mlsengine.ExtensionNostrGroupData: false}
	for _, ext := range extensionsTag[1:] {
		for id := range required {
			if strings.EqualFold(ext, id) {
				required[id] = true
			}
		}
	}
	for id, seen := range required {
		if !seen {
			return nil, mdkerr.KeyPackage(fmt.Sprintf("missing required extension %s", id))
		}
	}

	relayURLs := relaysTag[1:]
	if len(relayURLs) == 0 {
		return nil, mdkerr.KeyPackage("relays tag carries no URLs")
	}
	for _, r := range relayURLs {
		if _, err := url.Parse(r); err != nil || r == "" {
			return nil, mdkerr.KeyPackage(fmt.Sprintf("invalid relay url %q", r))
		}
	}

	if encoding != encodingBase64 {
		return nil, mdkerr.KeyPackage("missing or unsupported encoding tag")
	}

	raw, err := mlsengine.B64Decode(event.Content)
	if err != nil {
		return nil, mdkerr.KeyPackage(fmt.Sprintf("base64 decode failed: %v", err))
	}
	kp, err := mlsengine.UnmarshalKeyPackage(raw)
	if err != nil {
		return nil, mdkerr.KeyPackage(fmt.Sprintf("deserialize failed: %v", err))
	}
	if err := mlsengine.ValidateKeyPackage(kp); err != nil {
		return nil, mdkerr.KeyPackage(fmt.Sprintf("cryptographic validation failed: %v", err))
	}

	if kp.Credential.Identity != event.PubKey {
		return nil, mdkerr.KeyPackageIdentityMismatch(kp.Credential.Identity[:], event.PubKey[:])
	}

	return kp, nil
}

// DeleteByHandle and Delete are idempotent no-ops at this layer: the
// caller's Storage records the key-package-hashref, and publication of
// the deletion request (kind 5) is a host transport concern.
func DeleteByHandle(handle []byte) error { return nil }

func Delete(kp *mlsengine.KeyPackagePayload) error {
	_ = mlsengine.HandleForKeyPackage(kp)
	return nil
}
