package mlsengine

import "encoding/base64"

// B64Encode encodes data as standard base64, the only encoding the core
// ever emits for new key packages and welcomes (see KeyPackage tag
// grammar, encoding="base64").
func B64Encode(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// B64Decode decodes standard base64, accepting both padded and raw
// forms for interop with legacy producers during ingest normalization.
func B64Decode(s string) ([]byte, error) {
	if data, err := base64.StdEncoding.DecodeString(s); err == nil {
		return data, nil
	}
	return base64.RawStdEncoding.DecodeString(s)
}
