package mlsengine

const appMessageKDFInfo = "mdk-application-message"

// deriveMessageKey derives a per-epoch AEAD key for application
// messages from the group's epoch secret.
func deriveMessageKey(epochSecret []byte) []byte {
	return HKDFExpand(epochSecret, nil, []byte(appMessageKDFInfo), AESKeySize)
}

// EncryptApplicationMessage AEAD-encrypts plaintext under gs's current
// epoch secret. aad is bound into the ciphertext (the message pipeline
// passes the enclosing event's nostr_group_id).
func EncryptApplicationMessage(gs *GroupState, plaintext, aad []byte) (nonce, ciphertext []byte, err error) {
	key := deriveMessageKey(gs.EpochSecret)
	return AEADEncrypt(key, aad, plaintext)
}

// DecryptApplicationMessage reverses EncryptApplicationMessage against
// the epoch secret carried by the caller's chosen group state (the
// current epoch, or a restored snapshot epoch during rollback).
func DecryptApplicationMessage(epochSecret, nonce, aad, ciphertext []byte) ([]byte, error) {
	key := deriveMessageKey(epochSecret)
	return AEADDecrypt(key, nonce, aad, ciphertext)
}
