package agents

import (
	"context"
	"encoding/json"
)

// Decrypter recovers the credential map from the stored credential blob.
type Decrypter interface {
	Decrypt(ctx context.Context, raw json.RawMessage) (map[string]any, error)
}

// PlainDecrypter treats the blob as already-decrypted JSON.
type PlainDecrypter struct{}

func (PlainDecrypter) Decrypt(_ context.Context, raw json.RawMessage) (map[string]any, error) {
	return DecodeCredentials(raw)
}
