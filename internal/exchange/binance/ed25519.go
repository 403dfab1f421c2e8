package binance

import (
	"bytes"
	"crypto/ed25519"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"os"

	"trady/internal/core"
)

// LoadPrivateKey reads an Ed25519 signing key. The file may hold a PKCS#8 PEM block,
// the base64 of the 64-byte key, or the 64 raw bytes.
func LoadPrivateKey(path string) (ed25519.PrivateKey, error) {
	if path == "" {
		return nil, core.NewConfigurationError("binance private_key_path required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, core.NewConfigurationError("read binance private key: %v", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, core.NewConfigurationError("binance private key %s is empty", path)
	}
	if block, _ := pem.Decode(data); block != nil {
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, core.NewConfigurationError("parse binance private key %s: %v", path, err)
		}
		key, ok := parsed.(ed25519.PrivateKey)
		if !ok {
			return nil, core.NewConfigurationError("binance private key %s is %T, want ed25519", path, parsed)
		}
		return key, nil
	}
	if raw, err := base64.StdEncoding.DecodeString(string(data)); err == nil && len(raw) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(raw), nil
	}
	if len(data) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(data), nil
	}
	return nil, core.NewConfigurationError("binance private key %s: unsupported format", path)
}

func signEd25519(key ed25519.PrivateKey, payload string) string {
	return base64.StdEncoding.EncodeToString(ed25519.Sign(key, []byte(payload)))
}
