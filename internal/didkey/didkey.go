// Package didkey manages the device's decentralized-identity keypair:
// generated once at first boot and reused for the life of the device.
//
// Grounded on original_source/source/services/did-key.c and
// lib/key_pair.c, which generate an Ed25519 keypair via OpenSSL's EVP
// API and persist it as PEM. crypto/ed25519 is the stdlib's own
// implementation of the exact same primitive, so there is no pack
// dependency to prefer over it here.
package didkey

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
)

const (
	dirName  = "did-key"
	privName = "key"
	pubName  = "key.pub"
)

// GenerateOrLoad returns the device's Ed25519 public key, base64
// encoded with PEM headers stripped (matching the original's
// strip_pem_headers_and_footers), generating and persisting a new
// keypair under dataPath/did-key if none exists yet.
func GenerateOrLoad(dataPath string) (string, error) {
	dir := filepath.Join(dataPath, dirName)
	privPath := filepath.Join(dir, privName)
	pubPath := filepath.Join(dir, pubName)

	if pubPEM, err := os.ReadFile(pubPath); err == nil {
		return stripPEM(pubPEM)
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("didkey: creating %s: %w", dir, err)
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", fmt.Errorf("didkey: generating keypair: %w", err)
	}

	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return "", fmt.Errorf("didkey: marshaling private key: %w", err)
	}
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})
	if err := os.WriteFile(privPath, privPEM, 0o600); err != nil {
		return "", fmt.Errorf("didkey: writing %s: %w", privPath, err)
	}

	pubDER, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("didkey: marshaling public key: %w", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	if err := os.WriteFile(pubPath, pubPEM, 0o644); err != nil {
		return "", fmt.Errorf("didkey: writing %s: %w", pubPath, err)
	}

	return stripPEM(pubPEM)
}

func stripPEM(pemBytes []byte) (string, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return "", fmt.Errorf("didkey: invalid PEM public key")
	}
	return base64.StdEncoding.EncodeToString(block.Bytes), nil
}
