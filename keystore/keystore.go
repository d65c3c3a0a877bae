// Package keystore loads and stores the RSA keypairs that act as
// identities: the PKIX-encoded public key bytes are the account
// identifier everywhere in the system.
package keystore

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
)

const keyBits = 2048

const (
	privatePEMType = "PRIVATE KEY"
	publicPEMType  = "PUBLIC KEY"
)

// Pair holds one identity: the signing key plus the encoded public key
// bytes that peers and the ledger use to refer to it.
type Pair struct {
	Private *rsa.PrivateKey
	Public  *rsa.PublicKey
	DER     []byte
}

// Generate creates a fresh RSA identity.
func Generate() (*Pair, error) {
	key, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return nil, fmt.Errorf("keystore: generate: %w", err)
	}
	return pairFromPrivate(key)
}

func pairFromPrivate(key *rsa.PrivateKey) (*Pair, error) {
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("keystore: encode public key: %w", err)
	}
	return &Pair{
		Private: key,
		Public:  &key.PublicKey,
		DER:     der,
	}, nil
}

// Save writes the private key (PKCS8) and public key (PKIX) as PEM files.
func (p *Pair) Save(privatePath, publicPath string) error {
	priv, err := x509.MarshalPKCS8PrivateKey(p.Private)
	if err != nil {
		return fmt.Errorf("keystore: encode private key: %w", err)
	}
	if err := writePEM(privatePath, privatePEMType, priv, 0o600); err != nil {
		return err
	}
	return p.SavePublic(publicPath)
}

// SavePublic writes only the public half, the file peers load to verify
// this identity's signatures.
func (p *Pair) SavePublic(path string) error {
	return writePEM(path, publicPEMType, p.DER, 0o644)
}

func writePEM(path, blockType string, der []byte, mode os.FileMode) error {
	data := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	if err := os.WriteFile(path, data, mode); err != nil {
		return fmt.Errorf("keystore: write %s: %w", path, err)
	}
	return nil
}

// Load reads a PEM private key file and rebuilds the full identity.
func Load(privatePath string) (*Pair, error) {
	block, err := readPEM(privatePath, privatePEMType)
	if err != nil {
		return nil, err
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("keystore: parse %s: %w", privatePath, err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("keystore: %s is not an RSA key", privatePath)
	}
	return pairFromPrivate(key)
}

// LoadPublic reads a PEM public key file, e.g. a peer identity or the
// server verification key.
func LoadPublic(path string) (*rsa.PublicKey, error) {
	block, err := readPEM(path, publicPEMType)
	if err != nil {
		return nil, err
	}
	return ParsePublic(block.Bytes)
}

// LoadPublicDER reads a PEM public key file and returns the raw PKIX
// bytes, the form requests carry on the wire.
func LoadPublicDER(path string) ([]byte, error) {
	block, err := readPEM(path, publicPEMType)
	if err != nil {
		return nil, err
	}
	return block.Bytes, nil
}

func readPEM(path, blockType string) (*pem.Block, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("keystore: read %s: %w", path, err)
	}
	block, _ := pem.Decode(data)
	if block == nil || block.Type != blockType {
		return nil, fmt.Errorf("keystore: %s: expected %q PEM block", path, blockType)
	}
	return block, nil
}

// ParsePublic decodes PKIX public key bytes as carried inside requests.
func ParsePublic(der []byte) (*rsa.PublicKey, error) {
	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("keystore: parse public key: %w", err)
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("keystore: not an RSA public key")
	}
	return key, nil
}
