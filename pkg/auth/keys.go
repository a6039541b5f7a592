package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
)

// GenerateKeyPair generates a new RSA key pair for JWT signing
func GenerateKeyPair(bits int) (*rsa.PrivateKey, *rsa.PublicKey, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate private key: %w", err)
	}
	return privateKey, &privateKey.PublicKey, nil
}

// SavePrivateKey saves a private key to PEM format
func SavePrivateKey(privateKey *rsa.PrivateKey, filename string) error {
	return writePEM(filename, "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(privateKey))
}

// SavePublicKey saves a public key to PEM format
func SavePublicKey(publicKey *rsa.PublicKey, filename string) error {
	return writePEM(filename, "RSA PUBLIC KEY", x509.MarshalPKCS1PublicKey(publicKey))
}

func loadPrivateKey(filename string) (*rsa.PrivateKey, error) {
	block, err := readPEM(filename)
	if err != nil {
		return nil, err
	}
	privateKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return privateKey, nil
}

func loadPublicKey(filename string) (*rsa.PublicKey, error) {
	block, err := readPEM(filename)
	if err != nil {
		return nil, err
	}
	publicKey, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	return publicKey, nil
}

func readPEM(filename string) (*pem.Block, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block in %s", filename)
	}
	return block, nil
}

func writePEM(filename, blockType string, der []byte) error {
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	data := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	return os.WriteFile(filename, data, 0600)
}
