/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package report

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/veraison/go-cose"
)

var ErrKeyMismatch = errors.New("report was signed with a different key")

// Signer produces COSE_Sign1 envelopes around encoded reports.
type Signer struct {
	key    *ecdsa.PrivateKey
	signer cose.Signer
	kid    []byte
}

func NewSigner(key *ecdsa.PrivateKey) (*Signer, error) {
	signer, err := cose.NewSigner(cose.AlgorithmES256, key)
	if err != nil {
		return nil, fmt.Errorf("create signer: %w", err)
	}
	kid, err := KeyID(&key.PublicKey)
	if err != nil {
		return nil, err
	}
	return &Signer{key: key, signer: signer, kid: kid}, nil
}

// KeyID is the SHA-256 digest of the PKIX encoding of pub.
func KeyID(pub *ecdsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	sum := sha256.Sum256(der)
	return sum[:], nil
}

func (s *Signer) KeyID() []byte {
	return bytes.Clone(s.kid)
}

func (s *Signer) PublicKey() *ecdsa.PublicKey {
	return &s.key.PublicKey
}

// Sign encodes r and signs it as a tagged COSE_Sign1 message.
func (s *Signer) Sign(r *Report) ([]byte, error) {
	payload, err := r.Encode()
	if err != nil {
		return nil, err
	}

	headers := cose.Headers{
		Protected: cose.ProtectedHeader{
			cose.HeaderLabelAlgorithm:   cose.AlgorithmES256,
			cose.HeaderLabelContentType: MediaTypeCBOR,
		},
		Unprotected: cose.UnprotectedHeader{
			cose.HeaderLabelKeyID: s.kid,
		},
	}

	signed, err := cose.Sign1(rand.Reader, s.signer, headers, payload, nil)
	if err != nil {
		return nil, fmt.Errorf("sign report: %w", err)
	}
	return signed, nil
}

// Verify checks a COSE_Sign1 report against pub and returns the report.
func Verify(raw []byte, pub *ecdsa.PublicKey) (*Report, error) {
	verifier, err := cose.NewVerifier(cose.AlgorithmES256, pub)
	if err != nil {
		return nil, fmt.Errorf("init verifier: %w", err)
	}

	var msg cose.Sign1Message
	if err := msg.UnmarshalCBOR(raw); err != nil {
		return nil, fmt.Errorf("parse COSE_Sign1: %w", err)
	}

	if kid, ok := msg.Headers.Unprotected[cose.HeaderLabelKeyID].([]byte); ok {
		want, err := KeyID(pub)
		if err != nil {
			return nil, err
		}
		if !bytes.Equal(kid, want) {
			return nil, ErrKeyMismatch
		}
	}

	if err := msg.Verify(nil, verifier); err != nil {
		return nil, fmt.Errorf("sign1 verification: %w", err)
	}
	return Decode(msg.Payload)
}

// EncodePublicKey renders pub as a PEM "PUBLIC KEY" block.
func EncodePublicKey(pub *ecdsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// ParsePublicKey reads the PEM form produced by EncodePublicKey.
func ParsePublicKey(data []byte) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "PUBLIC KEY" {
		return nil, errors.New("report key: no PUBLIC KEY block found")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("report key: %w", err)
	}
	ecKey, ok := key.(*ecdsa.PublicKey)
	if !ok || ecKey.Curve != elliptic.P256() {
		return nil, errors.New("report key: not a P-256 key")
	}
	return ecKey, nil
}

// LoadOrGenerateSigningKey reads a PEM encoded EC private key from path.
// A missing file is created with a fresh P-256 key; an empty path yields
// an ephemeral key that is not stored.
func LoadOrGenerateSigningKey(path string) (*ecdsa.PrivateKey, error) {
	if path == "" {
		return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return generateSigningKey(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read signing key: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("signing key %s: no PEM block found", path)
	}
	switch block.Type {
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("signing key %s: %w", path, err)
		}
		ecKey, ok := key.(*ecdsa.PrivateKey)
		if !ok || ecKey.Curve != elliptic.P256() {
			return nil, fmt.Errorf("signing key %s: not a P-256 key", path)
		}
		return ecKey, nil
	default:
		return nil, fmt.Errorf("signing key %s: unsupported PEM type %q", path, block.Type)
	}
}

func generateSigningKey(path string) (*ecdsa.PrivateKey, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("marshal signing key: %w", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})
	if err := os.WriteFile(path, pemBytes, 0o600); err != nil {
		return nil, fmt.Errorf("write signing key: %w", err)
	}
	return key, nil
}
