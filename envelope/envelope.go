// Package envelope wraps every request and response in a digital
// signature over its serialized bytes. The signature covers exactly the
// bytes transmitted; verification happens before anything in the
// message is trusted.
package envelope

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"errors"
	"fmt"
)

// Envelope is the only thing that crosses the wire: an opaque typed
// message plus an RSA-SHA256 signature over it.
type Envelope struct {
	Message   []byte `msgpack:"message"`
	Signature []byte `msgpack:"signature"`
}

// ErrVerification marks a reply whose signature did not check out or
// whose message would not decode. Callers treat it as "no response".
var ErrVerification = errors.New("envelope: verification failed")

// Sign produces an RSA-SHA256 (PKCS1v15) signature over message.
func Sign(message []byte, key *rsa.PrivateKey) ([]byte, error) {
	digest := sha256.Sum256(message)
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	if err != nil {
		return nil, fmt.Errorf("envelope: sign: %w", err)
	}
	return sig, nil
}

// Verify reports whether signature is a valid signature of message
// under key.
func Verify(message, signature []byte, key *rsa.PublicKey) bool {
	digest := sha256.Sum256(message)
	return rsa.VerifyPKCS1v15(key, crypto.SHA256, digest[:], signature) == nil
}

// Seal serializes the payload and signs the resulting bytes.
func Seal(p Payload, key *rsa.PrivateKey) (*Envelope, error) {
	msg, err := Marshal(p)
	if err != nil {
		return nil, err
	}
	sig, err := Sign(msg, key)
	if err != nil {
		return nil, err
	}
	return &Envelope{Message: msg, Signature: sig}, nil
}

// Open verifies the envelope against a known key and decodes the
// payload. Used by clients, which trust exactly one server key; the
// server instead decodes first and verifies against the key the
// message claims (see ClaimedKey).
func (e *Envelope) Open(key *rsa.PublicKey) (Payload, error) {
	if !Verify(e.Message, e.Signature, key) {
		return nil, ErrVerification
	}
	p, err := Decode(e.Message)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrVerification, err)
	}
	return p, nil
}
