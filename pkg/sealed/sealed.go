// Package sealed encrypts audit reports to an auditor's secp256k1
// public key so compliance exports can cross untrusted channels.
//
// Scheme: ECIES with an ephemeral keypair, HKDF-SHA256 key derivation
// and AES-256-GCM. Wire format:
//
//	EphemeralPubKey (33 or 65 bytes) || Nonce (12 bytes) || Ciphertext+Tag
package sealed

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"io"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"golang.org/x/crypto/hkdf"
)

const (
	nonceSize  = 12
	keySize    = 32
	kdfContext = "audit-report-v1"
)

// Seal encrypts the report for the recipient.
func Seal(report []byte, recipient *ecdsa.PublicKey) ([]byte, error) {
	if recipient == nil {
		return nil, errors.New("recipient public key is nil")
	}

	ephemeral, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate ephemeral key")
	}

	secret, err := sharedSecret(ephemeral, recipient)
	if err != nil {
		return nil, err
	}

	ephemeralPub := ethcrypto.CompressPubkey(&ephemeral.PublicKey)
	key, err := deriveKey(secret, ephemeralPub)
	if err != nil {
		return nil, err
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, errors.Wrap(err, "failed to generate nonce")
	}

	// the ephemeral public key doubles as AAD so it cannot be swapped
	ciphertext := gcm.Seal(nil, nonce, report, ephemeralPub)

	out := make([]byte, 0, len(ephemeralPub)+len(nonce)+len(ciphertext))
	out = append(out, ephemeralPub...)
	out = append(out, nonce...)
	out = append(out, ciphertext...)
	return out, nil
}

// Open decrypts a sealed report with the auditor's private key.
func Open(data []byte, recipient *ecdsa.PrivateKey) ([]byte, error) {
	if recipient == nil {
		return nil, errors.New("recipient private key is nil")
	}
	if len(data) < 33 {
		return nil, errors.New("sealed report too short")
	}

	var pubLen int
	switch data[0] {
	case 2, 3:
		pubLen = 33
	case 4:
		pubLen = 65
	default:
		return nil, errors.New("invalid ephemeral public key prefix")
	}
	if len(data) < pubLen+nonceSize {
		return nil, errors.New("sealed report too short")
	}

	ephemeralPub := data[:pubLen]
	nonce := data[pubLen : pubLen+nonceSize]
	ciphertext := data[pubLen+nonceSize:]

	var (
		pub *ecdsa.PublicKey
		err error
	)
	if pubLen == 33 {
		pub, err = ethcrypto.DecompressPubkey(ephemeralPub)
	} else {
		pub, err = ethcrypto.UnmarshalPubkey(ephemeralPub)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse ephemeral public key")
	}

	secret, err := sharedSecret(recipient, pub)
	if err != nil {
		return nil, err
	}

	key, err := deriveKey(secret, ephemeralPub)
	if err != nil {
		return nil, err
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	report, err := gcm.Open(nil, nonce, ciphertext, ephemeralPub)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decrypt sealed report")
	}
	return report, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create aes cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create gcm")
	}
	return gcm, nil
}

// sharedSecret is the x-coordinate of the ECDH point on secp256k1.
func sharedSecret(priv *ecdsa.PrivateKey, pub *ecdsa.PublicKey) ([]byte, error) {
	if !ethcrypto.S256().IsOnCurve(pub.X, pub.Y) {
		return nil, errors.New("public key is not on curve")
	}
	x, _ := ethcrypto.S256().ScalarMult(pub.X, pub.Y, priv.D.Bytes())
	if x == nil {
		return nil, errors.New("shared secret is nil")
	}
	return x.Bytes(), nil
}

func deriveKey(secret, salt []byte) ([]byte, error) {
	kdf := hkdf.New(sha256.New, secret, salt, []byte(kdfContext))
	key := make([]byte, keySize)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, errors.Wrap(err, "failed to derive key")
	}
	return key, nil
}
