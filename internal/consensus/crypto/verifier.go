package crypto

import (
	"encoding/hex"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

// Verifier checks vote signatures. The concrete signature scheme is a
// deployment concern; the consensus engine only depends on this interface.
type Verifier interface {
	VerifySignature(data []byte, signature []byte, publicKey string) (bool, error)
}

// Secp256k1Verifier verifies secp256k1 signatures over the Keccak-256
// digest of the signed data. Public keys are hex-encoded in either the
// compressed (33 byte) or uncompressed (65 byte) SEC format.
type Secp256k1Verifier struct{}

func NewSecp256k1Verifier() *Secp256k1Verifier {
	return &Secp256k1Verifier{}
}

func (v *Secp256k1Verifier) VerifySignature(data []byte, signature []byte, publicKey string) (bool, error) {
	pubBytes, err := hex.DecodeString(strings.TrimPrefix(publicKey, "0x"))
	if err != nil {
		return false, errors.Wrap(err, "failed to decode public key")
	}

	if len(pubBytes) == 33 {
		decompressed, err := ethcrypto.DecompressPubkey(pubBytes)
		if err != nil {
			return false, errors.Wrap(err, "failed to decompress public key")
		}
		pubBytes = ethcrypto.FromECDSAPub(decompressed)
	}

	// VerifySignature expects a 64 byte [R || S] signature; strip the
	// recovery id if the caller passed a 65 byte signature.
	sig := signature
	if len(sig) == 65 {
		sig = sig[:64]
	}
	if len(sig) != 64 {
		return false, errors.Errorf("invalid signature length: %d", len(signature))
	}

	digest := ethcrypto.Keccak256(data)
	return ethcrypto.VerifySignature(pubBytes, digest, sig), nil
}

// StaticVerifier is a test double that always returns the configured result.
type StaticVerifier struct {
	Valid bool
	Err   error
}

func (v *StaticVerifier) VerifySignature(_ []byte, _ []byte, _ string) (bool, error) {
	return v.Valid, v.Err
}
