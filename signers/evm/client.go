package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/spacesvm/lifeline/types"
)

// LocalSigner implements lifeline.WalletProvider using an ECDSA private key.
// It stands in for a browser wallet in the CLI, agent tools and tests.
type LocalSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewLocalSignerFromPrivateKey creates a signer from a hex-encoded private key.
//
// Args:
//
//	privateKeyHex: Hex-encoded private key (with or without "0x" prefix)
//
// Example:
//
//	signer, err := evm.NewLocalSignerFromPrivateKey("0x1234...")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	wallet := lifeline.NewWalletSigner(signer)
func NewLocalSignerFromPrivateKey(privateKeyHex string) (*LocalSigner, error) {
	privateKeyHex = strings.TrimPrefix(privateKeyHex, "0x")

	privateKey, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return NewLocalSigner(privateKey), nil
}

// NewLocalSigner wraps an existing key
func NewLocalSigner(privateKey *ecdsa.PrivateKey) *LocalSigner {
	return &LocalSigner{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
	}
}

// GenerateLocalSigner creates a signer with a fresh random key
func GenerateLocalSigner() (*LocalSigner, error) {
	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return NewLocalSigner(privateKey), nil
}

// Address returns the Ethereum address of the signer.
func (s *LocalSigner) Address() string {
	return s.address.Hex()
}

// PrivateKeyHex returns the 0x-prefixed private key
func (s *LocalSigner) PrivateKeyHex() string {
	return "0x" + common.Bytes2Hex(crypto.FromECDSA(s.privateKey))
}

// SignTypedData signs the EIP-712 digest of the message.
//
// Returns a 65-byte signature (r, s, v) with v in {27, 28}
func (s *LocalSigner) SignTypedData(ctx context.Context, message types.TypedData) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	digest, err := message.Hash()
	if err != nil {
		return nil, fmt.Errorf("failed to hash typed data: %w", err)
	}

	signature, err := crypto.Sign(digest, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}

	// Adjust v value for Ethereum (recovery ID 0/1 → 27/28)
	signature[64] += 27

	return signature, nil
}

// RecoverAddress returns the address that produced signature over message.
// Both 0/1 and 27/28 recovery ids are accepted.
func RecoverAddress(message types.TypedData, signature []byte) (common.Address, error) {
	if len(signature) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("invalid signature length %d", len(signature))
	}

	digest, err := message.Hash()
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to hash typed data: %w", err)
	}

	sig := make([]byte, len(signature))
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
