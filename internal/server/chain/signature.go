// Package chain adapts an EVM node to the identity and voting-power
// contracts of the turn engine: personal_sign recovery, ERC-20 balances at
// a historical block and the current chain head.
package chain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

const signatureLength = 65

var ErrBadSignature = errors.New("bad signature")

// Verifier recovers signers of EIP-191 personal messages
type Verifier struct{}

func NewVerifier() *Verifier {
	return &Verifier{}
}

// Recover returns the lower-case address that signed message
func (v *Verifier) Recover(message, signature string) (string, error) {
	if !strings.HasPrefix(signature, "0x") {
		signature = "0x" + signature
	}
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if len(sig) != signatureLength {
		return "", fmt.Errorf("%w: expected %d bytes, got %d", ErrBadSignature, signatureLength, len(sig))
	}

	// Wallets emit V as 27/28, SigToPub expects 0/1
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return strings.ToLower(crypto.PubkeyToAddress(*pub).Hex()), nil
}

// Sign produces a personal_sign signature, used by tooling and tests
func Sign(message string, key []byte) (string, error) {
	priv, err := crypto.ToECDSA(key)
	if err != nil {
		return "", err
	}
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), priv)
	if err != nil {
		return "", err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}
