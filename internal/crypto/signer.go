package crypto

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Signer produces EIP-191 personal_sign signatures for one key.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a Signer for key.
func NewSigner(key *ecdsa.PrivateKey) *Signer {
	return &Signer{
		privateKey: key,
		address:    ethcrypto.PubkeyToAddress(key.PublicKey),
	}
}

// NewSignerFromHex creates a Signer from a hex-encoded private key.
func NewSignerFromHex(privateKeyHex string) (*Signer, error) {
	pk, err := parseKey(privateKeyHex)
	if err != nil {
		return nil, err
	}
	return NewSigner(pk), nil
}

// Address returns the address derived from the signer's private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignText signs "\x19Ethereum Signed Message:\n<len>" || text and returns
// the 65-byte signature with v in {27,28}, as wallets do.
func (s *Signer) SignText(text string) ([]byte, error) {
	sig, err := ethcrypto.Sign(accounts.TextHash([]byte(text)), s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: signing: %w", err)
	}
	// go-ethereum returns v in {0,1}.
	sig[64] += 27
	return sig, nil
}

// RecoverText returns the address that produced sig over text.
func RecoverText(text string, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("crypto: signature must be 65 bytes, got %d", len(sig))
	}
	normalised := make([]byte, 65)
	copy(normalised, sig)
	if normalised[64] >= 27 {
		normalised[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(accounts.TextHash([]byte(text)), normalised)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto: recovering signer: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}
