// Package crypto handles operator keys and request authentication: keys are
// stored encrypted at rest and callers prove address ownership with an
// EIP-191 signed bearer token.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/scrypt"
)

// scrypt parameters follow the go-ethereum "standard" keystore profile.
var (
	scryptN = 1 << 18
	scryptR = 8
	scryptP = 1
)

const (
	saltLen        = 32
	aesKeyLen      = 32
	currentVersion = 2
)

// encryptedKeyJSON is the on-disk format for an encrypted private key.
type encryptedKeyJSON struct {
	Version    int    `json:"version"`
	Address    string `json:"address"`
	KDF        kdf    `json:"kdf"`
	Nonce      string `json:"nonce"`      // base64 standard encoding
	Ciphertext string `json:"ciphertext"` // base64 standard encoding
}

type kdf struct {
	Name string `json:"name"`
	N    int    `json:"n"`
	R    int    `json:"r"`
	P    int    `json:"p"`
	Salt string `json:"salt"` // base64 standard encoding
}

// KeyConfig carries the information LoadKey needs to resolve a private key.
type KeyConfig struct {
	// RawPrivateKey is the hex-encoded private key (with or without 0x
	// prefix). It takes precedence over the encrypted file.
	RawPrivateKey string
	// EncryptedKeyPath is the path to a JSON file produced by EncryptKey.
	EncryptedKeyPath string
	// KeyPassword decrypts the file at EncryptedKeyPath.
	KeyPassword string
}

// GenerateKey creates a new secp256k1 key and returns it hex-encoded
// together with its address.
func GenerateKey() (string, string, error) {
	pk, err := ethcrypto.GenerateKey()
	if err != nil {
		return "", "", fmt.Errorf("crypto: generating key: %w", err)
	}
	return hex.EncodeToString(ethcrypto.FromECDSA(pk)), ethcrypto.PubkeyToAddress(pk.PublicKey).Hex(), nil
}

// EncryptKey encrypts a hex-encoded private key with a password using scrypt
// key derivation and AES-256-GCM. The key's address is stored in clear so a
// keystore can be identified without the password.
func EncryptKey(privateKeyHex string, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	pk, err := parseKey(privateKeyHex)
	if err != nil {
		return nil, err
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: generating salt: %w", err)
	}
	params := kdf{Name: "scrypt", N: scryptN, R: scryptR, P: scryptP, Salt: base64.StdEncoding.EncodeToString(salt)}
	gcm, err := newGCM(password, salt, params)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generating nonce: %w", err)
	}
	address := ethcrypto.PubkeyToAddress(pk.PublicKey)
	// The address is bound as additional data so it cannot be swapped.
	ciphertext := gcm.Seal(nil, nonce, ethcrypto.FromECDSA(pk), address.Bytes())

	return json.MarshalIndent(encryptedKeyJSON{
		Version:    currentVersion,
		Address:    address.Hex(),
		KDF:        params,
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	}, "", "  ")
}

// DecryptKey decrypts a JSON blob produced by EncryptKey.
func DecryptKey(encryptedJSON []byte, password string) (*ecdsa.PrivateKey, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}

	var stored encryptedKeyJSON
	if err := json.Unmarshal(encryptedJSON, &stored); err != nil {
		return nil, fmt.Errorf("crypto: parsing encrypted key JSON: %w", err)
	}
	if stored.Version != currentVersion {
		return nil, fmt.Errorf("crypto: unsupported version %d", stored.Version)
	}
	if stored.KDF.Name != "scrypt" {
		return nil, fmt.Errorf("crypto: unsupported kdf %q", stored.KDF.Name)
	}

	salt, err := base64.StdEncoding.DecodeString(stored.KDF.Salt)
	if err != nil {
		return nil, fmt.Errorf("crypto: decoding salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(stored.Nonce)
	if err != nil {
		return nil, fmt.Errorf("crypto: decoding nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(stored.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("crypto: decoding ciphertext: %w", err)
	}

	gcm, err := newGCM(password, salt, stored.KDF)
	if err != nil {
		return nil, err
	}
	address, err := parseAddress(stored.Address)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, address.Bytes())
	if err != nil {
		return nil, fmt.Errorf("crypto: decryption failed (wrong password?): %w", err)
	}
	pk, err := ethcrypto.ToECDSA(plaintext)
	if err != nil {
		return nil, fmt.Errorf("crypto: decrypted key invalid: %w", err)
	}
	return pk, nil
}

// LoadKey resolves a private key from the provided configuration: the raw
// key when set, otherwise the encrypted file.
func LoadKey(cfg KeyConfig) (*ecdsa.PrivateKey, error) {
	if cfg.RawPrivateKey != "" {
		return parseKey(cfg.RawPrivateKey)
	}
	if cfg.EncryptedKeyPath != "" {
		data, err := os.ReadFile(cfg.EncryptedKeyPath)
		if err != nil {
			return nil, fmt.Errorf("crypto: reading encrypted key file: %w", err)
		}
		return DecryptKey(data, cfg.KeyPassword)
	}
	return nil, errors.New("crypto: no private key source configured (set RawPrivateKey or EncryptedKeyPath)")
}

func parseKey(privateKeyHex string) (*ecdsa.PrivateKey, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid private key: %w", err)
	}
	return pk, nil
}

func newGCM(password string, salt []byte, params kdf) (cipher.AEAD, error) {
	derived, err := scrypt.Key([]byte(password), salt, params.N, params.R, params.P, aesKeyLen)
	if err != nil {
		return nil, fmt.Errorf("crypto: deriving key: %w", err)
	}
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating GCM: %w", err)
	}
	return gcm, nil
}
