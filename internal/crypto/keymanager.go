// Package crypto resolves the admin key and signs or verifies the EIP-191
// request signatures that identify API callers.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/pbkdf2"
)

const (
	defaultIterations = 480_000
	saltLen           = 16
	aesKeyLen         = 32
	keyFileVersion    = 1
)

// keyFile is the on-disk format written by EncryptKey. The iteration count
// travels with the file so it can be raised without breaking old files.
type keyFile struct {
	Version    int            `json:"version"`
	Address    common.Address `json:"address"`
	Iterations int            `json:"iterations"`
	Salt       string         `json:"salt"`
	Nonce      string         `json:"nonce"`
	Ciphertext string         `json:"ciphertext"`
}

// KeySource lists the ways an admin key may be supplied. The first non-empty
// field wins.
type KeySource struct {
	PrivateKey string
	KeyFile    string
	Password   string
}

// Empty reports whether no key was supplied.
func (s KeySource) Empty() bool {
	return s.PrivateKey == "" && s.KeyFile == ""
}

// EncryptKey seals a secp256k1 private key with a password using
// PBKDF2-HMAC-SHA256 and AES-256-GCM and returns the JSON key file.
func EncryptKey(key *ecdsa.PrivateKey, password string) ([]byte, error) {
	return encryptKey(key, password, defaultIterations)
}

func encryptKey(key *ecdsa.PrivateKey, password string, iterations int) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: salt: %w", err)
	}
	gcm, err := newGCM(password, salt, iterations)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: nonce: %w", err)
	}

	kf := keyFile{
		Version:    keyFileVersion,
		Address:    ethcrypto.PubkeyToAddress(key.PublicKey),
		Iterations: iterations,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, ethcrypto.FromECDSA(key), nil)),
	}
	return json.MarshalIndent(kf, "", "  ")
}

// DecryptKey opens a key file produced by EncryptKey.
func DecryptKey(data []byte, password string) (*ecdsa.PrivateKey, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("crypto: parse key file: %w", err)
	}
	if kf.Version != keyFileVersion {
		return nil, fmt.Errorf("crypto: unsupported key file version %d", kf.Version)
	}
	if kf.Iterations <= 0 {
		return nil, errors.New("crypto: key file has no iteration count")
	}

	var raw [3][]byte
	for i, field := range []string{kf.Salt, kf.Nonce, kf.Ciphertext} {
		b, err := base64.StdEncoding.DecodeString(field)
		if err != nil {
			return nil, fmt.Errorf("crypto: decode key file: %w", err)
		}
		raw[i] = b
	}
	salt, nonce, ciphertext := raw[0], raw[1], raw[2]

	gcm, err := newGCM(password, salt, kf.Iterations)
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("crypto: nonce is %d bytes", len(nonce))
	}
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errors.New("crypto: wrong password or corrupted key file")
	}
	key, err := ethcrypto.ToECDSA(plain)
	if err != nil {
		return nil, fmt.Errorf("crypto: key file holds an invalid key: %w", err)
	}
	if got := ethcrypto.PubkeyToAddress(key.PublicKey); got != kf.Address {
		return nil, fmt.Errorf("crypto: key file address %s does not match key %s", kf.Address.Hex(), got.Hex())
	}
	return key, nil
}

// LoadKey resolves the private key described by src.
func LoadKey(src KeySource) (*ecdsa.PrivateKey, error) {
	switch {
	case src.PrivateKey != "":
		key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(src.PrivateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("crypto: invalid private key: %w", err)
		}
		return key, nil
	case src.KeyFile != "":
		data, err := os.ReadFile(src.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("crypto: read key file: %w", err)
		}
		return DecryptKey(data, src.Password)
	default:
		return nil, errors.New("crypto: no key configured")
	}
}

func newGCM(password string, salt []byte, iterations int) (cipher.AEAD, error) {
	derived := pbkdf2.Key([]byte(password), salt, iterations, aesKeyLen, sha256.New)
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("crypto: cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: gcm: %w", err)
	}
	return gcm, nil
}
