package crypto

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// recoveryByte indexes v in an r || s || v signature.
const recoveryByte = 64

// ErrBadSignature is returned when a signature is malformed or recovers to
// a different address.
var ErrBadSignature = errors.New("crypto: bad signature")

// Signer produces EIP-191 personal signatures.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewSigner wraps key.
func NewSigner(key *ecdsa.PrivateKey) *Signer {
	return &Signer{key: key, address: ethcrypto.PubkeyToAddress(key.PublicKey)}
}

// NewSignerFromHex parses a hex private key, with or without 0x.
func NewSignerFromHex(privateKeyHex string) (*Signer, error) {
	key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid private key: %w", err)
	}
	return NewSigner(key), nil
}

// Address is the signer's account.
func (s *Signer) Address() common.Address { return s.address }

// SignMessage signs msg as an Ethereum personal message and returns the
// 0x-prefixed 65-byte signature with v in {27, 28}.
func (s *Signer) SignMessage(msg []byte) (string, error) {
	sig, err := ethcrypto.Sign(accounts.TextHash(msg), s.key)
	if err != nil {
		return "", fmt.Errorf("crypto: sign: %w", err)
	}
	sig[recoveryByte] += 27
	return hexutil.Encode(sig), nil
}

// SignRequest signs the canonical form of an HTTP request.
func (s *Signer) SignRequest(method, path string, at time.Time, body []byte) (string, error) {
	return s.SignMessage(RequestMessage(method, path, at.Unix(), body))
}

// RequestMessage is the text a caller signs to authenticate a request:
// method, path, unix timestamp and the hex SHA-256 of the body, one per line.
func RequestMessage(method, path string, unix int64, body []byte) []byte {
	sum := sha256.Sum256(body)
	return []byte(strings.ToUpper(method) + "\n" + path + "\n" + strconv.FormatInt(unix, 10) + "\n" + hex.EncodeToString(sum[:]))
}

// RecoverAddress returns the account that produced sig over msg.
func RecoverAddress(msg []byte, sig string) (common.Address, error) {
	raw, err := hexutil.Decode(sig)
	if err != nil || len(raw) != 65 {
		return common.Address{}, ErrBadSignature
	}
	switch raw[recoveryByte] {
	case 27, 28:
		raw[recoveryByte] -= 27
	case 0, 1:
	default:
		return common.Address{}, ErrBadSignature
	}
	pub, err := ethcrypto.SigToPub(accounts.TextHash(msg), raw)
	if err != nil {
		return common.Address{}, ErrBadSignature
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// VerifyRequest checks that sig was produced by claimed over the request and
// that the timestamp lies within window of now.
func VerifyRequest(claimed common.Address, method, path string, unix int64, body []byte, sig string, now time.Time, window time.Duration) error {
	at := time.Unix(unix, 0)
	if d := now.Sub(at); d > window || d < -window {
		return fmt.Errorf("%w: timestamp outside the %s window", ErrBadSignature, window)
	}
	got, err := RecoverAddress(RequestMessage(method, path, unix, body), sig)
	if err != nil {
		return err
	}
	if got != claimed {
		return fmt.Errorf("%w: signed by %s", ErrBadSignature, got.Hex())
	}
	return nil
}
