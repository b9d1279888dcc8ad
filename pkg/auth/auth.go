package auth

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"catalyst-migrator/pkg/config"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"golang.org/x/crypto/sha3"
)

var (
	ErrInvalidKey       = errors.New("invalid private key")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrInvalidChain     = errors.New("invalid auth chain")
	ErrSignerMismatch   = errors.New("signature does not match signer")
)

const (
	signatureLength = 65
	personalPrefix  = "\x19Ethereum Signed Message:\n"
)

// Signer signs entity identities with a secp256k1 key. Only the derived
// address is ever exposed; the key stays inside the Signer.
type Signer struct {
	key     *btcec.PrivateKey
	address string
}

// NewSignerFromSecret builds a Signer from a configured credential.
func NewSignerFromSecret(secret config.Secret) (*Signer, error) {
	return NewSigner(secret.Reveal())
}

// NewSigner parses a hex-encoded 32-byte key, with or without 0x prefix.
// Errors never include the key material.
func NewSigner(hexKey string) (*Signer, error) {
	raw := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"), "0X")
	if len(raw) != 64 {
		return nil, fmt.Errorf("%w: expected 32 bytes", ErrInvalidKey)
	}
	keyBytes, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: not hex encoded", ErrInvalidKey)
	}

	// PrivKeyFromBytes reduces mod N, so range is checked on the raw scalar.
	var scalar btcec.ModNScalar
	if overflow := scalar.SetByteSlice(keyBytes); overflow || scalar.IsZero() {
		return nil, fmt.Errorf("%w: out of range", ErrInvalidKey)
	}
	key, _ := btcec.PrivKeyFromBytes(keyBytes)

	return &Signer{
		key:     key,
		address: addressFromPublicKey(key.PubKey()),
	}, nil
}

// Address returns the EIP-55 checksummed address of the signing key.
func (s *Signer) Address() string {
	return s.address
}

func (s Signer) String() string {
	return "Signer(" + s.address + ")"
}

func (s Signer) GoString() string {
	return s.String()
}

// SignMessage returns the 65-byte r||s||v signature (v is 27 or 28) over the
// personal message hash of msg.
func (s *Signer) SignMessage(msg string) ([]byte, error) {
	compact, err := ecdsa.SignCompact(s.key, EthereumMessageHash(msg), false)
	if err != nil {
		return nil, fmt.Errorf("failed to sign message: %w", err)
	}
	// SignCompact yields v||r||s with v = 27 + recovery id.
	sig := make([]byte, signatureLength)
	copy(sig, compact[1:])
	sig[64] = compact[0]
	return sig, nil
}

// EthereumMessageHash is keccak256 over the personal message envelope of msg.
func EthereumMessageHash(msg string) []byte {
	return keccak256([]byte(personalPrefix + strconv.Itoa(len(msg)) + msg))
}

// RecoverAddress returns the checksummed address that produced sig over the
// personal message hash of msg.
func RecoverAddress(msg string, sig []byte) (string, error) {
	if len(sig) != signatureLength {
		return "", fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidSignature, signatureLength, len(sig))
	}
	v := sig[64]
	if v < 27 {
		v += 27
	}
	if v != 27 && v != 28 {
		return "", fmt.Errorf("%w: bad recovery byte %d", ErrInvalidSignature, sig[64])
	}

	compact := make([]byte, signatureLength)
	compact[0] = v
	copy(compact[1:], sig[:64])

	pub, _, err := ecdsa.RecoverCompact(compact, EthereumMessageHash(msg))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return addressFromPublicKey(pub), nil
}

func addressFromPublicKey(pub *btcec.PublicKey) string {
	uncompressed := pub.SerializeUncompressed()
	hash := keccak256(uncompressed[1:])
	return checksumAddress(hash[12:])
}

// checksumAddress applies EIP-55 mixed-case encoding.
func checksumAddress(addr []byte) string {
	lower := hex.EncodeToString(addr)
	hash := keccak256([]byte(lower))

	var b strings.Builder
	b.Grow(2 + len(lower))
	b.WriteString("0x")
	for i, c := range lower {
		nibble := hash[i/2]
		if i%2 == 0 {
			nibble >>= 4
		}
		if c >= 'a' && c <= 'f' && nibble&0x0f >= 8 {
			c -= 'a' - 'A'
		}
		b.WriteRune(c)
	}
	return b.String()
}

func keccak256(data []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return h.Sum(nil)
}
