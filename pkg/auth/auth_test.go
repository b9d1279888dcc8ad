package auth

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"testing"

	"catalyst-migrator/pkg/config"
	"catalyst-migrator/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKey     = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	testAddress = "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23"
	testEntity  = types.ContentHash("bafkreigxvwjmpy7e4t3o6m4c7zf3x7pqkx3pwbuwn4nhcxbqoebd6yl7ga")
)

func newTestSigner(t *testing.T) *Signer {
	t.Helper()
	s, err := NewSigner(testKey)
	require.NoError(t, err)
	return s
}

func TestNewSigner(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"With prefix", testKey, false},
		{"Without prefix", strings.TrimPrefix(testKey, "0x"), false},
		{"Too short", "0x1234", true},
		{"Not hex", "0x" + strings.Repeat("zz", 32), true},
		{"Zero key", "0x" + strings.Repeat("00", 32), true},
		{"All ones", "0x" + strings.Repeat("ff", 32), true},
		{"Curve order", "0xfffffffffffffffffffffffffffffffebaaedce6af48a03bbfd25e8cd0364141", true},
		{"Curve order plus one", "0xfffffffffffffffffffffffffffffffebaaedce6af48a03bbfd25e8cd0364142", true},
		{"Empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewSigner(tt.key)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidKey))
				if len(tt.key) > 4 {
					assert.NotContains(t, err.Error(), strings.TrimPrefix(tt.key, "0x"))
				}
				return
			}
			require.NoError(t, err)
			assert.Equal(t, testAddress, s.Address())
		})
	}
}

func TestNewSignerKeyRange(t *testing.T) {
	largest, err := NewSigner("0xfffffffffffffffffffffffffffffffebaaedce6af48a03bbfd25e8cd0364140")
	require.NoError(t, err)
	one, err := NewSigner("0x" + strings.Repeat("00", 31) + "01")
	require.NoError(t, err)
	assert.NotEqual(t, one.Address(), largest.Address())

	// N+1 would reduce to the key 1 if it were accepted.
	_, err = NewSigner("0xfffffffffffffffffffffffffffffffebaaedce6af48a03bbfd25e8cd0364142")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestNewSignerFromSecret(t *testing.T) {
	s, err := NewSignerFromSecret(config.Secret(testKey))
	require.NoError(t, err)
	assert.Equal(t, testAddress, s.Address())
}

func TestSignerNeverPrintsKey(t *testing.T) {
	s := newTestSigner(t)
	raw := strings.TrimPrefix(testKey, "0x")

	for _, out := range []string{
		fmt.Sprintf("%v", s),
		fmt.Sprintf("%+v", s),
		fmt.Sprintf("%#v", s),
		fmt.Sprintf("%v", *s),
		s.String(),
	} {
		assert.NotContains(t, out, raw)
		assert.Contains(t, out, testAddress)
	}
}

func TestEthereumMessageHash(t *testing.T) {
	hash := EthereumMessageHash("Hello World")
	assert.Equal(t, "a1de988600a42c4b4ab089b619297c17d53cffae5d5120d82d8a92d0bb3b78f2", hex.EncodeToString(hash))
}

func TestChecksumAddress(t *testing.T) {
	vectors := []string{
		"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		"0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359",
		"0xdbF03B407c01E7cD3CBea99509d93f8DDDC8C6FB",
		"0xD1220A0cf47c7B9Be7A2E6BA89F429762e7b9aDb",
	}
	for _, want := range vectors {
		raw, err := hex.DecodeString(strings.ToLower(want[2:]))
		require.NoError(t, err)
		assert.Equal(t, want, checksumAddress(raw))
	}
}

func TestSignMessageRecovers(t *testing.T) {
	s := newTestSigner(t)

	sig, err := s.SignMessage("Some data")
	require.NoError(t, err)
	require.Len(t, sig, 65)
	assert.Contains(t, []byte{27, 28}, sig[64])

	addr, err := RecoverAddress("Some data", sig)
	require.NoError(t, err)
	assert.Equal(t, testAddress, addr)

	// Signing is deterministic.
	again, err := s.SignMessage("Some data")
	require.NoError(t, err)
	assert.Equal(t, sig, again)
}

func TestRecoverAddressRejectsMalformed(t *testing.T) {
	_, err := RecoverAddress("msg", []byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrInvalidSignature)

	bad := make([]byte, 65)
	bad[64] = 40
	_, err = RecoverAddress("msg", bad)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestSignChainShape(t *testing.T) {
	s := newTestSigner(t)

	chain, err := s.Sign(testEntity)
	require.NoError(t, err)
	require.Len(t, chain, 2)

	assert.Equal(t, types.AuthLinkSigner, chain[0].Type)
	assert.Equal(t, testAddress, chain[0].Payload)
	assert.Empty(t, chain[0].Signature)

	assert.Equal(t, types.AuthLinkECDSASignedEntity, chain[1].Type)
	assert.Equal(t, string(testEntity), chain[1].Payload)
	assert.True(t, strings.HasPrefix(chain[1].Signature, "0x"))
	assert.Len(t, chain[1].Signature, 2+130)

	_, err = s.Sign("")
	assert.ErrorIs(t, err, ErrInvalidChain)
}

func TestVerifyChain(t *testing.T) {
	s := newTestSigner(t)
	chain, err := s.Sign(testEntity)
	require.NoError(t, err)

	t.Run("Valid", func(t *testing.T) {
		assert.NoError(t, VerifyChain(chain, testEntity))
	})

	t.Run("LowercaseSigner", func(t *testing.T) {
		lower := append(types.AuthChain{}, chain...)
		lower[0].Payload = strings.ToLower(lower[0].Payload)
		assert.NoError(t, VerifyChain(lower, testEntity))
	})

	t.Run("OtherIdentity", func(t *testing.T) {
		other := types.ContentHash("bafkreiotheridentity")
		assert.ErrorIs(t, VerifyChain(chain, other), ErrInvalidChain)

		// Same signature presented for a different identity recovers a
		// different address.
		forged := append(types.AuthChain{}, chain...)
		forged[1].Payload = string(other)
		assert.ErrorIs(t, VerifyChain(forged, other), ErrSignerMismatch)
	})

	t.Run("OtherSigner", func(t *testing.T) {
		wrong := append(types.AuthChain{}, chain...)
		wrong[0].Payload = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
		assert.ErrorIs(t, VerifyChain(wrong, testEntity), ErrSignerMismatch)
	})

	t.Run("BadShape", func(t *testing.T) {
		assert.ErrorIs(t, VerifyChain(chain[:1], testEntity), ErrInvalidChain)

		swapped := types.AuthChain{chain[1], chain[0]}
		assert.ErrorIs(t, VerifyChain(swapped, testEntity), ErrInvalidChain)

		garbled := append(types.AuthChain{}, chain...)
		garbled[1].Signature = "0xnothex"
		assert.ErrorIs(t, VerifyChain(garbled, testEntity), ErrInvalidSignature)
	})
}
