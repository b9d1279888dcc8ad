package auth

import (
	"encoding/hex"
	"fmt"
	"strings"

	"catalyst-migrator/pkg/types"
)

// Sign signs identity and returns the simple chain: a SIGNER link naming
// the address, then one ECDSA_SIGNED_ENTITY link carrying the signature.
func (s *Signer) Sign(identity types.ContentHash) (types.AuthChain, error) {
	if identity == "" {
		return nil, fmt.Errorf("%w: empty identity", ErrInvalidChain)
	}
	sig, err := s.SignMessage(string(identity))
	if err != nil {
		return nil, err
	}
	return types.AuthChain{
		{Type: types.AuthLinkSigner, Payload: s.address, Signature: ""},
		{Type: types.AuthLinkECDSASignedEntity, Payload: string(identity), Signature: "0x" + hex.EncodeToString(sig)},
	}, nil
}

// VerifyChain checks that chain authorizes identity: the signed link must
// carry identity as payload and its signature must recover to the SIGNER
// address.
func VerifyChain(chain types.AuthChain, identity types.ContentHash) error {
	if len(chain) != 2 {
		return fmt.Errorf("%w: expected 2 links, got %d", ErrInvalidChain, len(chain))
	}
	signer, signed := chain[0], chain[1]
	if signer.Type != types.AuthLinkSigner || signer.Payload == "" {
		return fmt.Errorf("%w: first link must be %s", ErrInvalidChain, types.AuthLinkSigner)
	}
	if signed.Type != types.AuthLinkECDSASignedEntity {
		return fmt.Errorf("%w: last link must be %s", ErrInvalidChain, types.AuthLinkECDSASignedEntity)
	}
	if signed.Payload != string(identity) {
		return fmt.Errorf("%w: payload %s does not match entity %s", ErrInvalidChain, signed.Payload, identity)
	}

	sig, err := hex.DecodeString(strings.TrimPrefix(signed.Signature, "0x"))
	if err != nil {
		return fmt.Errorf("%w: signature is not hex", ErrInvalidSignature)
	}
	recovered, err := RecoverAddress(string(identity), sig)
	if err != nil {
		return err
	}
	if !strings.EqualFold(recovered, signer.Payload) {
		return fmt.Errorf("%w: recovered %s, expected %s", ErrSignerMismatch, recovered, signer.Payload)
	}
	return nil
}
