// Package attestation signs proof of delivery for paid calls.
//
// Every attestation carries an off-chain pair (signer address and task
// reference). When an agent id is configured it also carries a feedback
// authorization: an ABI-encoded AuthorizationRecord followed by an
// EIP-191 secp256k1 signature, 289 bytes in total, which a reputation
// registry can verify on-chain.
package attestation

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gowebpki/jcs"
)

var (
	// ErrInvalidKey is returned when the signing key cannot be parsed.
	ErrInvalidKey = errors.New("attestation: invalid signing key")
	// ErrInvalidClient is returned when the client is not a hex address.
	ErrInvalidClient = errors.New("attestation: client is not an address")
	// ErrOutOfRange is returned when a record field does not fit in uint256.
	ErrOutOfRange = errors.New("attestation: value out of uint256 range")
	// ErrBlobLength is returned when an encoding or blob has the wrong size.
	ErrBlobLength = errors.New("attestation: unexpected length")
)

// Reference is the off-chain attestation pair.
type Reference struct {
	AgentIdentity common.Address `json:"agent_identity"`
	TaskReference common.Hash    `json:"task_reference"`
}

// Digest is keccak256 over the RFC 8785 canonical JSON of the pair.
func (r Reference) Digest() (common.Hash, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return common.Hash{}, fmt.Errorf("attestation: marshal reference: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return common.Hash{}, fmt.Errorf("attestation: canonicalize reference: %w", err)
	}
	return crypto.Keccak256Hash(canonical), nil
}

// SignedAuthorization is an encoded record with its signature.
type SignedAuthorization struct {
	Record    AuthorizationRecord
	Encoded   []byte
	Signature []byte
}

// Blob returns Encoded || Signature.
func (s *SignedAuthorization) Blob() []byte {
	out := make([]byte, 0, len(s.Encoded)+len(s.Signature))
	out = append(out, s.Encoded...)
	return append(out, s.Signature...)
}

// Hex returns the 0x-prefixed blob.
func (s *SignedAuthorization) Hex() string {
	return hexutil.Encode(s.Blob())
}

// Attestation is the result of one Attest call. Authorization is nil when
// no agent id is configured.
type Attestation struct {
	Reference     Reference
	Authorization *SignedAuthorization
	DeliveredAt   time.Time
	Client        string
}

// authorizationHash is the digest the signer actually signs.
func authorizationHash(encoded []byte) []byte {
	return accounts.TextHash(crypto.Keccak256(encoded))
}

// RecoverSigner returns the address that signed blob.
func RecoverSigner(blob []byte) (common.Address, error) {
	if len(blob) != BlobLength {
		return common.Address{}, fmt.Errorf("%w: blob is %d bytes, want %d", ErrBlobLength, len(blob), BlobLength)
	}
	sig := make([]byte, SignatureLength)
	copy(sig, blob[EncodedLength:])
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := crypto.SigToPub(authorizationHash(blob[:EncodedLength]), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("attestation: recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
