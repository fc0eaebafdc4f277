package attestation

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const (
	// EncodedLength is the ABI-encoded size of an AuthorizationRecord.
	EncodedLength = 7 * 32
	// SignatureLength is r || s || v.
	SignatureLength = 65
	// BlobLength is the size of the feedback authorization handed to clients.
	BlobLength = EncodedLength + SignatureLength
)

// AuthorizationRecord grants a client permission to leave feedback for an
// agent in the reputation registry. Field order and widths are part of the
// on-chain contract.
type AuthorizationRecord struct {
	AgentID          *big.Int       `json:"agent_id"`
	Client           common.Address `json:"client"`
	IndexLimit       uint64         `json:"index_limit"`
	Expiry           *big.Int       `json:"expiry"`
	ChainID          *big.Int       `json:"chain_id"`
	IdentityRegistry common.Address `json:"identity_registry"`
	Signer           common.Address `json:"signer"`
}

var recordArguments = mustArguments(
	"uint256", "address", "uint64", "uint256", "uint256", "address", "address",
)

func mustArguments(types ...string) abi.Arguments {
	args := make(abi.Arguments, 0, len(types))
	for _, name := range types {
		t, err := abi.NewType(name, "", nil)
		if err != nil {
			panic(fmt.Sprintf("attestation: abi type %s: %v", name, err))
		}
		args = append(args, abi.Argument{Type: t})
	}
	return args
}

// Encode returns the standard ABI encoding of the record (224 bytes).
func (a AuthorizationRecord) Encode() ([]byte, error) {
	if a.AgentID == nil || a.Expiry == nil || a.ChainID == nil {
		return nil, fmt.Errorf("attestation: record has nil numeric field")
	}
	for name, n := range map[string]*big.Int{"agent_id": a.AgentID, "expiry": a.Expiry, "chain_id": a.ChainID} {
		if n.Sign() < 0 || n.BitLen() > 256 {
			return nil, fmt.Errorf("%w: %s", ErrOutOfRange, name)
		}
	}
	out, err := recordArguments.Pack(
		a.AgentID, a.Client, a.IndexLimit, a.Expiry, a.ChainID, a.IdentityRegistry, a.Signer,
	)
	if err != nil {
		return nil, fmt.Errorf("attestation: encode record: %w", err)
	}
	if len(out) != EncodedLength {
		return nil, fmt.Errorf("%w: encoded %d bytes", ErrBlobLength, len(out))
	}
	return out, nil
}

// DecodeRecord parses an encoded record.
func DecodeRecord(encoded []byte) (AuthorizationRecord, error) {
	if len(encoded) != EncodedLength {
		return AuthorizationRecord{}, fmt.Errorf("%w: got %d bytes", ErrBlobLength, len(encoded))
	}
	vals, err := recordArguments.Unpack(encoded)
	if err != nil {
		return AuthorizationRecord{}, fmt.Errorf("attestation: decode record: %w", err)
	}
	return AuthorizationRecord{
		AgentID:          vals[0].(*big.Int),
		Client:           vals[1].(common.Address),
		IndexLimit:       vals[2].(uint64),
		Expiry:           vals[3].(*big.Int),
		ChainID:          vals[4].(*big.Int),
		IdentityRegistry: vals[5].(common.Address),
		Signer:           vals[6].(common.Address),
	}, nil
}
