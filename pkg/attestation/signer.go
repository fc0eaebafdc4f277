package attestation

import (
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	DefaultIndexLimit = 1000
	DefaultTTL        = time.Hour
)

// Config configures a Signer. AgentID nil disables the on-chain blob.
type Config struct {
	PrivateKeyHex     string
	AgentID           *big.Int
	ChainID           *big.Int
	IdentityRegistry  common.Address
	IndexLimit        uint64
	TTL               time.Duration
	SaltTaskReference bool
}

// Signer issues attestations. It is immutable after construction and safe
// for concurrent use.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
	cfg     Config
}

// NewSigner parses the key once. A leading 0x is accepted.
func NewSigner(cfg Config) (*Signer, error) {
	keyHex := strings.TrimPrefix(strings.TrimSpace(cfg.PrivateKeyHex), "0x")
	key, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	for _, n := range []*big.Int{cfg.AgentID, cfg.ChainID} {
		if n != nil && (n.Sign() < 0 || n.BitLen() > 256) {
			return nil, ErrOutOfRange
		}
	}
	if cfg.IndexLimit == 0 {
		cfg.IndexLimit = DefaultIndexLimit
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.ChainID == nil {
		cfg.ChainID = new(big.Int)
	}
	return &Signer{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		cfg:     cfg,
	}, nil
}

// Address is the agent identity reported in every attestation.
func (s *Signer) Address() common.Address {
	return s.address
}

// AuthorizationEnabled reports whether attestations carry a blob.
func (s *Signer) AuthorizationEnabled() bool {
	return s.cfg.AgentID != nil
}

// Attest signs delivery of resource at deliveredAt to client. client is
// only consulted when an agent id is configured.
func (s *Signer) Attest(resource string, deliveredAt time.Time, client string) (*Attestation, error) {
	ref, err := s.taskReference(resource, deliveredAt)
	if err != nil {
		return nil, err
	}
	att := &Attestation{
		Reference:   Reference{AgentIdentity: s.address, TaskReference: ref},
		DeliveredAt: deliveredAt,
		Client:      client,
	}
	if s.cfg.AgentID == nil {
		return att, nil
	}

	if !common.IsHexAddress(client) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidClient, client)
	}
	record := AuthorizationRecord{
		AgentID:          new(big.Int).Set(s.cfg.AgentID),
		Client:           common.HexToAddress(client),
		IndexLimit:       s.cfg.IndexLimit,
		Expiry:           big.NewInt(deliveredAt.Add(s.cfg.TTL).Unix()),
		ChainID:          new(big.Int).Set(s.cfg.ChainID),
		IdentityRegistry: s.cfg.IdentityRegistry,
		Signer:           s.address,
	}
	encoded, err := record.Encode()
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(authorizationHash(encoded), s.key)
	if err != nil {
		return nil, fmt.Errorf("attestation: sign: %w", err)
	}
	sig[64] += 27

	att.Authorization = &SignedAuthorization{Record: record, Encoded: encoded, Signature: sig}
	return att, nil
}

func (s *Signer) taskReference(resource string, deliveredAt time.Time) (common.Hash, error) {
	if !s.cfg.SaltTaskReference {
		return TaskReference(resource, deliveredAt), nil
	}
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return common.Hash{}, fmt.Errorf("attestation: nonce: %w", err)
	}
	return TaskReferenceWithNonce(resource, deliveredAt, nonce), nil
}
