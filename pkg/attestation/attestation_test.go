package attestation_test

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fourotwo-xyz/web-scraper/pkg/attestation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/sha3"
)

// Well-known development key (hardhat account #0).
const testKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

var (
	testClient   = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
	testRegistry = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	deliveredAt  = time.UnixMilli(1_700_000_000_123).UTC()
)

func newSigner(t *testing.T, agentID *big.Int) *attestation.Signer {
	t.Helper()
	s, err := attestation.NewSigner(attestation.Config{
		PrivateKeyHex:    testKey,
		AgentID:          agentID,
		ChainID:          big.NewInt(84532),
		IdentityRegistry: testRegistry,
	})
	require.NoError(t, err)
	return s
}

func TestTaskReference_Deterministic(t *testing.T) {
	a := attestation.TaskReference("https://example.com", deliveredAt)
	b := attestation.TaskReference("https://example.com", deliveredAt)
	assert.Equal(t, a, b)

	h := sha3.NewLegacyKeccak256()
	h.Write([]byte("https://example.com1700000000123"))
	assert.Equal(t, common.BytesToHash(h.Sum(nil)), a)

	assert.NotEqual(t, a, attestation.TaskReference("https://example.com", deliveredAt.Add(time.Millisecond)))
	assert.NotEqual(t, a, attestation.TaskReference("https://example.org", deliveredAt))
	assert.NotEqual(t, a, attestation.TaskReferenceWithNonce("https://example.com", deliveredAt, []byte{1}))
}

func TestNewSigner_AcceptsPrefixedAndBareKeys(t *testing.T) {
	want := common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")

	s1, err := attestation.NewSigner(attestation.Config{PrivateKeyHex: testKey})
	require.NoError(t, err)
	s2, err := attestation.NewSigner(attestation.Config{PrivateKeyHex: testKey[2:]})
	require.NoError(t, err)

	assert.Equal(t, want, s1.Address())
	assert.Equal(t, want, s2.Address())
}

func TestNewSigner_MalformedKey(t *testing.T) {
	for _, key := range []string{"", "0x1234", "not-hex-at-all", testKey + "00"} {
		_, err := attestation.NewSigner(attestation.Config{PrivateKeyHex: key})
		assert.True(t, errors.Is(err, attestation.ErrInvalidKey), "key %q", key)
	}
}

func TestAttest_WithoutAgentIDHasNoBlob(t *testing.T) {
	s := newSigner(t, nil)

	att, err := s.Attest("https://example.com", deliveredAt, "")
	require.NoError(t, err)
	assert.Nil(t, att.Authorization)
	assert.Equal(t, s.Address(), att.Reference.AgentIdentity)
	assert.Equal(t, attestation.TaskReference("https://example.com", deliveredAt), att.Reference.TaskReference)
	assert.False(t, s.AuthorizationEnabled())
}

func TestAttest_BlobLayoutAndRecovery(t *testing.T) {
	s := newSigner(t, big.NewInt(42))

	att, err := s.Attest("https://example.com", deliveredAt, testClient)
	require.NoError(t, err)
	require.NotNil(t, att.Authorization)

	blob := att.Authorization.Blob()
	require.Len(t, blob, attestation.BlobLength)
	assert.Equal(t, 289, len(blob))
	assert.Equal(t, att.Authorization.Encoded, blob[:224])
	assert.Contains(t, []byte{27, 28}, blob[288])

	signer, err := attestation.RecoverSigner(blob)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), signer)

	rec, err := attestation.DecodeRecord(blob[:224])
	require.NoError(t, err)
	assert.Equal(t, int64(42), rec.AgentID.Int64())
	assert.Equal(t, common.HexToAddress(testClient), rec.Client)
	assert.Equal(t, uint64(attestation.DefaultIndexLimit), rec.IndexLimit)
	assert.Equal(t, deliveredAt.Add(time.Hour).Unix(), rec.Expiry.Int64())
	assert.Equal(t, int64(84532), rec.ChainID.Int64())
	assert.Equal(t, testRegistry, rec.IdentityRegistry)
	assert.Equal(t, s.Address(), rec.Signer)

	assert.Equal(t, "0x", att.Authorization.Hex()[:2])
	assert.Len(t, att.Authorization.Hex(), 2+2*289)
}

func TestAttest_EncodingIsStandardABI(t *testing.T) {
	rec := attestation.AuthorizationRecord{
		AgentID:          big.NewInt(1),
		Client:           common.HexToAddress(testClient),
		IndexLimit:       1000,
		Expiry:           big.NewInt(3600),
		ChainID:          big.NewInt(84532),
		IdentityRegistry: testRegistry,
		Signer:           common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"),
	}
	enc, err := rec.Encode()
	require.NoError(t, err)
	require.Len(t, enc, 224)

	word := func(i int) []byte { return enc[i*32 : (i+1)*32] }
	assert.Equal(t, common.LeftPadBytes([]byte{1}, 32), word(0))
	assert.Equal(t, common.LeftPadBytes(rec.Client.Bytes(), 32), word(1))
	assert.Equal(t, common.LeftPadBytes(big.NewInt(1000).Bytes(), 32), word(2))
	assert.Equal(t, common.LeftPadBytes(big.NewInt(3600).Bytes(), 32), word(3))
	assert.Equal(t, common.LeftPadBytes(big.NewInt(84532).Bytes(), 32), word(4))
	assert.Equal(t, common.LeftPadBytes(testRegistry.Bytes(), 32), word(5))
	assert.Equal(t, common.LeftPadBytes(rec.Signer.Bytes(), 32), word(6))
}

func TestEncode_RejectsValuesWiderThan256Bits(t *testing.T) {
	tooWide := new(big.Int).Add(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(5))
	valid := func() attestation.AuthorizationRecord {
		return attestation.AuthorizationRecord{
			AgentID: big.NewInt(1),
			Client:  common.HexToAddress(testClient),
			Expiry:  big.NewInt(3600),
			ChainID: big.NewInt(84532),
		}
	}

	cases := map[string]func(*attestation.AuthorizationRecord){
		"agent id": func(r *attestation.AuthorizationRecord) { r.AgentID = tooWide },
		"expiry":   func(r *attestation.AuthorizationRecord) { r.Expiry = tooWide },
		"chain id": func(r *attestation.AuthorizationRecord) { r.ChainID = tooWide },
		"negative": func(r *attestation.AuthorizationRecord) { r.AgentID = big.NewInt(-1) },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			rec := valid()
			mutate(&rec)
			enc, err := rec.Encode()
			assert.Nil(t, enc)
			assert.ErrorIs(t, err, attestation.ErrOutOfRange)
		})
	}
}

func TestNewSigner_RejectsAgentIDWiderThan256Bits(t *testing.T) {
	_, err := attestation.NewSigner(attestation.Config{
		PrivateKeyHex: testKey,
		AgentID:       new(big.Int).Add(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(5)),
	})
	assert.ErrorIs(t, err, attestation.ErrOutOfRange)
}

func TestAttest_InvalidClientFailsClosed(t *testing.T) {
	s := newSigner(t, big.NewInt(1))

	for _, client := range []string{"", "unknown", "203.0.113.9", "0xabc"} {
		att, err := s.Attest("https://example.com", deliveredAt, client)
		assert.Nil(t, att)
		assert.True(t, errors.Is(err, attestation.ErrInvalidClient), "client %q", client)
	}
}

func TestAttest_SaltedReferencesDiffer(t *testing.T) {
	s, err := attestation.NewSigner(attestation.Config{PrivateKeyHex: testKey, SaltTaskReference: true})
	require.NoError(t, err)

	a, err := s.Attest("https://example.com", deliveredAt, "")
	require.NoError(t, err)
	b, err := s.Attest("https://example.com", deliveredAt, "")
	require.NoError(t, err)
	assert.NotEqual(t, a.Reference.TaskReference, b.Reference.TaskReference)
}

func TestReference_Digest(t *testing.T) {
	ref := attestation.Reference{
		AgentIdentity: common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"),
		TaskReference: attestation.TaskReference("https://example.com", deliveredAt),
	}
	d1, err := ref.Digest()
	require.NoError(t, err)
	d2, err := ref.Digest()
	require.NoError(t, err)
	assert.Equal(t, d1, d2)
	assert.NotEqual(t, common.Hash{}, d1)

	ref.TaskReference = attestation.TaskReference("https://example.org", deliveredAt)
	d3, err := ref.Digest()
	require.NoError(t, err)
	assert.NotEqual(t, d1, d3)
}

func TestRecoverSigner_RejectsWrongLength(t *testing.T) {
	_, err := attestation.RecoverSigner(make([]byte, 288))
	assert.True(t, errors.Is(err, attestation.ErrBlobLength))
}

func TestRecoverSigner_TamperedRecordChangesSigner(t *testing.T) {
	s := newSigner(t, big.NewInt(7))
	att, err := s.Attest("https://example.com", deliveredAt, testClient)
	require.NoError(t, err)

	blob := att.Authorization.Blob()
	blob[31] ^= 0x01 // agent id
	got, err := attestation.RecoverSigner(blob)
	if err == nil {
		assert.NotEqual(t, s.Address(), got)
	}
}
