package attestation

import (
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

// TaskReference identifies one delivery: keccak256 over the resource
// followed by the decimal unix-millisecond delivery time.
func TaskReference(resource string, deliveredAt time.Time) common.Hash {
	return TaskReferenceWithNonce(resource, deliveredAt, nil)
}

// TaskReferenceWithNonce appends nonce to the preimage so two deliveries of
// the same resource in the same millisecond get distinct references.
func TaskReferenceWithNonce(resource string, deliveredAt time.Time, nonce []byte) common.Hash {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(resource))
	h.Write([]byte(strconv.FormatInt(deliveredAt.UnixMilli(), 10)))
	if len(nonce) > 0 {
		h.Write(nonce)
	}
	var out common.Hash
	h.Sum(out[:0])
	return out
}
