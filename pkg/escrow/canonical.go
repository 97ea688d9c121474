package escrow

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gowebpki/jcs"
)

// CanonicalJSON serializes v with RFC 8785 key ordering so that structurally
// equal values produce identical bytes.
func CanonicalJSON(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jcs.Transform(raw)
}

// HashCanonical is keccak256 over CanonicalJSON(v).
func HashCanonical(v interface{}) (common.Hash, error) {
	b, err := CanonicalJSON(v)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(b), nil
}
