// Package poseidon wraps the iden3 Poseidon permutation. It is the
// collision-resistant compression function of the anonymity-set tree and the
// derivation function for commitments and nullifier hashes used by tooling
// and tests.
package poseidon

import (
	"fmt"
	"math/big"

	"github.com/iden3/go-iden3-crypto/poseidon"
)

// Hash computes the Poseidon hash of a variable number of big.Int inputs.
// Inputs beyond the permutation width are chunked into groups of 16, each
// chunk hashed, and the chunk hashes hashed together recursively.
// Returns an error if no inputs are provided.
func Hash(inputs ...*big.Int) (*big.Int, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("no inputs provided")
	}

	if len(inputs) <= 16 {
		return poseidon.Hash(inputs)
	}

	numChunks := (len(inputs) + 15) / 16 // ceiling division
	hashes := make([]*big.Int, 0, numChunks)
	for i := 0; i < len(inputs); i += 16 {
		end := min(i+16, len(inputs))
		hash, err := poseidon.Hash(inputs[i:end])
		if err != nil {
			return nil, err
		}
		hashes = append(hashes, hash)
	}
	if len(hashes) == 1 {
		return hashes[0], nil
	}
	if len(hashes) <= 16 {
		return poseidon.Hash(hashes)
	}
	return Hash(hashes...)
}

// HashPair computes Poseidon(left, right). The (left, right) argument order
// is normative for the tree: every level of the accumulator composes its
// children in this order.
func HashPair(left, right *big.Int) (*big.Int, error) {
	return poseidon.Hash([]*big.Int{left, right})
}

// Commitment derives the leaf value inserted into the anonymity set from a
// withdrawer's (nullifier, secret) pair.
func Commitment(nullifier, secret *big.Int) (*big.Int, error) {
	return poseidon.Hash([]*big.Int{nullifier, secret})
}

// NullifierHash derives the public nullifier hash revealed at withdrawal
// time from the nullifier.
func NullifierHash(nullifier *big.Int) (*big.Int, error) {
	return poseidon.Hash([]*big.Int{nullifier})
}
