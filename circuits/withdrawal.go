// Package circuits defines the withdrawal circuit and its Groth16 verifier.
// The circuit proves knowledge of a (nullifier, secret) pair whose
// commitment is a member of the anonymity-set tree under a claimed root,
// without revealing which leaf it is.
package circuits

import (
	"github.com/consensys/gnark/frontend"
	"github.com/vocdoni/gnark-crypto-primitives/hash/native/bn254/poseidon"
)

// TreeLevels is the Merkle path length the circuit is compiled for. It must
// match the tree height of the pools verified with it.
const TreeLevels = 20

// HashFn is the in-circuit hash. It must match the hash used to build the
// tree outside the circuit (crypto/hash/poseidon).
var HashFn = poseidon.MultiHash

// WithdrawalCircuit proves, for the six ordered public inputs
// [root, nullifierHash, recipient, relayer, fee, refund], that the prover
// knows a preimage (nullifier, secret) such that:
//
//   - nullifierHash = H(nullifier)
//   - H(nullifier, secret) is a leaf of a tree with the claimed root,
//     along the private path (PathElements, PathIndices)
//
// Recipient, relayer, fee and refund take no part in the arithmetic; they
// are bound into the proof so the transcript cannot be replayed with
// different payout parameters.
type WithdrawalCircuit struct {
	Root          frontend.Variable `gnark:",public"`
	NullifierHash frontend.Variable `gnark:",public"`
	Recipient     frontend.Variable `gnark:",public"`
	Relayer       frontend.Variable `gnark:",public"`
	Fee           frontend.Variable `gnark:",public"`
	Refund        frontend.Variable `gnark:",public"`

	Nullifier    frontend.Variable
	Secret       frontend.Variable
	PathElements [TreeLevels]frontend.Variable
	// PathIndices[i] is 0 when the running node is the left child at
	// level i, 1 when it is the right child.
	PathIndices [TreeLevels]frontend.Variable
}

// Define implements frontend.Circuit.
func (c *WithdrawalCircuit) Define(api frontend.API) error {
	nullifierHash, err := HashFn(api, c.Nullifier)
	if err != nil {
		return err
	}
	api.AssertIsEqual(c.NullifierHash, nullifierHash)

	node, err := HashFn(api, c.Nullifier, c.Secret)
	if err != nil {
		return err
	}
	for i := 0; i < TreeLevels; i++ {
		api.AssertIsBoolean(c.PathIndices[i])
		left := api.Select(c.PathIndices[i], c.PathElements[i], node)
		right := api.Select(c.PathIndices[i], node, c.PathElements[i])
		node, err = HashFn(api, left, right)
		if err != nil {
			return err
		}
	}
	api.AssertIsEqual(c.Root, node)

	// Bind the payout parameters into the constraint system.
	api.Mul(c.Recipient, c.Recipient)
	api.Mul(c.Relayer, c.Relayer)
	api.Mul(c.Fee, c.Fee)
	api.Mul(c.Refund, c.Refund)
	return nil
}
