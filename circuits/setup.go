package circuits

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"

	"github.com/veilpool/veilpool-node/crypto/hash/poseidon"
	"github.com/veilpool/veilpool-node/log"
	"github.com/veilpool/veilpool-node/types"
)

// Compile builds the constraint system of the withdrawal circuit.
func Compile() (constraint.ConstraintSystem, error) {
	ccs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &WithdrawalCircuit{})
	if err != nil {
		return nil, fmt.Errorf("compile withdrawal circuit: %w", err)
	}
	return ccs, nil
}

// Setup runs the Groth16 setup over the compiled circuit. The keys it
// produces are for development and testing; production keys come out of a
// multi-party ceremony and are loaded from disk.
func Setup(ccs constraint.ConstraintSystem) (groth16.ProvingKey, groth16.VerifyingKey, error) {
	return groth16.Setup(ccs)
}

// DevSetup compiles the circuit and runs an in-process setup, returning the
// artifacts a node needs to prove and verify withdrawals without external
// key files.
func DevSetup() (constraint.ConstraintSystem, groth16.ProvingKey, *Groth16Verifier, error) {
	log.Infow("compiling withdrawal circuit", "levels", TreeLevels)
	ccs, err := Compile()
	if err != nil {
		return nil, nil, nil, err
	}
	pk, vk, err := Setup(ccs)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("withdrawal circuit setup: %w", err)
	}
	log.Infow("withdrawal circuit ready", "constraints", ccs.GetNbConstraints())
	return ccs, pk, VerifierFromKey(vk), nil
}

// WithdrawalInputs carries everything needed to generate a withdrawal proof.
type WithdrawalInputs struct {
	Nullifier *big.Int
	Secret    *big.Int
	LeafIndex uint64
	// Leaves is the full ordered commitment list of the pool, from which
	// the Merkle path is rebuilt.
	Leaves    []*big.Int
	Recipient *big.Int
	Relayer   *big.Int
	Fee       *big.Int
	Refund    *big.Int
}

// Prove generates a serialized withdrawal proof, returning it together with
// the root and nullifier hash it binds.
func Prove(ccs constraint.ConstraintSystem, pk groth16.ProvingKey, inputs *WithdrawalInputs) (types.HexBytes, *big.Int, *big.Int, error) {
	elements, indices, root, err := MerklePath(inputs.Leaves, inputs.LeafIndex)
	if err != nil {
		return nil, nil, nil, err
	}
	nullifierHash, err := poseidon.NullifierHash(inputs.Nullifier)
	if err != nil {
		return nil, nil, nil, err
	}
	assignment := &WithdrawalCircuit{
		Root:          root,
		NullifierHash: nullifierHash,
		Recipient:     inputs.Recipient,
		Relayer:       inputs.Relayer,
		Fee:           inputs.Fee,
		Refund:        inputs.Refund,
		Nullifier:     inputs.Nullifier,
		Secret:        inputs.Secret,
	}
	for i := 0; i < TreeLevels; i++ {
		assignment.PathElements[i] = elements[i]
		assignment.PathIndices[i] = indices[i]
	}
	witness, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("build witness: %w", err)
	}
	proof, err := groth16.Prove(ccs, pk, witness)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("prove withdrawal: %w", err)
	}
	var buf bytes.Buffer
	if _, err := proof.WriteTo(&buf); err != nil {
		return nil, nil, nil, fmt.Errorf("serialize proof: %w", err)
	}
	return buf.Bytes(), root, nullifierHash, nil
}

// MerklePath rebuilds the sibling path of the leaf at index from the full
// ordered leaf list, padding incomplete subtrees with the zero sentinel the
// accumulator uses. It returns the per-level siblings, the per-level side
// bits (0 left, 1 right) and the resulting root.
func MerklePath(leaves []*big.Int, index uint64) ([TreeLevels]*big.Int, [TreeLevels]int, *big.Int, error) {
	var elements [TreeLevels]*big.Int
	var indices [TreeLevels]int
	if index >= uint64(len(leaves)) {
		return elements, indices, nil, fmt.Errorf("leaf index %d out of range (%d leaves)", index, len(leaves))
	}
	if uint64(len(leaves)) > 1<<TreeLevels {
		return elements, indices, nil, fmt.Errorf("%d leaves exceed the circuit capacity", len(leaves))
	}

	level := make([]*big.Int, len(leaves))
	copy(level, leaves)
	zero := big.NewInt(0)
	pos := index
	for i := 0; i < TreeLevels; i++ {
		sibling := zero
		if pos%2 == 0 {
			if pos+1 < uint64(len(level)) {
				sibling = level[pos+1]
			}
			indices[i] = 0
		} else {
			sibling = level[pos-1]
			indices[i] = 1
		}
		elements[i] = sibling

		next := make([]*big.Int, (len(level)+1)/2)
		for j := range next {
			left := level[2*j]
			right := zero
			if 2*j+1 < len(level) {
				right = level[2*j+1]
			}
			parent, err := poseidon.HashPair(left, right)
			if err != nil {
				return elements, indices, nil, err
			}
			next[j] = parent
		}
		level = next
		pos /= 2
		z, err := poseidon.HashPair(zero, zero)
		if err != nil {
			return elements, indices, nil, err
		}
		zero = z
	}
	return elements, indices, level[0], nil
}

// SerializeVerifyingKey writes a verifying key to bytes, for storage next to
// the node configuration.
func SerializeVerifyingKey(vk groth16.VerifyingKey) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := vk.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("serialize verifying key: %w", err)
	}
	return buf.Bytes(), nil
}
