package circuits

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/frontend"

	"github.com/veilpool/veilpool-node/pool"
	"github.com/veilpool/veilpool-node/types"
)

// Groth16Verifier verifies withdrawal proofs against a verifying key. It
// implements the proof-verification interface of the pool ledger.
type Groth16Verifier struct {
	vk groth16.VerifyingKey
}

// NewGroth16Verifier deserializes a BN254 verifying key.
func NewGroth16Verifier(vkBytes []byte) (*Groth16Verifier, error) {
	vk := groth16.NewVerifyingKey(ecc.BN254)
	if _, err := vk.ReadFrom(bytes.NewReader(vkBytes)); err != nil {
		return nil, fmt.Errorf("read verifying key: %w", err)
	}
	return &Groth16Verifier{vk: vk}, nil
}

// VerifierFromKey wraps an already deserialized verifying key.
func VerifierFromKey(vk groth16.VerifyingKey) *Groth16Verifier {
	return &Groth16Verifier{vk: vk}
}

// Verify checks the proof against the six ordered public inputs. A proof
// that fails to deserialize or to verify reports invalid with a nil error;
// the error return is reserved for verifier malfunction.
func (v *Groth16Verifier) Verify(proofBytes types.HexBytes, publicInputs [pool.NumPublicInputs]*big.Int) (bool, error) {
	for _, input := range publicInputs {
		if input == nil {
			return false, fmt.Errorf("nil public input")
		}
	}
	proof := groth16.NewProof(ecc.BN254)
	if _, err := proof.ReadFrom(bytes.NewReader(proofBytes)); err != nil {
		return false, nil
	}
	assignment := &WithdrawalCircuit{
		Root:          publicInputs[0],
		NullifierHash: publicInputs[1],
		Recipient:     publicInputs[2],
		Relayer:       publicInputs[3],
		Fee:           publicInputs[4],
		Refund:        publicInputs[5],
	}
	witness, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return false, fmt.Errorf("build public witness: %w", err)
	}
	if err := groth16.Verify(proof, v.vk, witness); err != nil {
		return false, nil
	}
	return true, nil
}
