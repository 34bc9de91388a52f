package pool

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/veilpool/veilpool-node/types"
)

// NumPublicInputs is the size of the ordered public-input vector passed to
// the proof verifier: root, nullifierHash, recipient, relayer, fee, refund.
// The order is the contract that withdrawal proofs are generated against.
const NumPublicInputs = 6

// ProofVerifier checks a zero-knowledge withdrawal proof against the public
// inputs. It is a stateless function of its inputs; implementations must
// return (false, nil) for a well-formed but invalid proof and reserve the
// error for malformed input or internal failure.
type ProofVerifier interface {
	Verify(proof types.HexBytes, publicInputs [NumPublicInputs]*big.Int) (bool, error)
}

// AssetTransfer moves value out of the pool's escrow. A returned error is an
// abort signal for the whole enclosing operation and must never be ignored.
type AssetTransfer interface {
	Send(dest common.Address, amount *uint256.Int) error
}
