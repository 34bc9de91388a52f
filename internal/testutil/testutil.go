// Package testutil provides deterministic fixtures for tests: addresses,
// note secrets and commitments derived from small integer seeds.
package testutil

import (
	"encoding/binary"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/veilpool/veilpool-node/crypto/hash/poseidon"
	"github.com/veilpool/veilpool-node/types"
)

// Address returns a deterministic address derived from n.
func Address(n uint64) common.Address {
	var addr common.Address
	binary.BigEndian.PutUint64(addr[common.AddressLength-8:], n)
	addr[0] = 0xaa
	return addr
}

// Note is a deposit note: the secret pair and its derived values.
type Note struct {
	Nullifier     *big.Int
	Secret        *big.Int
	Commitment    *big.Int
	NullifierHash *big.Int
}

// NewNote derives a note from a seed. Notes with distinct seeds have
// distinct commitments and nullifier hashes.
func NewNote(seed uint64) *Note {
	nullifier := new(big.Int).SetUint64(1_000_000_000 + seed*2)
	secret := new(big.Int).SetUint64(2_000_000_000 + seed*2 + 1)
	commitment, err := poseidon.Commitment(nullifier, secret)
	if err != nil {
		panic(err)
	}
	nullifierHash, err := poseidon.NullifierHash(nullifier)
	if err != nil {
		panic(err)
	}
	return &Note{
		Nullifier:     nullifier,
		Secret:        secret,
		Commitment:    commitment,
		NullifierHash: nullifierHash,
	}
}

// CommitmentBig returns the note commitment as a types.BigInt.
func (n *Note) CommitmentBig() *types.BigInt {
	return new(types.BigInt).SetBigInt(n.Commitment)
}

// NullifierHashBig returns the note nullifier hash as a types.BigInt.
func (n *Note) NullifierHashBig() *types.BigInt {
	return new(types.BigInt).SetBigInt(n.NullifierHash)
}
