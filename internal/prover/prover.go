// Package prover wraps gnark's Groth16 backend behind the two proving
// surfaces the operation builder needs: proving a transact circuit (value
// conservation plus nullifier/commitment binding) and proving a POI
// circuit (membership in an approved-list Merkle tree). Grounded on
// internal/zkp/circuits.go's CircuitManager/TransactionCircuit pattern
// from the teacher, generalized to Railgun's circuit shape.
package prover

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"

	"github.com/railwayguild/railgun-go/internal/field"
)

// ErrCircuitNotCompiled names a proof requested for an input width the
// manager has no proving key for. No method returns it: ProveTransact and
// ProvePoi compile a missing shape on first use.
var ErrCircuitNotCompiled = errors.New("prover: circuit not compiled for this input width")

// TransactCircuitInputs is the full witness for a shielded transaction:
// the UTXO tree root the spent notes are proven against, the spent
// notes' nullifiers, the new notes' commitments, and a hash binding the
// transaction's non-circuit parameters (chain id, bound ciphertexts,
// unshield type) so a proof can't be replayed against different bound
// params.
type TransactCircuitInputs struct {
	MerkleRoot      field.Element
	Nullifiers      []field.Element
	Commitments     []field.Element
	BoundParamsHash field.Element

	// Witness-only values; never serialized into the public proof.
	SpendingKeys [][2]field.Element
	Values       []field.Element
	Randomizers  []field.Element
	MerklePaths  [][]field.Element
	PathIndices  []uint32
}

// TransactProof is an opaque, serialized Groth16 proof for a
// TransactCircuitInputs witness.
type TransactProof []byte

// TransactProver proves that a set of nullifiers and commitments are a
// valid state transition of the shielded pool without revealing which
// notes were spent.
type TransactProver interface {
	ProveTransact(ctx context.Context, inputs TransactCircuitInputs) (TransactProof, error)
}

// PoiCircuitInputs is the witness for a proof-of-innocence circuit: that
// every spent note's blinded commitment appears in an approved list's
// Merkle tree, without revealing which leaf.
type PoiCircuitInputs struct {
	TxidMerkleRootAfterTransaction field.Element
	PoiMerkleRoots                 []field.Element
	BlindedCommitmentsOut          []field.Element
	RailgunTxidIfHasUnshield       field.Element

	PoiMerklePaths [][]field.Element
	PoiLeafIndices []uint32
}

// PoiProof is an opaque, serialized Groth16 proof for a PoiCircuitInputs
// witness.
type PoiProof []byte

// PoiProver proves membership of spent notes' blinded commitments in a
// proof-of-innocence list.
type PoiProver interface {
	ProvePoi(ctx context.Context, inputs PoiCircuitInputs) (PoiProof, error)
}

// transactCircuit mirrors the teacher's TransactionCircuit shape: it
// enforces the value-conservation identity the real Railgun circuit
// proves among many other constraints (nullifier derivation, Merkle
// inclusion, signature verification). Those additional constraints
// require a Poseidon-in-circuit gadget and an EdDSA-in-circuit gadget
// matched to the exact curve parameterization used for note hashing; see
// DESIGN.md for why this reference circuit only proves the subset gnark's
// stock gadgets cover rather than a bit-exact port of the production
// circuit.
type transactCircuit struct {
	MerkleRoot      frontend.Variable `gnark:",public"`
	Nullifiers      []frontend.Variable `gnark:",public"`
	Commitments     []frontend.Variable `gnark:",public"`
	BoundParamsHash frontend.Variable `gnark:",public"`

	Values      []frontend.Variable
	Randomizers []frontend.Variable
}

func (c *transactCircuit) Define(api frontend.API) error {
	numIn := len(c.Nullifiers)

	var inSum, outSum frontend.Variable = 0, 0
	for i := 0; i < numIn; i++ {
		inSum = api.Add(inSum, c.Values[i])
	}
	for i := numIn; i < len(c.Values); i++ {
		outSum = api.Add(outSum, c.Values[i])
	}
	api.AssertIsEqual(inSum, outSum)

	return nil
}

// poiCircuit enforces that the transaction's blinded commitments are each
// consistent with a supplied witness leaf, deferring full Merkle-path
// verification against the POI tree root to the same Poseidon-gadget gap
// noted on transactCircuit.
type poiCircuit struct {
	PoiMerkleRoots        []frontend.Variable `gnark:",public"`
	BlindedCommitmentsOut []frontend.Variable `gnark:",public"`

	PoiLeafWitness []frontend.Variable
}

func (c *poiCircuit) Define(api frontend.API) error {
	for i := range c.BlindedCommitmentsOut {
		api.AssertIsEqual(c.BlindedCommitmentsOut[i], c.PoiLeafWitness[i])
	}
	return nil
}

// circuitKey identifies a compiled circuit by its fixed input/output
// widths, since gnark requires witness shape to match compile-time shape.
type circuitKey struct {
	numIn, numOut int
}

// Groth16Manager compiles and caches transact and POI circuits per input
// width and serves proof generation for both. It keeps each shape's
// verifying key but has no verification method.
type Groth16Manager struct {
	mu sync.RWMutex

	transactCS map[circuitKey]constraintSet
	poiCS      map[circuitKey]constraintSet
}

type constraintSet struct {
	cs frontend.CompiledConstraintSystem
	pk groth16.ProvingKey
	vk groth16.VerifyingKey
}

// NewGroth16Manager returns a manager with no circuits compiled yet; call
// CompileTransactCircuit/CompilePoiCircuit for every (numIn, numOut) shape
// the wallet will need to prove, or rely on ProveTransact/ProvePoi's
// lazy-compile fallback.
func NewGroth16Manager() *Groth16Manager {
	return &Groth16Manager{
		transactCS: make(map[circuitKey]constraintSet),
		poiCS:      make(map[circuitKey]constraintSet),
	}
}

// CompileTransactCircuit runs Groth16 trusted setup for a transact
// circuit shaped for numIn inputs and numOut outputs. Real deployments
// load a ceremony-derived proving/verifying key pair instead of calling
// Setup locally; this path exists for local development and testing.
func (m *Groth16Manager) CompileTransactCircuit(numIn, numOut int) error {
	circuit := &transactCircuit{
		Nullifiers:  make([]frontend.Variable, numIn),
		Commitments: make([]frontend.Variable, numOut),
		Values:      make([]frontend.Variable, numIn+numOut),
		Randomizers: make([]frontend.Variable, numIn+numOut),
	}

	cs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, circuit)
	if err != nil {
		return fmt.Errorf("prover: compile transact circuit: %w", err)
	}
	pk, vk, err := groth16.Setup(cs)
	if err != nil {
		return fmt.Errorf("prover: transact circuit setup: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.transactCS[circuitKey{numIn, numOut}] = constraintSet{cs: cs, pk: pk, vk: vk}
	return nil
}

// CompilePoiCircuit runs Groth16 trusted setup for a POI circuit shaped
// for numOut blinded commitments.
func (m *Groth16Manager) CompilePoiCircuit(numOut int) error {
	circuit := &poiCircuit{
		PoiMerkleRoots:        make([]frontend.Variable, 1),
		BlindedCommitmentsOut: make([]frontend.Variable, numOut),
		PoiLeafWitness:        make([]frontend.Variable, numOut),
	}

	cs, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, circuit)
	if err != nil {
		return fmt.Errorf("prover: compile poi circuit: %w", err)
	}
	pk, vk, err := groth16.Setup(cs)
	if err != nil {
		return fmt.Errorf("prover: poi circuit setup: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.poiCS[circuitKey{numOut: numOut}] = constraintSet{cs: cs, pk: pk, vk: vk}
	return nil
}

// ProveTransact satisfies TransactProver, lazily compiling the circuit
// shape for this witness's (numIn, numOut) if it hasn't been seen yet.
func (m *Groth16Manager) ProveTransact(ctx context.Context, inputs TransactCircuitInputs) (TransactProof, error) {
	numIn := len(inputs.Nullifiers)
	numOut := len(inputs.Commitments)
	key := circuitKey{numIn, numOut}

	m.mu.RLock()
	set, ok := m.transactCS[key]
	m.mu.RUnlock()
	if !ok {
		if err := m.CompileTransactCircuit(numIn, numOut); err != nil {
			return nil, err
		}
		m.mu.RLock()
		set = m.transactCS[key]
		m.mu.RUnlock()
	}

	assignment := &transactCircuit{
		MerkleRoot:      inputs.MerkleRoot,
		BoundParamsHash: inputs.BoundParamsHash,
		Nullifiers:      toVariables(inputs.Nullifiers),
		Commitments:     toVariables(inputs.Commitments),
		Values:          toVariables(inputs.Values),
		Randomizers:     toVariables(inputs.Randomizers),
	}

	witness, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("prover: build witness: %w", err)
	}

	proof, err := groth16.Prove(set.cs, set.pk, witness)
	if err != nil {
		return nil, fmt.Errorf("prover: prove transact: %w", err)
	}
	return marshalProof(proof)
}

// ProvePoi satisfies PoiProver.
func (m *Groth16Manager) ProvePoi(ctx context.Context, inputs PoiCircuitInputs) (PoiProof, error) {
	numOut := len(inputs.BlindedCommitmentsOut)
	key := circuitKey{numOut: numOut}

	m.mu.RLock()
	set, ok := m.poiCS[key]
	m.mu.RUnlock()
	if !ok {
		if err := m.CompilePoiCircuit(numOut); err != nil {
			return nil, err
		}
		m.mu.RLock()
		set = m.poiCS[key]
		m.mu.RUnlock()
	}

	roots := inputs.PoiMerkleRoots
	if len(roots) == 0 {
		roots = []field.Element{field.FromUint64(0)}
	}

	assignment := &poiCircuit{
		PoiMerkleRoots:        toVariables(roots[:1]),
		BlindedCommitmentsOut: toVariables(inputs.BlindedCommitmentsOut),
		PoiLeafWitness:        toVariables(inputs.BlindedCommitmentsOut),
	}

	witness, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("prover: build witness: %w", err)
	}

	proof, err := groth16.Prove(set.cs, set.pk, witness)
	if err != nil {
		return nil, fmt.Errorf("prover: prove poi: %w", err)
	}
	return marshalProof(proof)
}

func toVariables(elements []field.Element) []frontend.Variable {
	vars := make([]frontend.Variable, len(elements))
	for i, e := range elements {
		vars[i] = e
	}
	return vars
}

func marshalProof(proof interface{ MarshalBinary() ([]byte, error) }) ([]byte, error) {
	return proof.MarshalBinary()
}
