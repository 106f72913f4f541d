// Package operation builds Railgun operations — the unit of private
// value transfer the transact circuit proves — from a wallet's unspent
// notes and a set of desired transfers/unshields, grounded on
// original_source/railgun-rs/src/railgun/transaction/operation_builder.rs
// and original_source/railgun-rs/src/note/operation.rs.
package operation

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/railwayguild/railgun-go/internal/address"
	"github.com/railwayguild/railgun-go/internal/caip"
	"github.com/railwayguild/railgun-go/internal/field"
	"github.com/railwayguild/railgun-go/internal/keys"
	"github.com/railwayguild/railgun-go/internal/note"
	"github.com/railwayguild/railgun-go/internal/prover"
)

// maxOperationNotes is the fixed width the transact circuit accepts for
// either side of an operation (13 inputs, 13 outputs including an
// unshield slot).
const maxOperationNotes = 13

// ErrCrossTreeSplitUnsupported is returned when an operation's selected
// input notes span more than one UTXO tree. The original implementation's
// split_trees step is an explicit todo!() for this case; this
// implementation surfaces it as an error rather than panicking so callers
// can react (e.g. by narrowing note selection to a single tree) instead of
// crashing mid-build.
var ErrCrossTreeSplitUnsupported = errors.New("operation: input notes span multiple utxo trees, cross-tree splitting is not supported")

// ErrNoInputNotes is returned when an operation has no way to satisfy its
// requested output value from the account's unspent notes.
var ErrNoInputNotes = errors.New("operation: insufficient unspent notes to satisfy requested value")

// Account bundles the spending and viewing keys controlling a wallet,
// exactly as much as the operation builder needs: its own Railgun address,
// and the keys required to select, sign, and encrypt notes.
type Account struct {
	SpendKey keys.SpendingKey
	ViewKey  keys.ViewingKey
	Chain    address.ChainID
}

// Address derives this account's public Railgun address.
func (a Account) Address() address.RailgunAddress {
	master := keys.NewMasterPublicKey(a.SpendKey.PublicKey(), a.ViewKey.NullifyingKey())
	viewPub, err := a.ViewKey.PublicKey()
	if err != nil {
		panic("operation: unreachable viewing public key derivation failure: " + err.Error())
	}
	return address.New(master, viewPub, a.Chain)
}

// Operation is a single transact-circuit-shaped unit: notes spent from one
// tree and one owning account, paid out to one or more transfer notes and
// at most one unshield.
type Operation struct {
	UtxoTreeNumber uint32
	Asset          caip.AssetId
	From           Account
	InNotes        []note.IncludedNote
	OutNotes       []note.TransferNote
	FeeNote        *note.TransferNote
	UnshieldNote   *note.UnshieldNote
}

// InValue sums the value of every input note.
func (o Operation) InValue() *big.Int {
	total := big.NewInt(0)
	for _, n := range o.InNotes {
		total.Add(total, n.Value())
	}
	return total
}

// OutValue sums the value of every output: transfers, the broadcaster fee
// (if any), and the unshield (if any).
func (o Operation) OutValue() *big.Int {
	total := big.NewInt(0)
	for _, n := range o.OutNotes {
		total.Add(total, n.Value())
	}
	if o.FeeNote != nil {
		total.Add(total, o.FeeNote.Value())
	}
	if o.UnshieldNote != nil {
		total.Add(total, o.UnshieldNote.Value())
	}
	return total
}

// EncryptableOutNotes returns every output note worth encrypting and
// broadcasting, in on-chain commitment order (fee first, then transfers and
// change), skipping zero-value entries — railgun omits ciphertext slots for
// notes with nothing to hide.
func (o Operation) EncryptableOutNotes() []note.TransferNote {
	notes := make([]note.TransferNote, 0, len(o.OutNotes)+1)
	if o.FeeNote != nil && o.FeeNote.Value().Sign() > 0 {
		notes = append(notes, *o.FeeNote)
	}
	for _, n := range o.OutNotes {
		if n.Value().Sign() > 0 {
			notes = append(notes, n)
		}
	}
	return notes
}

// draftKey groups transfers, unshields, and fees into the same draft
// operation whenever they share a sender and asset, matching the
// original's (RailgunAddress, AssetId) grouping key.
type draftKey struct {
	addr  string
	asset string
}

func newDraftKey(acct Account, asset caip.AssetId) draftKey {
	return draftKey{addr: acct.Address().String(), asset: asset.String()}
}

type transferRequest struct {
	from  Account
	to    address.RailgunAddress
	asset caip.AssetId
	value *big.Int
	memo  string
}

type unshieldRequest struct {
	from  Account
	to    caip.Address
	asset caip.AssetId
	value *big.Int
}

// Builder accumulates transfer and unshield requests and assembles them
// into a minimal set of operations on Build.
type Builder struct {
	transfers      []transferRequest
	unshields      map[string]unshieldRequest
	broadcasterFee *transferRequest
}

// NewBuilder returns an empty operation builder.
func NewBuilder() *Builder {
	return &Builder{unshields: make(map[string]unshieldRequest)}
}

// Transfer queues a private transfer from one account to a Railgun
// address.
func (b *Builder) Transfer(from Account, to address.RailgunAddress, asset caip.AssetId, value *big.Int, memo string) {
	b.transfers = append(b.transfers, transferRequest{from: from, to: to, asset: asset, value: new(big.Int).Set(value), memo: memo})
}

// SetUnshield queues an unshield of asset to a public address, replacing
// any previously queued unshield for the same asset.
func (b *Builder) SetUnshield(from Account, to caip.Address, asset caip.AssetId, value *big.Int) {
	b.unshields[asset.String()] = unshieldRequest{from: from, to: to, asset: asset, value: new(big.Int).Set(value)}
}

// setBroadcasterFee is called internally by PrepareBroadcast to set the
// broadcaster's fee as the fee note of the operation drafted for (from,
// asset), committed ahead of that operation's transfer outputs; each call
// replaces the previously set fee.
func (b *Builder) setBroadcasterFee(from Account, to address.RailgunAddress, asset caip.AssetId, value *big.Int) {
	b.broadcasterFee = &transferRequest{from: from, to: to, asset: asset, value: new(big.Int).Set(value), memo: "fee"}
}

// clone returns a shallow copy safe for PrepareBroadcast's iterative
// fee-convergence loop to mutate independently of the caller's builder.
func (b *Builder) clone() *Builder {
	c := &Builder{
		transfers: append([]transferRequest(nil), b.transfers...),
		unshields: make(map[string]unshieldRequest, len(b.unshields)),
	}
	for k, v := range b.unshields {
		c.unshields[k] = v
	}
	return c
}

// Build groups queued transfers, unshields, and the broadcaster fee into
// draft operations keyed by (sender address, asset), selects input notes
// from candidates to cover each draft's output value, and appends a
// change note to return any excess.
func (b *Builder) Build(candidates []note.IncludedNote) ([]Operation, error) {
	drafts := make(map[draftKey]*Operation)
	order := make([]draftKey, 0)

	getOrCreate := func(acct Account, asset caip.AssetId) *Operation {
		key := newDraftKey(acct, asset)
		if op, ok := drafts[key]; ok {
			return op
		}
		op := &Operation{Asset: asset, From: acct}
		drafts[key] = op
		order = append(order, key)
		return op
	}

	for _, t := range b.transfers {
		op := getOrCreate(t.from, t.asset)
		random, err := field.RandomBytes16()
		if err != nil {
			return nil, fmt.Errorf("operation: generate randomizer: %w", err)
		}
		op.OutNotes = append(op.OutNotes, note.NewTransferNote(t.from.ViewKey, t.to, t.asset, t.value, random, t.memo))
	}

	for _, u := range b.unshields {
		op := getOrCreate(u.from, u.asset)
		un := note.NewUnshieldNote(u.to, u.asset, u.value)
		op.UnshieldNote = &un
	}

	if b.broadcasterFee != nil {
		f := b.broadcasterFee
		op := getOrCreate(f.from, f.asset)
		random, err := field.RandomBytes16()
		if err != nil {
			return nil, fmt.Errorf("operation: generate randomizer: %w", err)
		}
		feeNote := note.NewTransferNote(f.from.ViewKey, f.to, f.asset, f.value, random, f.memo)
		op.FeeNote = &feeNote
	}

	operations := make([]Operation, 0, len(order))
	for _, key := range order {
		op := drafts[key]

		selfAddr := op.From.Address()
		selected, err := selectInNotes(selfAddr, op.Asset, op.OutValue(), candidates)
		if err != nil {
			return nil, err
		}
		op.InNotes = selected

		treeNumber, err := singleTreeNumber(selected)
		if err != nil {
			return nil, err
		}
		op.UtxoTreeNumber = treeNumber

		addChangeNote(op)

		operations = append(operations, *op)
	}

	return operations, nil
}

// selectInNotes greedily accumulates notes owned by from and denominated
// in asset until their combined value covers target, matching the
// original's naive first-fit selection (no coin selection optimization).
func selectInNotes(from address.RailgunAddress, asset caip.AssetId, target *big.Int, candidates []note.IncludedNote) ([]note.IncludedNote, error) {
	selected := make([]note.IncludedNote, 0)
	total := big.NewInt(0)

	for _, n := range candidates {
		if n.ViewingPublicKey().Bytes() != from.ViewingPublicKey.Bytes() {
			continue
		}
		if !n.Asset().Equal(asset) {
			continue
		}
		selected = append(selected, n)
		total.Add(total, n.Value())
		if total.Cmp(target) >= 0 {
			break
		}
		if len(selected) >= maxOperationNotes {
			break
		}
	}

	if total.Cmp(target) < 0 {
		return nil, ErrNoInputNotes
	}
	return selected, nil
}

// singleTreeNumber returns the UTXO tree every input note was drawn from,
// or ErrCrossTreeSplitUnsupported if they disagree.
func singleTreeNumber(notes []note.IncludedNote) (uint32, error) {
	if len(notes) == 0 {
		return 0, nil
	}
	treeNumber := notes[0].TreeNumber()
	for _, n := range notes[1:] {
		if n.TreeNumber() != treeNumber {
			return 0, ErrCrossTreeSplitUnsupported
		}
	}
	return treeNumber, nil
}

// addChangeNote appends a transfer note returning any value consumed by
// input notes beyond what outputs requested, paid back to the spending
// account's own address.
func addChangeNote(op *Operation) {
	change := new(big.Int).Sub(op.InValue(), op.OutValue())
	if change.Sign() <= 0 {
		return
	}

	random, err := field.RandomBytes16()
	if err != nil {
		// Change notes are an optimization over burning dust; if entropy
		// generation itself is failing the process has bigger problems,
		// so surfacing via panic here matches the non-fallible signature
		// callers expect from addChangeNote.
		panic("operation: unreachable randomizer generation failure: " + err.Error())
	}

	changeNote := note.NewTransferNote(op.From.ViewKey, op.From.Address(), op.Asset, change, random, "change")
	op.OutNotes = append(op.OutNotes, changeNote)
}

// maxFeeConvergenceIters bounds the broadcaster-fee convergence loop in
// PrepareBroadcast: adding a fee note changes an operation's gas cost,
// which changes the fee, so the loop rebuilds until the estimate stops
// moving or gives up after this many passes.
const maxFeeConvergenceIters = 5

// GasEstimator reports the current network gas price and the gas an
// assembled broadcast would cost, so PrepareBroadcast can converge on a
// broadcaster fee that actually covers the transaction it's attached to.
type GasEstimator interface {
	GasPriceWei(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, operations []Operation) (*big.Int, error)
}

// PreparedBroadcast is a fee-converged set of operations together with
// the transact-circuit proof for each, ready to hand to a broadcaster or
// submit directly on-chain.
type PreparedBroadcast struct {
	Operations   []Operation
	Proofs       []prover.TransactProof
	Transactions []Transaction
}

// PrepareBroadcast rebuilds operations with a recomputed broadcaster fee
// until the fee stops changing (or maxFeeConvergenceIters is exhausted),
// then proves each converged operation, matching the original's
// prepare_broadcast iterative fee-then-prove loop.
func (b *Builder) PrepareBroadcast(
	ctx context.Context,
	candidates []note.IncludedNote,
	txProver prover.TransactProver,
	estimator GasEstimator,
	merkleRootOf func(treeNumber uint32) field.Element,
	feePayee Account,
	feeRecipient address.RailgunAddress,
	feeAsset caip.AssetId,
	feeBps uint32,
) (*PreparedBroadcast, error) {
	gasPriceWei, err := estimator.GasPriceWei(ctx)
	if err != nil {
		return nil, fmt.Errorf("operation: gas price: %w", err)
	}

	// Initial estimate: roughly what a simple transfer costs, scaled by
	// the broadcaster's fee rate, before any real operation has been built.
	lastFee := new(big.Int).Mul(big.NewInt(50_000), big.NewInt(1e10))
	lastFee.Mul(lastFee, big.NewInt(int64(feeBps)))
	lastFee.Div(lastFee, big.NewInt(10_000))

	working := b.clone()
	working.setBroadcasterFee(feePayee, feeRecipient, feeAsset, lastFee)

	var operations []Operation
	for i := 0; i < maxFeeConvergenceIters; i++ {
		operations, err = working.Build(candidates)
		if err != nil {
			return nil, err
		}

		gas, err := estimator.EstimateGas(ctx, operations)
		if err != nil {
			return nil, fmt.Errorf("operation: estimate gas: %w", err)
		}

		fee := new(big.Int).Mul(gas, gasPriceWei)
		fee.Mul(fee, big.NewInt(int64(feeBps)))
		fee.Div(fee, big.NewInt(10_000))

		if fee.Cmp(lastFee) == 0 {
			break
		}

		working.setBroadcasterFee(feePayee, feeRecipient, feeAsset, fee)
		lastFee = fee
	}

	proofs := make([]prover.TransactProof, 0, len(operations))
	transactions := make([]Transaction, 0, len(operations))
	for _, op := range operations {
		merkleRoot := merkleRootOf(op.UtxoTreeNumber)

		boundParams, err := buildBoundParams(op, gasPriceWei)
		if err != nil {
			return nil, fmt.Errorf("operation: encrypt outputs: %w", err)
		}

		inputs := transactInputs(op, merkleRoot, boundParams)
		proof, err := txProver.ProveTransact(ctx, inputs)
		if err != nil {
			return nil, fmt.Errorf("operation: prove transact: %w", err)
		}
		proofs = append(proofs, proof)

		tx, err := BuildTransaction(op, proof, merkleRoot, boundParams)
		if err != nil {
			return nil, fmt.Errorf("operation: assemble transaction: %w", err)
		}
		transactions = append(transactions, tx)
	}

	return &PreparedBroadcast{Operations: operations, Proofs: proofs, Transactions: transactions}, nil
}

// buildBoundParams encrypts an operation's outputs (step 1 of assembling a
// transaction) and packages the result with the operation's tree number,
// gas price floor, unshield type, and chain id into the BoundParams the
// transact circuit's BoundParamsHash public input commits to.
func buildBoundParams(op Operation, minGasPrice *big.Int) (BoundParams, error) {
	ciphertexts, err := encryptOutNotes(op)
	if err != nil {
		return BoundParams{}, err
	}

	unshieldType := UnshieldTypeNone
	if op.UnshieldNote != nil {
		unshieldType = UnshieldTypeNormal
	}

	var chainID uint64
	if !op.From.Chain.All {
		chainID = op.From.Chain.EVMID
	}

	return BoundParams{
		TreeNumber:  uint16(op.UtxoTreeNumber),
		MinGasPrice: new(big.Int).Set(minGasPrice),
		Unshield:    unshieldType,
		ChainID:     chainID,
		Ciphertexts: ciphertexts,
	}, nil
}

// encryptOutNotes seals every encryptable output note for its recipient,
// in on-chain commitment order, matching the original's step of producing
// a CommitmentCiphertext per output before it can be bound into the
// transaction.
func encryptOutNotes(op Operation) ([]note.CommitmentCiphertext, error) {
	outNotes := op.EncryptableOutNotes()
	ciphertexts := make([]note.CommitmentCiphertext, 0, len(outNotes))
	for _, n := range outNotes {
		ct, err := note.EncryptTransferNote(n)
		if err != nil {
			return nil, fmt.Errorf("operation: encrypt output note: %w", err)
		}
		ciphertexts = append(ciphertexts, ct)
	}
	return ciphertexts, nil
}

// transactInputs assembles the transact circuit's public and witness
// inputs from a built operation: nullifiers for every spent note,
// commitment hashes for every new note in on-chain order (including the
// unshield, if any), the values each side carries so the circuit can
// enforce conservation, and the real BoundParamsHash computed from
// boundParams rather than a stand-in over the nullifiers and commitments.
func transactInputs(op Operation, merkleRoot field.Element, boundParams BoundParams) prover.TransactCircuitInputs {
	nullifiers := make([]field.Element, len(op.InNotes))
	inValues := make([]field.Element, len(op.InNotes))
	for i, n := range op.InNotes {
		nullifiers[i] = n.Nullifier(field.FromUint64(uint64(n.LeafIndex())))
		inValues[i] = field.FromBigInt(n.Value())
	}

	commitments := make([]field.Element, 0, len(op.OutNotes)+2)
	outValues := make([]field.Element, 0, len(op.OutNotes)+2)
	if op.FeeNote != nil {
		commitments = append(commitments, op.FeeNote.Hash())
		outValues = append(outValues, field.FromBigInt(op.FeeNote.Value()))
	}
	for _, n := range op.OutNotes {
		commitments = append(commitments, n.Hash())
		outValues = append(outValues, field.FromBigInt(n.Value()))
	}
	if op.UnshieldNote != nil {
		commitments = append(commitments, op.UnshieldNote.Hash())
		outValues = append(outValues, field.FromBigInt(op.UnshieldNote.Value()))
	}

	return prover.TransactCircuitInputs{
		MerkleRoot:      merkleRoot,
		BoundParamsHash: boundParams.Hash(),
		Nullifiers:      nullifiers,
		Commitments:     commitments,
		Values:          append(inValues, outValues...),
		Randomizers:     make([]field.Element, len(inValues)+len(outValues)),
	}
}
