// Package indexer maintains the client-side view of Railgun's on-chain
// state: the per-chain set of UTXO Merkle trees fed by shield/transact
// events, the registered accounts' decrypted note notebooks, and the TXID
// tree set fed by the POI aggregator's validated transaction queue.
// Grounded on
// original_source/railgun-rs/src/railgun/indexer/{utxo_indexer,indexed_account,notebook,txid_tree_set}.rs.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/railwayguild/railgun-go/internal/address"
	"github.com/railwayguild/railgun-go/internal/field"
	"github.com/railwayguild/railgun-go/internal/keys"
	"github.com/railwayguild/railgun-go/internal/merkletree"
	"github.com/railwayguild/railgun-go/internal/note"
)

// ErrTreeVerificationFailed is returned when a rebuilt tree's root
// disagrees with the Verifier's source of truth, meaning the indexer's
// local state has diverged from the chain and must not be trusted.
var ErrTreeVerificationFailed = errors.New("indexer: rebuilt tree root failed verification")

// TotalLeaves mirrors merkletree.TotalLeaves, the fixed width every tree
// in a numbered sequence holds before a shield/transact batch must spill
// into the next tree number.
const TotalLeaves = merkletree.TotalLeaves

// SyncEventKind discriminates the on-chain log types a NoteSyncer replays.
type SyncEventKind int

const (
	SyncEventShield SyncEventKind = iota
	SyncEventTransact
	SyncEventNullified
)

// SyncEvent is a single decoded on-chain log relevant to UTXO tree state.
// Leaves and Ciphertexts are populated for Shield/Transact (Ciphertexts is
// the raw per-leaf commitment ciphertext, parallel to Leaves, and may be
// left nil by callers that only need tree-insertion and don't track
// accounts); Nullifiers is populated for Nullified.
type SyncEvent struct {
	Kind          SyncEventKind
	BlockNumber   uint64
	TreeNumber    uint32
	StartPosition uint32
	Leaves        []field.Element
	Ciphertexts   []note.CommitmentCiphertext
	Nullifiers    []field.Element
}

// NoteSyncer streams on-chain log data for a block range. Production
// implementations poll an Ethereum JSON-RPC log filter or websocket
// subscription; tests and the reference CLI use an in-memory feed.
type NoteSyncer interface {
	LatestBlock(ctx context.Context) (uint64, error)
	Sync(ctx context.Context, fromBlock, toBlock uint64) (<-chan SyncEvent, <-chan error)
}

// UtxoIndexer owns the numbered sequence of UTXO Merkle trees for one
// chain, the accounts registered against it, and replays sync events into
// both: tree leaves are inserted and spilled across tree boundaries
// exactly as the on-chain contract's tree-per-65536-leaves numbering
// requires, while every registered account independently attempts to
// decrypt each event's ciphertexts into its own per-tree notebook.
type UtxoIndexer struct {
	mu sync.RWMutex

	syncer   NoteSyncer
	verifier merkletree.Verifier

	trees       map[uint32]*merkletree.Tree
	syncedBlock uint64
	nullifiers  map[field.Element]struct{}
	accounts    []*IndexedAccount
}

// NewUtxoIndexer builds an indexer with no synced history. verifier is
// consulted after every rebuild; see SyncTo.
func NewUtxoIndexer(syncer NoteSyncer, verifier merkletree.Verifier) *UtxoIndexer {
	return &UtxoIndexer{
		syncer:     syncer,
		verifier:   verifier,
		trees:      make(map[uint32]*merkletree.Tree),
		nullifiers: make(map[field.Element]struct{}),
	}
}

// State is the serializable snapshot of an indexer's tree state and synced
// block, matching the original's UtxoIndexerState. Registered accounts are
// intentionally excluded: as in the original, an account's keys aren't
// persisted across a state reload and must be re-added by the caller via
// AddAccount (which does not itself trigger a resync).
type State struct {
	Trees       map[uint32]*merkletree.Tree
	SyncedBlock uint64
}

// FromState rebuilds an indexer from a previously saved State.
func FromState(syncer NoteSyncer, verifier merkletree.Verifier, state State) *UtxoIndexer {
	trees := state.Trees
	if trees == nil {
		trees = make(map[uint32]*merkletree.Tree)
	}
	return &UtxoIndexer{
		syncer:      syncer,
		verifier:    verifier,
		trees:       trees,
		syncedBlock: state.SyncedBlock,
		nullifiers:  make(map[field.Element]struct{}),
	}
}

// State returns a snapshot suitable for persistence and later FromState
// reconstruction.
func (idx *UtxoIndexer) State() State {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return State{Trees: idx.trees, SyncedBlock: idx.syncedBlock}
}

// AddAccount registers a wallet's keys with the indexer so future synced
// events are decrypted against it. It does not rescan already-synced
// blocks; callers that need history decrypted must reset syncedBlock and
// re-sync after registering every account they care about.
func (idx *UtxoIndexer) AddAccount(spendKey keys.SpendingKey, viewKey keys.ViewingKey, chain address.ChainID) *IndexedAccount {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	acct := newIndexedAccount(spendKey, viewKey, chain)
	idx.accounts = append(idx.accounts, acct)
	return acct
}

// Unspent returns addr's unspent notes, or nil if addr isn't a registered
// account.
func (idx *UtxoIndexer) Unspent(addr address.RailgunAddress) []note.IncludedNote {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	for _, acct := range idx.accounts {
		if acct.Address().String() == addr.String() {
			return acct.Unspent()
		}
	}
	return nil
}

// AllUnspent returns the unspent notes of every registered account.
func (idx *UtxoIndexer) AllUnspent() []note.IncludedNote {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]note.IncludedNote, 0)
	for _, acct := range idx.accounts {
		out = append(out, acct.Unspent()...)
	}
	return out
}

// Balance returns addr's unspent balance per asset, or nil if addr isn't a
// registered account.
func (idx *UtxoIndexer) Balance(addr address.RailgunAddress) map[string]*big.Int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	for _, acct := range idx.accounts {
		if acct.Address().String() == addr.String() {
			return acct.Balance()
		}
	}
	return nil
}

// SyncedBlock returns the last block number folded into the tree state.
func (idx *UtxoIndexer) SyncedBlock() uint64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.syncedBlock
}

// Tree returns the Merkle tree for a given tree number, or nil if it
// hasn't been created yet.
func (idx *UtxoIndexer) Tree(number uint32) *merkletree.Tree {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.trees[number]
}

// IsNullified reports whether a nullifier has already been observed
// on-chain, meaning the note it corresponds to can no longer be spent.
func (idx *UtxoIndexer) IsNullified(nullifier field.Element) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	_, ok := idx.nullifiers[nullifier]
	return ok
}

// Sync replays every event between the last synced block and the syncer's
// current chain head, inclusive, then rebuilds every touched tree.
func (idx *UtxoIndexer) Sync(ctx context.Context) error {
	return idx.SyncTo(ctx, ^uint64(0))
}

// SyncTo replays events up to toBlock (capped at the syncer's current
// chain head) and rebuilds every touched tree before returning.
func (idx *UtxoIndexer) SyncTo(ctx context.Context, toBlock uint64) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	fromBlock := idx.syncedBlock + 1
	latest, err := idx.syncer.LatestBlock(ctx)
	if err != nil {
		return fmt.Errorf("indexer: latest block: %w", err)
	}
	if toBlock > latest {
		toBlock = latest
	}
	if fromBlock > toBlock {
		return nil
	}

	events, errs := idx.syncer.Sync(ctx, fromBlock, toBlock)

	touched := make(map[uint32]struct{})
	for event := range events {
		switch event.Kind {
		case SyncEventShield:
			idx.handleShield(event, touched)
		case SyncEventTransact:
			idx.handleTransact(event, touched)
		case SyncEventNullified:
			idx.handleNullified(event)
		}
	}

	if err := <-errs; err != nil {
		return fmt.Errorf("indexer: sync: %w", err)
	}

	for tn := range touched {
		if err := idx.trees[tn].Rebuild(); err != nil {
			return fmt.Errorf("indexer: rebuild tree %d: %w", tn, err)
		}
	}

	if err := idx.verify(ctx, touched); err != nil {
		return err
	}

	idx.syncedBlock = toBlock
	return nil
}

// handleShield inserts a shield event's commitment leaves into the tree set
// and dispatches its raw ciphertexts to every registered account, matching
// the original's handle_shield.
func (idx *UtxoIndexer) handleShield(event SyncEvent, touched map[uint32]struct{}) {
	for tn := range insertUtxoLeaves(idx.trees, event.TreeNumber, event.StartPosition, event.Leaves) {
		touched[tn] = struct{}{}
	}
	for _, acct := range idx.accounts {
		acct.handleShield(event.TreeNumber, event.StartPosition, event.Ciphertexts)
	}
}

// handleTransact mirrors handleShield for transact events.
func (idx *UtxoIndexer) handleTransact(event SyncEvent, touched map[uint32]struct{}) {
	for tn := range insertUtxoLeaves(idx.trees, event.TreeNumber, event.StartPosition, event.Leaves) {
		touched[tn] = struct{}{}
	}
	for _, acct := range idx.accounts {
		acct.handleTransact(event.TreeNumber, event.StartPosition, event.Ciphertexts)
	}
}

// handleNullified records a nullified event in the flat nullifier set used
// by IsNullified, and in every registered account's notebook so spent
// notes stop appearing as unspent.
func (idx *UtxoIndexer) handleNullified(event SyncEvent) {
	for _, n := range event.Nullifiers {
		idx.nullifiers[n] = struct{}{}
	}
	for _, acct := range idx.accounts {
		acct.handleNullified(event.TreeNumber, event.Nullifiers, event.BlockNumber)
	}
}

// verify confirms every rebuilt tree's root against the Verifier, matching
// the original's post-sync verify() pass: any disagreement here means the
// indexer's local state has diverged from the chain, so it is treated as
// fatal rather than silently accepted.
func (idx *UtxoIndexer) verify(ctx context.Context, touched map[uint32]struct{}) error {
	for tn := range touched {
		root, err := idx.trees[tn].Root()
		if err != nil {
			return fmt.Errorf("indexer: root after rebuild tree %d: %w", tn, err)
		}
		ok, err := idx.verifier.VerifyRoot(ctx, tn, root)
		if err != nil {
			return fmt.Errorf("indexer: verify tree %d: %w", tn, err)
		}
		if !ok {
			return fmt.Errorf("%w: tree %d", ErrTreeVerificationFailed, tn)
		}
	}
	return nil
}

// insertUtxoLeaves appends leaves starting at (treeNumber, startPosition)
// in the global leaf-index space, splitting the batch across successive
// tree numbers whenever it would overflow the current tree's remaining
// capacity, and returns the set of tree numbers it touched.
func insertUtxoLeaves(trees map[uint32]*merkletree.Tree, treeNumber, startPosition uint32, leaves []field.Element) map[uint32]struct{} {
	touched := make(map[uint32]struct{})

	currentTree := treeNumber + startPosition/TotalLeaves
	position := startPosition % TotalLeaves
	remaining := leaves

	for len(remaining) > 0 {
		spaceInTree := TotalLeaves - position
		toInsert := len(remaining)
		if uint32(toInsert) > spaceInTree {
			toInsert = int(spaceInTree)
		}

		tree, ok := trees[currentTree]
		if !ok {
			tree = merkletree.New()
			trees[currentTree] = tree
		}
		// InsertLeavesRaw only fails for a batch extending past
		// TotalLeaves, which the split above rules out.
		_ = tree.InsertLeavesRaw(position, remaining[:toInsert])

		touched[currentTree] = struct{}{}
		remaining = remaining[toInsert:]
		currentTree++
		position = 0
	}

	return touched
}

// TreeNumbers returns every tree number the indexer has created, sorted
// ascending.
func (idx *UtxoIndexer) TreeNumbers() []uint32 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	numbers := make([]uint32, 0, len(idx.trees))
	for n := range idx.trees {
		numbers = append(numbers, n)
	}
	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })
	return numbers
}
