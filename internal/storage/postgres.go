// Package storage implements the PostgreSQL persistence layer for a
// Railgun wallet/indexer: the UTXO Merkle tree's committed leaves, spent
// nullifiers, the TXID tree's validated leaves, and entries awaiting
// post-transaction POI submission, grounded on the teacher's
// internal/storage/postgres.go.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/railwayguild/railgun-go/internal/field"
	"github.com/railwayguild/railgun-go/internal/note"
	"github.com/railwayguild/railgun-go/internal/poi"
)

// Common errors returned by the store, matching the teacher's sentinel
// error set.
var (
	ErrNotFound     = errors.New("storage: not found")
	ErrDuplicate    = errors.New("storage: duplicate entry")
	ErrDBConnection = errors.New("storage: database connection error")
)

// Config holds PostgreSQL connection configuration.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int32
}

// DefaultConfig returns sane local-development defaults.
func DefaultConfig() *Config {
	return &Config{
		Host:     "localhost",
		Port:     5432,
		User:     "railgun",
		Password: "",
		Database: "railgun",
		SSLMode:  "disable",
		MaxConns: 20,
	}
}

// PostgresStore implements persistent storage for a Railgun wallet's
// indexed chain state.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to PostgreSQL and verifies the connection.
func NewPostgresStore(ctx context.Context, cfg *Config) (*PostgresStore, error) {
	connString := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s pool_max_conns=%d",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode, cfg.MaxConns,
	)

	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDBConnection, err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDBConnection, err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// ============================================
// UTXO tree leaves
// ============================================

// SaveUtxoLeaf records a committed UTXO leaf at its global tree position.
// The ciphertext is the note's encrypted payload as broadcast on-chain;
// commitment is its Poseidon hash (the leaf value itself).
func (s *PostgresStore) SaveUtxoLeaf(ctx context.Context, treeNumber, leafIndex uint32, commitment field.Element, ciphertext []byte) error {
	query := `
		INSERT INTO utxo_leaves (tree_number, leaf_index, commitment, ciphertext)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tree_number, leaf_index) DO NOTHING
	`
	commitmentBytes := field.BytesBE(commitment)
	_, err := s.pool.Exec(ctx, query, treeNumber, leafIndex, commitmentBytes[:], ciphertext)
	if err != nil {
		return fmt.Errorf("storage: save utxo leaf: %w", err)
	}
	return nil
}

// UtxoLeavesInRange returns the committed leaves of a tree between
// [fromLeaf, toLeaf], ordered by position, for rebuilding a local Merkle
// tree after a restart.
func (s *PostgresStore) UtxoLeavesInRange(ctx context.Context, treeNumber, fromLeaf, toLeaf uint32) ([]field.Element, error) {
	query := `
		SELECT leaf_index, commitment FROM utxo_leaves
		WHERE tree_number = $1 AND leaf_index BETWEEN $2 AND $3
		ORDER BY leaf_index ASC
	`
	rows, err := s.pool.Query(ctx, query, treeNumber, fromLeaf, toLeaf)
	if err != nil {
		return nil, fmt.Errorf("storage: query utxo leaves: %w", err)
	}
	defer rows.Close()

	leaves := make([]field.Element, 0, toLeaf-fromLeaf+1)
	for rows.Next() {
		var leafIndex uint32
		var commitmentBytes []byte
		if err := rows.Scan(&leafIndex, &commitmentBytes); err != nil {
			return nil, fmt.Errorf("storage: scan utxo leaf: %w", err)
		}
		leaves = append(leaves, field.FromBytesBE(commitmentBytes))
	}
	return leaves, nil
}

// ============================================
// Nullifiers
// ============================================

// SaveNullifier records a spent nullifier. A duplicate insert indicates a
// double-spend attempt and is surfaced as ErrDuplicate rather than
// silently ignored, since unlike UTXO leaves a nullifier collision is
// never expected during normal sync.
func (s *PostgresStore) SaveNullifier(ctx context.Context, treeNumber uint32, nullifier field.Element, blockNumber uint64) error {
	query := `
		INSERT INTO nullifiers (tree_number, nullifier, block_number)
		VALUES ($1, $2, $3)
	`
	nullifierBytes := field.BytesBE(nullifier)
	_, err := s.pool.Exec(ctx, query, treeNumber, nullifierBytes[:], blockNumber)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: %v", ErrDuplicate, err)
		}
		return fmt.Errorf("storage: save nullifier: %w", err)
	}
	return nil
}

// IsNullifierSpent reports whether a nullifier has already been recorded.
func (s *PostgresStore) IsNullifierSpent(ctx context.Context, nullifier field.Element) (bool, error) {
	nullifierBytes := field.BytesBE(nullifier)
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM nullifiers WHERE nullifier = $1)`,
		nullifierBytes[:],
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("storage: check nullifier: %w", err)
	}
	return exists, nil
}

// ============================================
// TXID tree leaves
// ============================================

// SaveTxidLeaf records a validated TXID tree leaf at its global position.
func (s *PostgresStore) SaveTxidLeaf(ctx context.Context, treeNumber, leafIndex uint32, txid note.Txid) error {
	query := `
		INSERT INTO txid_leaves (tree_number, leaf_index, txid)
		VALUES ($1, $2, $3)
		ON CONFLICT (tree_number, leaf_index) DO NOTHING
	`
	txidBytes := field.BytesBE(txid.Element())
	_, err := s.pool.Exec(ctx, query, treeNumber, leafIndex, txidBytes[:])
	if err != nil {
		return fmt.Errorf("storage: save txid leaf: %w", err)
	}
	return nil
}

// TxidPosition returns the (treeNumber, leafIndex) a txid was validated
// at, or ErrNotFound if it hasn't been validated yet.
func (s *PostgresStore) TxidPosition(ctx context.Context, txid note.Txid) (treeNumber, leafIndex uint32, err error) {
	txidBytes := field.BytesBE(txid.Element())
	err = s.pool.QueryRow(ctx,
		`SELECT tree_number, leaf_index FROM txid_leaves WHERE txid = $1`,
		txidBytes[:],
	).Scan(&treeNumber, &leafIndex)
	if err == pgx.ErrNoRows {
		return 0, 0, ErrNotFound
	}
	if err != nil {
		return 0, 0, fmt.Errorf("storage: query txid position: %w", err)
	}
	return treeNumber, leafIndex, nil
}

// ============================================
// Pending POI submissions
// ============================================

// SavePendingPoiEntry persists a post-transaction POI submission waiting
// for its txid to validate. The row holds the txid, input tree, bound
// params hash, the input notes' commitment hashes (not the notes
// themselves), the unshield flag and the list keys; OutCommitments is not
// stored, and this package has no function that reads the rows back into
// PendingEntry values.
func (s *PostgresStore) SavePendingPoiEntry(ctx context.Context, entry poi.PendingEntry) error {
	inNoteHashes := make([][]byte, len(entry.InNotes))
	for i, n := range entry.InNotes {
		h := field.BytesBE(n.Hash())
		inNoteHashes[i] = h[:]
	}
	listKeys := make([]string, len(entry.ListKeys))
	for i, k := range entry.ListKeys {
		listKeys[i] = string(k)
	}
	txidBytes := field.BytesBE(entry.Txid.Element())
	boundParamsBytes := field.BytesBE(entry.BoundParamsHash)

	query := `
		INSERT INTO pending_poi_entries (txid, utxo_tree_in, bound_params_hash, in_note_hashes, has_unshield, list_keys)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (txid) DO NOTHING
	`
	_, err := s.pool.Exec(ctx, query, txidBytes[:], entry.UtxoTreeIn, boundParamsBytes[:], inNoteHashes, entry.HasUnshield, listKeys)
	if err != nil {
		return fmt.Errorf("storage: save pending poi entry: %w", err)
	}
	return nil
}

// DeletePendingPoiEntry removes a submitted entry from the persisted
// queue.
func (s *PostgresStore) DeletePendingPoiEntry(ctx context.Context, txid note.Txid) error {
	txidBytes := field.BytesBE(txid.Element())
	_, err := s.pool.Exec(ctx, `DELETE FROM pending_poi_entries WHERE txid = $1`, txidBytes[:])
	if err != nil {
		return fmt.Errorf("storage: delete pending poi entry: %w", err)
	}
	return nil
}
