// Package poi implements the JSON-RPC client for the Proof-of-Innocence
// aggregator, grounded on
// original_source/railgun-rs/src/railgun/poi/poi_client.rs.
package poi

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/railwayguild/railgun-go/internal/field"
)

func hexElement(e field.Element) string {
	b := field.BytesBE(e)
	return "0x" + hex.EncodeToString(b[:])
}

// TxidVersion identifies the TXID tree construction a POI node serves.
// Railgun has only ever shipped V2PoseidonMerkle; the field exists so the
// wire format matches the aggregator's request schema.
const TxidVersion = "V2PoseidonMerkle"

// ListKey identifies one proof-of-innocence list an aggregator tracks
// (e.g. a specific screening provider's denylist).
type ListKey string

// ChainParams identifies the chain a POI request concerns, matching the
// aggregator's expected request shape.
type ChainParams struct {
	Type        string `json:"type"`
	ID          string `json:"id"`
	TxidVersion string `json:"txidVersion"`
}

// NodeStatus is the aggregator's self-reported status, returned by
// ppoi_node_status and cached at client construction.
type NodeStatus struct {
	ListKeys []ListKey `json:"listKeys"`
}

// BlindedCommitmentData identifies one note for a pois-per-list lookup.
type BlindedCommitmentData struct {
	BlindedCommitment string `json:"blindedCommitment"`
	Type              string `json:"type"`
}

// MerkleProof is a POI list's inclusion proof for one blinded commitment.
type MerkleProof struct {
	Leaf     string   `json:"leaf"`
	Elements []string `json:"elements"`
	Indices  string   `json:"indices"`
	Root     string   `json:"root"`
}

// TransactProofData is a proved POI submission for one list key,
// matching the aggregator's ppoi_submit_transact_proof schema.
type TransactProofData struct {
	Proof                    []byte   `json:"proof"`
	PoiMerkleroots           []string `json:"poiMerkleroots"`
	TxidMerkleroot           string   `json:"txidMerkleroot"`
	TxidMerklerootIndex      uint64   `json:"txidMerklerootIndex"`
	BlindedCommitmentsOut    []string `json:"blindedCommitmentsOut"`
	RailgunTxidIfHasUnshield string   `json:"railgunTxidIfHasUnshield"`
}

// ValidatedTxidStatus is the aggregator's current high-water mark in the
// TXID tree.
type ValidatedTxidStatus struct {
	TreeNumber uint32 `json:"treeNumber"`
	Index      uint32 `json:"index"`
}

type jsonRpcRequest struct {
	JsonRpc string `json:"jsonrpc"`
	Method  string `json:"method"`
	ID      uint64 `json:"id"`
	Params  any    `json:"params"`
}

type jsonRpcError struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
}

func (e *jsonRpcError) Error() string {
	return fmt.Sprintf("poi: rpc error %d: %s", e.Code, e.Message)
}

type jsonRpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *jsonRpcError   `json:"error"`
}

// ErrNullResult is returned when an RPC call succeeds but carries neither
// a result nor an error.
type ErrNullResult struct{ Method string }

func (e *ErrNullResult) Error() string { return fmt.Sprintf("poi: null result from %s", e.Method) }

// Client is a JSON-RPC 2.0 client for a single POI aggregator node,
// scoped to one EVM chain.
type Client struct {
	http    *http.Client
	url     string
	nextID  atomic.Uint64
	chainID uint64

	status NodeStatus
}

// NewClient dials a POI node and fetches its status, caching the list
// keys it tracks.
func NewClient(ctx context.Context, url string, chainID uint64) (*Client, error) {
	c := &Client{http: http.DefaultClient, url: url, chainID: chainID}

	var status NodeStatus
	if err := c.call(ctx, "ppoi_node_status", map[string]any{}, &status); err != nil {
		return nil, fmt.Errorf("poi: fetch node status: %w", err)
	}
	c.status = status
	return c, nil
}

// ListKeys returns the list keys the aggregator is tracking, as reported
// at construction time.
func (c *Client) ListKeys() []ListKey { return c.status.ListKeys }

// Health reports whether the aggregator considers itself healthy.
func (c *Client) Health(ctx context.Context) bool {
	var status string
	if err := c.call(ctx, "ppoi_health", []any{}, &status); err != nil {
		return false
	}
	return status == "ok" || status == "OK" || status == "Ok"
}

// PoisPerList fetches the cached POI status for a set of blinded
// commitments against a set of list keys.
func (c *Client) PoisPerList(ctx context.Context, listKeys []ListKey, commitments []BlindedCommitmentData) (map[ListKey]map[string]string, error) {
	params := map[string]any{
		"chain":                   c.chain(),
		"listKeys":                listKeys,
		"blindedCommitmentDatas": commitments,
	}
	var result map[ListKey]map[string]string
	if err := c.call(ctx, "ppoi_pois_per_list", params, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// MerkleProofs fetches, for one list key, the POI inclusion proof for
// each blinded commitment.
func (c *Client) MerkleProofs(ctx context.Context, listKey ListKey, blindedCommitments []field.Element) ([]MerkleProof, error) {
	hexCommitments := make([]string, len(blindedCommitments))
	for i, bc := range blindedCommitments {
		hexCommitments[i] = hexElement(bc)
	}
	params := map[string]any{
		"chain":               c.chain(),
		"listKey":             listKey,
		"blindedCommitments": hexCommitments,
	}
	var proofs []MerkleProof
	if err := c.call(ctx, "ppoi_merkle_proofs", params, &proofs); err != nil {
		return nil, err
	}
	return proofs, nil
}

// SubmitTransactProof submits one proved POI proof for a list key to the
// aggregator.
func (c *Client) SubmitTransactProof(ctx context.Context, listKey ListKey, proof TransactProofData) error {
	params := map[string]any{
		"chain":              c.chain(),
		"listKey":            listKey,
		"transactProofData": proof,
	}
	var result json.RawMessage
	return c.call(ctx, "ppoi_submit_transact_proof", params, &result)
}

// ValidatedTxid returns the aggregator's current high-water mark in the
// TXID tree, satisfying indexer.PoiValidator.
func (c *Client) ValidatedTxid(ctx context.Context) (treeNumber uint32, leafIndex uint32, err error) {
	var status ValidatedTxidStatus
	if err := c.call(ctx, "ppoi_validated_txid", c.chain(), &status); err != nil {
		return 0, 0, err
	}
	return status.TreeNumber, status.Index, nil
}

// ValidateTxidMerkleroot checks a locally computed TXID tree root against
// the aggregator's own view, satisfying indexer.PoiValidator.
func (c *Client) ValidateTxidMerkleroot(ctx context.Context, treeNumber uint32, leafIndex uint64, root field.Element) (bool, error) {
	params := map[string]any{
		"chain":       c.chain(),
		"tree":        treeNumber,
		"index":       leafIndex,
		"merkleroot": hexElement(root),
	}
	var ok bool
	if err := c.call(ctx, "ppoi_validate_txid_merkleroot", params, &ok); err != nil {
		return false, err
	}
	return ok, nil
}

// ValidatePoiMerkleroot checks a POI list's Merkle root against the
// aggregator's own view.
func (c *Client) ValidatePoiMerkleroot(ctx context.Context, listKey ListKey, root field.Element) (bool, error) {
	params := map[string]any{
		"chain":          c.chain(),
		"listKey":        listKey,
		"poiMerkleroots": []string{hexElement(root)},
	}
	var ok bool
	if err := c.call(ctx, "ppoi_validate_poi_merkleroots", params, &ok); err != nil {
		return false, err
	}
	return ok, nil
}

func (c *Client) chain() ChainParams {
	return ChainParams{Type: "0", ID: fmt.Sprintf("%d", c.chainID), TxidVersion: TxidVersion}
}

func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	id := c.nextID.Add(1)
	req := jsonRpcRequest{JsonRpc: "2.0", Method: method, ID: id, Params: params}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("poi: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("poi: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Connection", "close")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("poi: %s: %w", method, err)
	}
	defer resp.Body.Close()

	var rpcResp jsonRpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("poi: decode %s response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if rpcResp.Result == nil {
		return &ErrNullResult{Method: method}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return fmt.Errorf("poi: decode %s result: %w", method, err)
	}
	return nil
}
