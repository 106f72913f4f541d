package poi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/railwayguild/railgun-go/internal/field"
)

func newTestServer(t *testing.T, handler func(method string, params json.RawMessage) (any, *jsonRpcError)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req jsonRpcRequest
		rawParams := json.RawMessage{}
		req.Params = &rawParams
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		result, rpcErr := handler(req.Method, rawParams)

		resp := jsonRpcResponse{}
		if rpcErr != nil {
			resp.Error = rpcErr
		} else {
			raw, err := json.Marshal(result)
			if err != nil {
				t.Fatalf("marshal result: %v", err)
			}
			resp.Result = raw
		}
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			t.Fatalf("encode response: %v", err)
		}
	}))
}

func TestNewClientFetchesStatus(t *testing.T) {
	srv := newTestServer(t, func(method string, params json.RawMessage) (any, *jsonRpcError) {
		if method != "ppoi_node_status" {
			t.Fatalf("unexpected method %q", method)
		}
		return NodeStatus{ListKeys: []ListKey{"default", "aml"}}, nil
	})
	defer srv.Close()

	c, err := NewClient(context.Background(), srv.URL, 1)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if len(c.ListKeys()) != 2 {
		t.Fatalf("expected 2 list keys, got %d", len(c.ListKeys()))
	}
}

func TestHealthReturnsFalseOnError(t *testing.T) {
	srv := newTestServer(t, func(method string, params json.RawMessage) (any, *jsonRpcError) {
		switch method {
		case "ppoi_node_status":
			return NodeStatus{}, nil
		case "ppoi_health":
			return nil, &jsonRpcError{Code: -1, Message: "down"}
		}
		t.Fatalf("unexpected method %q", method)
		return nil, nil
	})
	defer srv.Close()

	c, err := NewClient(context.Background(), srv.URL, 1)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if c.Health(context.Background()) {
		t.Fatal("expected Health to report false on rpc error")
	}
}

func TestValidateTxidMerklerootRoundTrip(t *testing.T) {
	srv := newTestServer(t, func(method string, params json.RawMessage) (any, *jsonRpcError) {
		switch method {
		case "ppoi_node_status":
			return NodeStatus{}, nil
		case "ppoi_validate_txid_merkleroot":
			return true, nil
		}
		t.Fatalf("unexpected method %q", method)
		return nil, nil
	})
	defer srv.Close()

	c, err := NewClient(context.Background(), srv.URL, 1)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	ok, err := c.ValidateTxidMerkleroot(context.Background(), 0, 3, field.FromUint64(42))
	if err != nil {
		t.Fatalf("ValidateTxidMerkleroot: %v", err)
	}
	if !ok {
		t.Fatal("expected the aggregator to confirm the root")
	}
}

func TestCallSurfacesRpcError(t *testing.T) {
	srv := newTestServer(t, func(method string, params json.RawMessage) (any, *jsonRpcError) {
		if method == "ppoi_node_status" {
			return NodeStatus{}, nil
		}
		return nil, &jsonRpcError{Code: 7, Message: "bad list key"}
	})
	defer srv.Close()

	c, err := NewClient(context.Background(), srv.URL, 1)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	_, err = c.MerkleProofs(context.Background(), "default", []field.Element{field.FromUint64(1)})
	if err == nil {
		t.Fatal("expected an rpc error")
	}
}
