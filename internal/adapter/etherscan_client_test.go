package adapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEtherscan(t *testing.T, handler http.HandlerFunc) *EtherscanClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewEtherscanClient(EtherscanClientConfig{
		Chain:             "ethereum",
		RequestsPerSecond: 1000,
		Burst:             100,
	})
	require.NoError(t, err)
	client.baseURL = server.URL
	return client
}

func etherscanListResponse(hashes ...string) []byte {
	refs := make([]etherscanTxRef, 0, len(hashes))
	for _, hash := range hashes {
		refs = append(refs, etherscanTxRef{Hash: hash})
	}
	result, _ := json.Marshal(refs)
	body, _ := json.Marshal(etherscanEnvelope{Status: "1", Message: "OK", Result: result})
	return body
}

func TestTransactionHashesMergesActions(t *testing.T) {
	client := newTestEtherscan(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("chainid"))
		switch r.URL.Query().Get("action") {
		case "txlist":
			w.Write(etherscanListResponse("0xAA", "0xBB"))
		case "txlistinternal":
			w.Write(etherscanListResponse("0xBB", "0xCC"))
		case "tokentx":
			w.Write(etherscanListResponse("0xCC", "0xDD"))
		default:
			t.Errorf("unexpected action %s", r.URL.Query().Get("action"))
		}
	})

	hashes, err := client.TransactionHashes(context.Background(), "0x1234")
	require.NoError(t, err)
	assert.Equal(t, []string{"0xaa", "0xbb", "0xcc", "0xdd"}, hashes)
}

func TestTransactionHashesEmptyHistory(t *testing.T) {
	client := newTestEtherscan(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := json.Marshal(etherscanEnvelope{
			Status:  "0",
			Message: "No transactions found",
			Result:  json.RawMessage(`[]`),
		})
		w.Write(body)
	})

	hashes, err := client.TransactionHashes(context.Background(), "0x1234")
	require.NoError(t, err)
	assert.Empty(t, hashes)
}

func TestTransactionHashesAPIError(t *testing.T) {
	client := newTestEtherscan(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := json.Marshal(etherscanEnvelope{
			Status:  "0",
			Message: "NOTOK",
			Result:  json.RawMessage(`"Max rate limit reached"`),
		})
		w.Write(body)
	})

	_, err := client.TransactionHashes(context.Background(), "0x1234")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Max rate limit reached")
}

func TestNewEtherscanClientRejectsUnknownChain(t *testing.T) {
	_, err := NewEtherscanClient(EtherscanClientConfig{Chain: "dogecoin"})
	require.Error(t, err)
}
