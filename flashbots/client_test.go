package flashbots

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/juant72/sniperforge-sub012/types"
)

func testBundle() *Bundle {
	return &Bundle{
		Txs:         [][]byte{{0x01, 0x02}},
		BlockNumber: big.NewInt(1234),
		Tip:         big.NewInt(100_000),
	}
}

func newRelayClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return NewClient(srv.URL, key, big.NewInt(1), 100, 10, 0)
}

func TestSendBundleSignsAndCarriesTip(t *testing.T) {
	var gotHeader string
	var gotBody map[string]interface{}

	client := newRelayClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Flashbots-Signature")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Write([]byte(`{"result": {"bundleId": "b-1", "status": "Accepted"}}`))
	})

	result, err := client.SendBundle(context.Background(), testBundle())
	require.NoError(t, err)

	assert.Equal(t, "b-1", result.BundleID)
	assert.Equal(t, types.BundleAccepted, result.Status)
	assert.Equal(t, big.NewInt(100_000), result.TipPaid)
	assert.NotEmpty(t, gotHeader)
	assert.Contains(t, gotHeader, ":0x")

	params := gotBody["params"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "0x186a0", params["tip"])
	assert.Equal(t, "0x4d2", params["blockNumber"])
}

func TestSendBundleRejection(t *testing.T) {
	client := newRelayClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error": {"code": -32000, "message": "bundle not accepted"}}`))
	})

	_, err := client.SendBundle(context.Background(), testBundle())
	assert.ErrorIs(t, err, types.ErrSubmissionRejected)
}

func TestSendBundleRejectedStatus(t *testing.T) {
	client := newRelayClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result": {"bundleId": "b-2", "status": "Rejected"}}`))
	})

	result, err := client.SendBundle(context.Background(), testBundle())
	assert.ErrorIs(t, err, types.ErrSubmissionRejected)
	require.NotNil(t, result)
	assert.Equal(t, types.BundleRejected, result.Status)
}

func TestSendBundleTransportFailureIsTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	client := NewClient(srv.URL, key, big.NewInt(1), 100, 10, 0)

	_, err = client.SendBundle(context.Background(), testBundle())
	assert.ErrorIs(t, err, types.ErrSubmissionTimeout)
}
