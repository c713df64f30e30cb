package flashbots

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/michaelpento.lv/mevsearcher/utils/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recordedRequest struct {
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// relay answers with result and records each request after checking its
// signature header.
func relay(t *testing.T, result string) (*httptest.Server, *[]recordedRequest) {
	t.Helper()
	var seen []recordedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if !assert.NoError(t, err) {
			return
		}

		parts := strings.SplitN(r.Header.Get(flashbotsXHeader), ":", 2)
		if !assert.Len(t, parts, 2) {
			return
		}
		sig, err := hexutil.Decode(parts[1])
		if !assert.NoError(t, err) {
			return
		}
		digest := accounts.TextHash([]byte(hexutil.Encode(crypto.Keccak256(body))))
		pub, err := crypto.SigToPub(digest, sig)
		if !assert.NoError(t, err) {
			return
		}
		assert.Equal(t, common.HexToAddress(parts[0]), crypto.PubkeyToAddress(*pub))

		var req recordedRequest
		assert.NoError(t, json.Unmarshal(body, &req))
		seen = append(seen, req)

		w.Header().Set("Content-Type", contentTypeJSON)
		_, _ = io.WriteString(w, result)
	}))
	t.Cleanup(srv.Close)
	return srv, &seen
}

func newClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := NewClient(Config{RelayURL: url}, testutils.NewKey(t), zaptest.NewLogger(t))
	require.NoError(t, err)
	return c
}

func TestSendBundle(t *testing.T) {
	srv, seen := relay(t, `{"jsonrpc":"2.0","id":1,"result":{"bundleHash":"0x00000000000000000000000000000000000000000000000000000000000000ff"}}`)
	c := newClient(t, srv.URL)

	key := testutils.NewKey(t)
	bundle := &Bundle{BlockNumber: 101}
	for nonce := uint64(0); nonce < 2; nonce++ {
		require.NoError(t, bundle.AddTransaction(testutils.SignedTx(t, key, nonce, common.HexToAddress("0x01"), nil, nil)))
	}

	hash, err := c.SendBundle(context.Background(), bundle)
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash("0xff"), hash)

	require.Len(t, *seen, 1)
	req := (*seen)[0]
	assert.Equal(t, methodSendBundle, req.Method)
	var args sendBundleArgs
	require.NoError(t, json.Unmarshal(req.Params[0], &args))
	assert.Equal(t, hexutil.Uint64(101), args.BlockNumber)
	assert.Equal(t, bundle.Txs, args.Txs)
}

func TestCallBundle(t *testing.T) {
	srv, seen := relay(t, `{"jsonrpc":"2.0","id":1,"result":{
		"bundleHash":"0x0000000000000000000000000000000000000000000000000000000000000001",
		"coinbaseDiff":"2000000000000000",
		"totalGasUsed":300000,
		"results":[{"txHash":"0x0000000000000000000000000000000000000000000000000000000000000002","gasUsed":150000},
		           {"txHash":"0x0000000000000000000000000000000000000000000000000000000000000003","gasUsed":150000,"error":"execution reverted","revert":"UniswapV2: K"}]}}`)
	c := newClient(t, srv.URL)

	sim, err := c.CallBundle(context.Background(), &Bundle{BlockNumber: 101}, 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(300000), sim.TotalGasUsed)
	assert.Equal(t, "2000000000000000", sim.CoinbaseDiff.String())
	require.Len(t, sim.Results, 2)
	assert.Equal(t, "UniswapV2: K", sim.Results[1].Revert)
	assert.False(t, sim.Success())

	var args callBundleArgs
	require.NoError(t, json.Unmarshal((*seen)[0].Params[0], &args))
	assert.Equal(t, "0x64", args.StateBlockNumber)
}

func TestRelayError(t *testing.T) {
	srv, _ := relay(t, `{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"bundle too old"}}`)
	c := newClient(t, srv.URL)

	_, err := c.SendBundle(context.Background(), &Bundle{BlockNumber: 1})
	var relayErr *RelayError
	require.ErrorAs(t, err, &relayErr)
	assert.Equal(t, "bundle too old", relayErr.Message)
}

func TestHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := newClient(t, srv.URL).SendBundle(context.Background(), &Bundle{BlockNumber: 1})
	assert.ErrorContains(t, err, "status 403")
}

func TestNewClientRequiresKey(t *testing.T) {
	_, err := NewClient(Config{}, nil, zaptest.NewLogger(t))
	assert.ErrorIs(t, err, ErrNoAuthKey)
}
