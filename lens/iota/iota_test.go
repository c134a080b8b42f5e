package iota

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iota-community/sponsored-transactions-demo/chain/types"
	"github.com/iota-community/sponsored-transactions-demo/lens"
)

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// fakeNode answers JSON-RPC requests with canned results keyed by method name.
type fakeNode struct {
	mu      sync.Mutex
	results map[string]string
	errors  map[string]string
	calls   []rpcRequest
}

func (f *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	f.calls = append(f.calls, req)
	result, hasResult := f.results[req.Method]
	msg, hasErr := f.errors[req.Method]
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch {
	case hasErr:
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":` + string(req.ID) + `,"error":{"code":-32002,"message":` + quote(msg) + `}}`))
	case hasResult:
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":` + string(req.ID) + `,"result":` + result + `}`))
	default:
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":` + string(req.ID) + `,"error":{"code":-32601,"message":"method not found"}}`))
	}
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

var digest = func() string {
	var d types.Digest
	d[0], d[31] = 1, 2
	return d.String()
}()

func dialFake(t *testing.T, f *fakeNode) *Node {
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	node, closer, err := Dial(context.Background(), srv.URL, "")
	require.NoError(t, err)
	t.Cleanup(closer)
	return node
}

func TestGetObject(t *testing.T) {
	f := &fakeNode{results: map[string]string{
		"iota_getObject": `{"data":{"objectId":"0xc1","version":"12","digest":"` + digest + `","type":"0x2::coin::Coin<0x2::iota::IOTA>","owner":{"AddressOwner":"0xabc"},"content":{"dataType":"moveObject","type":"0x2::coin::Coin<0x2::iota::IOTA>","fields":{"balance":"7000","id":{"id":"0xc1"}}}}}`,
	}}
	node := dialFake(t, f)

	obj, err := node.GetObject(context.Background(), types.MustParseObjectID("0xc1"))
	require.NoError(t, err)
	assert.Equal(t, types.SequenceNumber(12), obj.Ref.Version)
	owner, ok := obj.Owner.AddressOwner()
	require.True(t, ok)
	assert.Equal(t, types.MustParseAddress("0xabc"), owner)
	assert.Equal(t, uint64(7000), obj.Balance)

	require.Len(t, f.calls, 1)
	assert.Equal(t, "iota_getObject", f.calls[0].Method)
}

func TestGetObjectNotFound(t *testing.T) {
	f := &fakeNode{results: map[string]string{
		"iota_getObject": `{"error":{"code":"notExists","object_id":"0xc1"}}`,
	}}
	node := dialFake(t, f)

	_, err := node.GetObject(context.Background(), types.MustParseObjectID("0xc1"))
	assert.ErrorIs(t, err, lens.ErrObjectNotFound)
}

func TestGetCoinsAndGasPrice(t *testing.T) {
	f := &fakeNode{results: map[string]string{
		"iotax_getCoins":             `{"data":[{"coinType":"0x2::iota::IOTA","coinObjectId":"0xc1","version":"3","digest":"` + digest + `","balance":"5000000"}],"nextCursor":"0xc1","hasNextPage":false}`,
		"iotax_getReferenceGasPrice": `"1000"`,
	}}
	node := dialFake(t, f)
	ctx := context.Background()

	page, err := node.GetCoins(ctx, types.MustParseAddress("0xdef"), lens.GasCoinType, nil, 50)
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	assert.Equal(t, uint64(5_000_000), page.Data[0].Balance)
	assert.False(t, page.HasNextPage)

	price, err := node.GetReferenceGasPrice(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), price)
}

func TestExecuteTransaction(t *testing.T) {
	f := &fakeNode{results: map[string]string{
		"iota_executeTransactionBlock": `{"digest":"` + digest + `","effects":{"status":{"status":"success"},"gasUsed":{"computationCost":"1000","storageCost":"2000","storageRebate":"500","nonRefundableStorageFee":"10"},"gasObject":{"owner":{"AddressOwner":"0xdef"},"reference":{"objectId":"0xc1","version":4,"digest":"` + digest + `"}}}}`,
	}}
	node := dialFake(t, f)

	effects, err := node.ExecuteTransaction(context.Background(), []byte{1, 2, 3}, nil)
	require.NoError(t, err)
	assert.True(t, effects.Succeeded())
	assert.Equal(t, uint64(2500), effects.GasUsed.Net())
	assert.Equal(t, types.SequenceNumber(4), effects.GasObject.Version)

	require.Len(t, f.calls, 1)
	require.Len(t, f.calls[0].Params, 4)
	assert.JSONEq(t, `"AQID"`, string(f.calls[0].Params[0]))
	assert.JSONEq(t, `"WaitForLocalExecution"`, string(f.calls[0].Params[3]))
}

func TestExecuteTransactionStaleObject(t *testing.T) {
	f := &fakeNode{errors: map[string]string{
		"iota_executeTransactionBlock": "Transaction validator signing failed due to issues with transaction inputs: ObjectVersionUnavailableForConsumption",
	}}
	node := dialFake(t, f)

	_, err := node.ExecuteTransaction(context.Background(), []byte{1}, nil)
	assert.ErrorIs(t, err, lens.ErrStaleObject)
}

func TestMeteredAPIDelegates(t *testing.T) {
	f := &fakeNode{results: map[string]string{"iota_getChainIdentifier": `"6364aad5"`}}
	api := lens.MeteredAPI(dialFake(t, f))

	id, err := api.ChainIdentifier(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "6364aad5", id)
}
