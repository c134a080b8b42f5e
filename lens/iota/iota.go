// Package iota implements the chain API against an IOTA full node over JSON-RPC.
package iota

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/filecoin-project/go-jsonrpc"
	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/xerrors"

	"github.com/iota-community/sponsored-transactions-demo/chain/types"
	"github.com/iota-community/sponsored-transactions-demo/keys"
	"github.com/iota-community/sponsored-transactions-demo/lens"
)

var log = logging.Logger("sponsor/lens/iota")

// WaitForLocalExecution makes the node return only after the transaction has been
// executed locally, so its effects are final when the call returns.
const WaitForLocalExecution = "WaitForLocalExecution"

// rpcAPI holds the raw node methods. go-jsonrpc fills in the function fields.
type rpcAPI struct {
	GetObject            func(ctx context.Context, id types.ObjectID, opts objectOptions) (*objectResponse, error)                                           `rpc_method:"iota_getObject"`
	MultiGetObjects      func(ctx context.Context, ids []types.ObjectID, opts objectOptions) ([]objectResponse, error)                                       `rpc_method:"iota_multiGetObjects"`
	GetReferenceGasPrice func(ctx context.Context) (types.Uint64, error)                                                                                     `rpc_method:"iotax_getReferenceGasPrice"`
	GetCoins             func(ctx context.Context, owner types.Address, coinType string, cursor *string, limit uint) (*coinPage, error)                      `rpc_method:"iotax_getCoins"`
	GetChainIdentifier   func(ctx context.Context) (string, error)                                                                                           `rpc_method:"iota_getChainIdentifier"`
	ExecuteTransaction   func(ctx context.Context, txBytes string, sigs []string, opts transactionOptions, requestType string) (*transactionResponse, error) `rpc_method:"iota_executeTransactionBlock"`
}

// Node is a lens.API backed by a full node.
type Node struct {
	rpc rpcAPI
}

var _ lens.API = (*Node)(nil)

// Dial connects to the node's JSON-RPC endpoint. token, if set, is sent as a bearer
// token.
func Dial(ctx context.Context, url, token string) (*Node, jsonrpc.ClientCloser, error) {
	n := &Node{}
	closer, err := jsonrpc.NewMergeClient(ctx, url, "iota", []interface{}{&n.rpc}, apiHeaders(token))
	if err != nil {
		return nil, nil, xerrors.Errorf("dial %s: %w", url, err)
	}
	log.Infow("connected to node", "url", url)
	return n, closer, nil
}

func apiHeaders(token string) http.Header {
	headers := http.Header{}
	if token != "" {
		headers.Add("Authorization", "Bearer "+token)
	}
	return headers
}

// APIOpener opens metered connections to a node.
type APIOpener struct {
	URL   string
	Token string
}

func NewAPIOpener(url, token string) *APIOpener {
	return &APIOpener{URL: url, Token: token}
}

func (o *APIOpener) Open(ctx context.Context) (lens.API, lens.APICloser, error) {
	node, closer, err := Dial(ctx, o.URL, o.Token)
	if err != nil {
		return nil, nil, err
	}
	return lens.MeteredAPI(node), lens.APICloser(closer), nil
}

func (n *Node) GetObject(ctx context.Context, id types.ObjectID) (*lens.Object, error) {
	resp, err := n.rpc.GetObject(ctx, id, objectOptions{ShowOwner: true, ShowType: true, ShowContent: true})
	if err != nil {
		return nil, xerrors.Errorf("get object %s: %w", id, err)
	}
	obj, err := resp.object()
	if err != nil {
		return nil, xerrors.Errorf("get object %s: %w", id, err)
	}
	return obj, nil
}

func (n *Node) MultiGetObjects(ctx context.Context, ids []types.ObjectID) ([]*lens.Object, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	resps, err := n.rpc.MultiGetObjects(ctx, ids, objectOptions{ShowOwner: true, ShowType: true, ShowContent: true})
	if err != nil {
		return nil, xerrors.Errorf("multi get objects: %w", err)
	}
	if len(resps) != len(ids) {
		return nil, xerrors.Errorf("multi get objects: asked for %d objects, got %d", len(ids), len(resps))
	}
	out := make([]*lens.Object, len(resps))
	for i := range resps {
		obj, err := resps[i].object()
		if xerrors.Is(err, lens.ErrObjectNotFound) {
			continue
		}
		if err != nil {
			return nil, xerrors.Errorf("object %s: %w", ids[i], err)
		}
		out[i] = obj
	}
	return out, nil
}

func (n *Node) GetReferenceGasPrice(ctx context.Context) (uint64, error) {
	p, err := n.rpc.GetReferenceGasPrice(ctx)
	if err != nil {
		return 0, xerrors.Errorf("get reference gas price: %w", err)
	}
	return uint64(p), nil
}

func (n *Node) GetCoins(ctx context.Context, owner types.Address, coinType string, cursor *string, limit uint) (*lens.CoinPage, error) {
	resp, err := n.rpc.GetCoins(ctx, owner, coinType, cursor, limit)
	if err != nil {
		return nil, xerrors.Errorf("get coins: %w", err)
	}
	page := &lens.CoinPage{NextCursor: resp.NextCursor, HasNextPage: resp.HasNextPage}
	for _, c := range resp.Data {
		page.Data = append(page.Data, lens.Coin{
			Ref:      types.ObjectRef{ObjectID: c.CoinObjectID, Version: c.Version, Digest: c.Digest},
			CoinType: c.CoinType,
			Balance:  uint64(c.Balance),
		})
	}
	return page, nil
}

func (n *Node) ChainIdentifier(ctx context.Context) (string, error) {
	id, err := n.rpc.GetChainIdentifier(ctx)
	if err != nil {
		return "", xerrors.Errorf("get chain identifier: %w", err)
	}
	return id, nil
}

func (n *Node) ExecuteTransaction(ctx context.Context, txBytes []byte, sigs []keys.Signature) (*lens.TransactionEffects, error) {
	encoded := make([]string, len(sigs))
	for i, s := range sigs {
		encoded[i] = s.Base64()
	}
	resp, err := n.rpc.ExecuteTransaction(ctx, base64.StdEncoding.EncodeToString(txBytes), encoded,
		transactionOptions{ShowEffects: true}, WaitForLocalExecution)
	if err != nil {
		if isStaleObjectError(err) {
			return nil, xerrors.Errorf("%w: %v", lens.ErrStaleObject, err)
		}
		return nil, xerrors.Errorf("execute transaction: %w", err)
	}
	if resp.Effects == nil {
		return nil, xerrors.Errorf("execute transaction %s: node returned no effects", resp.Digest)
	}
	return resp.effects(), nil
}

// staleObjectMarkers are fragments of node error messages reporting owned inputs that
// were consumed, mutated or locked by a different transaction.
var staleObjectMarkers = []string{
	"ObjectVersionUnavailableForConsumption",
	"is not available for consumption",
	"ObjectLockConflict",
	"already locked by a different transaction",
	"ObjectNotFound",
	"Could not find the referenced object",
}

func isStaleObjectError(err error) bool {
	msg := err.Error()
	for _, m := range staleObjectMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
