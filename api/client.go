package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/xerrors"

	"github.com/iota-community/sponsored-transactions-demo/chain/types"
	"github.com/iota-community/sponsored-transactions-demo/gasstation"
	"github.com/iota-community/sponsored-transactions-demo/keys"
)

// StatusError is a non-2xx answer from the server.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Code, http.StatusText(e.Code), e.Message)
}

// Client talks to a sponsor api server.
type Client struct {
	base  *url.URL
	token string
	http  *http.Client
}

// NewClient returns a client for the server at addr. token is sent as a bearer token on
// the gas station routes.
func NewClient(addr, token string, timeout time.Duration) (*Client, error) {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	base, err := url.Parse(strings.TrimSuffix(addr, "/"))
	if err != nil {
		return nil, xerrors.Errorf("parse api url: %w", err)
	}
	return &Client{base: base, token: token, http: &http.Client{Timeout: timeout}}, nil
}

func (c *Client) Welcome(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base.String()+"/", nil)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close() // nolint: errcheck
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return "", xerrors.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", &StatusError{Code: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	return string(body), nil
}

// Fund asks the server's faucet to fund addr once.
func (c *Client) Fund(ctx context.Context, addr types.Address) (*FundResponse, error) {
	var out FundResponse
	if err := c.call(ctx, http.MethodPost, "/faucet", FundRequest{Sender: addr.String()}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Sponsor asks for the demo transaction for recipient, signed by the sponsor.
func (c *Client) Sponsor(ctx context.Context, recipient types.Address, content string) (*SponsorResponse, error) {
	var out SponsorResponse
	if err := c.call(ctx, http.MethodPost, "/sponsor", SponsorRequest{Recipient: recipient.String(), Content: content}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ReserveGas(ctx context.Context, budget uint64, duration time.Duration) (*ReserveGasResult, error) {
	var out ReserveGasResponse
	req := ReserveGasRequest{GasBudget: budget, ReserveDurationSecs: uint64(duration / time.Second)}
	if err := c.call(ctx, http.MethodPost, "/v1/reserve_gas", req, &out); err != nil {
		return nil, err
	}
	if out.Error != nil {
		return nil, xerrors.Errorf("reserve gas: %s", *out.Error)
	}
	if out.Result == nil {
		return nil, xerrors.New("reserve gas: empty result")
	}
	return out.Result, nil
}

// ExecuteTx hands a sender signed transaction to the gas station, which adds the sponsor
// signature and submits it.
func (c *Client) ExecuteTx(ctx context.Context, reservation uint64, txBytes []byte, userSig keys.Signature) (*Effects, error) {
	var out ExecuteTxResponse
	req := ExecuteTxRequest{
		ReservationID: reservation,
		TxBytes:       base64.StdEncoding.EncodeToString(txBytes),
		UserSig:       userSig.Base64(),
	}
	if err := c.call(ctx, http.MethodPost, "/v1/execute_tx", req, &out); err != nil {
		return nil, err
	}
	if out.Error != nil {
		return nil, xerrors.Errorf("execute tx: %s", *out.Error)
	}
	if out.Effects == nil {
		return nil, xerrors.New("execute tx: empty effects")
	}
	return out.Effects, nil
}

func (c *Client) Reservation(ctx context.Context, id uint64) (*gasstation.Reservation, error) {
	var out gasstation.Reservation
	if err := c.call(ctx, http.MethodGet, "/v1/reservations/"+strconv.FormatUint(id, 10), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Reservations(ctx context.Context) ([]gasstation.Reservation, error) {
	var out []gasstation.Reservation
	if err := c.call(ctx, http.MethodGet, "/v1/reservations", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Stats(ctx context.Context) (*gasstation.Stats, error) {
	var out gasstation.Stats
	if err := c.call(ctx, http.MethodGet, "/v1/stats", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// call sends in as json and decodes the answer into out. Any other status than 200
// becomes a *StatusError carrying the server's error message.
func (c *Client) call(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return xerrors.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" && strings.HasPrefix(path, "/v1/") {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() // nolint: errcheck

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return xerrors.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusOK {
		if err := json.Unmarshal(raw, out); err != nil {
			return xerrors.Errorf("decode response: %w", err)
		}
		return nil
	}

	var e ErrorResponse
	if err := json.Unmarshal(raw, &e); err != nil || e.Error == "" {
		e.Error = strings.TrimSpace(string(raw))
	}
	return &StatusError{Code: resp.StatusCode, Message: e.Error}
}
