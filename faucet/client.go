// Package faucet requests gas from a faucet service for a recipient and waits until the
// chain shows the recipient owning the new coin.
package faucet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	logging "github.com/ipfs/go-log/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/xerrors"

	"github.com/iota-community/sponsored-transactions-demo/chain/types"
	"github.com/iota-community/sponsored-transactions-demo/lens"
	"github.com/iota-community/sponsored-transactions-demo/metrics"
	"github.com/iota-community/sponsored-transactions-demo/wait"
)

var log = logging.Logger("sponsor/faucet")

const (
	DefaultPollInterval        = time.Second
	DefaultConfirmationTimeout = 60 * time.Second
	DefaultRequestTimeout      = 10 * time.Second
)

// ErrConfirmationTimeout is returned when the faucet task or the on-chain ownership check
// does not complete within the confirmation timeout.
var ErrConfirmationTimeout = xerrors.New("faucet confirmation timed out")

// FaucetError is an error reported by the faucet service itself.
type FaucetError struct {
	TaskID  string
	Message string
}

func (e *FaucetError) Error() string {
	if e.TaskID == "" {
		return "faucet error: " + e.Message
	}
	return fmt.Sprintf("faucet task %s: %s", e.TaskID, e.Message)
}

type TaskStatus int

const (
	TaskPending TaskStatus = iota
	TaskSucceeded
	TaskFailed
)

func (s TaskStatus) String() string {
	switch s {
	case TaskSucceeded:
		return "succeeded"
	case TaskFailed:
		return "failed"
	default:
		return "pending"
	}
}

// Task is the state of a faucet request.
type Task struct {
	ID      string
	Status  TaskStatus
	Coin    *types.ObjectID
	Message string
}

// ObjectReader reads object ownership from the chain.
type ObjectReader interface {
	GetObject(ctx context.Context, id types.ObjectID) (*lens.Object, error)
}

type Config struct {
	URL                 string
	PollInterval        time.Duration
	ConfirmationTimeout time.Duration
	RequestTimeout      time.Duration
}

type Client struct {
	cfg   Config
	base  *url.URL
	chain ObjectReader
	http  *http.Client
}

// NewClient returns a faucet client. Zero durations in cfg fall back to the defaults.
func NewClient(cfg Config, chain ObjectReader) (*Client, error) {
	base, err := url.Parse(strings.TrimSuffix(cfg.URL, "/"))
	if err != nil {
		return nil, xerrors.Errorf("parse faucet url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, xerrors.Errorf("faucet url %q must be http or https", cfg.URL)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.ConfirmationTimeout <= 0 {
		cfg.ConfirmationTimeout = DefaultConfirmationTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	return &Client{
		cfg:   cfg,
		base:  base,
		chain: chain,
		http:  &http.Client{Timeout: cfg.RequestTimeout},
	}, nil
}

// RequestAndConfirm asks the faucet to fund addr and returns once the chain reports addr
// as the owner of the transferred coin. Every stage after the initial request shares
// one confirmation deadline.
func (c *Client) RequestAndConfirm(ctx context.Context, addr types.Address) (types.ObjectID, error) {
	ctx, span := otel.Tracer("").Start(ctx, "faucet.RequestAndConfirm")
	defer span.End()
	span.SetAttributes(attribute.String("recipient", addr.String()))

	taskID, err := c.RequestGas(ctx, addr)
	if err != nil {
		return types.ObjectID{}, err
	}
	log.Infow("faucet request accepted", "recipient", addr, "task", taskID)

	var coin types.ObjectID
	err = wait.WithDeadline(ctx, c.cfg.ConfirmationTimeout, ErrConfirmationTimeout, func(ctx context.Context) error {
		task, err := c.waitTask(ctx, taskID)
		if err != nil {
			return err
		}
		coin = *task.Coin
		return c.waitOwnership(ctx, coin, addr)
	})
	if err != nil {
		return types.ObjectID{}, err
	}
	log.Infow("faucet funding confirmed", "recipient", addr, "coin", coin)
	return coin, nil
}

type gasRequest struct {
	FixedAmountRequest struct {
		Recipient types.Address `json:"recipient"`
	} `json:"FixedAmountRequest"`
}

type gasResponse struct {
	Task  string  `json:"task"`
	Error *string `json:"error"`
}

// RequestGas submits a faucet request for addr and returns the task id.
func (c *Client) RequestGas(ctx context.Context, addr types.Address) (string, error) {
	var body gasRequest
	body.FixedAmountRequest.Recipient = addr
	payload, err := json.Marshal(body)
	if err != nil {
		return "", xerrors.Errorf("marshal faucet request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("v1", "gas"), bytes.NewReader(payload))
	if err != nil {
		return "", xerrors.Errorf("new faucet request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var resp gasResponse
	if err := c.do(req, &resp); err != nil {
		return "", xerrors.Errorf("faucet request: %w", err)
	}
	if resp.Error != nil {
		return "", &FaucetError{Message: *resp.Error}
	}
	if resp.Task == "" {
		return "", &FaucetError{Message: "faucet returned no task id"}
	}
	return resp.Task, nil
}

type sentObject struct {
	ID     types.ObjectID `json:"id"`
	Amount uint64         `json:"amount"`
}

type statusResponse struct {
	Status *struct {
		Status                string `json:"status"`
		TransferredGasObjects *struct {
			Sent []sentObject `json:"sent"`
		} `json:"transferred_gas_objects"`
	} `json:"status"`
	Error *string `json:"error"`
}

// TaskStatus fetches the current state of a faucet task once.
func (c *Client) TaskStatus(ctx context.Context, taskID string) (*Task, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("v1", "status", taskID), nil)
	if err != nil {
		return nil, xerrors.Errorf("new status request: %w", err)
	}
	var resp statusResponse
	if err := c.do(req, &resp); err != nil {
		return nil, xerrors.Errorf("faucet status: %w", err)
	}

	task := &Task{ID: taskID, Status: TaskPending}
	if resp.Error != nil {
		task.Status = TaskFailed
		task.Message = *resp.Error
		return task, nil
	}
	if resp.Status == nil {
		return task, nil
	}
	switch resp.Status.Status {
	case "SUCCEEDED":
		if resp.Status.TransferredGasObjects == nil || len(resp.Status.TransferredGasObjects.Sent) == 0 {
			task.Status = TaskFailed
			task.Message = "task succeeded without transferring a gas object"
			return task, nil
		}
		task.Status = TaskSucceeded
		coin := resp.Status.TransferredGasObjects.Sent[0].ID
		task.Coin = &coin
	case "DISCARDED", "FAILED":
		task.Status = TaskFailed
		task.Message = "task " + strings.ToLower(resp.Status.Status)
	}
	return task, nil
}

// waitTask polls the task until it is terminal. A single failed status request is
// retried with a constant backoff while the deadline allows.
func (c *Client) waitTask(ctx context.Context, taskID string) (*Task, error) {
	var task *Task
	err := wait.RepeatUntil(ctx, c.cfg.PollInterval, func(ctx context.Context) (bool, error) {
		var err error
		task, err = backoff.RetryWithData(func() (*Task, error) {
			t, err := c.TaskStatus(ctx, taskID)
			var ferr *FaucetError
			if xerrors.As(err, &ferr) {
				return nil, backoff.Permanent(err)
			}
			if err != nil {
				log.Debugw("faucet status request failed, retrying", "task", taskID, "error", err)
			}
			return t, err
		}, backoff.WithContext(backoff.NewConstantBackOff(c.cfg.PollInterval), ctx))
		if err != nil {
			return false, err
		}
		metrics.RecordInc(metrics.WithTagValue(ctx, metrics.Status, task.Status.String()), metrics.FaucetPolls)
		switch task.Status {
		case TaskSucceeded:
			return true, nil
		case TaskFailed:
			return false, &FaucetError{TaskID: taskID, Message: task.Message}
		default:
			log.Debugw("faucet task pending", "task", taskID)
			return false, nil
		}
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// waitOwnership polls the chain until coin is owned by addr. Objects the node does not
// know about yet are treated as not yet transferred.
func (c *Client) waitOwnership(ctx context.Context, coin types.ObjectID, addr types.Address) error {
	return wait.RepeatUntil(ctx, c.cfg.PollInterval, func(ctx context.Context) (bool, error) {
		obj, err := c.chain.GetObject(ctx, coin)
		if xerrors.Is(err, lens.ErrObjectNotFound) {
			return false, nil
		}
		if err != nil {
			return false, xerrors.Errorf("get coin %s: %w", coin, err)
		}
		owner, ok := obj.Owner.AddressOwner()
		if ok && owner == addr {
			return true, nil
		}
		log.Debugw("coin not yet owned by recipient", "coin", coin, "recipient", addr, "owner", owner)
		return false, nil
	})
}

func (c *Client) endpoint(elems ...string) string {
	u := *c.base
	raw := u.EscapedPath()
	for _, e := range elems {
		u.Path += "/" + e
		raw += "/" + url.PathEscape(e)
	}
	u.RawPath = raw
	return u.String()
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() // nolint: errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return xerrors.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 500 {
		return xerrors.Errorf("faucet returned %s", resp.Status)
	}
	if err := json.Unmarshal(body, out); err != nil {
		if resp.StatusCode >= 400 {
			return &FaucetError{Message: fmt.Sprintf("%s: %s", resp.Status, strings.TrimSpace(string(body)))}
		}
		return xerrors.Errorf("decode response: %w", err)
	}
	return nil
}
