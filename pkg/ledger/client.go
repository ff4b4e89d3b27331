package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

const (
	weiDecimals = 18
	// plain value transfer
	transferGas = "0x5208"
)

var (
	// ErrUnavailable is returned when no provider endpoint could serve a call.
	ErrUnavailable = errors.New("ledger: upstream unavailable")
	// ErrRejected is returned when the provider refused the call.
	ErrRejected = errors.New("ledger: rejected by provider")
)

type Client struct {
	endpoints  []string
	timeout    time.Duration
	httpClient *http.Client
	logger     zerolog.Logger
	breakers   map[string]*gobreaker.CircuitBreaker
	seq        uint64
}

func (c *Client) LoggerComponent() string {
	return "Ledger.Client"
}

type ClientOption func(*Client)

func WithLogger(l zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = d
	}
}

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient for the given provider RPC endpoints, tried in order.
func NewClient(endpoints []string, opts ...ClientOption) (*Client, error) {
	if len(endpoints) == 0 {
		return nil, errors.New("ledger: no rpc endpoints configured")
	}

	c := &Client{
		endpoints:  endpoints,
		timeout:    15 * time.Second,
		httpClient: http.DefaultClient,
		logger:     log.Logger,
		breakers:   make(map[string]*gobreaker.CircuitBreaker, len(endpoints)),
	}
	for _, o := range opts {
		o(c)
	}
	c.logger = c.logger.With().Str("component", c.LoggerComponent()).Logger()

	for _, e := range endpoints {
		c.breakers[e] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    e,
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			IsSuccessful: func(err error) bool {
				// provider answered, the endpoint itself is healthy
				return err == nil || errors.Is(err, ErrRejected)
			},
		})
	}

	return c, nil
}

// Network reports the chain the provider is connected to.
func (c *Client) Network(ctx context.Context) (*Network, error) {
	var chainID string
	if err := c.read(ctx, "eth_chainId", nil, &chainID); err != nil {
		return nil, err
	}

	name, ok := networkNames[strings.ToLower(chainID)]
	if !ok {
		name = "Chain ID: " + chainID
	}

	return &Network{ChainID: chainID, Name: name}, nil
}

// Balance of address in ether.
func (c *Client) Balance(ctx context.Context, address string) (decimal.Decimal, error) {
	var hexWei string
	if err := c.read(ctx, "eth_getBalance", []interface{}{address, "latest"}, &hexWei); err != nil {
		return decimal.Zero, err
	}

	wei, ok := new(big.Int).SetString(strings.TrimPrefix(hexWei, "0x"), 16)
	if !ok {
		c.logger.Error().Str("result", hexWei).Msg("Malformed balance")
		return decimal.Zero, errors.Wrap(ErrUnavailable, "malformed balance")
	}

	return decimal.NewFromBigInt(wei, -weiDecimals), nil
}

// SubmitTransfer sends a plain value transfer of amount ether. The
// returned transfer is pending until TransferStatus resolves it.
func (c *Client) SubmitTransfer(ctx context.Context, from, to string, amount decimal.Decimal, currency string) (*Transfer, error) {
	if !amount.IsPositive() {
		return nil, errors.Errorf("ledger: amount must be positive, got %s", amount)
	}

	l := c.logger.With().
		Str("method", "SubmitTransfer").
		Str("from", from).
		Str("to", to).
		Str("amount", amount.String()).
		Str("currency", currency).
		Logger()

	params := sendTxParams{
		From:  from,
		To:    to,
		Value: toHexWei(amount),
		Gas:   transferGas,
	}

	// no failover, a timed out submission may still have been broadcast
	var hash string
	if err := c.call(l.WithContext(ctx), c.endpoints[0], "eth_sendTransaction", []interface{}{params}, &hash); err != nil {
		return nil, err
	}
	if hash == "" {
		return nil, errors.Wrap(ErrUnavailable, "empty transaction hash")
	}

	l.Info().Str("hash", hash).Msg("Transfer submitted")

	return &Transfer{Hash: hash, Status: StatusPending}, nil
}

// TransferStatus resolves the receipt of a submitted transfer.
func (c *Client) TransferStatus(ctx context.Context, hash string) (Status, error) {
	var r *receipt
	if err := c.read(ctx, "eth_getTransactionReceipt", []interface{}{hash}, &r); err != nil {
		return "", err
	}

	if r == nil || r.BlockNumber == "" {
		return StatusPending, nil
	}
	if r.Status == "0x1" {
		return StatusCompleted, nil
	}
	return StatusFailed, nil
}

// read calls an idempotent method, failing over across endpoints.
func (c *Client) read(ctx context.Context, method string, params []interface{}, out interface{}) error {
	var lastErr error
	for _, e := range c.endpoints {
		err := c.call(ctx, e, method, params, out)
		if err == nil || errors.Is(err, ErrRejected) {
			return err
		}
		lastErr = err
	}
	return lastErr
}

func (c *Client) call(ctx context.Context, endpoint, method string, params []interface{}, out interface{}) error {
	l := c.logger.With().Str("rpc_method", method).Str("endpoint", endpoint).Logger()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cb := c.breakers[endpoint]
	_, err := cb.Execute(func() (interface{}, error) {
		return nil, c.do(ctx, endpoint, method, params, out)
	})
	if err == nil {
		return nil
	}

	if errors.Is(err, ErrRejected) {
		l.Warn().Err(err).Msg("RPC call rejected")
		return err
	}

	l.Error().Err(err).Msg("RPC call failed")
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return errors.Wrap(ErrUnavailable, "circuit open")
	case errors.Is(err, context.DeadlineExceeded):
		return errors.Wrap(ErrUnavailable, "timeout")
	}
	return errors.Wrap(ErrUnavailable, "request failed")
}

func (c *Client) do(ctx context.Context, endpoint, method string, params []interface{}, out interface{}) error {
	if params == nil {
		params = []interface{}{}
	}

	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      atomic.AddUint64(&c.seq, 1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return errors.Wrap(err, "json encode")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "new request")
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "do request")
	}
	defer func() {
		_ = res.Body.Close()
	}()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return errors.Wrap(err, "body read")
	}
	if res.StatusCode >= 300 {
		return errors.Errorf("remote status %d: %s", res.StatusCode, raw)
	}

	var rr rpcResponse
	if err := json.Unmarshal(raw, &rr); err != nil {
		return errors.Wrap(err, "json decode")
	}
	if rr.Error != nil {
		return errors.Wrap(ErrRejected, rr.Error.Error())
	}
	if out == nil || len(rr.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(rr.Result, out); err != nil {
		return errors.Wrap(err, "result decode")
	}

	return nil
}

func toHexWei(amount decimal.Decimal) string {
	return fmt.Sprintf("0x%x", amount.Shift(weiDecimals).BigInt())
}
