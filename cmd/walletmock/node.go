package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	mrand "math/rand"
	"metalink/internal/app/logger"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
)

type rpcRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      json.RawMessage   `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result"`
	Error   *rpcError       `json:"error,omitempty"`
}

type sentTx struct {
	from, to  string
	value     *big.Int
	minedAt   time.Time
	succeeded bool
	block     uint64
}

// node simulates a wallet provider: every address starts with a random
// balance, transfers move value and get a receipt after confirmAfter.
type node struct {
	mu       sync.Mutex
	chainID  string
	balances map[string]*big.Int
	txs      map[string]*sentTx
	blocks   uint64

	confirmAfter time.Duration
	failRate     float64
	now          func() time.Time
	rnd          *mrand.Rand
}

func newNode(chainID string, confirmAfter time.Duration, failRate float64) *node {
	return &node{
		chainID:      chainID,
		balances:     make(map[string]*big.Int),
		txs:          make(map[string]*sentTx),
		confirmAfter: confirmAfter,
		failRate:     failRate,
		now:          time.Now,
		rnd:          mrand.New(mrand.NewSource(time.Now().UnixNano())),
	}
}

func (n *node) ServeRPC(w http.ResponseWriter, r *http.Request) {
	l := logger.Ctx(r.Context()).WithComponent("WalletMock.RPC")

	req := rpcRequest{}
	res := rpcResponse{JSONRPC: "2.0"}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		res.Error = &rpcError{Code: codeParseError, Message: err.Error()}
		writeJSON(w, res)
		return
	}
	res.ID = req.ID

	result, rerr := n.dispatch(req.Method, req.Params)
	if rerr != nil {
		l.Debug().Str("rpc_method", req.Method).Str("error", rerr.Message).Msg("RPC error")
		res.Error = rerr
	} else {
		res.Result = result
	}

	writeJSON(w, res)
}

func (n *node) dispatch(method string, params []json.RawMessage) (interface{}, *rpcError) {
	n.mu.Lock()
	defer n.mu.Unlock()

	switch method {
	case "eth_chainId":
		return n.chainID, nil
	case "eth_getBalance":
		var addr string
		if err := param(params, 0, &addr); err != nil {
			return nil, err
		}
		return "0x" + n.balance(addr).Text(16), nil
	case "eth_sendTransaction":
		var tx struct {
			From  string `json:"from"`
			To    string `json:"to"`
			Value string `json:"value"`
		}
		if err := param(params, 0, &tx); err != nil {
			return nil, err
		}
		return n.send(tx.From, tx.To, tx.Value)
	case "eth_getTransactionReceipt":
		var hash string
		if err := param(params, 0, &hash); err != nil {
			return nil, err
		}
		return n.receipt(hash), nil
	}

	return nil, &rpcError{Code: codeMethodNotFound, Message: fmt.Sprintf("the method %s does not exist/is not available", method)}
}

func (n *node) balance(addr string) *big.Int {
	addr = strings.ToLower(addr)
	b, ok := n.balances[addr]
	if !ok {
		// 1 to 10 ether
		ether := big.NewInt(n.rnd.Int63n(10) + 1)
		b = new(big.Int).Mul(ether, big.NewInt(1e18))
		n.balances[addr] = b
	}
	return b
}

func (n *node) send(from, to, hexValue string) (interface{}, *rpcError) {
	value, ok := new(big.Int).SetString(strings.TrimPrefix(hexValue, "0x"), 16)
	if !ok || value.Sign() <= 0 {
		return nil, &rpcError{Code: codeInvalidParams, Message: "invalid value"}
	}

	src := n.balance(from)
	if src.Cmp(value) < 0 {
		return nil, &rpcError{Code: -32000, Message: "insufficient funds for transfer"}
	}

	succeeded := n.rnd.Float64() >= n.failRate
	if succeeded {
		src.Sub(src, value)
		dst := n.balance(to)
		dst.Add(dst, value)
	}

	hash := newHash()
	n.blocks++
	n.txs[hash] = &sentTx{
		from:      from,
		to:        to,
		value:     value,
		minedAt:   n.now().Add(n.confirmAfter),
		succeeded: succeeded,
		block:     n.blocks,
	}

	return hash, nil
}

// receipt is nil until the transaction is mined.
func (n *node) receipt(hash string) interface{} {
	tx, ok := n.txs[hash]
	if !ok || n.now().Before(tx.minedAt) {
		return nil
	}

	status := "0x0"
	if tx.succeeded {
		status = "0x1"
	}

	return map[string]string{
		"transactionHash": hash,
		"from":            tx.from,
		"to":              tx.to,
		"blockNumber":     fmt.Sprintf("0x%x", tx.block),
		"status":          status,
	}
}

func param(params []json.RawMessage, i int, v interface{}) *rpcError {
	if len(params) <= i {
		return &rpcError{Code: codeInvalidParams, Message: fmt.Sprintf("missing value for required argument %d", i)}
	}
	if err := json.Unmarshal(params[i], v); err != nil {
		return &rpcError{Code: codeInvalidParams, Message: err.Error()}
	}
	return nil
}

func newHash() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return "0x" + hex.EncodeToString(b)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
