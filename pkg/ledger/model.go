package ledger

import "encoding/json"

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Transfer is the result of a submitted value transfer.
type Transfer struct {
	Hash   string `json:"hash"`
	Status Status `json:"status"`
}

type Network struct {
	ChainID string `json:"chainId"`
	Name    string `json:"name"`
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is an error object returned by the provider.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return e.Message
}

type sendTxParams struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Value string `json:"value"`
	Gas   string `json:"gas"`
}

type receipt struct {
	TransactionHash string `json:"transactionHash"`
	Status          string `json:"status"`
	BlockNumber     string `json:"blockNumber"`
}

var networkNames = map[string]string{
	"0x1":      "Ethereum Mainnet",
	"0x5":      "Goerli Testnet",
	"0x89":     "Polygon Mainnet",
	"0xaa36a7": "Sepolia Testnet",
}
