package types

import (
	"encoding/json"
	"fmt"
)

// ChainSpecificData is a closed tagged union carrying the chain-family
// payload of a transaction. Exactly one variant is set. The JSON form embeds
// the variant fields next to a "family" discriminator so adding a chain
// family is a compile-time addition of one variant, not a schema change.
type ChainSpecificData struct {
	Bitcoin  *BitcoinData
	Ethereum *EthereumData
	Solana   *SolanaData
	Generic  *GenericChainData
}

const (
	familyBitcoin  = "bitcoin"
	familyEthereum = "ethereum"
	familySolana   = "solana"
	familyGeneric  = "generic"
)

// Family returns the discriminator of the populated variant.
func (c ChainSpecificData) Family() string {
	switch {
	case c.Bitcoin != nil:
		return familyBitcoin
	case c.Ethereum != nil:
		return familyEthereum
	case c.Solana != nil:
		return familySolana
	default:
		return familyGeneric
	}
}

type chainSpecificEnvelope struct {
	Family string          `json:"family"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (c ChainSpecificData) MarshalJSON() ([]byte, error) {
	var payload any
	switch {
	case c.Bitcoin != nil:
		payload = c.Bitcoin
	case c.Ethereum != nil:
		payload = c.Ethereum
	case c.Solana != nil:
		payload = c.Solana
	case c.Generic != nil:
		payload = c.Generic
	default:
		payload = &GenericChainData{}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(chainSpecificEnvelope{Family: c.Family(), Data: data})
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *ChainSpecificData) UnmarshalJSON(b []byte) error {
	var env chainSpecificEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return err
	}

	*c = ChainSpecificData{}
	switch env.Family {
	case familyBitcoin:
		c.Bitcoin = &BitcoinData{}
		return json.Unmarshal(env.Data, c.Bitcoin)
	case familyEthereum:
		c.Ethereum = &EthereumData{}
		return json.Unmarshal(env.Data, c.Ethereum)
	case familySolana:
		c.Solana = &SolanaData{}
		return json.Unmarshal(env.Data, c.Solana)
	case familyGeneric, "":
		c.Generic = &GenericChainData{}
		if len(env.Data) == 0 {
			return nil
		}
		return json.Unmarshal(env.Data, c.Generic)
	default:
		return fmt.Errorf("unknown chain family %q", env.Family)
	}
}

// BitcoinData carries the UTXO-model payload.
type BitcoinData struct {
	Inputs   []BitcoinInput  `json:"inputs"`
	Outputs  []BitcoinOutput `json:"outputs"`
	Version  int32           `json:"version"`
	LockTime uint32          `json:"lockTime"`
	VSize    uint64          `json:"vsize"`
	Weight   uint64          `json:"weight"`
	IsSegwit bool            `json:"isSegwit"`
	IsRBF    bool            `json:"isRbf"`
}

// BitcoinInput is a consumed previous output.
type BitcoinInput struct {
	TxID     string  `json:"txid"`
	Vout     uint32  `json:"vout"`
	Sequence uint32  `json:"sequence"`
	Address  *string `json:"address,omitempty"`
	Value    *string `json:"value,omitempty"`
}

// BitcoinOutput is a newly created output.
type BitcoinOutput struct {
	N            uint32  `json:"n"`
	Value        string  `json:"value"`
	ScriptPubKey string  `json:"scriptPubKey"`
	Address      *string `json:"address,omitempty"`
	OutputType   string  `json:"type"`
}

// EthereumData carries the account/log-model payload, shared by all
// EVM-compatible chains.
type EthereumData struct {
	From                 string                `json:"from"`
	To                   *string               `json:"to,omitempty"`
	Value                string                `json:"value"`
	GasLimit             string                `json:"gasLimit"`
	GasUsed              string                `json:"gasUsed"`
	GasPrice             *string               `json:"gasPrice,omitempty"`
	MaxFeePerGas         *string               `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas *string               `json:"maxPriorityFeePerGas,omitempty"`
	BaseFeePerGas        *string               `json:"baseFeePerGas,omitempty"`
	EffectiveGasPrice    string                `json:"effectiveGasPrice"`
	TxType               uint8                 `json:"type"`
	Nonce                uint64                `json:"nonce"`
	Input                string                `json:"input"`
	ContractAddress      *string               `json:"contractAddress,omitempty"`
	Logs                 []EthereumLog         `json:"logs"`
	InternalTransactions []EthereumInternalTx  `json:"internalTransactions,omitempty"`
}

// EthereumLog is one receipt log entry.
type EthereumLog struct {
	LogIndex uint32   `json:"logIndex"`
	Address  string   `json:"address"`
	Topics   []string `json:"topics"`
	Data     string   `json:"data"`
}

// EthereumInternalTx is a value movement reported by a trace API.
type EthereumInternalTx struct {
	TxType  string  `json:"type"`
	From    string  `json:"from"`
	To      string  `json:"to"`
	Value   string  `json:"value"`
	GasUsed string  `json:"gasUsed"`
	Error   *string `json:"error,omitempty"`
}

// SolanaData carries the instruction/balance-delta payload.
type SolanaData struct {
	Signatures           []string             `json:"signatures"`
	RecentBlockhash      string               `json:"recentBlockhash"`
	FeePayer             string               `json:"feePayer"`
	Instructions         []SolanaInstruction  `json:"instructions"`
	AccountKeys          []string             `json:"accountKeys"`
	ComputeUnitsConsumed *uint64              `json:"computeUnitsConsumed,omitempty"`
	LogMessages          []string             `json:"logMessages,omitempty"`
	PreBalances          []string             `json:"preBalances"`
	PostBalances         []string             `json:"postBalances"`
	PreTokenBalances     []SolanaTokenBalance `json:"preTokenBalances,omitempty"`
	PostTokenBalances    []SolanaTokenBalance `json:"postTokenBalances,omitempty"`
}

// SolanaInstruction is one top-level instruction.
type SolanaInstruction struct {
	ProgramID   string  `json:"programId"`
	ProgramName *string `json:"programName,omitempty"`
	Index       uint32  `json:"index"`
	Accounts    []uint32 `json:"accounts"`
	Data        string  `json:"data"`
}

// SolanaTokenBalance is a token account balance snapshot before or after
// execution.
type SolanaTokenBalance struct {
	AccountIndex uint32 `json:"accountIndex"`
	Mint         string `json:"mint"`
	Owner        string `json:"owner"`
	Amount       string `json:"amount"`
	Decimals     uint8  `json:"decimals"`
}

// GenericChainData is the fallback for chains without a dedicated variant.
type GenericChainData struct {
	Raw map[string]json.RawMessage `json:"raw,omitempty"`
}
