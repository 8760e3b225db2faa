package database

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/argonchain/argon/foundation/blockchain/signature"
)

// Set of transaction kinds. A transaction either spends an account balance
// under a sequential nonce or spends explicit unspent outputs.
const (
	KindAccount = "account"
	KindUTXO    = "utxo"
)

// maxTxSize is the maximum serialized size of a single transaction in bytes.
const maxTxSize = 100 * 1024

// =============================================================================

// Outpoint is the immutable identity of a spendable output: the id of the
// transaction that created it and the index of the output within it.
type Outpoint struct {
	TxID  string `json:"tx_id"`
	Index uint32 `json:"index"`
}

// String implements the fmt.Stringer interface for logging.
func (op Outpoint) String() string {
	return fmt.Sprintf("%s:%d", op.TxID, op.Index)
}

// TxOutput represents value being locked to an owner by a transaction.
type TxOutput struct {
	OwnerID AccountID `json:"owner"`
	Value   uint64    `json:"value"`
}

// =============================================================================

// Tx is the transactional information between two parties.
type Tx struct {
	ChainID uint16 `json:"chain_id"` // The chain id inside the signature to prevent cross-chain replay.
	Kind    string `json:"kind"`     // Account or UTXO style spending.

	// Account kind fields.
	Nonce uint64    `json:"nonce"` // Sequential id for the sender, no gaps, no reuse.
	ToID  AccountID `json:"to"`    // Account receiving the transferred value.
	Value uint64    `json:"value"` // Monetary value transferred.
	Tip   uint64    `json:"tip"`   // Tip offered as an incentive to mine this transaction.

	// UTXO kind fields. The fee is implicit: sum(inputs) - sum(outputs).
	Inputs  []Outpoint `json:"inputs,omitempty"`
	Outputs []TxOutput `json:"outputs,omitempty"`

	Data []byte `json:"data"` // Extra data related to the transaction.
}

// NewAccountTx constructs an account style transaction.
func NewAccountTx(chainID uint16, nonce uint64, toID AccountID, value uint64, tip uint64, data []byte) (Tx, error) {
	if !toID.IsAccountID() {
		return Tx{}, fmt.Errorf("to account is not properly formatted")
	}

	tx := Tx{
		ChainID: chainID,
		Kind:    KindAccount,
		Nonce:   nonce,
		ToID:    toID,
		Value:   value,
		Tip:     tip,
		Data:    data,
	}

	return tx, nil
}

// NewUTXOTx constructs a UTXO style transaction spending the specified
// outpoints into the specified outputs.
func NewUTXOTx(chainID uint16, inputs []Outpoint, outputs []TxOutput, data []byte) (Tx, error) {
	if len(inputs) == 0 {
		return Tx{}, errors.New("transaction requires at least one input")
	}
	if len(outputs) == 0 {
		return Tx{}, errors.New("transaction requires at least one output")
	}
	for _, out := range outputs {
		if !out.OwnerID.IsAccountID() {
			return Tx{}, fmt.Errorf("output owner is not properly formatted")
		}
	}

	tx := Tx{
		ChainID: chainID,
		Kind:    KindUTXO,
		Inputs:  inputs,
		Outputs: outputs,
		Data:    data,
	}

	return tx, nil
}

// Sign uses the specified private key to sign the transaction.
func (tx Tx) Sign(privateKey *ecdsa.PrivateKey) (SignedTx, error) {
	if err := tx.validateShape(); err != nil {
		return SignedTx{}, err
	}

	// Sign the transaction with the private key to produce a signature.
	v, r, s, err := signature.Sign(tx, privateKey)
	if err != nil {
		return SignedTx{}, err
	}

	// Construct the signed transaction by adding the signature
	// in the [R|S|V] format.
	signedTx := SignedTx{
		Tx: tx,
		V:  v,
		R:  r,
		S:  s,
	}

	return signedTx, nil
}

// validateShape checks the parts of a transaction that need no chain state
// and no signature: structure, kind, and size limits.
func (tx Tx) validateShape() error {
	switch tx.Kind {
	case KindAccount:
		if !tx.ToID.IsAccountID() {
			return errors.New("invalid account for to account")
		}
		if len(tx.Inputs) != 0 || len(tx.Outputs) != 0 {
			return errors.New("account transaction carries utxo fields")
		}

	case KindUTXO:
		if len(tx.Inputs) == 0 {
			return errors.New("transaction has no inputs")
		}
		if len(tx.Outputs) == 0 {
			return errors.New("transaction has no outputs")
		}

		// No duplicate inputs within the same transaction.
		seen := make(map[Outpoint]struct{}, len(tx.Inputs))
		for _, in := range tx.Inputs {
			if _, exists := seen[in]; exists {
				return fmt.Errorf("duplicate input %s", in)
			}
			seen[in] = struct{}{}
		}

		for _, out := range tx.Outputs {
			if !out.OwnerID.IsAccountID() {
				return errors.New("invalid account for output owner")
			}
		}

	default:
		return fmt.Errorf("unknown transaction kind %q", tx.Kind)
	}

	data, err := json.Marshal(tx)
	if err != nil {
		return err
	}
	if len(data) > maxTxSize {
		return fmt.Errorf("transaction exceeds maximum size of %d bytes", maxTxSize)
	}

	return nil
}

// =============================================================================

// SignedTx is a signed version of the transaction. This is how clients like
// a wallet provide transactions for inclusion into the blockchain.
type SignedTx struct {
	Tx
	V *big.Int `json:"v"` // Recovery identifier, either 31 or 32 with argonID.
	R *big.Int `json:"r"` // First coordinate of the ECDSA signature.
	S *big.Int `json:"s"` // Second coordinate of the ECDSA signature.
}

// Validate performs the stateless checks: the transaction is structurally
// sound, sized within limits, carries the right chain id, and has a proper
// signature associated with the data claimed to be signed. No chain state
// and no lock is required.
func (tx SignedTx) Validate(chainID uint16) error {
	if tx.ChainID != chainID {
		return fmt.Errorf("invalid chain id, got %d, exp %d", tx.ChainID, chainID)
	}

	if err := tx.validateShape(); err != nil {
		return err
	}

	if err := signature.VerifySignature(tx.V, tx.R, tx.S); err != nil {
		return err
	}

	return nil
}

// FromAccount extracts the account id that signed the transaction.
func (tx SignedTx) FromAccount() (AccountID, error) {
	address, err := signature.FromAddress(tx.Tx, tx.V, tx.R, tx.S)
	return AccountID(address), err
}

// SignatureString returns the signature as a string.
func (tx SignedTx) SignatureString() string {
	return signature.SignatureString(tx.V, tx.R, tx.S)
}

// TxID returns the unique id for this transaction: the hash of the signed
// transaction's canonical serialization. Outputs created by this
// transaction are addressed as (TxID, index).
func (tx SignedTx) TxID() string {
	return signature.Hash(tx)
}

// String implements the fmt.Stringer interface for logging.
func (tx SignedTx) String() string {
	from, err := tx.FromAccount()
	if err != nil {
		from = "unknown"
	}

	if tx.Kind == KindUTXO {
		return fmt.Sprintf("%s:%d-in:%d-out", from, len(tx.Inputs), len(tx.Outputs))
	}

	return fmt.Sprintf("%s:%d", from, tx.Nonce)
}

// =============================================================================

// BlockTx represents the transaction as it's recorded inside a block. This
// includes a timestamp and gas fees.
type BlockTx struct {
	SignedTx
	TimeStamp uint64 `json:"timestamp"` // The time the transaction was received.
	GasPrice  uint64 `json:"gas_price"` // The price of one unit of gas to be paid for fees.
	GasUnits  uint64 `json:"gas_units"` // The number of units of gas used for this transaction.
}

// NewBlockTx constructs a new block transaction.
func NewBlockTx(signedTx SignedTx, gasPrice uint64, unitsOfGas uint64) BlockTx {
	return BlockTx{
		SignedTx:  signedTx,
		TimeStamp: uint64(time.Now().UTC().Unix()),
		GasPrice:  gasPrice,
		GasUnits:  unitsOfGas,
	}
}

// GasFee returns the gas portion of the fee with overflow protection.
func (tx BlockTx) GasFee() (uint64, error) {
	return safeMul(tx.GasPrice, tx.GasUnits)
}

// Size returns the serialized size of the transaction in bytes, used for
// fee-rate ordering and capacity accounting.
func (tx BlockTx) Size() int {
	data, err := json.Marshal(tx)
	if err != nil {
		return 0
	}

	return len(data)
}

// Hash implements the merkle Hashable interface for providing a hash
// of a block transaction.
func (tx BlockTx) Hash() ([]byte, error) {
	str := signature.Hash(tx)
	return hex.DecodeString(str[2:])
}

// Equals implements the merkle Hashable interface for providing an equality
// check between two block transactions. If the nonce and signatures are the
// same, the two transactions are the same.
func (tx BlockTx) Equals(otherTx BlockTx) bool {
	txSig := signature.ToSignatureBytes(tx.V, tx.R, tx.S)
	otherTxSig := signature.ToSignatureBytes(otherTx.V, otherTx.R, otherTx.S)

	return tx.Nonce == otherTx.Nonce && bytes.Equal(txSig, otherTxSig)
}
