package domain

import "github.com/shopspring/decimal"

// OpKind is the discriminator of an Operation.
type OpKind string

// Operation kinds.
const (
	KindSwap      OpKind = "swap"
	KindWithdraw  OpKind = "withdraw"
	KindDeposit   OpKind = "deposit"
	KindInBridge  OpKind = "in_bridge"
	KindOutBridge OpKind = "out_bridge"
	KindClaim     OpKind = "claim"
	KindTransfer  OpKind = "transfer"
	KindBondStake OpKind = "bond_stake"
	KindBurn      OpKind = "burn"
	KindBuyBack   OpKind = "buyback"
)

// BatchTypeBondStake is the batch type recorded for staking batches.
const BatchTypeBondStake = "BOND STAKE"

// FilterModeSmart is the filter mode of a swap with no explicit source list.
const FilterModeSmart = "SMART"

// OpHeader holds the fields shared by every operation kind.
type OpHeader struct {
	ID             string          // deterministic, derived from the extrinsic hash
	Block          int64           // block number
	ExtrinsicIndex int             // position within the block
	Timestamp      int64           // block time, Unix milliseconds
	FeePaid        decimal.Decimal // base-asset units
}

// Header returns the common fields.
func (h OpHeader) Header() OpHeader {
	return h
}

// Operation is a typed domain operation extracted from one extrinsic.
// Implementations are immutable once constructed.
type Operation interface {
	Header() OpHeader
	Kind() OpKind
}

// AssetAmount is an asset together with a raw on-chain amount.
type AssetAmount struct {
	Asset  AssetID
	Amount decimal.Decimal
}

// SwapLeg is one elementary hop of a swap.
type SwapLeg struct {
	FromAsset  AssetID
	FromAmount decimal.Decimal
	ToAsset    AssetID
	ToAmount   decimal.Decimal
}

// Swap is an executed DEX swap, possibly routed through intermediate assets.
type Swap struct {
	OpHeader
	DexID         int
	InputAsset    AssetID
	OutputAsset   AssetID
	InputAmount   decimal.Decimal
	OutputAmount  decimal.Decimal
	FilterMode    string
	SwapFee       *decimal.Decimal // nil when no Exchange event reported a fee
	Intermediates []AssetAmount    // in encounter order
}

// Kind implements Operation.
func (*Swap) Kind() OpKind { return KindSwap }

// Legs decomposes the swap into len(Intermediates)+1 legs chained
// input -> intermediate... -> output.
func (s *Swap) Legs() []SwapLeg {
	legs := make([]SwapLeg, 0, len(s.Intermediates)+1)
	from := AssetAmount{Asset: s.InputAsset, Amount: s.InputAmount}
	for _, hop := range s.Intermediates {
		legs = append(legs, SwapLeg{
			FromAsset:  from.Asset,
			FromAmount: from.Amount,
			ToAsset:    hop.Asset,
			ToAmount:   hop.Amount,
		})
		from = hop
	}
	legs = append(legs, SwapLeg{
		FromAsset:  from.Asset,
		FromAmount: from.Amount,
		ToAsset:    s.OutputAsset,
		ToAmount:   s.OutputAmount,
	})
	return legs
}

// Withdraw is a liquidity withdrawal.
type Withdraw struct {
	OpHeader
	AssetA  AssetID
	AssetB  AssetID
	AmountA decimal.Decimal
	AmountB decimal.Decimal
}

// Kind implements Operation.
func (*Withdraw) Kind() OpKind { return KindWithdraw }

// Deposit is a liquidity deposit.
type Deposit struct {
	OpHeader
	AssetA  AssetID
	AssetB  AssetID
	AmountA decimal.Decimal
	AmountB decimal.Decimal
}

// Kind implements Operation.
func (*Deposit) Kind() OpKind { return KindDeposit }

// InBridgeTx is an inbound bridge transfer.
type InBridgeTx struct {
	OpHeader
	Asset        AssetID
	Amount       decimal.Decimal
	ExternalHash string // tx hash on the external chain
}

// Kind implements Operation.
func (*InBridgeTx) Kind() OpKind { return KindInBridge }

// OutBridgeTx is an outbound bridge transfer.
type OutBridgeTx struct {
	OpHeader
	Asset       AssetID
	Amount      decimal.Decimal
	Address     string
	AddressType string
}

// Kind implements Operation.
func (*OutBridgeTx) Kind() OpKind { return KindOutBridge }

// ClaimTx is a claim of bridged or reward funds.
type ClaimTx struct {
	OpHeader
	Asset  AssetID
	Amount decimal.Decimal
}

// Kind implements Operation.
func (*ClaimTx) Kind() OpKind { return KindClaim }

// TransferTx is a plain asset transfer.
type TransferTx struct {
	OpHeader
	Asset  AssetID
	Amount decimal.Decimal
}

// Kind implements Operation.
func (*TransferTx) Kind() OpKind { return KindTransfer }

// BondStakeTx is a staking bond submitted in a batch.
type BondStakeTx struct {
	OpHeader
	BatchType string
	Amount    decimal.Decimal
}

// Kind implements Operation.
func (*BondStakeTx) Kind() OpKind { return KindBondStake }

// Burn is an asset burn observed in a block's events.
type Burn struct {
	OpHeader
	Asset  AssetID
	Amount decimal.Decimal
}

// Kind implements Operation.
func (*Burn) Kind() OpKind { return KindBurn }

// BuyBack is an exchange executed by the buyback account.
type BuyBack struct {
	OpHeader
	Asset  AssetID
	Amount decimal.Decimal
}

// Kind implements Operation.
func (*BuyBack) Kind() OpKind { return KindBuyBack }
