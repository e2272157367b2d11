package chain

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
)

// EscrowReceipt результат создания эскроу в контракте.
type EscrowReceipt struct {
	TxHash   string
	EscrowID uint64
}

// EscrowClient узкий интерфейс к эскроу-контракту. Ядро не разбирает внутренности
// контракта, а только сохраняет хеши транзакций и идентификатор эскроу.
type EscrowClient interface {
	CreateEscrow(ctx context.Context, seller string, amount decimal.Decimal, disputeWindow time.Duration, metadata string, autoFund bool) (EscrowReceipt, error)
	FundEscrow(ctx context.Context, escrowID uint64, amount decimal.Decimal) (string, error)
	ConfirmDelivery(ctx context.Context, escrowID uint64) (string, error)
	CalculateFee(ctx context.Context, amount decimal.Decimal, address string) (string, error)
}

// Conversion перевод цены в USD в нативную валюту сети.
type Conversion struct {
	NativeAmount decimal.Decimal `json:"nativeAmount"`
	NativePrice  decimal.Decimal `json:"nativePrice"`
	Symbol       string          `json:"symbol"`
}

type PriceConverter interface {
	Convert(ctx context.Context, usdAmount decimal.Decimal, chainID int64) (Conversion, error)
}

var (
	ErrNotConfigured = errors.New("chain client not configured")
	ErrEventNotFound = errors.New("escrow event not found in receipt")
)

// IsTxHash проверяет формат хеша транзакции: 0x + 32 байта.
func IsTxHash(s string) bool {
	b, err := hexutil.Decode(s)
	return err == nil && len(b) == common.HashLength
}

// IsAddress проверяет формат EVM-адреса.
func IsAddress(s string) bool {
	return common.IsHexAddress(s)
}

// ToWei переводит сумму в нативной валюте в wei (18 знаков).
func ToWei(amount decimal.Decimal) *big.Int {
	return amount.Shift(18).Truncate(0).BigInt()
}

// FromWei обратное преобразование.
func FromWei(v *big.Int) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -18)
}
