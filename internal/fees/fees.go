// Package fees считает комиссию эскроу. Функции чистые: ставка передаётся явно.
package fees

import (
	"errors"

	"github.com/shopspring/decimal"
)

// Precision количество знаков после запятой для сумм комиссии.
const Precision int32 = 6

// MaxBps верхняя граница ставки (100%).
const MaxBps = 10000

var (
	ErrNonPositiveAmount = errors.New("amount must be positive")
	ErrInvalidRate       = errors.New("fee rate must be between 0 and 10000 bps")
)

var bpsDivisor = decimal.NewFromInt(MaxBps)

// Compute возвращает комиссию и сумму к зачислению для amount при ставке
// rateBps базисных пунктов. Комиссия усекается до 6 знаков, net = amount - fee.
func Compute(amount decimal.Decimal, rateBps int) (fee, net decimal.Decimal, err error) {
	if !amount.IsPositive() {
		return decimal.Zero, decimal.Zero, ErrNonPositiveAmount
	}
	if rateBps < 0 || rateBps > MaxBps {
		return decimal.Zero, decimal.Zero, ErrInvalidRate
	}
	rate := decimal.NewFromInt(int64(rateBps)).Div(bpsDivisor)
	fee = amount.Mul(rate).Truncate(Precision)
	net = amount.Sub(fee)
	return fee, net, nil
}

// Format представление суммы с фиксированной точностью для хранения в метаданных.
func Format(d decimal.Decimal) string {
	return d.Truncate(Precision).StringFixed(Precision)
}
