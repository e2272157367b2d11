package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// DomainInfo данные доменной сделки. Курсовые поля заполняются при фондировании.
type DomainInfo struct {
	DomainName   string `json:"domainName,omitempty"`
	Registrar    string `json:"registrar,omitempty"`
	TransferCode string `json:"transferCode,omitempty"`
	NativeAmount string `json:"nativeAmount,omitempty"`
	NativePrice  string `json:"nativePrice,omitempty"`
}

type DisputeOutcome string

const (
	OutcomeReleaseToSeller DisputeOutcome = "release_to_seller"
	OutcomeRefundToBuyer   DisputeOutcome = "refund_to_buyer"
	OutcomeSplit           DisputeOutcome = "split"
)

func (o DisputeOutcome) Valid() bool {
	return o == OutcomeReleaseToSeller || o == OutcomeRefundToBuyer || o == OutcomeSplit
}

// DisputeResolution решение арбитра. Распределение средств выполняет контракт,
// здесь фиксируется только намерение.
type DisputeResolution struct {
	Outcome      DisputeOutcome `json:"outcome"`
	BuyerPercent int            `json:"buyerPercent"`
	Note         string         `json:"note,omitempty"`
	ResolvedBy   string         `json:"resolvedBy"`
	ResolvedAt   time.Time      `json:"resolvedAt"`
}

// TradeMetadata типизированное расширение сделки. Поля только добавляются:
// Merge никогда не очищает и не перезаписывает уже записанное значение.
type TradeMetadata struct {
	PaymentMethod         string             `json:"paymentMethod,omitempty"`
	Notes                 string             `json:"notes,omitempty"`
	CryptoDepositTxHash   string             `json:"cryptoDepositTxHash,omitempty"`
	FundTxHash            string             `json:"fundTxHash,omitempty"`
	ClaimTxHash           string             `json:"claimTxHash,omitempty"`
	EscrowFeeAmount       string             `json:"escrowFeeAmount,omitempty"`
	EscrowNetAmount       string             `json:"escrowNetAmount,omitempty"`
	FeeRateBps            *int               `json:"feeRateBps,omitempty"`
	PaymentProof          string             `json:"paymentProof,omitempty"`
	PaymentProofImages    []string           `json:"paymentProofImages,omitempty"`
	DisputeReason         string             `json:"disputeReason,omitempty"`
	DisputeEvidence       string             `json:"disputeEvidence,omitempty"`
	DisputeEvidenceImages []string           `json:"disputeEvidenceImages,omitempty"`
	DisputeOpenedBy       string             `json:"disputeOpenedBy,omitempty"`
	CancelReason          string             `json:"cancelReason,omitempty"`
	Rating                *int               `json:"rating,omitempty"`
	OriginalListingID     uint               `json:"originalListingId,omitempty"`
	DomainInfo            *DomainInfo        `json:"domainInfo,omitempty"`
	Resolution            *DisputeResolution `json:"resolution,omitempty"`
	EscrowConfirmedBlock  uint64             `json:"escrowConfirmedBlock,omitempty"`
}

// Merge возвращает копию метаданных с добавленными полями из patch.
// Уже заполненные поля остаются без изменений.
func (m TradeMetadata) Merge(patch TradeMetadata) TradeMetadata {
	out := m
	setOnce(&out.PaymentMethod, patch.PaymentMethod)
	setOnce(&out.Notes, patch.Notes)
	setOnce(&out.CryptoDepositTxHash, patch.CryptoDepositTxHash)
	setOnce(&out.FundTxHash, patch.FundTxHash)
	setOnce(&out.ClaimTxHash, patch.ClaimTxHash)
	setOnce(&out.EscrowFeeAmount, patch.EscrowFeeAmount)
	setOnce(&out.EscrowNetAmount, patch.EscrowNetAmount)
	setOnce(&out.PaymentProof, patch.PaymentProof)
	setOnce(&out.DisputeReason, patch.DisputeReason)
	setOnce(&out.DisputeEvidence, patch.DisputeEvidence)
	setOnce(&out.DisputeOpenedBy, patch.DisputeOpenedBy)
	setOnce(&out.CancelReason, patch.CancelReason)
	if out.FeeRateBps == nil && patch.FeeRateBps != nil {
		v := *patch.FeeRateBps
		out.FeeRateBps = &v
	}
	if out.Rating == nil && patch.Rating != nil {
		v := *patch.Rating
		out.Rating = &v
	}
	if len(out.PaymentProofImages) == 0 && len(patch.PaymentProofImages) > 0 {
		out.PaymentProofImages = append([]string(nil), patch.PaymentProofImages...)
	}
	if len(out.DisputeEvidenceImages) == 0 && len(patch.DisputeEvidenceImages) > 0 {
		out.DisputeEvidenceImages = append([]string(nil), patch.DisputeEvidenceImages...)
	}
	if out.OriginalListingID == 0 {
		out.OriginalListingID = patch.OriginalListingID
	}
	if out.EscrowConfirmedBlock == 0 {
		out.EscrowConfirmedBlock = patch.EscrowConfirmedBlock
	}
	if patch.DomainInfo != nil {
		var di DomainInfo
		if out.DomainInfo != nil {
			di = *out.DomainInfo
		}
		setOnce(&di.DomainName, patch.DomainInfo.DomainName)
		setOnce(&di.Registrar, patch.DomainInfo.Registrar)
		setOnce(&di.TransferCode, patch.DomainInfo.TransferCode)
		setOnce(&di.NativeAmount, patch.DomainInfo.NativeAmount)
		setOnce(&di.NativePrice, patch.DomainInfo.NativePrice)
		out.DomainInfo = &di
	}
	if out.Resolution == nil && patch.Resolution != nil {
		r := *patch.Resolution
		out.Resolution = &r
	}
	return out
}

func setOnce(dst *string, v string) {
	if *dst == "" && v != "" {
		*dst = v
	}
}

// Value сериализует метаданные в JSON-колонку.
func (m TradeMetadata) Value() (driver.Value, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan читает метаданные из JSON-колонки (postgres отдаёт []byte, sqlite — string).
func (m *TradeMetadata) Scan(value any) error {
	var b []byte
	switch v := value.(type) {
	case nil:
		*m = TradeMetadata{}
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported metadata type %T", value)
	}
	if len(b) == 0 {
		*m = TradeMetadata{}
		return nil
	}
	if err := json.Unmarshal(b, m); err != nil {
		return errors.Join(errors.New("invalid trade metadata"), err)
	}
	return nil
}
