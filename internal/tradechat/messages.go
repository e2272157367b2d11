package tradechat

import (
	"fmt"
	"strings"

	"escrowdesk/internal/models"
)

// systemMessage текст системного сообщения для события; ok=false, если сообщение не пишется.
func systemMessage(ev models.TradeEvent) (content string, attachments []string, ok bool) {
	t := ev.Trade
	md := t.Metadata
	switch ev.Type {
	case models.EventTradeFunded:
		if t.ListingCategory == models.CategoryDomain {
			return fmt.Sprintf("Buyer funded escrow #%d. Seller can now transfer the domain.", t.EscrowID), nil, true
		}
		return fmt.Sprintf("Seller deposited %s %s into escrow #%d.", t.Amount.String(), t.Currency, t.EscrowID), nil, true
	case models.EventTradePaymentSent:
		content = "Buyer marked the payment as sent."
		if md.PaymentProof != "" {
			content += " Proof: " + md.PaymentProof
		}
		return content, md.PaymentProofImages, true
	case models.EventTradeDelivered:
		content = "Seller marked the domain as transferred."
		if md.DomainInfo != nil && md.DomainInfo.Registrar != "" {
			content += " Registrar: " + md.DomainInfo.Registrar
		}
		return content, nil, true
	case models.EventTradeCompleted:
		return "Trade completed. Escrow released.", nil, true
	case models.EventTradeDisputed:
		var b strings.Builder
		b.WriteString("Dispute opened")
		if md.DisputeReason != "" {
			b.WriteString(": ")
			b.WriteString(md.DisputeReason)
		}
		b.WriteString(".")
		return b.String(), md.DisputeEvidenceImages, true
	case models.EventTradeCancelled:
		content = "Trade cancelled."
		if md.CancelReason != "" {
			content = "Trade cancelled: " + md.CancelReason
		}
		return content, nil, true
	case models.EventTradeDepositTimeout:
		return "Deposit window expired. Trade closed.", nil, true
	case models.EventTradeDisputeResolved:
		return resolvedMessage(md.Resolution), nil, true
	}
	return "", nil, false
}

func resolvedMessage(r *models.DisputeResolution) string {
	if r == nil {
		return "Dispute resolved."
	}
	var s string
	switch r.Outcome {
	case models.OutcomeRefundToBuyer:
		s = "Dispute resolved: funds refunded to buyer."
	case models.OutcomeReleaseToSeller:
		s = "Dispute resolved: funds released to seller."
	default:
		s = fmt.Sprintf("Dispute resolved: split, %d%% to buyer.", r.BuyerPercent)
	}
	if r.Note != "" {
		s += " " + r.Note
	}
	return s
}
