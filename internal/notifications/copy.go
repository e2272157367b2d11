package notifications

import (
	"fmt"

	"escrowdesk/internal/models"
)

type message struct {
	title string
	body  string
}

// copyFor текст уведомления для стороны сделки.
func copyFor(ev models.TradeEvent, role models.TradeRole) message {
	t := ev.Trade
	amount := t.Amount.String() + " " + t.Currency
	buyer := role == models.RoleBuyer
	switch ev.Type {
	case models.EventTradeCreated:
		if buyer {
			return message{"Trade created", fmt.Sprintf("You opened trade #%d for %s.", t.ID, amount)}
		}
		return message{"New trade on your listing", fmt.Sprintf("Trade #%d for %s was opened on your listing.", t.ID, amount)}
	case models.EventTradeFunded:
		if buyer {
			return message{"Escrow funded", fmt.Sprintf("Escrow for trade #%d is funded. You can proceed with payment.", t.ID)}
		}
		return message{"Escrow funded", fmt.Sprintf("Escrow for trade #%d is funded with %s.", t.ID, amount)}
	case models.EventTradePaymentSent:
		if buyer {
			return message{"Payment marked as sent", fmt.Sprintf("You marked the payment for trade #%d as sent.", t.ID)}
		}
		return message{"Buyer sent payment", fmt.Sprintf("The buyer marked trade #%d as paid. Verify the payment and confirm.", t.ID)}
	case models.EventTradeDelivered:
		if buyer {
			return message{"Domain transferred", fmt.Sprintf("The seller transferred the domain for trade #%d. Confirm receipt to release funds.", t.ID)}
		}
		return message{"Transfer recorded", fmt.Sprintf("Your domain transfer for trade #%d was recorded.", t.ID)}
	case models.EventTradeCompleted:
		return message{"Trade Completed", fmt.Sprintf("Trade #%d for %s is completed.", t.ID, amount)}
	case models.EventTradeDisputed:
		return message{"Dispute opened", fmt.Sprintf("A dispute was opened on trade #%d. An arbiter will review it.", t.ID)}
	case models.EventTradeCancelled:
		return message{"Trade cancelled", fmt.Sprintf("Trade #%d was cancelled.", t.ID)}
	case models.EventTradeDepositTimeout:
		if buyer {
			return message{"Deposit window expired", fmt.Sprintf("The seller did not deposit in time. Trade #%d was closed.", t.ID)}
		}
		return message{"Deposit window expired", fmt.Sprintf("You did not deposit in time. Trade #%d was closed.", t.ID)}
	case models.EventTradeDisputeResolved:
		return message{"Dispute resolved", resolutionText(ev, buyer)}
	}
	return message{"Trade updated", fmt.Sprintf("Trade #%d is now %s.", t.ID, t.Status)}
}

func resolutionText(ev models.TradeEvent, buyer bool) string {
	id := ev.Trade.ID
	switch ev.Outcome {
	case models.OutcomeRefundToBuyer:
		if buyer {
			return fmt.Sprintf("The dispute on trade #%d was resolved in your favour. Funds are refunded.", id)
		}
		return fmt.Sprintf("The dispute on trade #%d was resolved in favour of the buyer.", id)
	case models.OutcomeReleaseToSeller:
		if buyer {
			return fmt.Sprintf("The dispute on trade #%d was resolved in favour of the seller.", id)
		}
		return fmt.Sprintf("The dispute on trade #%d was resolved in your favour. Funds are released.", id)
	}
	return fmt.Sprintf("The dispute on trade #%d was resolved with a split.", id)
}
