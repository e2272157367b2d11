package trades

import (
	"slices"

	"escrowdesk/internal/models"
)

// rule строка таблицы переходов. Пустая категория означает любую.
type rule struct {
	category models.ListingCategory
	action   models.TradeAction
	roles    []models.TradeRole
	from     []models.TradeStatus
	to       models.TradeStatus
}

var (
	parties = []models.TradeRole{models.RoleBuyer, models.RoleSeller}

	rules = []rule{
		{models.CategoryP2P, models.TradeActionDeposit, []models.TradeRole{models.RoleSeller},
			[]models.TradeStatus{models.TradeStatusAwaitingDeposit}, models.TradeStatusFunded},
		{"", models.TradeActionFund, []models.TradeRole{models.RoleBuyer},
			[]models.TradeStatus{models.TradeStatusCreated}, models.TradeStatusFunded},
		{models.CategoryP2P, models.TradeActionPaymentSent, []models.TradeRole{models.RoleBuyer},
			[]models.TradeStatus{models.TradeStatusFunded}, models.TradeStatusPaymentSent},
		{models.CategoryDomain, models.TradeActionPaymentSent, []models.TradeRole{models.RoleSeller},
			[]models.TradeStatus{models.TradeStatusFunded}, models.TradeStatusDelivered},
		{models.CategoryP2P, models.TradeActionConfirm, []models.TradeRole{models.RoleSeller},
			[]models.TradeStatus{models.TradeStatusPaymentSent}, models.TradeStatusCompleted},
		{models.CategoryDomain, models.TradeActionConfirm, []models.TradeRole{models.RoleBuyer},
			[]models.TradeStatus{models.TradeStatusDelivered, models.TradeStatusFunded}, models.TradeStatusCompleted},
		{"", models.TradeActionDispute, parties,
			[]models.TradeStatus{models.TradeStatusFunded, models.TradeStatusPaymentSent, models.TradeStatusDelivered}, models.TradeStatusDisputed},
		{models.CategoryP2P, models.TradeActionCancel, parties,
			[]models.TradeStatus{models.TradeStatusCreated, models.TradeStatusAwaitingDeposit}, models.TradeStatusCancelled},
		{models.CategoryDomain, models.TradeActionCancel, []models.TradeRole{models.RoleBuyer},
			[]models.TradeStatus{models.TradeStatusCreated}, models.TradeStatusCancelled},
		// итоговый статус решения спора зависит от исхода, см. resolutionStatus
		{"", models.TradeActionResolveDispute, []models.TradeRole{models.RoleAdmin},
			[]models.TradeStatus{models.TradeStatusDisputed}, models.TradeStatusCompleted},
		{models.CategoryP2P, models.TradeActionExpire, []models.TradeRole{models.RoleSystem},
			[]models.TradeStatus{models.TradeStatusAwaitingDeposit}, models.TradeStatusDepositTimeout},
	}

	// порядок действий в ответе AvailableActions
	actionOrder = []models.TradeAction{
		models.TradeActionDeposit,
		models.TradeActionFund,
		models.TradeActionPaymentSent,
		models.TradeActionConfirm,
		models.TradeActionDispute,
		models.TradeActionCancel,
		models.TradeActionResolveDispute,
	}
)

func (r rule) matches(category models.ListingCategory, action models.TradeAction) bool {
	return r.action == action && (r.category == "" || r.category == category)
}

// CanPerformAction проверяет, допускает ли текущий статус сделки действие.
func CanPerformAction(category models.ListingCategory, status models.TradeStatus, action models.TradeAction) bool {
	_, ok := target(category, status, action)
	return ok
}

// RoleAllowed проверяет, может ли роль в принципе выполнять действие в данной категории.
func RoleAllowed(category models.ListingCategory, action models.TradeAction, role models.TradeRole) bool {
	if role == models.RoleNone {
		return false
	}
	for _, r := range rules {
		if r.matches(category, action) && slices.Contains(r.roles, role) {
			return true
		}
	}
	return false
}

func target(category models.ListingCategory, status models.TradeStatus, action models.TradeAction) (models.TradeStatus, bool) {
	for _, r := range rules {
		if r.matches(category, action) && slices.Contains(r.from, status) {
			return r.to, true
		}
	}
	return "", false
}

// Actor инициатор действия.
type Actor struct {
	UserID string
	Admin  bool
}

// System актор для фоновых переходов (истечение депозита).
var System = Actor{}

// RoleOf возвращает роль актора в сделке для действия. Роль стороны
// важнее флага администратора, кроме решения спора.
func RoleOf(t models.Trade, actor Actor, action models.TradeAction) models.TradeRole {
	switch {
	case action == models.TradeActionExpire:
		return models.RoleSystem
	case action == models.TradeActionResolveDispute:
		if actor.Admin {
			return models.RoleAdmin
		}
		return models.RoleNone
	case actor.UserID != "" && actor.UserID == t.BuyerID:
		return models.RoleBuyer
	case actor.UserID != "" && actor.UserID == t.SellerID:
		return models.RoleSeller
	}
	return models.RoleNone
}

// AvailableActions список действий, которые актор может выполнить прямо сейчас.
func AvailableActions(t models.Trade, actor Actor) []models.TradeAction {
	actions := []models.TradeAction{}
	for _, a := range actionOrder {
		role := RoleOf(t, actor, a)
		if RoleAllowed(t.ListingCategory, a, role) && CanPerformAction(t.ListingCategory, t.Status, a) {
			actions = append(actions, a)
		}
	}
	return actions
}

func resolutionStatus(o models.DisputeOutcome) models.TradeStatus {
	if o == models.OutcomeRefundToBuyer {
		return models.TradeStatusCancelled
	}
	return models.TradeStatusCompleted
}
