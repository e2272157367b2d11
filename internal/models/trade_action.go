package models

// TradeAction тип действия, доступного по сделке
type TradeAction string

const (
	// TradeActionCreate создание сделки по объявлению
	TradeActionCreate TradeAction = "create"
	// TradeActionDeposit продавец внёс крипту в эскроу
	TradeActionDeposit TradeAction = "deposit"
	// TradeActionFund покупатель фондирует эскроу (доменные сделки)
	TradeActionFund TradeAction = "fund"
	// TradeActionPaymentSent покупатель отправил фиат / продавец передал домен
	TradeActionPaymentSent TradeAction = "payment_sent"
	// TradeActionConfirm подтверждение получения и выпуск средств
	TradeActionConfirm TradeAction = "confirm"
	// TradeActionDispute открытие спора
	TradeActionDispute TradeAction = "dispute"
	// TradeActionCancel отмена сделки
	TradeActionCancel TradeAction = "cancel"
	// TradeActionResolveDispute решение спора арбитром
	TradeActionResolveDispute TradeAction = "resolve_dispute"
	// TradeActionExpire системное истечение окна депозита
	TradeActionExpire TradeAction = "expire"
)

// TradeRole роль участника относительно конкретной сделки.
type TradeRole string

const (
	RoleBuyer  TradeRole = "buyer"
	RoleSeller TradeRole = "seller"
	RoleAdmin  TradeRole = "admin"
	RoleSystem TradeRole = "system"
	RoleNone   TradeRole = ""
)
