package statemachine

import "splitpay-api/models"

// Orders is the authoritative Order payment state machine
var Orders = newMachine("order", []Transition[models.OrderStatus]{
	// First claim reserved, or a full-bill intent created
	{From: models.OrderOrdering, To: models.OrderPaymentStarted, Actor: ActorDiner},
	{From: models.OrderOrdering, To: models.OrderPaymentStarted, Actor: ActorInitiator},
	// Settlement rollups
	{From: models.OrderPaymentStarted, To: models.OrderPartiallyPaid, Actor: ActorReconciler},
	{From: models.OrderPaymentStarted, To: models.OrderPaid, Actor: ActorReconciler},
	{From: models.OrderPartiallyPaid, To: models.OrderPaid, Actor: ActorReconciler},
	// Cancellation is terminal from any non-terminal state
	{From: models.OrderOrdering, To: models.OrderCancelled, Actor: ActorStaff},
	{From: models.OrderPaymentStarted, To: models.OrderCancelled, Actor: ActorStaff},
	{From: models.OrderPartiallyPaid, To: models.OrderCancelled, Actor: ActorStaff},
	// A traditional intent the gateway refused to create
	{From: models.OrderPaymentStarted, To: models.OrderCancelled, Actor: ActorInitiator},
})
