package statemachine

import "splitpay-api/models"

// Claims is the authoritative PaymentClaim state machine
var Claims = newMachine("claim", []Transition[models.ClaimStatus]{
	// Gateway reported pending / in_process
	{From: models.ClaimReserved, To: models.ClaimProcessing, Actor: ActorReconciler},
	// Verified approved payment
	{From: models.ClaimReserved, To: models.ClaimPaid, Actor: ActorReconciler},
	{From: models.ClaimProcessing, To: models.ClaimPaid, Actor: ActorReconciler},
	// Reservation lapsed with no payment recorded
	{From: models.ClaimReserved, To: models.ClaimExpired, Actor: ActorSweeper},
	// Verified rejected / cancelled / refunded / charged_back
	{From: models.ClaimReserved, To: models.ClaimCancelled, Actor: ActorReconciler},
	{From: models.ClaimProcessing, To: models.ClaimCancelled, Actor: ActorReconciler},
	// Staff closing the bill
	{From: models.ClaimReserved, To: models.ClaimCancelled, Actor: ActorStaff},
	{From: models.ClaimProcessing, To: models.ClaimCancelled, Actor: ActorStaff},
})
