package handlers

import (
	"log/slog"

	"splitpay-api/checkout"
	"splitpay-api/claims"
	"splitpay-api/display"
	"splitpay-api/gateway"
	"splitpay-api/realtime"
	"splitpay-api/reconcile"

	"gorm.io/gorm"
)

// Deps is everything the HTTP layer calls into
type Deps struct {
	DB          *gorm.DB
	Claims      *claims.Store
	Initiator   *checkout.Initiator
	Reconciler  *reconcile.Reconciler
	Display     *display.Resolver
	Credentials *gateway.CredentialStore
	Hub         *realtime.Hub
	Logger      *slog.Logger

	// Sandbox is nil unless payments.sandbox_enabled is set
	Sandbox *gateway.Sandbox
}
