// internal/i18n/keys.go
package i18n

// Translation keys constants
const (
	// Common
	KeySuccess = "success"
	KeyError   = "error"

	// Authentication
	KeyAuthRequired     = "auth.required"
	KeyAuthInvalidToken = "auth.invalid_token"
	KeyAuthTokenExpired = "auth.token_expired"
	KeyAuthAdminOnly    = "auth.admin_only"

	// Validation
	KeyValidationInvalid  = "validation.invalid"
	KeyValidationRequired = "validation.required"

	// Rate limiting
	KeyRateLimitExceeded = "rate_limit.exceeded"

	// Listings
	KeyListingNotFound = "listing.not_found"
	KeyListingPlaced   = "listing.placed"
	KeyListingUpdated  = "listing.updated"
	KeyListingDisabled = "listing.disabled"

	// Settlement
	KeySettlementConfirmed = "settlement.confirmed"
	KeySettlementSubmitted = "settlement.submitted"

	// Storage
	KeyStorageCreated = "storage.created"
	KeyStorageExists  = "storage.exists"

	// Assets
	KeyAssetNotFound   = "asset.not_found"
	KeyAssetClawedBack = "asset.clawed_back"

	// Reconciliation
	KeyReconcileCompleted = "reconcile.completed"

	// Purchases
	KeyPurchaseNotFound = "purchase.not_found"

	// KeyErrorPrefix prefixes a settlement error code, e.g. "error.SOLD_OUT".
	KeyErrorPrefix = "error."
)
