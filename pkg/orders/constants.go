package orders

import "time"

const (
	componentName = "orders"

	operationPlace         = "place"
	operationAccept        = "accept"
	operationDecline       = "decline"
	operationMarkReady     = "mark_ready"
	operationDeclineItems  = "decline_items"
	operationClaim         = "claim"
	operationUnassign      = "unassign"
	operationRelease       = "release"
	operationHandoff       = "verify_handoff"
	operationComplete      = "complete"
	operationCancelExpired = "cancel_expired"
	operationRefundHeld    = "refund_held"
	operationPublish       = "publish"

	paymentKeyPrefix = "payment"
	refundKeyPrefix  = "refund"
	refundCancelTag  = "cancel"
	refundPartialTag = "partial"
	refundMethod     = "refund"

	systemContact       = "system"
	expiredCancelReason = "merchant did not respond in time"
	expireBatchSize     = 200
)

// DefaultPendingTimeout is how long an order may wait for the merchant before it is cancelled.
const DefaultPendingTimeout = 5 * time.Minute
