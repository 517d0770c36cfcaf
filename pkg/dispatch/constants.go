package dispatch

import "time"

const (
	componentName = "dispatch"

	operationPresence     = "update_presence"
	operationBeginSearch  = "begin_search"
	operationExpandSearch = "expand_search"
	operationClaim        = "claim"
	operationUnassign     = "unassign"
	operationRelease      = "release"
	operationAbandon      = "abandon"
	operationComplete     = "complete"

	dispatchCodeDigits = 6
	expandBatchSize    = 200
)

// Defaults applied by DefaultPolicy.
var (
	DefaultRadiusTiersKm     = []float64{5, 10, 15}
	DefaultExpansionInterval = 2 * time.Minute
	DefaultFanOut            = 10
	DefaultLocationFreshness = 5 * time.Minute
	DefaultSpeedKmh          = 25.0
)
