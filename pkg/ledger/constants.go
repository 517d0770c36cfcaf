package ledger

const (
	componentName = "ledger"

	operationAppend  = "append"
	operationReverse = "reverse"
	operationVerify  = "verify_chain"
	operationFreeze  = "freeze"

	genesisHashSeed = "dispatchledger:genesis:v1"

	idempotencyKeyDelimiter = ":"
	reversalKeyPrefix       = "reversal"

	verifyPageSize = 500
	maxListLimit   = 200
)
