package funding

const (
	componentName = "funding"

	operationSubmit  = "submit"
	operationApprove = "approve"
	operationReject  = "reject"

	// SystemReviewerID is recorded on requests approved by the trusted system path.
	SystemReviewerID = "system"

	ledgerKeyPrefix = "funding"
)
