package ledger

// CollateralAgreement records the collateral terms negotiated alongside a
// lending record. Agreements are keyed by the loan they secure and follow the
// loan through the sync merge (they live in the ledger sub-key blob).
type CollateralAgreement struct {
	LoanID             string    `json:"loanId"`
	GroupID            string    `json:"groupId"`
	Description        string    `json:"description"`
	AgreementTimestamp UnixMilli `json:"agreementTimestamp"`
	IsReturned         bool      `json:"isReturned"`
	IsActive           bool      `json:"isActive"`
	LastModified       UnixMilli `json:"lastModified"`
}

// BuildCollateralAgreement creates an active agreement for the given loan.
func BuildCollateralAgreement(groupID, loanID, description string) CollateralAgreement {
	now := NowMilli()

	return CollateralAgreement{
		LoanID:             loanID,
		GroupID:            groupID,
		Description:        description,
		AgreementTimestamp: now,
		IsActive:           true,
		LastModified:       now,
	}
}

// Revision returns the last-writer-wins revision timestamp.
func (a CollateralAgreement) Revision() UnixMilli {
	return a.LastModified
}
