package entities

// Operator is the back-office account allowed to look up reports.
type Operator struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}
