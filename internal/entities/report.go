package entities

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// PlateQuery is a validated, normalized vehicle plate lookup.
type PlateQuery struct {
	Plate string `json:"placa"`
}

// Amount accepts both JSON numbers and numeric strings, the SCI API uses both.
type Amount float64

func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*a = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*a = 0
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*a = Amount(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*a = Amount(f)
	return nil
}

// String renders the amount without decimals when it is integral.
func (a Amount) String() string {
	return strconv.FormatFloat(float64(a), 'f', -1, 64)
}

// FlexString accepts JSON strings and numbers.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexString(n.String())
	return nil
}

// DebtItem is one entry of "informacionDepartamental" from the debt query.
type DebtItem struct {
	Plate        string     `json:"placa" bson:"placa"`
	Vigencia     FlexString `json:"vigencia" bson:"vigencia"`
	MuniMatr     string     `json:"muniMatr" bson:"muniMatr"`
	DeptoMatr    string     `json:"deptoMatr" bson:"deptoMatr"`
	Valuation    Amount     `json:"avaluo" bson:"avaluo"`
	Sanction     Amount     `json:"sancion" bson:"sancion"`
	Interest     Amount     `json:"interes" bson:"interes"`
	Discount     Amount     `json:"descuento" bson:"descuento"`
	DiscSanction Amount     `json:"descSancion" bson:"descSancion"`
	DiscInterest Amount     `json:"descInteres" bson:"descInteres"`
	Total        Amount     `json:"total" bson:"total"`
	DueDate      string     `json:"fechaLim" bson:"fechaLim"`
	Declaration  FlexString `json:"declaracion" bson:"declaracion"`
}

// TransactionResult is what the transaction provider returns for a query.
type TransactionResult struct {
	TransactionID    string
	PaymentReference string
	PaymentURL       string
	Description      string
	Success          bool
	Debt             DebtItem
}

// ReportPayload is the persisted snapshot of the latest debt/transaction.
type ReportPayload struct {
	DebtItem         `bson:",inline"`
	TransactionID    string `json:"transactionId" bson:"transactionId"`
	PaymentReference string `json:"paymentReference" bson:"paymentReference"`
	PaymentURL       string `json:"url" bson:"url"`
	Description      string `json:"description,omitempty" bson:"description,omitempty"`
}

// DebtReport is the single current report of a user.
type DebtReport struct {
	UserID string        `json:"idUser" bson:"idUser"`
	Report ReportPayload `json:"report" bson:"report"`
	Date   time.Time     `json:"date" bson:"date"`
}

// NewDebtReport folds a successful transaction into a report.
func NewDebtReport(userID string, res TransactionResult, at time.Time) DebtReport {
	return DebtReport{
		UserID: userID,
		Report: ReportPayload{
			DebtItem:         res.Debt,
			TransactionID:    res.TransactionID,
			PaymentReference: res.PaymentReference,
			PaymentURL:       res.PaymentURL,
			Description:      res.Description,
		},
		Date: at,
	}
}

// AuthToken is a bearer credential for the transaction provider.
type AuthToken struct {
	Value     string
	ExpiresAt time.Time
}

// ValidAt reports whether the token is usable at now with margin to spare.
func (t AuthToken) ValidAt(now time.Time, margin time.Duration) bool {
	if t.Value == "" {
		return false
	}
	if t.ExpiresAt.IsZero() {
		return true
	}
	return now.Add(margin).Before(t.ExpiresAt)
}
