package usecases

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/juanvgus/prueba-syc/internal/entities"
)

// formatCOP renders whole pesos with '.' as thousands separator.
func formatCOP(a entities.Amount) string {
	n := int64(a)
	sign := ""
	if n < 0 {
		sign = "-"
		n = -n
	}
	digits := strconv.FormatInt(n, 10)

	var b strings.Builder
	b.WriteString(sign)
	lead := len(digits) % 3
	if lead == 0 {
		lead = 3
	}
	b.WriteString(digits[:lead])
	for i := lead; i < len(digits); i += 3 {
		b.WriteByte('.')
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}

var dueDateLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// formatDDMMYYYY converts an ISO date or datetime to DD/MM/YYYY. Input it
// cannot read is returned unchanged.
func formatDDMMYYYY(iso string) string {
	iso = strings.TrimSpace(iso)
	if iso == "" {
		return ""
	}
	if t, err := time.Parse(time.RFC3339Nano, iso); err == nil {
		return t.Format("02/01/2006")
	}
	trimmed := strings.TrimSuffix(iso, "Z")
	for _, layout := range dueDateLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return t.Format("02/01/2006")
		}
	}
	if len(iso) >= 10 {
		if t, err := time.Parse("2006-01-02", iso[:10]); err == nil {
			return t.Format("02/01/2006")
		}
	}
	return iso
}

// DebtSummary is the body text of the payment message.
func DebtSummary(item entities.DebtItem) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hola, tu vehículo con placa %s tiene una vigencia hasta %s.\n", item.Plate, item.Vigencia)
	fmt.Fprintf(&b, "Matrícula: %s, %s\n", item.MuniMatr, item.DeptoMatr)
	b.WriteString("Importes:\n")
	fmt.Fprintf(&b, "• Sanción: $%s\n", formatCOP(item.Sanction))

	optional := []struct {
		label  string
		amount entities.Amount
	}{
		{"Interés", item.Interest},
		{"Descuento", item.Discount},
		{"Descuento sanción", item.DiscSanction},
		{"Descuento interés", item.DiscInterest},
	}
	for _, line := range optional {
		if line.amount > 0 {
			fmt.Fprintf(&b, "• %s: $%s\n", line.label, formatCOP(line.amount))
		}
	}

	fmt.Fprintf(&b, "• Total: $%s\n", formatCOP(item.Total))
	if due := formatDDMMYYYY(item.DueDate); due != "" {
		fmt.Fprintf(&b, "Fecha límite: %s\n", due)
	}
	b.WriteString("¡No olvides realizarlo a tiempo!")
	return b.String()
}

// PaymentText is the summary followed by the transaction identifiers.
func PaymentText(res entities.TransactionResult) string {
	var b strings.Builder
	b.WriteString(DebtSummary(res.Debt))
	b.WriteString("\n\n")
	if res.PaymentReference != "" {
		fmt.Fprintf(&b, "Referencia de pago: %s\n", res.PaymentReference)
	}
	fmt.Fprintf(&b, "Transacción: %s", res.TransactionID)
	return b.String()
}
