package collaborator

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/imrishuroy/go-guest-lookup/internal/orders"
)

// statusAliases maps folded status spellings (English and Turkish) to the closed enum.
var statusAliases = map[string]orders.Status{
	"PENDING":           orders.StatusPending,
	"CREATED":           orders.StatusPending,
	"WAITING":           orders.StatusPending,
	"AWAITING_PAYMENT":  orders.StatusPending,
	"BEKLEMEDE":         orders.StatusPending,
	"BEKLIYOR":          orders.StatusPending,
	"ODEME_BEKLENIYOR":  orders.StatusPending,
	"PAID":              orders.StatusPaid,
	"CONFIRMED":         orders.StatusPaid,
	"ODENDI":            orders.StatusPaid,
	"ODEME_ALINDI":      orders.StatusPaid,
	"ONAYLANDI":         orders.StatusPaid,
	"PROCESSING":        orders.StatusProcessing,
	"PREPARING":         orders.StatusProcessing,
	"HAZIRLANIYOR":      orders.StatusProcessing,
	"ISLENIYOR":         orders.StatusProcessing,
	"SHIPPED":           orders.StatusShipped,
	"IN_TRANSIT":        orders.StatusShipped,
	"KARGODA":           orders.StatusShipped,
	"KARGOYA_VERILDI":   orders.StatusShipped,
	"GONDERILDI":        orders.StatusShipped,
	"DELIVERED":         orders.StatusDelivered,
	"COMPLETED":         orders.StatusDelivered,
	"TESLIM_EDILDI":     orders.StatusDelivered,
	"TAMAMLANDI":        orders.StatusDelivered,
	"CANCELLED":         orders.StatusCancelled,
	"CANCELED":          orders.StatusCancelled,
	"IPTAL":             orders.StatusCancelled,
	"IPTAL_EDILDI":      orders.StatusCancelled,
	"REFUNDED":          orders.StatusRefunded,
	"IADE_EDILDI":       orders.StatusRefunded,
	"REFUND_REQUESTED":  orders.StatusRefundRequested,
	"RETURN_REQUESTED":  orders.StatusRefundRequested,
	"IADE_TALEBI":       orders.StatusRefundRequested,
	"IADE_TALEP_EDILDI": orders.StatusRefundRequested,
	"IADE_BEKLENIYOR":   orders.StatusRefundRequested,
}

var turkishUpper = cases.Upper(language.Turkish)

// foldStatus upper-cases with Turkish rules, strips diacritics and joins words with underscores.
func foldStatus(raw string) string {
	s := turkishUpper.String(strings.TrimSpace(raw))
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if folded, _, err := transform.String(t, s); err == nil {
		s = folded
	}
	return strings.Join(strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '-' || r == '_'
	}), "_")
}

// NormalizeStatus maps a raw collaborator status to orders.Status.
// Unrecognized values become orders.StatusUnknown.
func NormalizeStatus(raw string) orders.Status {
	if st, ok := statusAliases[foldStatus(raw)]; ok {
		return st
	}
	return orders.StatusUnknown
}
