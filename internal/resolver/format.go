package resolver

import (
	"fmt"
	"time"
)

const dateLayout = "02/01/2006"

// Money renders an amount as "1250.00 EGP".
func Money(amount float64, currency string) string {
	if currency == "" {
		currency = DefaultCurrency
	}
	return fmt.Sprintf("%.2f %s", amount, currency)
}

// Amount renders an amount without the currency code.
func Amount(amount float64) string {
	return fmt.Sprintf("%.2f", amount)
}

// Date renders dd/mm/yyyy, or the sentinel for a missing date.
func Date(t *time.Time) string {
	if t == nil || t.IsZero() {
		return Unspecified
	}
	return t.Format(dateLayout)
}

var repairStatusLabels = map[string]string{
	"RECEIVED":           "تم الاستلام",
	"INSPECTION":         "قيد الفحص",
	"AWAITING_APPROVAL":  "في انتظار الموافقة",
	"UNDER_REPAIR":       "قيد الإصلاح",
	"WAITING_PARTS":      "في انتظار قطع الغيار",
	"READY_FOR_PICKUP":   "جاهز للاستلام",
	"READY_FOR_DELIVERY": "جاهز للتسليم",
	"DELIVERED":          "تم التسليم",
	"COMPLETED":          "مكتمل",
	"REJECTED":           "مرفوض",
	"ON_HOLD":            "معلق",
}

var invoiceStatusLabels = map[string]string{
	"draft":          "مسودة",
	"unpaid":         "غير مدفوعة",
	"partially_paid": "مدفوعة جزئياً",
	"paid":           "مدفوعة",
	"overdue":        "متأخرة",
	"cancelled":      "ملغاة",
}

var quotationStatusLabels = map[string]string{
	"PENDING":  "قيد المراجعة",
	"SENT":     "تم الإرسال",
	"APPROVED": "معتمد",
	"REJECTED": "مرفوض",
	"EXPIRED":  "منتهي",
}

func label(labels map[string]string, status string) string {
	if l, ok := labels[status]; ok {
		return l
	}
	if status == "" {
		return Unspecified
	}
	return status
}
