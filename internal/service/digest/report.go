package digest

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/invoicer/internal/domain"
)

// Build формирует тему и текст сводки. Пустой период тоже даёт письмо.
func Build(shop, kind string, from, to time.Time, entries []domain.ReportEntry) (string, string) {
	prefix := "[Invoicer]"
	if shop != "" {
		prefix = "[" + shop + "]"
	}
	subject := fmt.Sprintf("%s %s digest: %d orders", prefix, titleCase(kind), len(entries))

	var b strings.Builder
	fmt.Fprintf(&b, "Period: %s to %s\n", from.Format("2006-01-02 15:04"), to.Format("2006-01-02 15:04"))
	fmt.Fprintf(&b, "Orders processed: %d\n", len(entries))

	if len(entries) == 0 {
		b.WriteString("\nNo orders were processed in this period.\n")
		return subject, b.String()
	}

	printed := 0
	totals := make(map[string]decimal.Decimal)
	for _, e := range entries {
		if e.Printed {
			printed++
		}
		totals[e.Currency] = totals[e.Currency].Add(e.Total)
	}
	fmt.Fprintf(&b, "Printed: %d\n", printed)

	currencies := make([]string, 0, len(totals))
	for c := range totals {
		currencies = append(currencies, c)
	}
	sort.Strings(currencies)
	b.WriteString("Revenue:\n")
	for _, c := range currencies {
		fmt.Fprintf(&b, "  %s %s\n", totals[c].StringFixed(2), c)
	}

	b.WriteString("\nOrders:\n")
	for _, e := range entries {
		mark := ""
		if !e.Printed {
			mark = " (not printed)"
		}
		fmt.Fprintf(&b, "  %s  %-8s  %-30s  %10s %s%s\n",
			e.ProcessedAt.Format("01-02 15:04"), e.OrderNumber, e.Customer, e.Total.StringFixed(2), e.Currency, mark)
	}
	return subject, b.String()
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
