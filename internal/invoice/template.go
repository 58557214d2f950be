package invoice

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"time"

	"github.com/shopspring/decimal"
)

//go:embed templates/invoice.html
var templatesFS embed.FS

var templateFuncs = template.FuncMap{
	"money": func(d decimal.Decimal) string {
		return d.StringFixed(moneyPlaces)
	},
	"percent": func(d decimal.Decimal) string {
		return d.Mul(decimal.NewFromInt(100)).String() + "%"
	},
	"date": func(t time.Time) string {
		return t.Format("2006-01-02")
	},
}

func parseTemplate() (*template.Template, error) {
	tmpl, err := template.New("invoice.html").Funcs(templateFuncs).ParseFS(templatesFS, "templates/invoice.html")
	if err != nil {
		return nil, fmt.Errorf("parse invoice template: %w", err)
	}
	return tmpl, nil
}

func executeTemplate(tmpl *template.Template, inv Invoice) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, inv); err != nil {
		return "", fmt.Errorf("execute invoice template: %w", err)
	}
	return buf.String(), nil
}
