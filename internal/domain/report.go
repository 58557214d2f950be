package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReportEntry — строка журнала обработанных заказов, источник для дайджестов.
type ReportEntry struct {
	OrderNumber string          `json:"orderNumber"`
	Customer    string          `json:"customer"`
	Total       decimal.Decimal `json:"total"`
	Currency    string          `json:"currency"`
	Printed     bool            `json:"printed"`
	Artifact    string          `json:"artifact"`
	ProcessedAt time.Time       `json:"processedAt"`
}
