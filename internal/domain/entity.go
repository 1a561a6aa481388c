package domain

import "time"

// ExecutionRecord is one persisted row of the execution journal. Prices are
// stored as strings to keep decimal exactness through the database.
type ExecutionRecord struct {
	ID            uint   `gorm:"primaryKey"`
	Tenant        string `gorm:"index"`
	Operation     string
	PesoSymbol    string
	DollarSymbol  string
	Settlement    string
	Quantity      int64
	Rate          string
	RequestedUSD  string
	TotalPesos    string
	Commission    string
	FirstOrderID  string
	SecondOrderID string
	Partial       bool
	ExecutedAt    time.Time `gorm:"index"`
	CreatedAt     time.Time
}

// TableName keeps the journal table name stable.
func (ExecutionRecord) TableName() string {
	return "execution_journal"
}
