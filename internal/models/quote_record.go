package models

import "time"

// QuoteRecord is an audit entry for a quote fetched from upstream.
// Rows are append-only; the ID is assigned by the database.
type QuoteRecord struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CoinID    string    `gorm:"not null;index" json:"coin_id"`
	CoinName  string    `gorm:"not null" json:"coin_name"`
	Symbol    string    `gorm:"not null" json:"symbol"`
	PriceUSD  float64   `gorm:"not null" json:"price_usd"`
	QueriedAt time.Time `gorm:"not null;index" json:"queried_at"`
	CreatedAt time.Time `json:"created_at"`
}
