package models

// CoinEntry is one row of the upstream coin catalog.
// Names are not unique upstream; lookups take the first match in catalog order.
type CoinEntry struct {
	ID     string `json:"id"`
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
}

// CatalogEntry is the durable form of a CoinEntry.
// Position keeps the upstream order so the first-match tie-break survives a reload.
type CatalogEntry struct {
	ID       uint   `gorm:"primaryKey"`
	Position int    `gorm:"not null;uniqueIndex"`
	CoinID   string `gorm:"not null;index"`
	Symbol   string `gorm:"not null"`
	Name     string `gorm:"not null"`
}

func (CatalogEntry) TableName() string { return "catalog_entries" }
