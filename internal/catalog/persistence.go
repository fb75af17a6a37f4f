package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"coin-price-proxy/internal/models"
	"gorm.io/gorm"
)

// FileStore keeps the catalog as a JSON array in a single file.
type FileStore struct {
	path string
}

var _ Persister = (*FileStore)(nil)

// NewFileStore creates a FileStore writing to path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the catalog file. A missing file yields an empty catalog.
func (f *FileStore) Load(_ context.Context) ([]models.CoinEntry, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}

	var entries []models.CoinEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to unmarshal catalog file: %w", err)
	}
	return entries, nil
}

// Save overwrites the catalog file. The write goes through a temp file and a rename
// so a crash never leaves a truncated catalog behind.
func (f *FileStore) Save(_ context.Context, entries []models.CoinEntry) error {
	if entries == nil {
		entries = []models.CoinEntry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal catalog: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create catalog dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".catalog-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp catalog file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write catalog: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write catalog: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("failed to replace catalog file: %w", err)
	}
	return nil
}

// DBStore keeps the catalog in the catalog_entries table.
type DBStore struct {
	db *gorm.DB
}

var _ Persister = (*DBStore)(nil)

// NewDBStore creates a DBStore. The table must already be migrated.
func NewDBStore(db *gorm.DB) *DBStore {
	return &DBStore{db: db}
}

// Load reads the stored catalog in its original order.
func (d *DBStore) Load(ctx context.Context) ([]models.CoinEntry, error) {
	var rows []models.CatalogEntry
	if err := d.db.WithContext(ctx).Order("position asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load catalog rows: %w", err)
	}

	entries := make([]models.CoinEntry, len(rows))
	for i, row := range rows {
		entries[i] = models.CoinEntry{ID: row.CoinID, Symbol: row.Symbol, Name: row.Name}
	}
	return entries, nil
}

// Save replaces every stored row in one transaction.
func (d *DBStore) Save(ctx context.Context, entries []models.CoinEntry) error {
	rows := make([]models.CatalogEntry, len(entries))
	for i, e := range entries {
		rows[i] = models.CatalogEntry{Position: i, CoinID: e.ID, Symbol: e.Symbol, Name: e.Name}
	}

	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.CatalogEntry{}).Error; err != nil {
			return fmt.Errorf("failed to clear catalog rows: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(rows, 500).Error; err != nil {
			return fmt.Errorf("failed to insert catalog rows: %w", err)
		}
		return nil
	})
}
