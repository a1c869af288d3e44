package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/rl1809/fulfillment-sync/internal/core/domain"
	"github.com/rl1809/fulfillment-sync/internal/port"
)

// InventoryHeaders names the reference table columns. Column order in the table is not stable.
type InventoryHeaders struct {
	SKU      string
	Location string
	Quantity string
	Sold     string
}

func DefaultInventoryHeaders() InventoryHeaders {
	return InventoryHeaders{
		SKU:      "sku",
		Location: "C:Model Year",
		Quantity: "Quantity",
		Sold:     "Quantity Sold",
	}
}

// InventorySchema is the typed column map resolved once per operation. Quantity and Sold are
// -1 when the table lacks them; availability then reads as zero.
type InventorySchema struct {
	SKU      int
	Location int
	Quantity int
	Sold     int
}

// ResolveSchema maps header names to 0-based column indexes.
func ResolveSchema(header []string, names InventoryHeaders) (InventorySchema, error) {
	schema := InventorySchema{SKU: -1, Location: -1, Quantity: -1, Sold: -1}
	for i, raw := range header {
		h := normalizeHeader(raw)
		switch {
		case schema.SKU == -1 && h == normalizeHeader(names.SKU):
			schema.SKU = i
		case schema.Location == -1 && h == normalizeHeader(names.Location):
			schema.Location = i
		case schema.Quantity == -1 && h == normalizeHeader(names.Quantity):
			schema.Quantity = i
		case schema.Sold == -1 && h == normalizeHeader(names.Sold):
			schema.Sold = i
		}
	}
	if schema.SKU == -1 {
		return schema, fmt.Errorf("%w: %q", ErrHeaderNotFound, names.SKU)
	}
	if schema.Location == -1 {
		return schema, fmt.Errorf("%w: %q", ErrHeaderNotFound, names.Location)
	}
	return schema, nil
}

func (s InventorySchema) record(row []string) domain.InventoryRecord {
	return domain.InventoryRecord{
		SKU:      cell(row, s.SKU),
		Location: cell(row, s.Location),
		Quantity: parseCount(cell(row, s.Quantity)),
		Sold:     parseCount(cell(row, s.Sold)),
	}
}

func (s InventorySchema) stock(rec domain.InventoryRecord) domain.Stock {
	loc := rec.Location
	if loc == "" {
		loc = domain.LocationNotFound
	}
	return domain.Stock{Available: rec.Available(), Location: loc, Found: true}
}

// InventoryIndex is the bulk-mode view: built in one pass, O(1) per lookup.
type InventoryIndex struct {
	stock map[string]domain.Stock
}

func (x *InventoryIndex) Lookup(sku string) domain.Stock {
	if x == nil {
		return domain.MissingStock
	}
	if s, ok := x.stock[domain.SKUKey(sku)]; ok {
		return s
	}
	return domain.MissingStock
}

func (x *InventoryIndex) Len() int {
	if x == nil {
		return 0
	}
	return len(x.stock)
}

type InventoryResolver struct {
	table         port.SheetReader
	headers       InventoryHeaders
	bulkThreshold int
	logger        *zap.Logger
}

func NewInventoryResolver(table port.SheetReader, headers InventoryHeaders, bulkThreshold int, logger *zap.Logger) *InventoryResolver {
	if bulkThreshold <= 0 {
		bulkThreshold = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InventoryResolver{
		table:         table,
		headers:       headers,
		bulkThreshold: bulkThreshold,
		logger:        logger,
	}
}

func (r *InventoryResolver) load(ctx context.Context) ([][]string, InventorySchema, error) {
	rows, err := r.table.ReadAll(ctx)
	if err != nil {
		return nil, InventorySchema{}, fmt.Errorf("read inventory: %w", err)
	}
	if len(rows) == 0 {
		return nil, InventorySchema{}, fmt.Errorf("%w: inventory table is empty", ErrHeaderNotFound)
	}
	schema, err := ResolveSchema(rows[0], r.headers)
	if err != nil {
		return nil, schema, err
	}
	return rows[1:], schema, nil
}

// Lookup resolves one SKU with a linear scan. Failures are soft: the sentinel stock is returned.
func (r *InventoryResolver) Lookup(ctx context.Context, sku string) domain.Stock {
	key := domain.SKUKey(sku)
	if key == "" {
		return domain.MissingStock
	}
	rows, schema, err := r.load(ctx)
	if err != nil {
		r.logger.Warn("inventory lookup failed", zap.String("sku", sku), zap.Error(err))
		return domain.MissingStock
	}
	for _, row := range rows {
		rec := schema.record(row)
		if domain.SKUKey(rec.SKU) == key {
			return schema.stock(rec)
		}
	}
	return domain.MissingStock
}

// Index builds the bulk lookup map. The first row for a SKU wins, matching Lookup.
func (r *InventoryResolver) Index(ctx context.Context) *InventoryIndex {
	idx := &InventoryIndex{stock: make(map[string]domain.Stock)}
	rows, schema, err := r.load(ctx)
	if err != nil {
		r.logger.Warn("inventory index build failed", zap.Error(err))
		return idx
	}
	for _, row := range rows {
		rec := schema.record(row)
		key := domain.SKUKey(rec.SKU)
		if key == "" {
			continue
		}
		if _, seen := idx.stock[key]; seen {
			continue
		}
		idx.stock[key] = schema.stock(rec)
	}
	r.logger.Debug("built inventory index", zap.Int("entries", len(idx.stock)))
	return idx
}

// ResolveMany picks single or bulk mode depending on how many distinct SKUs are asked for.
func (r *InventoryResolver) ResolveMany(ctx context.Context, skus []string) map[string]domain.Stock {
	distinct := make([]string, 0, len(skus))
	seen := make(map[string]struct{}, len(skus))
	for _, sku := range skus {
		key := domain.SKUKey(sku)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		distinct = append(distinct, key)
	}

	out := make(map[string]domain.Stock, len(distinct))
	if len(distinct) > r.bulkThreshold {
		idx := r.Index(ctx)
		for _, key := range distinct {
			out[key] = idx.Lookup(key)
		}
		return out
	}
	for _, key := range distinct {
		out[key] = r.Lookup(ctx, key)
	}
	return out
}

func normalizeHeader(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// parseCount reads integer-ish cell values ("12", "12.0", " 3 "); garbage reads as 0.
func parseCount(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int(f)
	}
	return 0
}
