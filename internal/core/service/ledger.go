package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/rl1809/fulfillment-sync/internal/core/domain"
	"github.com/rl1809/fulfillment-sync/internal/port"
)

// IncomingItem is one line of an inbound batch. Use ParseQuantity to fill Quantity from raw input.
type IncomingItem struct {
	SKU      string
	Quantity int
	OrderID  string
	Note     string
}

// ParseQuantity reads a raw QTY value. Missing or unparseable input means 1; anything that
// parses is returned as is, so "0" and negatives are later rejected.
func ParseQuantity(raw string) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 1
	}
	if n, err := strconv.Atoi(raw); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return int(f)
	}
	return 1
}

type InsertResult struct {
	Added   int                `json:"added"`
	Details []string           `json:"details"`
	Lines   []domain.OrderLine `json:"-"`
}

type Stats struct {
	Pending   int `json:"pending"`
	Preparing int `json:"preparing"`
	Shipped   int `json:"shipped"`
	Canceled  int `json:"canceled"`
}

const minOrderIDLength = 3

// Ledger owns the structure of the two-segment order sheet. It never caches the boundary:
// every operation starts from a fresh read.
type Ledger struct {
	store     port.LedgerStore
	inventory *InventoryResolver
	layout    domain.Layout
	logger    *zap.Logger
}

func NewLedger(store port.LedgerStore, inventory *InventoryResolver, layout domain.Layout, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		store:     store,
		inventory: inventory,
		layout:    layout,
		logger:    logger,
	}
}

// FindBoundary returns the 1-based row whose first cell equals token (case-insensitive).
func FindBoundary(rows [][]string, token string) (int, bool) {
	token = strings.TrimSpace(token)
	for i, row := range rows {
		if strings.EqualFold(cell(row, 0), token) {
			return i + 1, true
		}
	}
	return 0, false
}

type sheet struct {
	layout   domain.Layout
	rows     [][]string
	boundary int
}

func (l *Ledger) read(ctx context.Context) (*sheet, error) {
	count, err := l.store.RowCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("count ledger rows: %w", err)
	}
	var rows [][]string
	if count > 0 {
		rows, err = l.store.ReadRows(ctx, 1, count)
		if err != nil {
			return nil, fmt.Errorf("read ledger: %w", err)
		}
	}
	s := &sheet{layout: l.layout, rows: rows}
	s.boundary, _ = FindBoundary(rows, l.layout.BoundaryToken)
	return s, nil
}

func (s *sheet) rowCount() int { return len(s.rows) }

func (s *sheet) row(n int) []string {
	if n < 1 || n > len(s.rows) {
		return nil
	}
	return s.rows[n-1]
}

func (s *sheet) col(n, c int) string { return cell(s.row(n), c-1) }

func (s *sheet) structural(n int) bool {
	if n < s.layout.DataStartRow {
		return true
	}
	return s.boundary > 0 && (n == s.boundary || n == s.boundary+1)
}

func (s *sheet) isDataRow(n int) bool {
	if s.structural(n) {
		return false
	}
	sku := s.col(n, domain.ColSKU)
	if sku == "" || strings.EqualFold(sku, "SKU") || strings.EqualFold(sku, s.layout.BoundaryToken) {
		return false
	}
	return true
}

func (s *sheet) segment(seg domain.Segment) (domain.Bounds, error) {
	switch seg {
	case domain.SegmentMarketplace:
		end := s.rowCount()
		if s.boundary > 0 {
			end = s.boundary - 1
		}
		return domain.Bounds{Start: s.layout.DataStartRow, End: end}, nil
	case domain.SegmentDirect:
		if s.boundary == 0 {
			return domain.Bounds{}, ErrBoundaryNotFound
		}
		return domain.Bounds{Start: s.boundary + 2, End: s.rowCount()}, nil
	}
	return domain.Bounds{}, fmt.Errorf("%w: %d", ErrInvalidSegment, seg)
}

func (s *sheet) segmentOf(n int) domain.Segment {
	if s.boundary > 0 && n > s.boundary {
		return domain.SegmentDirect
	}
	return domain.SegmentMarketplace
}

// lastDataRow returns the last row in b with a non-empty first cell, or b.Start-1.
func (s *sheet) lastDataRow(b domain.Bounds) int {
	for n := b.End; n >= b.Start; n-- {
		if s.col(n, domain.ColSKU) != "" {
			return n
		}
	}
	return b.Start - 1
}

func (s *sheet) line(n int) domain.OrderLine {
	status, _ := domain.ParseStatus(s.col(n, domain.ColStatus))
	return domain.OrderLine{
		Row:      n,
		SKU:      strings.ToUpper(s.col(n, domain.ColSKU)),
		Quantity: parseCount(s.col(n, domain.ColQuantity)),
		Location: s.col(n, domain.ColLocation),
		OrderID:  s.col(n, domain.ColOrderID),
		Note:     s.col(n, domain.ColNote),
		Status:   status,
		OnHand:   parseCount(s.col(n, domain.ColOnHand)),
	}
}

func (s *sheet) lines() []domain.OrderLine {
	var out []domain.OrderLine
	for n := s.layout.DataStartRow; n <= s.rowCount(); n++ {
		if s.isDataRow(n) {
			out = append(out, s.line(n))
		}
	}
	return out
}

func (s *sheet) orderLines(orderID string) []domain.OrderLine {
	target := strings.ToLower(strings.TrimSpace(orderID))
	if target == "" {
		return nil
	}
	var out []domain.OrderLine
	for n := s.layout.DataStartRow; n <= s.rowCount(); n++ {
		if s.isDataRow(n) && strings.ToLower(s.col(n, domain.ColOrderID)) == target {
			out = append(out, s.line(n))
		}
	}
	return out
}

// Lines returns every data row of both segments.
func (l *Ledger) Lines(ctx context.Context) ([]domain.OrderLine, error) {
	s, err := l.read(ctx)
	if err != nil {
		return nil, err
	}
	return s.lines(), nil
}

// OrderSnapshot returns the lines of one order together with the committed quantities of the
// whole ledger, both from the same read.
func (l *Ledger) OrderSnapshot(ctx context.Context, orderID string) (OrderSnapshot, error) {
	s, err := l.read(ctx)
	if err != nil {
		return OrderSnapshot{}, err
	}
	return OrderSnapshot{Lines: s.orderLines(orderID), Committed: CommittedQuantities(s.lines())}, nil
}

// Boundary returns the current boundary row. Callers must not hold on to it across mutations.
func (l *Ledger) Boundary(ctx context.Context) (int, bool, error) {
	s, err := l.read(ctx)
	if err != nil {
		return 0, false, err
	}
	return s.boundary, s.boundary > 0, nil
}

func (l *Ledger) Stats(ctx context.Context) (Stats, error) {
	s, err := l.read(ctx)
	if err != nil {
		return Stats{}, err
	}
	var st Stats
	for _, line := range s.lines() {
		switch line.Status {
		case domain.OrderStatusPending:
			st.Pending++
		case domain.OrderStatusPreparing:
			st.Preparing++
		case domain.OrderStatusShipped:
			st.Shipped++
		case domain.OrderStatusCanceled:
			st.Canceled++
		}
	}
	return st, nil
}

// Insert adds a batch of new lines at the top of seg. Rows are built in memory first and
// written with one insert and one format pass.
func (l *Ledger) Insert(ctx context.Context, seg domain.Segment, items []IncomingItem) (InsertResult, error) {
	s, err := l.read(ctx)
	if err != nil {
		return InsertResult{}, err
	}
	bounds, err := s.segment(seg)
	if err != nil {
		return InsertResult{}, err
	}

	existing := s.lines()
	signatures := make(map[string]struct{}, len(existing))
	for _, line := range existing {
		if line.OrderID != "" {
			signatures[line.Signature()] = struct{}{}
		}
	}
	committed := CommittedQuantities(existing)

	skus := make([]string, 0, len(items))
	for _, item := range items {
		skus = append(skus, item.SKU)
	}
	stock := l.inventory.ResolveMany(ctx, skus)

	result := InsertResult{Details: make([]string, 0, len(items))}
	running := make(map[string]int)
	var rows [][]string

	for _, item := range items {
		sku := strings.ToUpper(strings.TrimSpace(item.SKU))
		orderID := strings.TrimSpace(item.OrderID)

		if len(orderID) < minOrderIDLength {
			result.Details = append(result.Details, "Skipped: Invalid ID")
			l.logger.Warn("skipping batch item", zap.String("order_id", orderID), zap.Error(ErrInvalidOrderID))
			continue
		}
		if sku == "" {
			result.Details = append(result.Details, "Skipped: Missing SKU "+orderID)
			l.logger.Warn("skipping batch item", zap.String("order_id", orderID), zap.Error(ErrMissingSKU))
			continue
		}
		qty := item.Quantity
		if qty <= 0 {
			result.Details = append(result.Details, "Skipped: Invalid quantity "+orderID)
			l.logger.Warn("skipping batch item", zap.String("order_id", orderID), zap.Int("qty", qty), zap.Error(ErrInvalidQuantity))
			continue
		}

		sig := domain.Signature(orderID, sku)
		if _, dup := signatures[sig]; dup {
			result.Details = append(result.Details, "Skipped: Duplicate "+orderID)
			continue
		}

		key := domain.SKUKey(sku)
		st, ok := stock[key]
		if !ok {
			st = domain.MissingStock
		}
		if _, seen := running[key]; !seen {
			running[key] = st.Available - committed[key]
		}
		onHand := running[key] - qty
		running[key] = onHand

		line := domain.OrderLine{
			SKU:      sku,
			Quantity: qty,
			Location: st.Location,
			OrderID:  orderID,
			Note:     strings.TrimSpace(item.Note),
			Status:   domain.OrderStatusPending,
			OnHand:   onHand,
		}
		rows = append(rows, lineCells(line))
		result.Lines = append(result.Lines, line)
		signatures[sig] = struct{}{}
		result.Details = append(result.Details, "Added: "+orderID)
	}

	if len(rows) == 0 {
		return result, nil
	}

	at := bounds.Start
	if err := l.store.InsertRowsBefore(ctx, at, rows); err != nil {
		return InsertResult{}, fmt.Errorf("insert rows: %w", err)
	}
	for i := range result.Lines {
		result.Lines[i].Row = at + i
	}
	result.Added = len(rows)

	template := at + len(rows)
	if template > s.rowCount()+len(rows) {
		template = 0
		if at > l.layout.DataStartRow {
			template = l.layout.DataStartRow
		}
	}
	if template > 0 {
		if err := l.store.CopyFormat(ctx, template, at, len(rows)); err != nil {
			l.logger.Warn("format normalization failed", zap.Error(err))
		}
	}

	if _, err := l.EnsureBuffer(ctx); err != nil {
		l.logger.Warn("buffer maintenance failed", zap.Error(err))
	}

	l.logger.Info("inserted order lines",
		zap.Stringer("segment", seg),
		zap.Int("added", result.Added),
		zap.Int("requested", len(items)))
	return result, nil
}

func lineCells(line domain.OrderLine) []string {
	return []string{
		line.SKU,
		strconv.Itoa(line.Quantity),
		line.Location,
		line.OrderID,
		line.Note,
		string(line.Status),
		strconv.Itoa(line.OnHand),
	}
}

// EnsureBuffer pads the end of the direct segment so it keeps at least BufferRows blank rows.
func (l *Ledger) EnsureBuffer(ctx context.Context) (int, error) {
	s, err := l.read(ctx)
	if err != nil {
		return 0, err
	}
	bounds, err := s.segment(domain.SegmentDirect)
	if err != nil {
		return 0, err
	}

	emptyStart := s.lastDataRow(bounds) + 1
	if emptyStart < bounds.Start {
		emptyStart = bounds.Start
	}
	empty := s.rowCount() - emptyStart + 1
	if empty < 0 {
		empty = 0
	}
	if empty >= l.layout.BufferRows {
		return 0, nil
	}

	add := l.layout.BufferRows - empty
	first := s.rowCount() + 1
	if err := l.store.AppendBlankRows(ctx, add); err != nil {
		return 0, fmt.Errorf("append buffer rows: %w", err)
	}
	if err := l.store.CopyFormat(ctx, l.layout.DataStartRow, first, add); err != nil {
		l.logger.Warn("buffer format copy failed", zap.Error(err))
	}
	l.logger.Debug("padded direct segment buffer", zap.Int("rows", add))
	return add, nil
}

type sortRow struct {
	cells []string
	rank  int
	loc   string
}

// SortRows orders rows stably by (status rank, location).
func SortRows(rows [][]string) {
	keyed := make([]sortRow, len(rows))
	for i, r := range rows {
		status, _ := domain.ParseStatus(cell(r, domain.ColStatus-1))
		keyed[i] = sortRow{cells: r, rank: status.Rank(), loc: cell(r, domain.ColLocation-1)}
	}
	sort.SliceStable(keyed, func(i, j int) bool {
		if keyed[i].rank != keyed[j].rank {
			return keyed[i].rank < keyed[j].rank
		}
		return keyed[i].loc < keyed[j].loc
	})
	for i := range keyed {
		rows[i] = keyed[i].cells
	}
}

// Sort reorders the data rows of seg. Returns how many rows were in the sorted range.
func (l *Ledger) Sort(ctx context.Context, seg domain.Segment) (int, error) {
	s, err := l.read(ctx)
	if err != nil {
		return 0, err
	}
	return l.sortSegment(ctx, s, seg)
}

func (l *Ledger) sortSegment(ctx context.Context, s *sheet, seg domain.Segment) (int, error) {
	bounds, err := s.segment(seg)
	if err != nil {
		return 0, err
	}
	last := s.lastDataRow(bounds)
	if last < bounds.Start {
		return 0, nil
	}
	rows := make([][]string, 0, last-bounds.Start+1)
	for n := bounds.Start; n <= last; n++ {
		rows = append(rows, s.row(n))
	}
	SortRows(rows)
	if err := l.store.WriteRows(ctx, bounds.Start, rows); err != nil {
		return 0, fmt.Errorf("write sorted rows: %w", err)
	}
	return len(rows), nil
}

// DeleteEmptyRows trims trailing blank rows of seg, leaving BufferRows blank rows before the
// boundary in the marketplace segment and MaxEmptyRows at the end of the direct segment.
func (l *Ledger) DeleteEmptyRows(ctx context.Context, seg domain.Segment) (int, error) {
	s, err := l.read(ctx)
	if err != nil {
		return 0, err
	}
	bounds, err := s.segment(seg)
	if err != nil {
		return 0, err
	}
	last := s.lastDataRow(bounds)
	keep := l.layout.MaxEmptyRows
	if seg == domain.SegmentMarketplace {
		keep = l.layout.BufferRows
	}
	delStart := last + keep + 1
	deleted := 0
	if delStart <= bounds.End {
		deleted = bounds.End - delStart + 1
		if err := l.store.DeleteRows(ctx, delStart, deleted); err != nil {
			return 0, fmt.Errorf("delete empty rows: %w", err)
		}
	}
	if _, err := l.EnsureBuffer(ctx); err != nil && !errors.Is(err, ErrBoundaryNotFound) {
		return deleted, err
	}
	return deleted, nil
}

const mergedIDSeparator = " / "

// hasMergedID reports whether orderID is already one of the ids joined in cell.
func hasMergedID(cell, orderID string) bool {
	for _, id := range strings.Split(cell, mergedIDSeparator) {
		if strings.TrimSpace(id) == orderID {
			return true
		}
	}
	return false
}

// Consolidate merges same-SKU rows of seg: quantities are summed and order ids joined.
func (l *Ledger) Consolidate(ctx context.Context, seg domain.Segment) (before, after int, err error) {
	s, err := l.read(ctx)
	if err != nil {
		return 0, 0, err
	}
	bounds, err := s.segment(seg)
	if err != nil {
		return 0, 0, err
	}
	last := s.lastDataRow(bounds)
	if last < bounds.Start {
		return 0, 0, nil
	}

	var merged [][]string
	bySKU := make(map[string]int)
	for n := bounds.Start; n <= last; n++ {
		if !s.isDataRow(n) {
			continue
		}
		before++
		sku := strings.ToUpper(s.col(n, domain.ColSKU))
		if i, ok := bySKU[sku]; ok {
			row := merged[i]
			row[domain.ColQuantity-1] = strconv.Itoa(parseCount(row[domain.ColQuantity-1]) + parseCount(s.col(n, domain.ColQuantity)))
			orderID := s.col(n, domain.ColOrderID)
			if orderID != "" && !hasMergedID(row[domain.ColOrderID-1], orderID) {
				row[domain.ColOrderID-1] += mergedIDSeparator + orderID
			}
			continue
		}
		row := make([]string, domain.DataWidth)
		copy(row, s.row(n))
		bySKU[sku] = len(merged)
		merged = append(merged, row)
	}

	out := make([][]string, last-bounds.Start+1)
	copy(out, merged)
	for i := len(merged); i < len(out); i++ {
		out[i] = make([]string, domain.DataWidth)
	}
	if err := l.store.WriteRows(ctx, bounds.Start, out); err != nil {
		return 0, 0, fmt.Errorf("write consolidated rows: %w", err)
	}
	l.logger.Warn("consolidated segment; merged order ids no longer match inbound duplicate signatures",
		zap.Stringer("segment", seg), zap.Int("before", before), zap.Int("after", len(merged)))
	return before, len(merged), nil
}

// RefreshLocations re-resolves the location column of every data row in seg.
func (l *Ledger) RefreshLocations(ctx context.Context, seg domain.Segment) (int, error) {
	s, err := l.read(ctx)
	if err != nil {
		return 0, err
	}
	bounds, err := s.segment(seg)
	if err != nil {
		return 0, err
	}
	last := s.lastDataRow(bounds)
	if last < bounds.Start {
		return 0, nil
	}

	var skus []string
	for n := bounds.Start; n <= last; n++ {
		if s.isDataRow(n) {
			skus = append(skus, s.col(n, domain.ColSKU))
		}
	}
	stock := l.inventory.ResolveMany(ctx, skus)

	rows := make([][]string, 0, last-bounds.Start+1)
	updates := 0
	for n := bounds.Start; n <= last; n++ {
		row := padRow(s.row(n))
		if s.isDataRow(n) {
			loc := domain.LocationNotFound
			if st, ok := stock[domain.SKUKey(row[domain.ColSKU-1])]; ok {
				loc = st.Location
			}
			if strings.TrimSpace(row[domain.ColLocation-1]) != loc {
				row[domain.ColLocation-1] = loc
				updates++
			}
		}
		rows = append(rows, row)
	}
	if updates > 0 {
		if err := l.store.WriteRows(ctx, bounds.Start, rows); err != nil {
			return 0, fmt.Errorf("write locations: %w", err)
		}
	}
	return updates, nil
}

// ApplySKUEdit fills the location column for rows whose SKU cell was just edited.
func (l *Ledger) ApplySKUEdit(ctx context.Context, startRow int, skus []string) (int, error) {
	s, err := l.read(ctx)
	if err != nil {
		return 0, err
	}
	stock := l.inventory.ResolveMany(ctx, skus)
	written := 0
	for i, raw := range skus {
		n := startRow + i
		if n < l.layout.DataStartRow || n > s.rowCount() || s.structural(n) {
			continue
		}
		loc := ""
		key := domain.SKUKey(raw)
		if key != "" && !strings.EqualFold(key, l.layout.BoundaryToken) {
			loc = domain.LocationNotFound
			if st, ok := stock[key]; ok {
				loc = st.Location
			}
		}
		row := padRow(s.row(n))
		row[domain.ColSKU-1] = strings.TrimSpace(raw)
		row[domain.ColLocation-1] = loc
		if err := l.store.WriteRows(ctx, n, [][]string{row}); err != nil {
			return written, fmt.Errorf("write location row %d: %w", n, err)
		}
		written++
	}
	return written, nil
}

func padRow(row []string) []string {
	out := make([]string, max(len(row), domain.DataWidth))
	copy(out, row)
	return out
}
