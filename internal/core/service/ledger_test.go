package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/fulfillment-sync/internal/adapter/storage"
	"github.com/rl1809/fulfillment-sync/internal/core/domain"
)

func TestParseQuantity(t *testing.T) {
	cases := map[string]int{
		"":    1,
		"  ":  1,
		"abc": 1,
		"3":   3,
		" 4 ": 4,
		"2.0": 2,
		"0":   0,
		"-2":  -2,
	}
	for raw, want := range cases {
		assert.Equal(t, want, ParseQuantity(raw), "raw %q", raw)
	}
}

func TestFindBoundary(t *testing.T) {
	rows := [][]string{{"title"}, {}, {"SKU"}, {" direct "}, {"DIRECT"}}
	n, ok := FindBoundary(rows, "DIRECT")
	require.True(t, ok)
	assert.Equal(t, 4, n)

	_, ok = FindBoundary(rows[:3], "DIRECT")
	assert.False(t, ok)
}

func TestInsert_EmptyLedger(t *testing.T) {
	ctx := context.Background()
	store := ledgerSheet(nil, nil)
	ledger := newTestLedger(store, inventoryTable([]string{"A1", "L-01", "10", "0"}))

	result, err := ledger.Insert(ctx, domain.SegmentMarketplace, []IncomingItem{
		{SKU: "A1", Quantity: 2, OrderID: "S100"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Added)
	assert.Equal(t, []string{"Added: S100"}, result.Details)

	lines, err := ledger.Lines(ctx)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, 4, lines[0].Row)
	assert.Equal(t, "A1", lines[0].SKU)
	assert.Equal(t, "L-01", lines[0].Location)
	assert.Equal(t, 8, lines[0].OnHand)
	assert.Equal(t, domain.OrderStatusPending, lines[0].Status)
}

func TestInsert_DuplicateRejected(t *testing.T) {
	ctx := context.Background()
	store := ledgerSheet(nil, nil)
	ledger := newTestLedger(store, inventoryTable([]string{"A1", "L-01", "10", "0"}))

	_, err := ledger.Insert(ctx, domain.SegmentMarketplace, []IncomingItem{{SKU: "A1", Quantity: 2, OrderID: "S100"}})
	require.NoError(t, err)
	before := readAll(store)

	result, err := ledger.Insert(ctx, domain.SegmentDirect, []IncomingItem{{SKU: "a1", Quantity: 3, OrderID: "S100"}})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Added)
	assert.Equal(t, []string{"Skipped: Duplicate S100"}, result.Details)
	assert.Equal(t, before, readAll(store))
}

func TestInsert_RunningOnHandWithinBatch(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(ledgerSheet(nil, nil), inventoryTable([]string{"A1", "L-01", "10", "0"}))

	result, err := ledger.Insert(ctx, domain.SegmentMarketplace, []IncomingItem{
		{SKU: "A1", Quantity: 2, OrderID: "S101"},
		{SKU: "A1", Quantity: 1, OrderID: "S102"},
	})
	require.NoError(t, err)
	require.Len(t, result.Lines, 2)
	assert.Equal(t, 8, result.Lines[0].OnHand)
	assert.Equal(t, 7, result.Lines[1].OnHand)
	assert.Equal(t, 4, result.Lines[0].Row)
	assert.Equal(t, 5, result.Lines[1].Row)
}

func TestInsert_SubtractsCommitted(t *testing.T) {
	ctx := context.Background()
	store := ledgerSheet(
		[][]string{
			orderRow("A1", "4", "L-01", "S001", "PENDING"),
			orderRow("A1", "5", "L-01", "S002", "SHIPPED"),
		},
		[][]string{orderRow("A1", "1", "L-01", "S003", "PREPARING")},
	)
	ledger := newTestLedger(store, inventoryTable([]string{"A1", "L-01", "10", "0"}))

	result, err := ledger.Insert(ctx, domain.SegmentDirect, []IncomingItem{{SKU: "A1", Quantity: 2, OrderID: "S004"}})
	require.NoError(t, err)
	require.Len(t, result.Lines, 1)
	assert.Equal(t, 10-5-2, result.Lines[0].OnHand)
}

func TestInsert_SkipsInvalidItems(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(ledgerSheet(nil, nil), inventoryTable([]string{"A1", "L-01", "10", "0"}))

	result, err := ledger.Insert(ctx, domain.SegmentMarketplace, []IncomingItem{
		{SKU: "A1", Quantity: 1, OrderID: "ab"},
		{SKU: "", Quantity: 1, OrderID: "S200"},
		{SKU: "A1", Quantity: 0, OrderID: "S201"},
		{SKU: "A1", Quantity: 1, OrderID: "S202"},
		{SKU: "a1", Quantity: 1, OrderID: "S202"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Added)
	assert.Equal(t, []string{
		"Skipped: Invalid ID",
		"Skipped: Missing SKU S200",
		"Skipped: Invalid quantity S201",
		"Added: S202",
		"Skipped: Duplicate S202",
	}, result.Details)
}

func TestInsert_UnknownSKUGetsSentinel(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(ledgerSheet(nil, nil), inventoryTable())

	result, err := ledger.Insert(ctx, domain.SegmentMarketplace, []IncomingItem{{SKU: "zz9", Quantity: 1, OrderID: "S300"}})
	require.NoError(t, err)
	require.Len(t, result.Lines, 1)
	assert.Equal(t, "ZZ9", result.Lines[0].SKU)
	assert.Equal(t, domain.LocationNotFound, result.Lines[0].Location)
	assert.Equal(t, -1, result.Lines[0].OnHand)
}

func TestInsert_DirectSegmentWithoutBoundary(t *testing.T) {
	store := storage.NewMemorySheet([][]string{{"All orders"}, {}, ledgerHeader, {}, {}})
	ledger := newTestLedger(store, inventoryTable())

	_, err := ledger.Insert(context.Background(), domain.SegmentDirect, []IncomingItem{{SKU: "A1", Quantity: 1, OrderID: "S1"}})
	assert.ErrorIs(t, err, ErrBoundaryNotFound)
}

func TestInsert_BoundaryFollowsInsertedRows(t *testing.T) {
	ctx := context.Background()
	ledger := newTestLedger(ledgerSheet(nil, nil), inventoryTable())

	before, ok, err := ledger.Boundary(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	result, err := ledger.Insert(ctx, domain.SegmentMarketplace, []IncomingItem{
		{SKU: "A1", Quantity: 1, OrderID: "S001"},
		{SKU: "B2", Quantity: 1, OrderID: "S001"},
	})
	require.NoError(t, err)
	require.Equal(t, 2, result.Added)

	after, _, err := ledger.Boundary(ctx)
	require.NoError(t, err)
	assert.Equal(t, before+2, after)
}

func TestInsert_CopiesFormatFromRowBelow(t *testing.T) {
	ctx := context.Background()
	store := ledgerSheet([][]string{orderRow("A1", "1", "L-01", "S001", "PENDING")}, nil)
	store.SetFormat(4, "data")
	ledger := newTestLedger(store, inventoryTable())

	result, err := ledger.Insert(ctx, domain.SegmentMarketplace, []IncomingItem{{SKU: "B2", Quantity: 1, OrderID: "S002"}})
	require.NoError(t, err)
	require.Equal(t, 1, result.Added)
	assert.Equal(t, "data", store.Format(4))
	assert.Equal(t, "data", store.Format(5))
}

func TestEnsureBuffer_PadsDirectSegment(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemorySheet([][]string{
		{"All orders"}, {}, ledgerHeader,
		orderRow("A1", "1", "L-01", "S1", "PENDING"),
		{"DIRECT"}, ledgerHeader,
		orderRow("B2", "1", "L-02", "S2", "PENDING"),
	})
	store.SetFormat(4, "template")
	ledger := newTestLedger(store, inventoryTable())

	added, err := ledger.EnsureBuffer(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, added)

	n, _ := store.RowCount(ctx)
	assert.Equal(t, 10, n)
	assert.Equal(t, "template", store.Format(10))

	added, err = ledger.EnsureBuffer(ctx)
	require.NoError(t, err)
	assert.Zero(t, added)
}

func TestSortRows_StableByRankThenLocation(t *testing.T) {
	rows := [][]string{
		orderRow("A", "1", "B-2", "S1", "SHIPPED"),
		orderRow("B", "1", "A-1", "S2", "PREPARING"),
		orderRow("C", "1", "B-1", "S3", "PENDING"),
		orderRow("D", "1", "A-1", "S4", "???"),
		orderRow("E", "1", "A-1", "S5", "PENDING"),
		orderRow("F", "1", "B-1", "S6", "PENDING"),
		orderRow("G", "1", "A-1", "S7", "CANCELED"),
	}
	SortRows(rows)

	var got []string
	for _, r := range rows {
		got = append(got, r[0])
	}
	assert.Equal(t, []string{"E", "C", "F", "B", "A", "G", "D"}, got)
}

func TestSort_Segment(t *testing.T) {
	ctx := context.Background()
	store := ledgerSheet(nil, [][]string{
		orderRow("A", "1", "L-2", "S1", "PREPARING"),
		orderRow("B", "1", "L-1", "S2", "PENDING"),
	})
	ledger := newTestLedger(store, inventoryTable())

	n, err := ledger.Sort(ctx, domain.SegmentDirect)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rows := readAll(store)
	assert.Equal(t, "B", rows[8][0])
	assert.Equal(t, "A", rows[9][0])
}

func TestDeleteEmptyRows(t *testing.T) {
	ctx := context.Background()

	t.Run("direct keeps max empty rows", func(t *testing.T) {
		store := ledgerSheet(nil, [][]string{orderRow("A1", "1", "L-01", "S1", "PENDING")})
		require.NoError(t, store.AppendBlankRows(ctx, 7))
		ledger := newTestLedger(store, inventoryTable())

		deleted, err := ledger.DeleteEmptyRows(ctx, domain.SegmentDirect)
		require.NoError(t, err)
		assert.Equal(t, 5, deleted)

		n, _ := store.RowCount(ctx)
		assert.Equal(t, 9+5, n)
	})

	t.Run("marketplace keeps buffer before boundary", func(t *testing.T) {
		store := ledgerSheet([][]string{
			orderRow("A1", "1", "L-01", "S1", "PENDING"),
			{}, {}, {},
		}, nil)
		ledger := newTestLedger(store, inventoryTable())

		deleted, err := ledger.DeleteEmptyRows(ctx, domain.SegmentMarketplace)
		require.NoError(t, err)
		assert.Equal(t, 3, deleted)

		boundary, ok, err := ledger.Boundary(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, 8, boundary)
	})
}

func TestConsolidate(t *testing.T) {
	ctx := context.Background()
	store := ledgerSheet([][]string{
		orderRow("A1", "2", "L-01", "S1", "PENDING"),
		orderRow("a1", "3", "L-01", "S2", "PENDING"),
		orderRow("B2", "1", "L-02", "S3", "PENDING"),
	}, nil)
	ledger := newTestLedger(store, inventoryTable())

	before, after, err := ledger.Consolidate(ctx, domain.SegmentMarketplace)
	require.NoError(t, err)
	assert.Equal(t, 3, before)
	assert.Equal(t, 2, after)

	rows := readAll(store)
	assert.Equal(t, "5", rows[3][domain.ColQuantity-1])
	assert.Equal(t, "S1 / S2", rows[3][domain.ColOrderID-1])
	assert.Equal(t, "B2", rows[4][domain.ColSKU-1])
	assert.Equal(t, "", rows[5][domain.ColSKU-1])
}

func TestConsolidate_PrefixIDsStayDistinct(t *testing.T) {
	ctx := context.Background()
	store := ledgerSheet([][]string{
		orderRow("A1", "1", "L-01", "S100", "PENDING"),
		orderRow("A1", "1", "L-01", "S10", "PENDING"),
		orderRow("A1", "1", "L-01", "S100", "PENDING"),
	}, nil)
	ledger := newTestLedger(store, inventoryTable())

	_, after, err := ledger.Consolidate(ctx, domain.SegmentMarketplace)
	require.NoError(t, err)
	assert.Equal(t, 1, after)

	rows := readAll(store)
	assert.Equal(t, "3", rows[3][domain.ColQuantity-1])
	assert.Equal(t, "S100 / S10", rows[3][domain.ColOrderID-1])
}

func TestRefreshLocations(t *testing.T) {
	ctx := context.Background()
	store := ledgerSheet([][]string{
		orderRow("A1", "1", "OLD", "S1", "PENDING"),
		orderRow("ZZ", "1", "X", "S2", "PENDING"),
		orderRow("B2", "1", "L-02", "S3", "PENDING"),
	}, nil)
	ledger := newTestLedger(store, inventoryTable(
		[]string{"A1", "L-01", "10", "0"},
		[]string{"B2", "L-02", "10", "0"},
	))

	updated, err := ledger.RefreshLocations(ctx, domain.SegmentMarketplace)
	require.NoError(t, err)
	assert.Equal(t, 2, updated)

	rows := readAll(store)
	assert.Equal(t, "L-01", rows[3][domain.ColLocation-1])
	assert.Equal(t, domain.LocationNotFound, rows[4][domain.ColLocation-1])
	assert.Equal(t, "L-02", rows[5][domain.ColLocation-1])
}

func TestApplySKUEdit(t *testing.T) {
	ctx := context.Background()
	store := ledgerSheet([][]string{
		orderRow("", "1", "", "S1", "PENDING"),
		orderRow("", "1", "", "S2", "PENDING"),
	}, nil)
	ledger := newTestLedger(store, inventoryTable([]string{"A1", "L-01", "10", "0"}))

	written, err := ledger.ApplySKUEdit(ctx, 4, []string{"a1", "nope"})
	require.NoError(t, err)
	assert.Equal(t, 2, written)

	rows := readAll(store)
	assert.Equal(t, "L-01", rows[3][domain.ColLocation-1])
	assert.Equal(t, domain.LocationNotFound, rows[4][domain.ColLocation-1])

	written, err = ledger.ApplySKUEdit(ctx, 2, []string{"A1"})
	require.NoError(t, err)
	assert.Zero(t, written)
}

func TestStats(t *testing.T) {
	store := ledgerSheet(
		[][]string{
			orderRow("A1", "1", "L", "S1", "PENDING"),
			orderRow("A1", "1", "L", "S2", "PREPARING"),
			orderRow("A1", "1", "L", "S3", "shipped"),
		},
		[][]string{orderRow("A1", "1", "L", "S4", "CANCELED"), orderRow("A1", "1", "L", "S5", "PENDING")},
	)
	ledger := newTestLedger(store, inventoryTable())

	stats, err := ledger.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Pending: 2, Preparing: 1, Shipped: 1, Canceled: 1}, stats)
}
