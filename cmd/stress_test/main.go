package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rl1809/fulfillment-sync/internal/adapter/storage"
	"github.com/rl1809/fulfillment-sync/internal/core/domain"
	"github.com/rl1809/fulfillment-sync/internal/core/service"
	"github.com/rl1809/fulfillment-sync/internal/port"
)

const (
	totalRequests  = 50
	ordersPerCall  = 8
	distinctOrders = 40
)

type discardChat struct{}

func (discardChat) EditMessage(ctx context.Context, req port.EditMessageRequest) error { return nil }

func (discardChat) AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error {
	return nil
}

func main() {
	redisAddr := flag.String("redis", "", "redis address for the distributed lock (empty uses a local lock)")
	wait := flag.Duration("wait", 2*time.Second, "lock wait per batch")
	flag.Parse()

	ctx := context.Background()
	layout := domain.DefaultLayout()

	var locker port.Locker = storage.NewLocalLocker()
	if *redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: *redisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("failed to connect redis: %v", err)
		}
		defer rdb.Close()
		rdb.Del(ctx, "stress:ledger-lock")
		locker = storage.NewRedisAdapter(rdb, "stress:ledger-lock", time.Minute, zap.NewNop())
	}

	sheet := storage.NewMemorySheet([][]string{
		{"All orders"},
		{},
		{"SKU", "QTY", "LOC", "ORDER ID", "NOTE", "STATUS", "HAND"},
		{}, {}, {},
		{layout.BoundaryToken},
		{"SKU", "QTY", "LOC", "ORDER ID", "NOTE", "STATUS", "HAND"},
		{}, {}, {},
	})
	table := storage.NewMemorySheet([][]string{
		{"sku", "C:Model Year", "Quantity", "Quantity Sold"},
		{"WIDGET-A", "A-01", "500", "0"},
		{"WIDGET-B", "B-02", "500", "0"},
	})
	inventory := service.NewInventoryResolver(table, service.DefaultInventoryHeaders(), 5, zap.NewNop())
	ledger := service.NewLedger(sheet, inventory, layout, zap.NewNop())
	bindings := storage.NewMemoryBindingRepository()

	orderService := service.NewOrderService(service.Dependencies{
		Ledger:       ledger,
		Gate:         service.NewGate(locker, zap.NewNop()),
		Synchronizer: service.NewSynchronizer(bindings, discardChat{}, inventory, 20, time.UTC, zap.NewNop()),
		Bindings:     bindings,
		Chat:         discardChat{},
		Timeouts:     service.Timeouts{Batch: *wait, Bulk: *wait, ManualEdit: *wait},
	})

	var (
		added   atomic.Int32
		busy    atomic.Int32
		failed  atomic.Int32
		wg      sync.WaitGroup
		started = time.Now()
	)

	// Every call overlaps with its neighbours, so most lines are duplicates.
	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(call int) {
			defer wg.Done()

			items := make([]service.IncomingItem, 0, ordersPerCall)
			for j := 0; j < ordersPerCall; j++ {
				n := (call + j) % distinctOrders
				sku := "WIDGET-A"
				if n%2 == 1 {
					sku = "WIDGET-B"
				}
				items = append(items, service.IncomingItem{
					SKU:      sku,
					Quantity: 1,
					OrderID:  fmt.Sprintf("SO-%04d", n),
				})
			}

			seg := domain.SegmentMarketplace
			if call%3 == 0 {
				seg = domain.SegmentDirect
			}
			result, err := orderService.InsertOrders(ctx, seg, items)
			switch {
			case errors.Is(err, service.ErrBusy):
				busy.Add(1)
			case err != nil:
				failed.Add(1)
				log.Printf("call %d: %v", call, err)
			default:
				added.Add(int32(result.Added))
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(started)

	lines, err := ledger.Lines(ctx)
	if err != nil {
		log.Fatalf("read ledger: %v", err)
	}
	seen := make(map[string]int)
	for _, line := range lines {
		seen[line.Signature()]++
	}
	duplicates := 0
	for _, n := range seen {
		if n > 1 {
			duplicates += n - 1
		}
	}

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Batches:          %d\n", totalRequests)
	fmt.Printf("Lines added:      %d\n", added.Load())
	fmt.Printf("Busy rejections:  %d\n", busy.Load())
	fmt.Printf("Errors:           %d\n", failed.Load())
	fmt.Printf("Ledger lines:     %d\n", len(lines))
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	if duplicates == 0 {
		fmt.Println("PASS: no (order, sku) pair was inserted twice")
	} else {
		fmt.Printf("FAIL: %d duplicate lines in the ledger\n", duplicates)
	}

	if int(added.Load()) == len(lines) {
		fmt.Println("PASS: every accepted line is in the ledger and busy batches wrote nothing")
	} else {
		fmt.Printf("FAIL: accepted %d lines but the ledger holds %d\n", added.Load(), len(lines))
	}

	if busy.Load() == 0 && len(lines) != distinctOrders {
		fmt.Printf("FAIL: expected %d distinct lines, got %d\n", distinctOrders, len(lines))
	}
}
