package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/rl1809/fulfillment-sync/internal/adapter/handler"
	"github.com/rl1809/fulfillment-sync/internal/adapter/storage"
	"github.com/rl1809/fulfillment-sync/internal/adapter/telegram"
	"github.com/rl1809/fulfillment-sync/internal/adapter/workflow"
	"github.com/rl1809/fulfillment-sync/internal/config"
	"github.com/rl1809/fulfillment-sync/internal/core/domain"
	"github.com/rl1809/fulfillment-sync/internal/core/service"
	"github.com/rl1809/fulfillment-sync/internal/logger"
	"github.com/rl1809/fulfillment-sync/internal/port"
)

const (
	shutdownTimeout = 10 * time.Second
	healthInterval  = 30 * time.Second
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cfg.Log.Output})
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}

type backends struct {
	ledger    port.LedgerStore
	inventory port.SheetReader
	bindings  port.BindingRepository
	locker    port.Locker
	idem      port.IdempotencyStore
	probes    map[string]handler.Prober
	closers   []func() error
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	layout := domain.Layout{
		DataStartRow:  cfg.Ledger.DataStartRow,
		BoundaryToken: cfg.Ledger.BoundaryToken,
		BufferRows:    cfg.Ledger.BufferRows,
		MaxEmptyRows:  cfg.Ledger.MaxEmptyRows,
	}
	b, err := openBackends(ctx, cfg, layout, log)
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range b.closers {
			c()
		}
	}()

	headers := service.InventoryHeaders{
		SKU:      cfg.Inventory.SKUHeader,
		Location: cfg.Inventory.LocationHeader,
		Quantity: cfg.Inventory.QuantityHeader,
		Sold:     cfg.Inventory.SoldHeader,
	}
	inventory := service.NewInventoryResolver(b.inventory, headers, cfg.Ledger.BulkThreshold, log.Named("inventory"))
	ledger := service.NewLedger(b.ledger, inventory, layout, log.Named("ledger"))

	chat := telegram.NewClient(telegram.Config{
		BaseURL:       cfg.Telegram.BaseURL,
		BotToken:      cfg.Telegram.BotToken,
		Timeout:       cfg.Telegram.Timeout,
		RatePerSecond: cfg.Telegram.RatePerSecond,
	}, log.Named("telegram"))
	synchronizer := service.NewSynchronizer(b.bindings, chat, inventory, cfg.Inventory.LowStockThreshold,
		cfg.Telegram.Location(), log.Named("sync"))

	orderService := service.NewOrderService(service.Dependencies{
		Ledger:       ledger,
		Gate:         service.NewGate(b.locker, log.Named("gate")),
		Synchronizer: synchronizer,
		Bindings:     b.bindings,
		Chat:         chat,
		Workflow:     workflow.NewClient(cfg.Workflow.URL, cfg.Workflow.Timeout, log.Named("workflow")),
		Idempotency:  b.idem,
		Timeouts: service.Timeouts{
			Batch:      cfg.Lock.InboundTimeout,
			Bulk:       cfg.Lock.BulkTimeout,
			ManualEdit: cfg.Lock.EditTimeout,
		},
		Logger: log.Named("orders"),
	})

	httpHandler := handler.NewHTTPHandler(orderService, cfg.Auth.Token, cfg.Bindings.Retention, log.Named("http"))
	httpServer := &http.Server{
		Addr:              cfg.App.HTTPAddr,
		Handler:           httpHandler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	grpcServer := grpc.NewServer()
	grpcHandler := handler.NewGRPCHandler(b.probes, log.Named("health"))
	grpcHandler.Register(grpcServer)
	lis, err := net.Listen("tcp", cfg.App.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("HTTP server listening", zap.String("addr", cfg.App.HTTPAddr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		log.Info("gRPC server listening", zap.String("addr", cfg.App.GRPCAddr))
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		grpcHandler.Watch(gctx, healthInterval)
		return nil
	})

	g.Go(func() error {
		runJanitor(gctx, orderService, cfg.Bindings, log.Named("janitor"))
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down...")

		grpcHandler.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("HTTP shutdown", zap.Error(err))
		}
		grpcServer.GracefulStop()
		log.Info("servers stopped")
		return nil
	})

	return g.Wait()
}

func openBackends(ctx context.Context, cfg *config.Config, layout domain.Layout, log *zap.Logger) (*backends, error) {
	b := &backends{probes: map[string]handler.Prober{}}

	switch cfg.Storage.Backend {
	case "mysql":
		db, err := sql.Open("mysql", cfg.MySQL.DSN)
		if err != nil {
			return nil, fmt.Errorf("open mysql: %w", err)
		}
		db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(ctx); err != nil {
			return nil, fmt.Errorf("ping mysql: %w", err)
		}
		if err := storage.Migrate(ctx, db); err != nil {
			return nil, err
		}
		log.Info("connected to mysql")

		b.ledger = storage.NewMySQLSheetStore(db, cfg.Ledger.Sheet)
		b.inventory = storage.NewMySQLSheetStore(db, cfg.Ledger.InventorySheet)
		b.bindings = storage.NewMySQLBindingRepository(db)
		b.probes["mysql"] = db.PingContext
		b.closers = append(b.closers, db.Close)
	default:
		log.Warn("using in-memory storage; data is lost on restart")
		b.ledger = storage.NewMemorySheet(emptyLedger(layout))
		inventory, err := memoryInventory(ctx, cfg.Inventory, log)
		if err != nil {
			return nil, err
		}
		b.inventory = inventory
		b.bindings = storage.NewMemoryBindingRepository()
	}

	switch cfg.Lock.Backend {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		log.Info("connected to redis")

		adapter := storage.NewRedisAdapter(rdb, cfg.Lock.Key, cfg.Lock.TTL, log.Named("redis"))
		b.locker = adapter
		b.idem = adapter
		b.probes["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		b.closers = append(b.closers, rdb.Close)
	default:
		b.locker = storage.NewLocalLocker()
		b.idem = storage.NewMemoryIdempotency()
	}
	return b, nil
}

// memoryInventory loads the reference table from inventory.seed_file, or starts with only the
// header row when no seed is configured.
func memoryInventory(ctx context.Context, cfg config.InventoryConfig, log *zap.Logger) (*storage.MemorySheet, error) {
	if cfg.SeedFile == "" {
		log.Warn("no inventory.seed_file set; every SKU resolves to NOT FOUND")
		return storage.NewMemorySheet([][]string{{
			cfg.SKUHeader, cfg.LocationHeader, cfg.QuantityHeader, cfg.SoldHeader,
		}}), nil
	}
	sheet, err := storage.LoadCSVSheet(cfg.SeedFile)
	if err != nil {
		return nil, fmt.Errorf("load inventory seed: %w", err)
	}
	n, _ := sheet.RowCount(ctx)
	log.Info("inventory seeded", zap.String("file", cfg.SeedFile), zap.Int("rows", n))
	return sheet, nil
}

// runJanitor deletes expired message bindings once at start and then on every interval.
func runJanitor(ctx context.Context, orders *service.OrderService, cfg config.BindingsConfig, log *zap.Logger) {
	sweep := func() {
		if _, err := orders.CleanupBindings(ctx, cfg.Retention); err != nil && ctx.Err() == nil {
			log.Error("binding cleanup failed", zap.Error(err))
		}
	}
	sweep()

	ticker := time.NewTicker(cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}

// emptyLedger lays out a blank two-segment sheet for the in-memory backend.
func emptyLedger(layout domain.Layout) [][]string {
	header := []string{"SKU", "QTY", "LOC", "ORDER ID", "NOTE", "STATUS", "HAND"}
	rows := make([][]string, 0, layout.DataStartRow+layout.BufferRows*2+2)
	for i := 1; i < layout.DataStartRow; i++ {
		rows = append(rows, []string{})
	}
	if len(rows) > 0 {
		rows[len(rows)-1] = header
	}
	for i := 0; i < layout.BufferRows; i++ {
		rows = append(rows, []string{})
	}
	rows = append(rows, []string{layout.BoundaryToken}, header)
	for i := 0; i < layout.BufferRows; i++ {
		rows = append(rows, []string{})
	}
	return rows
}
