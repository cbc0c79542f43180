package main

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/fish-market/internal/adapter/blob"
	"github.com/rl1809/fish-market/internal/adapter/storage"
	"github.com/rl1809/fish-market/internal/core/domain"
	"github.com/rl1809/fish-market/internal/core/service"
)

const (
	itemID        = "last-tuna"
	initialStock  = 20
	totalRequests = 50
)

var (
	slipPNG = []byte("\x89PNG\r\n\x1a\nstress-test-slip")
	// keeps customers of separate runs apart on a shared database
	runID = uuid.NewString()[:8]
)

func main() {
	ctx := context.Background()

	workDir, err := os.MkdirTemp("", "fishmarket-stress-*")
	if err != nil {
		log.Fatalf("failed to create work dir: %v", err)
	}
	defer os.RemoveAll(workDir)

	// DB_DRIVER/DB_DSN point the run at a real MySQL; the default is a throwaway SQLite file
	driver, dsn := os.Getenv("DB_DRIVER"), os.Getenv("DB_DSN")
	if driver == "" || dsn == "" {
		driver = storage.DriverSQLite
		dsn = "file:" + filepath.Join(workDir, "stress.db") + "?_pragma=busy_timeout(5000)&_time_format=sqlite"
	}

	db, err := storage.OpenDB(driver, dsn)
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	defer db.Close()
	if err := storage.RunMigrations(db, driver); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	// Initialize adapters and services
	catalog := storage.NewSQLAdapter(db)
	if err := catalog.SaveItem(ctx, domain.CatalogItem{
		ID:          itemID,
		Name:        "Last Tuna",
		Price:       decimal.RequireFromString("18.00"),
		Stock:       initialStock,
		Description: "contended by every stress test customer",
	}); err != nil {
		log.Fatalf("failed to set stock: %v", err)
	}

	slips, err := blob.NewLocalSlipStorage(filepath.Join(workDir, "uploads"))
	if err != nil {
		log.Fatalf("failed to prepare slip storage: %v", err)
	}
	carts := storage.NewMemoryCartRepository()
	logger := zap.NewNop()

	cartService := service.NewCartService(catalog, carts, nil, logger)
	checkoutService := service.NewCheckoutService(service.CheckoutDeps{
		Catalog:  catalog,
		Carts:    carts,
		Payments: catalog,
		Slips:    slips,
		Logger:   logger,
	}, service.DefaultMaxSlipBytes)

	// Every customer holds one unit before the race starts
	for i := 0; i < totalRequests; i++ {
		if _, err := cartService.AddItem(ctx, customer(i), itemID, 1); err != nil {
			log.Fatalf("failed to fill cart: %v", err)
		}
	}

	// Counters
	var successCount atomic.Int32
	var failCount atomic.Int32
	var otherErrors atomic.Int32

	// Spawn concurrent checkouts
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()

			_, err := checkoutService.Checkout(ctx, service.CheckoutRequest{
				CustomerID: customer(n),
				Slip: &domain.SlipUpload{
					Filename:    "slip.png",
					ContentType: "image/png",
					Size:        int64(len(slipPNG)),
					Body:        bytes.NewReader(slipPNG),
				},
			})
			switch {
			case err == nil:
				successCount.Add(1)
			case domain.KindOf(err) == domain.KindConflict:
				failCount.Add(1)
			default:
				otherErrors.Add(1)
				log.Printf("%s: unexpected error: %v", customer(n), err)
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	// Results
	success := successCount.Load()
	fail := failCount.Load()

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Database:         %s\n", driver)
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Total Checkouts:  %d\n", totalRequests)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Out of stock:     %d\n", fail)
	fmt.Printf("Other errors:     %d\n", otherErrors.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	passed := true

	// Assertions
	if success == int32(initialStock) && fail == int32(totalRequests-initialStock) {
		fmt.Printf("PASS: Exactly %d checkouts succeeded, %d failed\n", initialStock, totalRequests-initialStock)
	} else {
		passed = false
		fmt.Printf("FAIL: Expected %d success/%d fail, got %d/%d\n",
			initialStock, totalRequests-initialStock, success, fail)
	}

	// Verify final stock
	item, err := catalog.GetItem(ctx, itemID)
	if err != nil {
		log.Fatalf("failed to read final stock: %v", err)
	}
	fmt.Printf("Final Stock: %d\n", item.Stock)

	if item.Stock == 0 {
		fmt.Println("PASS: Stock depleted to 0")
	} else {
		passed = false
		fmt.Printf("FAIL: Expected stock 0, got %d\n", item.Stock)
	}

	payments, err := catalog.ListPayments(ctx, domain.PaymentFilter{})
	if err != nil {
		log.Fatalf("failed to list payments: %v", err)
	}
	written := 0
	for _, p := range payments {
		if strings.HasPrefix(p.CustomerID, "customer-"+runID) {
			written++
		}
	}
	if written == int(success) {
		fmt.Printf("PASS: %d payment records written\n", written)
	} else {
		passed = false
		fmt.Printf("FAIL: Expected %d payment records, got %d\n", success, written)
	}

	if !passed {
		os.Exit(1)
	}
}

func customer(n int) string {
	return fmt.Sprintf("customer-%s-%d", runID, n)
}
