// storefront is a one-shot demo client for the sync layer: it logs in
// (or restores the stored session), runs the requested operations and
// exits. Useful for poking a storefront deployment from a terminal.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"

	"github.com/packlane/storefront-sync/internal/api"
	"github.com/packlane/storefront-sync/internal/session"
	"github.com/packlane/storefront-sync/internal/store"
	"github.com/packlane/storefront-sync/pkg/config"
	"github.com/packlane/storefront-sync/pkg/logger"
	"github.com/packlane/storefront-sync/pkg/metrics"
)

func main() {
	var (
		email         = flag.String("login", "", "sign in with this email (password read from STOREFRONT_PASSWORD)")
		addItem       = flag.String("add", "", "add the product with this id to the cart")
		search        = flag.String("search", "", "search the catalog")
		notifications = flag.Bool("notifications", false, "print the notification feed")
		checkout      = flag.String("checkout", "", "place an order with this payment method")
		logout        = flag.Bool("logout", false, "tear the session down before exiting")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	logg := logger.New(logger.Options{ServiceName: "storefront"})

	_ = godotenv.Load()

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: "storefront",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	durable, err := openStore(ctx, cfg.Store)
	requireResource(ctx, logg, "durable store", err)
	defer func() {
		if err := durable.Close(); err != nil {
			logg.Error(ctx, "failed to close durable store", err)
		}
	}()

	manager, err := session.NewManager(session.Params{
		Config:  *cfg,
		Durable: durable,
		Logger:  logg,
		Metrics: metrics.NewSyncMetrics(nil),
	})
	requireResource(ctx, logg, "session manager", err)

	if *email != "" {
		err = manager.Login(ctx, *email, os.Getenv("STOREFRONT_PASSWORD"))
	} else {
		err = manager.Restore(ctx)
	}
	requireResource(ctx, logg, "session", err)

	current, err := manager.Current()
	requireResource(ctx, logg, "session", err)
	logg.Info(logg.WithUserID(ctx, current.Profile.UserID.String()), "session established")

	if *search != "" {
		for _, entry := range manager.Catalog().Search(ctx, *search) {
			fmt.Printf("%s\t%s\t%s\n", entry.ID, entry.Name, entry.Price)
		}
	}

	if *addItem != "" {
		entry, found := findEntry(ctx, manager, *addItem)
		if !found {
			logg.Error(ctx, "product not in catalog", fmt.Errorf("id %q", *addItem))
			os.Exit(1)
		}
		requireResource(ctx, logg, "cart", manager.Cart().AddLine(entry, api.CartLineVariant{}))
		flushCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err = manager.Cart().Flush(flushCtx)
		cancel()
		requireResource(ctx, logg, "cart reconcile", err)
		fmt.Printf("cart subtotal: %s\n", manager.Cart().Subtotal())
	}

	if *notifications {
		records, unread := manager.Notifications().Snapshot()
		fmt.Printf("%d notifications, %d unread\n", len(records), unread)
		for _, record := range records {
			fmt.Printf("%s\t%s\n", record.CreatedAt.Format(time.RFC3339), record.Message)
		}
	}

	if *checkout != "" {
		confirmation, err := manager.Checkout(ctx, *checkout)
		requireResource(ctx, logg, "checkout", err)
		fmt.Printf("order %s placed, total %s\n", confirmation.OrderID, confirmation.Total)
	}

	if *logout {
		if err := manager.Logout(ctx); err != nil {
			logg.Error(ctx, "logout incomplete", err)
			os.Exit(1)
		}
		logg.Info(ctx, "session cleared")
	}
}

func findEntry(ctx context.Context, manager *session.Manager, id string) (api.CatalogEntry, bool) {
	for _, entry := range manager.Catalog().FetchAll(ctx) {
		if entry.ID == id {
			return entry, true
		}
	}
	return api.CatalogEntry{}, false
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.NormalizedDriver() {
	case config.StoreDriverSQLite:
		return store.NewSQLite(cfg.SQLitePath)
	case config.StoreDriverRedis:
		return store.NewRedis(ctx, cfg)
	case config.StoreDriverMemory:
		return store.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
