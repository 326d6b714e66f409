/**
 * @description
 * Operator tool for the booking service. It reads orders straight from the database and
 * can run a reclamation sweep once, outside the scheduler, after asking for confirmation.
 *
 * Usage:
 *   go run ./cmd/bookingctl orders list [-renter <id>] [-owner <id>] [-status PENDING] [-limit 50]
 *   go run ./cmd/bookingctl orders get <order-id>
 *   go run ./cmd/bookingctl sweep expire|occupancy [-yes]
 *
 * @dependencies
 * - Environment variables: DATABASE_URL, BUSINESS_TIMEZONE, UNPAID_ORDER_TTL_MINUTES
 */

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rentopia/booking-service/internal/config"
	"github.com/rentopia/booking-service/internal/domain"
	"github.com/rentopia/booking-service/internal/scheduler"
	"github.com/rentopia/booking-service/internal/store"
)

func usage() {
	fmt.Println("Usage:")
	fmt.Println("  bookingctl orders list [-renter <id>] [-owner <id>] [-status <status>] [-limit <n>]")
	fmt.Println("  bookingctl orders get <order-id>")
	fmt.Println("  bookingctl sweep expire|occupancy [-yes]")
}

func main() {
	if len(os.Args) < 3 {
		usage()
		os.Exit(1)
	}

	// Load environment variables from .env file if it exists
	_ = godotenv.Load("../.env")
	_ = godotenv.Load(".env")

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		log.Fatal("DATABASE_URL environment variable is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Invalid DATABASE_URL: %v", err)
	}
	poolConfig.MaxConns = 2
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer dbpool.Close()
	repository := store.NewPostgresRepository(dbpool)

	switch os.Args[1] + " " + os.Args[2] {
	case "orders list":
		err = listOrders(ctx, repository, os.Args[3:], os.Stdout)
	case "orders get":
		err = getOrder(ctx, repository, os.Args[3:], os.Stdout)
	case "sweep expire", "sweep occupancy":
		err = runSweep(ctx, repository, cfg, os.Args[2], os.Args[3:], os.Stdin, os.Stdout)
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("%s %s failed: %v", os.Args[1], os.Args[2], err)
	}
}

func listOrders(ctx context.Context, repo store.Reader, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("orders list", flag.ContinueOnError)
	renter := fs.String("renter", "", "renter user id")
	owner := fs.String("owner", "", "owner user id")
	status := fs.String("status", "", "order status")
	limit := fs.Int("limit", 50, "maximum number of orders")
	if err := fs.Parse(args); err != nil {
		return err
	}

	filter := domain.OrderFilter{Limit: *limit}
	if *renter != "" {
		id, err := uuid.Parse(*renter)
		if err != nil {
			return fmt.Errorf("invalid renter id: %w", err)
		}
		filter.RenterID = &id
	}
	if *owner != "" {
		id, err := uuid.Parse(*owner)
		if err != nil {
			return fmt.Errorf("invalid owner id: %w", err)
		}
		filter.OwnerID = &id
	}
	if *status != "" {
		s := domain.OrderStatus(strings.ToUpper(*status))
		if !s.Valid() {
			return fmt.Errorf("unknown status %q", *status)
		}
		filter.Status = &s
	}

	orders, err := repo.ListOrders(ctx, filter)
	if err != nil {
		return err
	}
	if len(orders) == 0 {
		fmt.Fprintln(out, "No orders found.")
		return nil
	}
	for _, o := range orders {
		payment := "-"
		if o.Payment != nil {
			payment = fmt.Sprintf("%s %s %s", o.Payment.TransactionID, o.Payment.Status, o.Payment.Amount.StringFixed(2))
		}
		fmt.Fprintf(out, "%s  %-9s  %s  item=%s  renter=%s  payment=%s\n", o.ID, o.Status, o.Range(), o.ItemID, o.RenterID, payment)
	}
	return nil
}

func getOrder(ctx context.Context, repo store.Reader, args []string, out io.Writer) error {
	if len(args) != 1 {
		return fmt.Errorf("expected exactly one order id")
	}
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid order id: %w", err)
	}
	order, err := repo.FindOrderByID(ctx, id)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(order)
}

func runSweep(ctx context.Context, repo store.Repository, cfg config.Config, which string, args []string, in io.Reader, out io.Writer) error {
	fs := flag.NewFlagSet("sweep", flag.ContinueOnError)
	yes := fs.Bool("yes", false, "skip the confirmation prompt")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if !*yes {
		fmt.Fprintf(out, "Run the %s sweep against the configured database now? (yes/no): ", which)
		answer, _ := bufio.NewReader(in).ReadString('\n')
		if strings.TrimSpace(answer) != "yes" {
			fmt.Fprintln(out, "Sweep cancelled.")
			return nil
		}
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	// Events are not published from the operator tool.
	jobs := scheduler.NewJobs(repo, nil, logger, scheduler.Options{
		Location:       cfg.Location(),
		UnpaidOrderTTL: cfg.UnpaidOrderTTL(),
		EventsExchange: cfg.EventsExchange,
	})

	var report interface{}
	var err error
	switch which {
	case "expire":
		report, err = jobs.ExpireUnpaidOrders(ctx)
	case "occupancy":
		report, err = jobs.ReconcileDailyOccupancy(ctx)
	default:
		return fmt.Errorf("unknown sweep %q", which)
	}
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
