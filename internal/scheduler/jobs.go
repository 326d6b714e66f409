/**
 * @description
 * Reclamation jobs: expire unpaid orders that have held calendar dates for too long, and
 * re-derive item occupancy once the business day rolls over.
 *
 * @dependencies
 * - internal/availability: every status change goes through the state machine.
 * - internal/store: both sweeps run in a single repository transaction.
 * - pkg/rabbitmq: order.expired events are published after commit.
 */
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rentopia/booking-service/internal/availability"
	"github.com/rentopia/booking-service/internal/calendar"
	"github.com/rentopia/booking-service/internal/domain"
	"github.com/rentopia/booking-service/internal/store"
	"github.com/rentopia/booking-service/pkg/rabbitmq"
)

const (
	defaultUnpaidOrderTTL = 30 * time.Minute
	expireJobTimeout      = 50 * time.Second
	occupancyJobTimeout   = 10 * time.Minute
	publishTimeout        = 5 * time.Second
)

// Options carries the tunables of the reclamation jobs.
type Options struct {
	Location       *time.Location
	UnpaidOrderTTL time.Duration
	EventsExchange string
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	repo      store.Repository
	publisher rabbitmq.Publisher
	logger    *slog.Logger
	loc       *time.Location
	ttl       time.Duration
	exchange  string
	now       func() time.Time
}

// NewJobs creates a new Jobs runner.
func NewJobs(repo store.Repository, publisher rabbitmq.Publisher, logger *slog.Logger, opts Options) *Jobs {
	if publisher == nil {
		publisher = &rabbitmq.EventProducerFallback{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	ttl := opts.UnpaidOrderTTL
	if ttl <= 0 {
		ttl = defaultUnpaidOrderTTL
	}
	exchange := opts.EventsExchange
	if exchange == "" {
		exchange = "rentopia.events"
	}
	return &Jobs{
		repo:      repo,
		publisher: publisher,
		logger:    logger,
		loc:       loc,
		ttl:       ttl,
		exchange:  exchange,
		now:       time.Now,
	}
}

// SetClock replaces the wall clock.
func (j *Jobs) SetClock(now func() time.Time) {
	if now != nil {
		j.now = now
	}
}

// ExpiryReport summarizes one unpaid-order sweep.
type ExpiryReport struct {
	OrdersExpired     int   `json:"ordersExpired"`
	PaymentsDeleted   int64 `json:"paymentsDeleted"`
	IntervalsReleased int   `json:"intervalsReleased"`
	ItemsFreed        int   `json:"itemsFreed"`
}

// ExpireUnpaidOrders deletes PENDING orders older than the TTL together with their UNPAID
// payments and frees the calendar intervals they were holding. The whole sweep is one
// transaction. Orders locked by an in-flight payment callback are skipped and picked up by
// the next run.
func (j *Jobs) ExpireUnpaidOrders(ctx context.Context) (ExpiryReport, error) {
	now := j.now()
	cutoff := now.Add(-j.ttl)
	today := calendar.DayOf(now, j.loc)

	var (
		report  ExpiryReport
		expired []domain.Order
	)
	err := j.repo.WithTx(ctx, func(tx store.Tx) error {
		report = ExpiryReport{}
		orders, err := tx.LockStalePendingOrders(ctx, cutoff)
		if err != nil {
			return err
		}
		expired = orders
		if len(orders) == 0 {
			return nil
		}

		ids := make([]uuid.UUID, 0, len(orders))
		byItem := make(map[uuid.UUID][]domain.Order)
		for _, order := range orders {
			ids = append(ids, order.ID)
			byItem[order.ItemID] = append(byItem[order.ItemID], order)
		}

		deleted, err := tx.DeleteUnpaidPayments(ctx, ids)
		if err != nil {
			return err
		}
		report.PaymentsDeleted = deleted

		itemIDs := make([]uuid.UUID, 0, len(byItem))
		for id := range byItem {
			itemIDs = append(itemIDs, id)
		}
		sort.Slice(itemIDs, func(a, b int) bool { return itemIDs[a].String() < itemIDs[b].String() })

		for _, itemID := range itemIDs {
			released, freed, err := j.releaseExpired(ctx, tx, itemID, byItem[itemID], today)
			if err != nil {
				return err
			}
			report.IntervalsReleased += released
			if freed {
				report.ItemsFreed++
			}
		}

		if _, err := tx.DeleteOrders(ctx, ids); err != nil {
			return err
		}
		report.OrdersExpired = len(orders)
		return nil
	})
	if err != nil {
		return ExpiryReport{}, err
	}

	for _, order := range expired {
		j.publish(domain.RoutingOrderExpired, domain.OrderExpiredEvent{
			OrderID:    order.ID,
			ItemID:     order.ItemID,
			RenterID:   order.RenterID,
			StartDate:  order.StartDate,
			EndDate:    order.EndDate,
			OccurredAt: now.UTC(),
		})
	}
	return report, nil
}

func (j *Jobs) releaseExpired(ctx context.Context, tx store.Tx, itemID uuid.UUID, orders []domain.Order, today calendar.Day) (int, bool, error) {
	item, err := tx.LockItem(ctx, itemID)
	if err != nil {
		if errors.Is(err, store.ErrItemNotFound) {
			j.logger.Warn("item of expired order no longer exists", "item_id", itemID)
			return 0, false, nil
		}
		return 0, false, err
	}

	released := 0
	for _, order := range orders {
		bookings, removed := item.Bookings.Remove(order.Range())
		if !removed {
			j.logger.Warn("calendar interval of expired order already gone", "order_id", order.ID, "item_id", itemID, "range", order.Range().String())
			continue
		}
		item.Bookings = bookings
		released++
	}
	if released == 0 {
		return 0, false, nil
	}

	freed := false
	for _, order := range orders {
		if availability.OnHoldReleased(item, order.Range(), today) {
			freed = true
		}
	}
	if err := tx.SaveItemState(ctx, item); err != nil {
		return 0, false, err
	}
	return released, freed, nil
}

// OccupancyReport summarizes one daily re-derivation.
type OccupancyReport struct {
	ItemsScanned    int `json:"itemsScanned"`
	ItemsUpdated    int `json:"itemsUpdated"`
	IntervalsPruned int `json:"intervalsPruned"`
}

// ReconcileDailyOccupancy drops intervals that ended before today and aligns OCCUPIED with
// today's calendar coverage. Administrative holds are left untouched.
func (j *Jobs) ReconcileDailyOccupancy(ctx context.Context) (OccupancyReport, error) {
	today := calendar.DayOf(j.now(), j.loc)

	var report OccupancyReport
	err := j.repo.WithTx(ctx, func(tx store.Tx) error {
		report = OccupancyReport{}
		items, err := tx.LockItemsForOccupancy(ctx)
		if err != nil {
			return err
		}
		report.ItemsScanned = len(items)
		for i := range items {
			item := &items[i]
			bookings, pruned := item.Bookings.PruneBefore(today)
			item.Bookings = bookings
			changed := availability.Rederive(item, today)
			if pruned == 0 && !changed {
				continue
			}
			if err := tx.SaveItemState(ctx, item); err != nil {
				return err
			}
			report.IntervalsPruned += pruned
			report.ItemsUpdated++
		}
		return nil
	})
	if err != nil {
		return OccupancyReport{}, err
	}
	return report, nil
}

func (j *Jobs) publish(routingKey string, body interface{}) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := j.publisher.Publish(ctx, j.exchange, routingKey, body); err != nil {
		j.logger.Warn("event publish failed", "routing_key", routingKey, "error", err)
	}
}

// runExpireUnpaidOrders is the cron entry for the unpaid-order sweep.
func (j *Jobs) runExpireUnpaidOrders(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, expireJobTimeout)
	defer cancel()

	report, err := j.ExpireUnpaidOrders(ctx)
	if err != nil {
		j.logger.Error("unpaid order sweep failed", "error", err)
		return
	}
	if report.OrdersExpired == 0 {
		j.logger.Debug("no unpaid orders to expire")
		return
	}
	j.logger.Info("unpaid order sweep finished",
		"orders_expired", report.OrdersExpired,
		"payments_deleted", report.PaymentsDeleted,
		"intervals_released", report.IntervalsReleased,
		"items_freed", report.ItemsFreed,
	)
}

// runReconcileDailyOccupancy is the cron entry for the daily occupancy job.
func (j *Jobs) runReconcileDailyOccupancy(ctx context.Context) {
	j.logger.Info("starting daily occupancy job")
	ctx, cancel := context.WithTimeout(ctx, occupancyJobTimeout)
	defer cancel()

	report, err := j.ReconcileDailyOccupancy(ctx)
	if err != nil {
		j.logger.Error("daily occupancy job failed", "error", err)
		return
	}
	j.logger.Info("daily occupancy job finished",
		"items_scanned", report.ItemsScanned,
		"items_updated", report.ItemsUpdated,
		"intervals_pruned", report.IntervalsPruned,
	)
}
