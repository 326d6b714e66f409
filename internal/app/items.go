package app

import (
	"context"
	"errors"
	"log"

	"github.com/google/uuid"
	"github.com/rentopia/booking-service/internal/availability"
	"github.com/rentopia/booking-service/internal/domain"
	"github.com/rentopia/booking-service/internal/store"
)

// SetItemStatus applies an owner or admin status change through the state machine.
func (s *Service) SetItemStatus(ctx context.Context, actor domain.Actor, itemID uuid.UUID, next domain.ItemStatus) (*domain.Item, error) {
	return s.mutateItem(ctx, actor, itemID, func(item *domain.Item) (bool, error) {
		return availability.SetStatus(item, next, actor)
	})
}

// SetItemListing toggles whether an item is offered for rent.
func (s *Service) SetItemListing(ctx context.Context, actor domain.Actor, itemID uuid.UUID, listed bool) (*domain.Item, error) {
	return s.mutateItem(ctx, actor, itemID, func(item *domain.Item) (bool, error) {
		return availability.SetListed(item, listed)
	})
}

func (s *Service) mutateItem(ctx context.Context, actor domain.Actor, itemID uuid.UUID, apply func(item *domain.Item) (bool, error)) (*domain.Item, error) {
	var updated *domain.Item
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		item, err := tx.LockItem(ctx, itemID)
		if err != nil {
			if errors.Is(err, store.ErrItemNotFound) {
				return notFoundError("item not found", err)
			}
			return err
		}
		if !actor.IsAdmin() && item.OwnerID != actor.UserID {
			return forbiddenError("only the owner or an administrator can change this item")
		}
		changed, err := apply(item)
		if err != nil {
			return err
		}
		updated = item
		if !changed {
			return nil
		}
		return tx.SaveItemState(ctx, item)
	})
	if err != nil {
		return nil, err
	}
	log.Printf("level=info component=booking_service msg=\"item state updated\" item_id=%s status=%s listed=%t actor_id=%s", updated.ID, updated.Status, updated.Listed, actor.UserID)
	return updated, nil
}
