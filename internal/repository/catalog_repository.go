package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/staybook/service-booking/internal/domain/booking"
	"github.com/staybook/service-booking/pkg/domain"
)

// CatalogRepository reads the local copy of the room catalog and party
// directory. It implements booking.RoomCatalog and booking.PartyDirectory.
type CatalogRepository struct {
	db *gorm.DB
}

// NewCatalogRepository creates a catalog repository.
func NewCatalogRepository(db *gorm.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// GetRoom returns a room with its current nightly price.
func (r *CatalogRepository) GetRoom(ctx context.Context, roomID uuid.UUID) (*booking.Room, error) {
	var model RoomModel
	if err := r.db.WithContext(ctx).Where("id = ?", roomID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewNotFoundError("Room", roomID.String())
		}
		return nil, err
	}
	return roomToDomain(&model), nil
}

// HotelOwner returns the owner of a hotel and the owner's merchant account, if any.
func (r *CatalogRepository) HotelOwner(ctx context.Context, hotelID uuid.UUID) (*booking.HotelOwner, error) {
	var hotel HotelModel
	if err := r.db.WithContext(ctx).Where("id = ?", hotelID).First(&hotel).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewNotFoundError("Hotel", hotelID.String())
		}
		return nil, err
	}

	account, err := r.MerchantAccountID(ctx, hotel.OwnerID)
	if err != nil {
		return nil, err
	}
	return &booking.HotelOwner{OwnerID: hotel.OwnerID, MerchantAccountID: account}, nil
}

// MerchantAccountID returns the connected account of an owner, or "" when the
// owner has not onboarded.
func (r *CatalogRepository) MerchantAccountID(ctx context.Context, ownerID uuid.UUID) (string, error) {
	var model OwnerAccountModel
	err := r.db.WithContext(ctx).Where("owner_id = ?", ownerID).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return model.MerchantAccountID, nil
}

// UpsertHotel writes a hotel row. The catalog sync and tests use it.
func (r *CatalogRepository) UpsertHotel(ctx context.Context, id, ownerID uuid.UUID, name string) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&HotelModel{ID: id, OwnerID: ownerID, Name: name}).Error
}

// UpsertRoom writes a room row.
func (r *CatalogRepository) UpsertRoom(ctx context.Context, room booking.Room) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&RoomModel{
			ID:                 room.ID,
			HotelID:            room.HotelID,
			PricePerNightCents: room.PricePerNightCents,
			Places:             room.Places,
		}).Error
}

// UpsertMerchantAccount links an owner to a connected account.
func (r *CatalogRepository) UpsertMerchantAccount(ctx context.Context, ownerID uuid.UUID, accountID string) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&OwnerAccountModel{OwnerID: ownerID, MerchantAccountID: accountID}).Error
}
