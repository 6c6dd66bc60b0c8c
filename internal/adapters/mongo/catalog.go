package mongo

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/transit-ticketing/internal/domain"
	"github.com/robertarktes/transit-ticketing/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// TripCatalog reads the trip documents maintained by the CRUD service. The
// ticketing core never writes them, except for test seeding via CreateTrip.
type TripCatalog struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewTripCatalog(db *mongo.Database, logger observability.Logger) *TripCatalog {
	return &TripCatalog{
		coll:   db.Collection("trips"),
		logger: logger,
	}
}

type TripDoc struct {
	ID            uuid.UUID `bson:"_id"`
	CompanyID     uuid.UUID `bson:"company_id"`
	Route         RouteDoc  `bson:"route"`
	Date          time.Time `bson:"date"`
	DepartureTime string    `bson:"departure_time"`
	Price         int64     `bson:"price"`
	Capacity      int       `bson:"capacity"`
	Active        bool      `bson:"active"`
	CreatedAt     time.Time `bson:"created_at"`
	UpdatedAt     time.Time `bson:"updated_at"`
}

// RouteDoc is denormalized onto the trip by the CRUD layer so issuance does
// not need a second lookup.
type RouteDoc struct {
	ID          uuid.UUID `bson:"_id"`
	Origin      string    `bson:"origin"`
	Destination string    `bson:"destination"`
	Active      bool      `bson:"active"`
}

func (d TripDoc) toDomain() *domain.Trip {
	return &domain.Trip{
		ID:            d.ID,
		RouteID:       d.Route.ID,
		CompanyID:     d.CompanyID,
		Origin:        d.Route.Origin,
		Destination:   d.Route.Destination,
		Date:          d.Date,
		DepartureTime: d.DepartureTime,
		Price:         d.Price,
		Capacity:      d.Capacity,
		Active:        d.Active,
		RouteActive:   d.Route.Active,
	}
}

func (c *TripCatalog) GetTrip(ctx context.Context, id uuid.UUID) (*domain.Trip, error) {
	var doc TripDoc
	err := c.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		c.logger.WithError(err).Error("failed to get trip")
		return nil, errors.Wrap(err, "get trip")
	}
	return doc.toDomain(), nil
}

func (c *TripCatalog) CreateTrip(ctx context.Context, doc TripDoc) error {
	doc.CreatedAt = time.Now()
	doc.UpdatedAt = time.Now()
	_, err := c.coll.InsertOne(ctx, doc)
	if err != nil {
		c.logger.WithError(err).Error("failed to create trip")
		return errors.Wrap(err, "create trip")
	}
	return nil
}

func (c *TripCatalog) SetTripActive(ctx context.Context, id uuid.UUID, active bool) error {
	_, err := c.coll.UpdateOne(
		ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"active": active, "updated_at": time.Now()}},
	)
	if err != nil {
		c.logger.WithError(err).Error("failed to update trip")
		return errors.Wrap(err, "update trip")
	}
	return nil
}
