package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/anchel/voucher-seckill/model"
	"github.com/charmbracelet/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const ResultCollection = "seckill_result"

type EntitySecKillResult struct {
	ID primitive.ObjectID `json:"id,omitempty" bson:"_id,omitempty"`

	OrderID   int64  `json:"order_id" bson:"order_id"`
	VoucherID int64  `json:"voucher_id" bson:"voucher_id"`
	UserID    int64  `json:"user_id" bson:"user_id"`
	Outcome   string `json:"outcome" bson:"outcome"`
	StreamID  string `json:"stream_id" bson:"stream_id"`

	AdmittedAt time.Time `json:"admitted_at" bson:"admitted_at"`
	SettledAt  time.Time `json:"settled_at" bson:"settled_at"`
	CreatedAt  time.Time `json:"created_at" bson:"created_at"`
}

func init() {
	AddModelInitFunc(func(ctx context.Context, client *MongoClient) error {
		log.Info("init mongodb model seckill_result")

		collection, err := client.GetCollection(ResultCollection)
		if err != nil {
			log.Error("Error mongoClient.GetCollection")
			return err
		}
		if err := EnsureIndex(ctx, collection, []string{"order_id"}, true); err != nil {
			return err
		}
		return EnsureIndex(ctx, collection, []string{"voucher_id", "user_id"}, false)
	})
}

// ResultJournal keeps one document per order id with the ticket's terminal outcome.
type ResultJournal struct {
	coll *mongo.Collection
}

func NewResultJournal(client *MongoClient) (*ResultJournal, error) {
	coll, err := client.GetCollection(ResultCollection)
	if err != nil {
		return nil, err
	}
	return &ResultJournal{coll: coll}, nil
}

func (j *ResultJournal) Name() string { return "mongodb" }

// Settled upserts by order id, so redelivered tickets overwrite their own record.
func (j *ResultJournal) Settled(ctx context.Context, s model.Settlement) error {
	t := s.Ticket
	update := bson.M{
		"$set": bson.M{
			"voucher_id":  t.VoucherID,
			"user_id":     t.UserID,
			"outcome":     s.Outcome.String(),
			"stream_id":   s.StreamID,
			"admitted_at": time.UnixMilli(t.AdmittedAt).UTC(),
			"settled_at":  s.SettledAt,
		},
		"$setOnInsert": bson.M{
			"created_at": time.Now().UTC(),
		},
	}
	_, err := j.coll.UpdateOne(ctx, bson.M{"order_id": t.OrderID}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("journal upsert order %d: %w", t.OrderID, err)
	}
	return nil
}

// FindOutcome reports the recorded outcome of an order, found=false when none is recorded.
func (j *ResultJournal) FindOutcome(ctx context.Context, orderID int64) (model.Outcome, bool, error) {
	var doc EntitySecKillResult
	err := j.coll.FindOne(ctx, bson.M{"order_id": orderID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return model.OutcomeUnknown, false, nil
		}
		return model.OutcomeUnknown, false, fmt.Errorf("journal find order %d: %w", orderID, err)
	}
	return model.ParseOutcome(doc.Outcome), true, nil
}
