package mongodb

import (
	"context"
	"fmt"
	"slices"

	"github.com/charmbracelet/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoClient struct {
	client *mongo.Client
	db     *mongo.Database
}

var modelInitFuncs []func(ctx context.Context, client *MongoClient) error

// AddModelInitFunc registers a hook run by InitMongoDB once connected.
func AddModelInitFunc(fn func(ctx context.Context, client *MongoClient) error) {
	modelInitFuncs = append(modelInitFuncs, fn)
}

func InitMongoDB(ctx context.Context, uri, dbName string) (*MongoClient, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	mc := &MongoClient{client: client, db: client.Database(dbName)}
	for _, fn := range modelInitFuncs {
		if err := fn(ctx, mc); err != nil {
			_ = client.Disconnect(ctx)
			return nil, err
		}
	}
	log.Info("mongodb connected", "db", dbName)
	return mc, nil
}

func (mc *MongoClient) GetCollection(name string) (*mongo.Collection, error) {
	if mc == nil || mc.db == nil {
		return nil, fmt.Errorf("mongo client not initialised")
	}
	return mc.db.Collection(name), nil
}

func (mc *MongoClient) Close(ctx context.Context) error {
	return mc.client.Disconnect(ctx)
}

type IndexInfo struct {
	Name   string `bson:"name"`
	Key    bson.D `bson:"key"`
	Unique bool   `bson:"unique,omitempty"`
}

func GetCollectionIndexs(ctx context.Context, collection *mongo.Collection) ([]IndexInfo, error) {
	cursor, err := collection.Indexes().List(ctx)
	if err != nil {
		return nil, err
	}
	var indexes []IndexInfo
	if err := cursor.All(ctx, &indexes); err != nil {
		return nil, err
	}
	return indexes, nil
}

// CheckCollectionCompoundIndexExists matches key fields in order and the unique flag.
func CheckCollectionCompoundIndexExists(indexes []IndexInfo, fields []string, unique bool) bool {
	for _, idx := range indexes {
		if idx.Unique != unique || len(idx.Key) != len(fields) {
			continue
		}
		keys := make([]string, 0, len(idx.Key))
		for _, e := range idx.Key {
			keys = append(keys, e.Key)
		}
		if slices.Equal(keys, fields) {
			return true
		}
	}
	return false
}

// EnsureIndex creates an ascending index over fields unless an equivalent one exists.
func EnsureIndex(ctx context.Context, collection *mongo.Collection, fields []string, unique bool) error {
	indexes, err := GetCollectionIndexs(ctx, collection)
	if err != nil {
		log.Error("mongodb EnsureIndex GetCollectionIndexs", "collection", collection.Name(), "err", err)
		return err
	}
	if CheckCollectionCompoundIndexExists(indexes, fields, unique) {
		return nil
	}

	keys := bson.D{}
	for _, f := range fields {
		keys = append(keys, bson.E{Key: f, Value: 1})
	}
	_, err = collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    keys,
		Options: options.Index().SetUnique(unique),
	})
	if err != nil {
		log.Error("mongodb EnsureIndex CreateOne", "collection", collection.Name(), "err", err)
		return err
	}
	return nil
}
