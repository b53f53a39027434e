package mongodb

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/anchel/voucher-seckill/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestCheckCollectionCompoundIndexExists(t *testing.T) {
	indexes := []IndexInfo{
		{Name: "_id_", Key: bson.D{{Key: "_id", Value: 1}}},
		{Name: "order_id_1", Key: bson.D{{Key: "order_id", Value: 1}}, Unique: true},
		{Name: "voucher_id_1_user_id_1", Key: bson.D{{Key: "voucher_id", Value: 1}, {Key: "user_id", Value: 1}}},
	}

	assert.True(t, CheckCollectionCompoundIndexExists(indexes, []string{"order_id"}, true))
	assert.False(t, CheckCollectionCompoundIndexExists(indexes, []string{"order_id"}, false))
	assert.True(t, CheckCollectionCompoundIndexExists(indexes, []string{"voucher_id", "user_id"}, false))
	assert.False(t, CheckCollectionCompoundIndexExists(indexes, []string{"user_id", "voucher_id"}, false))
	assert.False(t, CheckCollectionCompoundIndexExists(nil, []string{"order_id"}, true))
}

func TestResultJournal(t *testing.T) {
	uri := os.Getenv("TEST_MONGO_URI")
	if uri == "" {
		t.Skip("skipping MongoDB integration tests: TEST_MONGO_URI not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	mc, err := InitMongoDB(ctx, uri, "seckill_test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = mc.Close(context.Background()) })

	coll, err := mc.GetCollection(ResultCollection)
	require.NoError(t, err)
	_, err = coll.DeleteMany(ctx, bson.M{})
	require.NoError(t, err)

	j, err := NewResultJournal(mc)
	require.NoError(t, err)

	s := model.Settlement{
		Ticket:    model.Ticket{OrderID: 77, UserID: 1, VoucherID: 2, AdmittedAt: time.Now().UnixMilli()},
		Outcome:   model.SoldOut,
		StreamID:  "1-0",
		SettledAt: time.Now().UTC(),
	}
	require.NoError(t, j.Settled(ctx, s))
	s.Outcome = model.Persisted
	require.NoError(t, j.Settled(ctx, s))

	n, err := coll.CountDocuments(ctx, bson.M{"order_id": 77})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	out, found, err := j.FindOutcome(ctx, 77)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, model.Persisted, out)

	_, found, err = j.FindOutcome(ctx, 78)
	require.NoError(t, err)
	assert.False(t, found)
}
