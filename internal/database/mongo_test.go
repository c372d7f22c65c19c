package database

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"immotech/server/internal/models"
)

// rawOf encodes v the way the driver hands a single field to a RawValue.
func rawOf(t *testing.T, v interface{}) bson.RawValue {
	t.Helper()
	doc, err := bson.Marshal(bson.D{{Key: "v", Value: v}})
	require.NoError(t, err)
	return bson.Raw(doc).Lookup("v")
}

func TestRawFloat(t *testing.T) {
	dec, err := primitive.ParseDecimal128("1234.5")
	require.NoError(t, err)

	tests := []struct {
		name   string
		value  interface{}
		want   float64
		wantOK bool
	}{
		{"double", 12.5, 12.5, true},
		{"int32", int32(42), 42, true},
		{"int64", int64(250000), 250000, true},
		{"decimal", dec, 1234.5, true},
		{"numeric string", " 250000 ", 250000, true},
		{"text", "on request", 0, false},
		{"null", nil, 0, false},
		{"bool", true, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := rawFloat(rawOf(t, tt.value))
			assert.Equal(t, tt.wantOK, ok)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}

	_, ok := rawFloat(bson.RawValue{})
	assert.False(t, ok, "missing field")
}

func TestRawTime(t *testing.T) {
	want := time.Date(2024, 3, 15, 10, 20, 30, 0, time.UTC)

	tests := []struct {
		name  string
		value interface{}
		want  *time.Time
	}{
		{"native date", primitive.NewDateTimeFromTime(want), &want},
		{"space layout", "2024-03-15 10:20:30", &want},
		{"iso layout", "2024-03-15T10:20:30Z", &want},
		{"fractional iso layout", "2024-03-15T10:20:30.000000Z", &want},
		{"unparseable", "15/03/2024", nil},
		{"number", int64(1710498030), nil},
		{"null", nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := rawTime(rawOf(t, tt.value))
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.True(t, tt.want.Equal(*got), "got %v", got)
			assert.Equal(t, time.UTC, got.Location())
		})
	}
}

func TestRawID(t *testing.T) {
	oid := primitive.NewObjectID()

	assert.Equal(t, oid.Hex(), rawID(rawOf(t, oid)))
	assert.Equal(t, oid.Hex(), rawID(rawOf(t, oid.Hex())))
	assert.Equal(t, "", rawID(rawOf(t, int32(7))))
	assert.Equal(t, "", rawID(bson.RawValue{}))

	assert.Nil(t, rawIDPtr(rawOf(t, nil)))
	got := rawIDPtr(rawOf(t, oid))
	require.NotNil(t, got)
	assert.Equal(t, oid.Hex(), *got)
}

func TestIDForms(t *testing.T) {
	oid := primitive.NewObjectID()
	assert.Equal(t, bson.A{oid.Hex(), oid}, idForms(oid.Hex()))
	assert.Equal(t, bson.A{"legacy-user"}, idForms("legacy-user"))
}

func TestToOID(t *testing.T) {
	oid := primitive.NewObjectID()
	got, err := toOID(oid.Hex())
	require.NoError(t, err)
	assert.Equal(t, oid, got)

	_, err = toOID("nope")
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestPropertyMatch(t *testing.T) {
	owner := primitive.NewObjectID()
	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		filter models.PropertyFilter
		want   bson.D
	}{
		{
			name:   "empty",
			filter: models.PropertyFilter{},
			want:   bson.D{},
		},
		{
			name:   "city metacharacters are quoted",
			filter: models.PropertyFilter{City: "St. (Paris)"},
			want: bson.D{
				{Key: "location.city", Value: primitive.Regex{Pattern: `St\. \(Paris\)`, Options: "i"}},
			},
		},
		{
			name:   "exact city is anchored",
			filter: models.PropertyFilter{City: "Lyon", CityExact: true},
			want: bson.D{
				{Key: "location.city", Value: primitive.Regex{Pattern: "^Lyon$", Options: "i"}},
			},
		},
		{
			name: "all fields",
			filter: models.PropertyFilter{
				PropertyType:    "apartment",
				TransactionType: models.TypeSale,
				Status:          models.StatusAvailable,
				CreatedBy:       owner.Hex(),
				CreatedSince:    &since,
			},
			want: bson.D{
				{Key: "type", Value: "apartment"},
				{Key: "transaction_type", Value: models.TypeSale},
				{Key: "status", Value: models.StatusAvailable},
				{Key: "created_by", Value: bson.M{"$in": bson.A{owner.Hex(), owner}}},
				{Key: "created_at", Value: bson.M{"$gte": since}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, propertyMatch(tt.filter))
		})
	}
}

func TestPriceTrendPipeline_SortsByYearThenMonth(t *testing.T) {
	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	pipeline := priceTrendPipeline(models.PropertyFilter{City: "Paris"}, since)
	require.Len(t, pipeline, 3)

	match := pipeline[0][0].Value.(bson.D)
	assert.Equal(t, bson.E{Key: "created_at", Value: bson.M{"$gte": since}}, match[len(match)-1])

	assert.Equal(t,
		bson.D{{Key: "$sort", Value: bson.D{{Key: "_id.year", Value: 1}, {Key: "_id.month", Value: 1}}}},
		pipeline[2])
}

func TestTypeBreakdownPipeline(t *testing.T) {
	assert.Len(t, typeBreakdownPipeline(""), 2)

	pipeline := typeBreakdownPipeline("Paris")
	require.Len(t, pipeline, 3)
	assert.Equal(t, "$match", pipeline[0][0].Key)

	group, err := bson.MarshalExtJSON(pipeline[1], false, false)
	require.NoError(t, err)
	assert.Contains(t, string(group), `{"$isNumber":"$price"}`)
	assert.Contains(t, string(group), `{"$isNumber":"$surface"}`)
}

func legacyProperty(id, owner primitive.ObjectID) bson.D {
	return bson.D{
		{Key: "_id", Value: id},
		{Key: "title", Value: "Loft"},
		{Key: "type", Value: "apartment"},
		{Key: "transaction_type", Value: models.TypeSale},
		{Key: "price", Value: "250000"},
		{Key: "original_price", Value: int32(270000)},
		{Key: "surface", Value: int32(50)},
		{Key: "rooms", Value: 2.0},
		{Key: "location", Value: bson.D{
			{Key: "city", Value: "Paris"},
			{Key: "postal_code", Value: "75011"},
			{Key: "latitude", Value: "48.8580"},
			{Key: "longitude", Value: 2.3790},
		}},
		{Key: "status", Value: models.StatusAvailable},
		{Key: "created_by", Value: owner},
		{Key: "agent_id", Value: owner.Hex()},
		{Key: "created_at", Value: "2024-03-15 10:20:30"},
	}
}

func TestPropertyDoc_ToModelNormalizesLegacyFields(t *testing.T) {
	id, owner := primitive.NewObjectID(), primitive.NewObjectID()
	raw, err := bson.Marshal(legacyProperty(id, owner))
	require.NoError(t, err)

	var doc propertyDoc
	require.NoError(t, bson.Unmarshal(raw, &doc))
	p := doc.toModel()

	assert.Equal(t, id.Hex(), p.ID)
	assert.Equal(t, owner.Hex(), p.CreatedBy)
	require.NotNil(t, p.AgentID)
	assert.Equal(t, owner.Hex(), *p.AgentID)
	assert.Equal(t, 250000.0, p.Price)
	require.NotNil(t, p.OriginalPrice)
	assert.Equal(t, 270000.0, *p.OriginalPrice)
	assert.Equal(t, 50.0, p.Surface)
	assert.Equal(t, 2, p.Rooms)
	assert.Equal(t, "75011", p.Location.PostalCode)
	require.True(t, p.Location.HasCoordinates())
	assert.InDelta(t, 48.858, *p.Location.Latitude, 1e-9)
	assert.InDelta(t, 2.379, *p.Location.Longitude, 1e-9)
	require.NotNil(t, p.CreatedAt)
	assert.Equal(t, time.Date(2024, 3, 15, 10, 20, 30, 0, time.UTC), *p.CreatedAt)
	assert.Nil(t, p.ValidatedAt)
}

func TestToTransaction(t *testing.T) {
	id, buyer, seller := primitive.NewObjectID(), primitive.NewObjectID(), primitive.NewObjectID()
	store := &MongoStore{logger: logrus.New()}

	t.Run("legacy encodings", func(t *testing.T) {
		raw, err := bson.Marshal(bson.D{
			{Key: "_id", Value: id},
			{Key: "property_id", Value: primitive.NewObjectID()},
			{Key: "buyer_id", Value: buyer.Hex()},
			{Key: "seller_id", Value: seller},
			{Key: "type", Value: models.TypeSale},
			{Key: "amount", Value: int64(300000)},
			{Key: "status", Value: models.StatusPending},
			{Key: "payment_status", Value: models.PaymentCompleted},
			{Key: "payment_details", Value: bson.D{{Key: "card_last4", Value: "4242"}}},
			{Key: "payment_date", Value: primitive.NewDateTimeFromTime(time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC))},
			{Key: "created_at", Value: "2024-03-15T10:20:30Z"},
		})
		require.NoError(t, err)

		var doc transactionDoc
		require.NoError(t, bson.Unmarshal(raw, &doc))
		tx := store.toTransaction(&doc)

		assert.Equal(t, id.Hex(), tx.ID)
		assert.Equal(t, buyer.Hex(), tx.BuyerID)
		assert.Equal(t, seller.Hex(), tx.SellerID)
		assert.Equal(t, 300000.0, tx.Amount)
		assert.True(t, tx.IsParty(buyer.Hex()))
		require.NotNil(t, tx.PaymentDetails)
		assert.Equal(t, "4242", tx.PaymentDetails.CardLast4)
		require.NotNil(t, tx.PaymentDate)
		assert.Nil(t, tx.BookingDetails)
		assert.Equal(t, time.Date(2024, 3, 15, 10, 20, 30, 0, time.UTC), tx.CreatedAt)
	})

	t.Run("unreadable details are dropped", func(t *testing.T) {
		raw, err := bson.Marshal(bson.D{
			{Key: "_id", Value: id},
			{Key: "payment_details", Value: bson.D{{Key: "card_last4", Value: int32(4242)}}},
			{Key: "booking_details", Value: "confirmed"},
		})
		require.NoError(t, err)

		var doc transactionDoc
		require.NoError(t, bson.Unmarshal(raw, &doc))
		tx := store.toTransaction(&doc)

		assert.Nil(t, tx.PaymentDetails)
		assert.Nil(t, tx.BookingDetails)
		assert.True(t, tx.CreatedAt.IsZero())
	})
}

func TestDecodeAll_SkipsUnreadableDocuments(t *testing.T) {
	owner := primitive.NewObjectID()
	good1, good2 := primitive.NewObjectID(), primitive.NewObjectID()
	bad := bson.D{
		{Key: "_id", Value: primitive.NewObjectID()},
		{Key: "title", Value: int32(42)},
	}

	cur, err := mongo.NewCursorFromDocuments([]interface{}{
		legacyProperty(good1, owner),
		bad,
		legacyProperty(good2, owner),
	}, nil, nil)
	require.NoError(t, err)

	logger, hook := logtest.NewNullLogger()
	docs, err := decodeAll[propertyDoc](context.Background(), cur, logger, propertiesCollection)
	require.NoError(t, err)

	require.Len(t, docs, 2)
	assert.Equal(t, good1, docs[0].ID)
	assert.Equal(t, good2, docs[1].ID)

	require.Len(t, hook.Entries, 1)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, propertiesCollection, hook.LastEntry().Data["source"])
}

func newMockStore(mt *mtest.T) *MongoStore {
	logger, _ := logtest.NewNullLogger()
	return &MongoStore{client: mt.Client, db: mt.DB, logger: logger}
}

func TestMongoStore_MockDeployment(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	ns := "immotech." + propertiesCollection

	mt.Run("find properties skips a malformed listing", func(mt *mtest.T) {
		owner := primitive.NewObjectID()
		good := primitive.NewObjectID()
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch,
			bson.D{{Key: "_id", Value: primitive.NewObjectID()}, {Key: "status", Value: bson.A{"sold"}}},
			legacyProperty(good, owner),
		))

		props, err := newMockStore(mt).FindProperties(context.Background(), models.PropertyFilter{City: "Paris"})
		require.NoError(mt, err)
		require.Len(mt, props, 1)
		assert.Equal(mt, good.Hex(), props[0].ID)
		assert.Equal(mt, 250000.0, props[0].Price)
	})

	mt.Run("complete payment matched", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: int32(1)},
			bson.E{Key: "nModified", Value: int32(1)},
		))

		ok, err := newMockStore(mt).CompletePayment(context.Background(), primitive.NewObjectID().Hex(),
			models.PaymentDetails{CardLast4: "4242"}, time.Now().UTC())
		require.NoError(mt, err)
		assert.True(mt, ok)
	})

	mt.Run("complete payment already paid", func(mt *mtest.T) {
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: int32(0)}, bson.E{Key: "nModified", Value: int32(0)}),
			mtest.CreateCursorResponse(0, "immotech."+transactionsCollection, mtest.FirstBatch,
				bson.D{{Key: "_id", Value: 1}, {Key: "n", Value: int32(1)}}),
		)

		ok, err := newMockStore(mt).CompletePayment(context.Background(), primitive.NewObjectID().Hex(),
			models.PaymentDetails{}, time.Now().UTC())
		require.NoError(mt, err)
		assert.False(mt, ok)
	})

	mt.Run("complete payment unknown transaction", func(mt *mtest.T) {
		mt.AddMockResponses(
			mtest.CreateSuccessResponse(bson.E{Key: "n", Value: int32(0)}, bson.E{Key: "nModified", Value: int32(0)}),
			mtest.CreateCursorResponse(0, "immotech."+transactionsCollection, mtest.FirstBatch),
		)

		_, err := newMockStore(mt).CompletePayment(context.Background(), primitive.NewObjectID().Hex(),
			models.PaymentDetails{}, time.Now().UTC())
		assert.ErrorIs(mt, err, models.ErrNotFound)
	})

	mt.Run("complete payment malformed id", func(mt *mtest.T) {
		_, err := newMockStore(mt).CompletePayment(context.Background(), "42", models.PaymentDetails{}, time.Now().UTC())
		assert.ErrorIs(mt, err, models.ErrInvalidInput)
	})
}
