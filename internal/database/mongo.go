package database

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"immotech/server/internal/models"
)

const (
	propertiesCollection   = "properties"
	transactionsCollection = "transactions"
	usersCollection        = "users"
)

// MongoStore keeps the marketplace collections in MongoDB.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
	logger *logrus.Logger
}

// NewMongoStore connects to uri and checks the connection with a ping.
func NewMongoStore(ctx context.Context, uri, database string, timeout time.Duration, logger *logrus.Logger) (*MongoStore, error) {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stdout)
	}

	opts := options.Client().ApplyURI(uri)
	if timeout > 0 {
		opts.SetTimeout(timeout)
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	logger.WithField("database", database).Info("Connected to MongoDB")
	return &MongoStore{client: client, db: client.Database(database), logger: logger}, nil
}

func (m *MongoStore) Close() error {
	return m.client.Disconnect(context.Background())
}

// RunMigrations creates the indexes the report and lookup queries rely on.
func (m *MongoStore) RunMigrations() error {
	ctx := context.Background()

	indexes := map[string][]mongo.IndexModel{
		propertiesCollection: {
			{Keys: bson.D{{Key: "location.city", Value: 1}}},
			{Keys: bson.D{{Key: "type", Value: 1}, {Key: "transaction_type", Value: 1}, {Key: "status", Value: 1}}},
			{Keys: bson.D{{Key: "created_by", Value: 1}, {Key: "created_at", Value: -1}}},
		},
		transactionsCollection: {
			{Keys: bson.D{{Key: "buyer_id", Value: 1}}},
			{Keys: bson.D{{Key: "seller_id", Value: 1}}},
			{Keys: bson.D{{Key: "payment_status", Value: 1}}},
		},
		usersCollection: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
	}

	for coll, idx := range indexes {
		if _, err := m.db.Collection(coll).Indexes().CreateMany(ctx, idx); err != nil {
			return fmt.Errorf("failed to create %s indexes: %w", coll, err)
		}
	}
	return nil
}

// Properties

type locationDoc struct {
	Address    string   `bson:"address"`
	City       string   `bson:"city"`
	PostalCode string   `bson:"postal_code"`
	Latitude   *float64 `bson:"latitude"`
	Longitude  *float64 `bson:"longitude"`
}

// storedLocationDoc tolerates coordinates saved as strings.
type storedLocationDoc struct {
	Address    string        `bson:"address"`
	City       string        `bson:"city"`
	PostalCode string        `bson:"postal_code"`
	Latitude   bson.RawValue `bson:"latitude"`
	Longitude  bson.RawValue `bson:"longitude"`
}

// propertyDoc decodes stored listings. Loosely typed legacy fields are kept
// raw and normalized by toModel.
type propertyDoc struct {
	ID               primitive.ObjectID `bson:"_id"`
	Title            string             `bson:"title"`
	Description      string             `bson:"description"`
	Type             string             `bson:"type"`
	TransactionType  string             `bson:"transaction_type"`
	Price            bson.RawValue      `bson:"price"`
	OriginalPrice    bson.RawValue      `bson:"original_price"`
	Surface          bson.RawValue      `bson:"surface"`
	Rooms            bson.RawValue      `bson:"rooms"`
	Location         storedLocationDoc  `bson:"location"`
	Status           string             `bson:"status"`
	ValidationStatus string             `bson:"validation_status"`
	ValidatedBy      bson.RawValue      `bson:"validated_by"`
	ValidatedAt      bson.RawValue      `bson:"validated_at"`
	CreatedBy        bson.RawValue      `bson:"created_by"`
	AgentID          bson.RawValue      `bson:"agent_id"`
	CreatedAt        bson.RawValue      `bson:"created_at"`
}

func (d *propertyDoc) toModel() models.Property {
	p := models.Property{
		ID:               d.ID.Hex(),
		Title:            d.Title,
		Description:      d.Description,
		Type:             d.Type,
		TransactionType:  d.TransactionType,
		Location: models.Location{
			Address:    d.Location.Address,
			City:       d.Location.City,
			PostalCode: d.Location.PostalCode,
		},
		Status:           d.Status,
		ValidationStatus: d.ValidationStatus,
		CreatedBy:        rawID(d.CreatedBy),
		ValidatedBy:      rawIDPtr(d.ValidatedBy),
		AgentID:          rawIDPtr(d.AgentID),
		ValidatedAt:      rawTime(d.ValidatedAt),
		CreatedAt:        rawTime(d.CreatedAt),
	}
	p.Price, _ = rawFloat(d.Price)
	p.Surface, _ = rawFloat(d.Surface)
	if rooms, ok := rawFloat(d.Rooms); ok {
		p.Rooms = int(rooms)
	}
	if original, ok := rawFloat(d.OriginalPrice); ok {
		p.OriginalPrice = &original
	}
	if lat, ok := rawFloat(d.Location.Latitude); ok {
		p.Location.Latitude = &lat
	}
	if lon, ok := rawFloat(d.Location.Longitude); ok {
		p.Location.Longitude = &lon
	}
	return p
}

func propertySet(p *models.Property) bson.D {
	return bson.D{
		{Key: "title", Value: p.Title},
		{Key: "description", Value: p.Description},
		{Key: "type", Value: p.Type},
		{Key: "transaction_type", Value: p.TransactionType},
		{Key: "price", Value: p.Price},
		{Key: "original_price", Value: p.OriginalPrice},
		{Key: "surface", Value: p.Surface},
		{Key: "rooms", Value: p.Rooms},
		{Key: "location", Value: locationDoc(p.Location)},
		{Key: "status", Value: p.Status},
		{Key: "validation_status", Value: p.ValidationStatus},
		{Key: "validated_by", Value: p.ValidatedBy},
		{Key: "validated_at", Value: p.ValidatedAt},
		{Key: "agent_id", Value: p.AgentID},
	}
}

// propertyMatch translates a filter into a $match document.
func propertyMatch(f models.PropertyFilter) bson.D {
	match := bson.D{}
	if f.City != "" {
		pattern := regexp.QuoteMeta(f.City)
		if f.CityExact {
			pattern = "^" + pattern + "$"
		}
		match = append(match, bson.E{Key: "location.city", Value: primitive.Regex{Pattern: pattern, Options: "i"}})
	}
	if f.PropertyType != "" {
		match = append(match, bson.E{Key: "type", Value: f.PropertyType})
	}
	if f.TransactionType != "" {
		match = append(match, bson.E{Key: "transaction_type", Value: f.TransactionType})
	}
	if f.Status != "" {
		match = append(match, bson.E{Key: "status", Value: f.Status})
	}
	if f.CreatedBy != "" {
		match = append(match, bson.E{Key: "created_by", Value: bson.M{"$in": idForms(f.CreatedBy)}})
	}
	if f.CreatedSince != nil {
		match = append(match, bson.E{Key: "created_at", Value: bson.M{"$gte": *f.CreatedSince}})
	}
	return match
}

func (m *MongoStore) properties() *mongo.Collection {
	return m.db.Collection(propertiesCollection)
}

func (m *MongoStore) InsertProperty(ctx context.Context, p *models.Property) error {
	oid, err := toOID(p.ID)
	if err != nil {
		return err
	}
	doc := append(bson.D{{Key: "_id", Value: oid}}, propertySet(p)...)
	doc = append(doc,
		bson.E{Key: "created_by", Value: p.CreatedBy},
		bson.E{Key: "created_at", Value: p.CreatedAt},
	)
	if _, err := m.properties().InsertOne(ctx, doc); err != nil {
		return backendErr("insert property", err)
	}
	return nil
}

func (m *MongoStore) GetProperty(ctx context.Context, id string) (*models.Property, error) {
	oid, err := toOID(id)
	if err != nil {
		return nil, err
	}
	var doc propertyDoc
	err = m.properties().FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("get property %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, backendErr("get property", err)
	}
	p := doc.toModel()
	return &p, nil
}

func (m *MongoStore) UpdateProperty(ctx context.Context, p *models.Property) error {
	oid, err := toOID(p.ID)
	if err != nil {
		return err
	}
	res, err := m.properties().UpdateOne(ctx, bson.M{"_id": oid}, bson.D{{Key: "$set", Value: propertySet(p)}})
	if err != nil {
		return backendErr("update property", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("update property %s: %w", p.ID, models.ErrNotFound)
	}
	return nil
}

func (m *MongoStore) DeleteProperty(ctx context.Context, id string) error {
	oid, err := toOID(id)
	if err != nil {
		return err
	}
	res, err := m.properties().DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return backendErr("delete property", err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("delete property %s: %w", id, models.ErrNotFound)
	}
	return nil
}

func (m *MongoStore) FindProperties(ctx context.Context, f models.PropertyFilter) ([]models.Property, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	if f.Limit > 0 {
		opts.SetLimit(int64(f.Limit))
	}

	cur, err := m.properties().Find(ctx, propertyMatch(f), opts)
	if err != nil {
		return nil, backendErr("query properties", err)
	}
	docs, err := decodeAll[propertyDoc](ctx, cur, m.logger, propertiesCollection)
	if err != nil {
		return nil, err
	}

	props := make([]models.Property, 0, len(docs))
	for i := range docs {
		props = append(props, docs[i].toModel())
	}
	return props, nil
}

// UpsertProperties replaces each listing by id in a single unordered bulk write.
func (m *MongoStore) UpsertProperties(ctx context.Context, props []*models.Property) error {
	if len(props) == 0 {
		return nil
	}
	writes := make([]mongo.WriteModel, 0, len(props))
	for _, p := range props {
		oid, err := toOID(p.ID)
		if err != nil {
			return err
		}
		doc := append(bson.D{{Key: "_id", Value: oid}}, propertySet(p)...)
		doc = append(doc,
			bson.E{Key: "created_by", Value: p.CreatedBy},
			bson.E{Key: "created_at", Value: p.CreatedAt},
		)
		writes = append(writes, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": oid}).
			SetReplacement(doc).
			SetUpsert(true))
	}
	if _, err := m.properties().BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false)); err != nil {
		return backendErr("upsert properties", err)
	}
	return nil
}

type priceTrendRow struct {
	ID struct {
		Year  int `bson:"year"`
		Month int `bson:"month"`
	} `bson:"_id"`
	AveragePrice *float64 `bson:"average_price"`
	Count        int      `bson:"count"`
}

// priceTrendPipeline groups listings created since the cutoff by calendar
// month, oldest first.
func priceTrendPipeline(f models.PropertyFilter, since time.Time) mongo.Pipeline {
	match := propertyMatch(f)
	match = append(match, bson.E{Key: "created_at", Value: bson.M{"$gte": since}})

	return mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: bson.D{
				{Key: "year", Value: bson.M{"$year": "$created_at"}},
				{Key: "month", Value: bson.M{"$month": "$created_at"}},
			}},
			{Key: "average_price", Value: bson.M{"$avg": "$price"}},
			{Key: "count", Value: bson.M{"$sum": 1}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "_id.year", Value: 1}, {Key: "_id.month", Value: 1}}}},
	}
}

func (m *MongoStore) PriceTrend(ctx context.Context, f models.PropertyFilter, since time.Time) ([]models.PricePoint, error) {
	cur, err := m.properties().Aggregate(ctx, priceTrendPipeline(f, since))
	if err != nil {
		return nil, backendErr("aggregate price trend", err)
	}
	rows, err := decodeAll[priceTrendRow](ctx, cur, m.logger, "price trend")
	if err != nil {
		return nil, err
	}

	points := make([]models.PricePoint, 0, len(rows))
	for _, r := range rows {
		if r.AveragePrice == nil {
			m.logger.WithFields(logrus.Fields{
				"year":  r.ID.Year,
				"month": r.ID.Month,
			}).Warn("Skipping price trend bucket without numeric prices")
			continue
		}
		points = append(points, models.PricePoint{
			Period:       PeriodLabel(r.ID.Year, r.ID.Month),
			Year:         r.ID.Year,
			Month:        r.ID.Month,
			AveragePrice: *r.AveragePrice,
			Count:        r.Count,
		})
	}
	return points, nil
}

type typeBreakdownRow struct {
	Type        string   `bson:"_id"`
	Count       int      `bson:"count"`
	AvgPrice    *float64 `bson:"avg_price"`
	AvgSurface  *float64 `bson:"avg_surface"`
	PricePerSqm *float64 `bson:"price_per_sqm"`
}

// typeBreakdownPipeline groups listings by type. The price per square metre
// only divides numeric prices by positive numeric surfaces, so legacy string
// values drop out of the average instead of failing the aggregation.
func typeBreakdownPipeline(city string) mongo.Pipeline {
	pipeline := mongo.Pipeline{}
	if city != "" {
		pipeline = append(pipeline, bson.D{{Key: "$match", Value: propertyMatch(models.PropertyFilter{City: city, CityExact: true})}})
	}
	pipeline = append(pipeline,
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$type"},
			{Key: "count", Value: bson.M{"$sum": 1}},
			{Key: "avg_price", Value: bson.M{"$avg": "$price"}},
			{Key: "avg_surface", Value: bson.M{"$avg": "$surface"}},
			{Key: "price_per_sqm", Value: bson.M{"$avg": bson.M{"$cond": bson.A{
				bson.M{"$and": bson.A{
					bson.M{"$isNumber": "$price"},
					bson.M{"$isNumber": "$surface"},
					bson.M{"$gt": bson.A{"$surface", 0}},
				}},
				bson.M{"$divide": bson.A{"$price", "$surface"}},
				nil,
			}}}},
		}}},
		bson.D{{Key: "$sort", Value: bson.D{{Key: "count", Value: -1}, {Key: "_id", Value: 1}}}},
	)
	return pipeline
}

func (m *MongoStore) TypeBreakdown(ctx context.Context, city string) ([]models.TypeBreakdown, error) {
	cur, err := m.properties().Aggregate(ctx, typeBreakdownPipeline(city))
	if err != nil {
		return nil, backendErr("aggregate market analysis", err)
	}
	rows, err := decodeAll[typeBreakdownRow](ctx, cur, m.logger, "market analysis")
	if err != nil {
		return nil, err
	}

	out := make([]models.TypeBreakdown, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.TypeBreakdown{
			Type:           r.Type,
			Count:          r.Count,
			AveragePrice:   deref(r.AvgPrice),
			AverageSurface: deref(r.AvgSurface),
			PricePerSqm:    deref(r.PricePerSqm),
		})
	}
	return out, nil
}

// Transactions

type transactionDoc struct {
	ID             primitive.ObjectID `bson:"_id"`
	PropertyID     bson.RawValue      `bson:"property_id"`
	BuyerID        bson.RawValue      `bson:"buyer_id"`
	SellerID       bson.RawValue      `bson:"seller_id"`
	Type           string             `bson:"type"`
	Amount         bson.RawValue      `bson:"amount"`
	Status         string             `bson:"status"`
	PaymentStatus  string             `bson:"payment_status"`
	PaymentDetails bson.RawValue      `bson:"payment_details"`
	PaymentDate    bson.RawValue      `bson:"payment_date"`
	BookingStatus  *string            `bson:"booking_status"`
	BookingDetails bson.RawValue      `bson:"booking_details"`
	BookingDate    bson.RawValue      `bson:"booking_date"`
	ContractPath   *string            `bson:"contract_path"`
	CreatedAt      bson.RawValue      `bson:"created_at"`
}

func (m *MongoStore) toTransaction(d *transactionDoc) models.Transaction {
	t := models.Transaction{
		ID:            d.ID.Hex(),
		PropertyID:    rawID(d.PropertyID),
		BuyerID:       rawID(d.BuyerID),
		SellerID:      rawID(d.SellerID),
		Type:          d.Type,
		Status:        d.Status,
		PaymentStatus: d.PaymentStatus,
		PaymentDate:   rawTime(d.PaymentDate),
		BookingStatus: d.BookingStatus,
		BookingDate:   rawTime(d.BookingDate),
		ContractPath:  d.ContractPath,
	}
	t.Amount, _ = rawFloat(d.Amount)
	if created := rawTime(d.CreatedAt); created != nil {
		t.CreatedAt = *created
	}

	if d.PaymentDetails.Type == bson.TypeEmbeddedDocument {
		var details models.PaymentDetails
		if err := d.PaymentDetails.Unmarshal(&details); err != nil {
			m.logger.WithError(err).WithField("transaction_id", t.ID).Warn("Ignoring unreadable payment details")
		} else {
			t.PaymentDetails = &details
		}
	}
	if d.BookingDetails.Type == bson.TypeEmbeddedDocument {
		var details models.BookingDetails
		if err := d.BookingDetails.Unmarshal(&details); err != nil {
			m.logger.WithError(err).WithField("transaction_id", t.ID).Warn("Ignoring unreadable booking details")
		} else {
			t.BookingDetails = &details
		}
	}
	return t
}

func (m *MongoStore) transactions() *mongo.Collection {
	return m.db.Collection(transactionsCollection)
}

func (m *MongoStore) InsertTransaction(ctx context.Context, t *models.Transaction) error {
	ids := make([]primitive.ObjectID, 0, 4)
	for _, id := range []string{t.ID, t.PropertyID, t.BuyerID, t.SellerID} {
		oid, err := toOID(id)
		if err != nil {
			return err
		}
		ids = append(ids, oid)
	}

	doc := bson.D{
		{Key: "_id", Value: ids[0]},
		{Key: "property_id", Value: ids[1]},
		{Key: "buyer_id", Value: ids[2]},
		{Key: "seller_id", Value: ids[3]},
		{Key: "type", Value: t.Type},
		{Key: "amount", Value: t.Amount},
		{Key: "status", Value: t.Status},
		{Key: "payment_status", Value: t.PaymentStatus},
		{Key: "booking_status", Value: t.BookingStatus},
		{Key: "contract_path", Value: t.ContractPath},
		{Key: "created_at", Value: t.CreatedAt},
	}
	if _, err := m.transactions().InsertOne(ctx, doc); err != nil {
		return backendErr("insert transaction", err)
	}
	return nil
}

func (m *MongoStore) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	oid, err := toOID(id)
	if err != nil {
		return nil, err
	}
	var doc transactionDoc
	err = m.transactions().FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("get transaction %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, backendErr("get transaction", err)
	}
	t := m.toTransaction(&doc)
	return &t, nil
}

func (m *MongoStore) findTransactions(ctx context.Context, filter interface{}, opts *options.FindOptions) ([]models.Transaction, error) {
	cur, err := m.transactions().Find(ctx, filter, opts)
	if err != nil {
		return nil, backendErr("query transactions", err)
	}
	docs, err := decodeAll[transactionDoc](ctx, cur, m.logger, transactionsCollection)
	if err != nil {
		return nil, err
	}
	txs := make([]models.Transaction, 0, len(docs))
	for i := range docs {
		txs = append(txs, m.toTransaction(&docs[i]))
	}
	return txs, nil
}

func (m *MongoStore) FindTransactionsByUser(ctx context.Context, userID string) ([]models.Transaction, error) {
	forms := idForms(userID)
	filter := bson.M{"$or": bson.A{
		bson.M{"buyer_id": bson.M{"$in": forms}},
		bson.M{"seller_id": bson.M{"$in": forms}},
	}}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	return m.findTransactions(ctx, filter, opts)
}

func (m *MongoStore) CompletePayment(ctx context.Context, id string, details models.PaymentDetails, at time.Time) (bool, error) {
	oid, err := toOID(id)
	if err != nil {
		return false, err
	}
	res, err := m.transactions().UpdateOne(ctx,
		bson.M{"_id": oid, "payment_status": models.PaymentPending},
		bson.M{"$set": bson.M{
			"payment_status":  models.PaymentCompleted,
			"payment_details": details,
			"payment_date":    at,
		}},
	)
	if err != nil {
		return false, backendErr("complete payment", err)
	}
	if res.MatchedCount > 0 {
		return true, nil
	}

	n, err := m.transactions().CountDocuments(ctx, bson.M{"_id": oid})
	if err != nil {
		return false, backendErr("complete payment", err)
	}
	if n == 0 {
		return false, fmt.Errorf("complete payment %s: %w", id, models.ErrNotFound)
	}
	return false, nil
}

func (m *MongoStore) updateTransaction(ctx context.Context, op, id string, set bson.M) error {
	oid, err := toOID(id)
	if err != nil {
		return err
	}
	res, err := m.transactions().UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": set})
	if err != nil {
		return backendErr(op, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%s %s: %w", op, id, models.ErrNotFound)
	}
	return nil
}

func (m *MongoStore) ConfirmBooking(ctx context.Context, id string, details models.BookingDetails, at time.Time) error {
	return m.updateTransaction(ctx, "confirm booking", id, bson.M{
		"booking_status":  models.BookingConfirmed,
		"booking_details": details,
		"booking_date":    at,
	})
}

func (m *MongoStore) SetContractPath(ctx context.Context, id, path string) error {
	return m.updateTransaction(ctx, "store contract path", id, bson.M{"contract_path": path})
}

func (m *MongoStore) UpdateTransactionStatus(ctx context.Context, id, status string) error {
	return m.updateTransaction(ctx, "update transaction status", id, bson.M{"status": status})
}

func (m *MongoStore) FindTransactionsMissingContract(ctx context.Context, limit int) ([]models.Transaction, error) {
	filter := bson.M{
		"payment_status": models.PaymentCompleted,
		"$or": bson.A{
			bson.M{"contract_path": nil},
			bson.M{"contract_path": ""},
		},
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return m.findTransactions(ctx, filter, opts)
}

// Users

type userDoc struct {
	ID        primitive.ObjectID `bson:"_id"`
	FirstName string             `bson:"first_name"`
	LastName  string             `bson:"last_name"`
	Email     string             `bson:"email"`
	Role      string             `bson:"role"`
	CreatedAt bson.RawValue      `bson:"created_at"`
}

func (d *userDoc) toModel() models.User {
	u := models.User{
		ID:        d.ID.Hex(),
		FirstName: d.FirstName,
		LastName:  d.LastName,
		Email:     d.Email,
		Role:      d.Role,
	}
	if created := rawTime(d.CreatedAt); created != nil {
		u.CreatedAt = *created
	}
	return u
}

func (m *MongoStore) users() *mongo.Collection {
	return m.db.Collection(usersCollection)
}

func (m *MongoStore) InsertUser(ctx context.Context, u *models.User) error {
	oid, err := toOID(u.ID)
	if err != nil {
		return err
	}
	_, err = m.users().InsertOne(ctx, bson.D{
		{Key: "_id", Value: oid},
		{Key: "first_name", Value: u.FirstName},
		{Key: "last_name", Value: u.LastName},
		{Key: "email", Value: u.Email},
		{Key: "role", Value: u.Role},
		{Key: "created_at", Value: u.CreatedAt},
	})
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("insert user %s: %w", u.Email, models.ErrConflict)
	}
	if err != nil {
		return backendErr("insert user", err)
	}
	return nil
}

func (m *MongoStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	oid, err := toOID(id)
	if err != nil {
		return nil, err
	}
	var doc userDoc
	err = m.users().FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("get user %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, backendErr("get user", err)
	}
	u := doc.toModel()
	return &u, nil
}

func (m *MongoStore) ListUsers(ctx context.Context) ([]models.User, error) {
	cur, err := m.users().Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, backendErr("list users", err)
	}
	docs, err := decodeAll[userDoc](ctx, cur, m.logger, usersCollection)
	if err != nil {
		return nil, err
	}
	users := make([]models.User, 0, len(docs))
	for i := range docs {
		users = append(users, docs[i].toModel())
	}
	return users, nil
}

func (m *MongoStore) UpdateUserRole(ctx context.Context, id, role string) error {
	oid, err := toOID(id)
	if err != nil {
		return err
	}
	res, err := m.users().UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": bson.M{"role": role}})
	if err != nil {
		return backendErr("update user role", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("update user role %s: %w", id, models.ErrNotFound)
	}
	return nil
}

// Raw value helpers

// decodeAll drains cur into T values. A document that does not decode is
// logged and skipped so one malformed record cannot fail the whole read.
func decodeAll[T any](ctx context.Context, cur *mongo.Cursor, logger *logrus.Logger, source string) ([]T, error) {
	defer cur.Close(ctx)

	var out []T
	for cur.Next(ctx) {
		var doc T
		if err := cur.Decode(&doc); err != nil {
			logger.WithError(err).WithFields(logrus.Fields{
				"source": source,
				"id":     cur.Current.Lookup("_id").String(),
			}).Warn("Skipping unreadable document")
			continue
		}
		out = append(out, doc)
	}
	if err := cur.Err(); err != nil {
		return nil, backendErr("decode "+source, err)
	}
	return out, nil
}

func toOID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("%w: malformed id %q", models.ErrInvalidInput, id)
	}
	return oid, nil
}

// idForms lists the encodings a reference may have been stored under.
func idForms(id string) bson.A {
	forms := bson.A{id}
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		forms = append(forms, oid)
	}
	return forms
}

func rawID(v bson.RawValue) string {
	switch v.Type {
	case bson.TypeObjectID:
		return v.ObjectID().Hex()
	case bson.TypeString:
		return v.StringValue()
	}
	return ""
}

func rawIDPtr(v bson.RawValue) *string {
	if id := rawID(v); id != "" {
		return &id
	}
	return nil
}

// rawFloat coerces numeric and numeric-string values. ok is false for
// missing or non-numeric values.
func rawFloat(v bson.RawValue) (float64, bool) {
	switch v.Type {
	case bson.TypeDouble:
		return v.Double(), true
	case bson.TypeInt32:
		return float64(v.Int32()), true
	case bson.TypeInt64:
		return float64(v.Int64()), true
	case bson.TypeDecimal128:
		f, err := strconv.ParseFloat(v.Decimal128().String(), 64)
		return f, err == nil
	case bson.TypeString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.StringValue()), 64)
		return f, err == nil
	}
	return 0, false
}

// rawTime accepts native dates and the two textual layouts legacy documents
// were written with. Anything else yields nil.
func rawTime(v bson.RawValue) *time.Time {
	switch v.Type {
	case bson.TypeDateTime:
		t := v.Time().UTC()
		return &t
	case bson.TypeString:
		t, err := models.ParseTimestamp(v.StringValue())
		if err != nil {
			return nil
		}
		return &t
	}
	return nil
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
