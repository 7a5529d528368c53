package internal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"evcs/internal/config"
	"evcs/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	collectionLog           = "sys_log"
	collectionUserTags      = "user_tags"
	collectionChargePoints  = "charge_points"
	collectionConnectors    = "connectors"
	collectionTransactions  = "transactions"
	collectionSubscriptions = "subscriptions"
	collectionErrors        = "errors"
	collectionCounters      = "counters"

	transactionSequence = "transaction_id"
	logWriteTimeout     = 5 * time.Second
)

// MongoDB implements the station directory, session ledger and balance store
type MongoDB struct {
	client   *mongo.Client
	database *mongo.Database
}

func NewMongoClient(ctx context.Context, conf *config.Config) (*MongoDB, error) {
	if !conf.Mongo.Enabled {
		return nil, nil
	}
	connectionUri := fmt.Sprintf("mongodb://%s:%s", conf.Mongo.Host, conf.Mongo.Port)
	clientOptions := options.Client().ApplyURI(connectionUri)
	if conf.Mongo.User != "" {
		clientOptions.SetAuth(options.Credential{
			Username:   conf.Mongo.User,
			Password:   conf.Mongo.Password,
			AuthSource: conf.Mongo.Database,
		})
	}
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("mongodb connect: %w", err)
	}
	if err = client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongodb ping: %w", err)
	}
	db := &MongoDB{
		client:   client,
		database: client.Database(conf.Mongo.Database),
	}
	if err = db.createIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return db, nil
}

func (m *MongoDB) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

func (m *MongoDB) createIndexes(ctx context.Context) error {
	unique := options.Index().SetUnique(true)
	indexes := map[string][]mongo.IndexModel{
		collectionChargePoints: {
			{Keys: bson.D{{"charge_point_id", 1}}, Options: unique},
		},
		collectionConnectors: {
			{Keys: bson.D{{"charge_point_id", 1}, {"connector_id", 1}}, Options: unique},
		},
		collectionTransactions: {
			{Keys: bson.D{{"transaction_id", 1}}, Options: unique},
			{Keys: bson.D{{"charge_point_id", 1}, {"connector_id", 1}, {"is_finished", 1}}},
		},
		collectionUserTags: {
			{Keys: bson.D{{"id_tag", 1}}, Options: unique},
		},
	}
	for name, indexModels := range indexes {
		if _, err := m.database.Collection(name).Indexes().CreateMany(ctx, indexModels); err != nil {
			return fmt.Errorf("create indexes on %s: %w", name, err)
		}
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	return err
}

func (m *MongoDB) WriteLogMessage(message *FeatureLogMessage) error {
	ctx, cancel := context.WithTimeout(context.Background(), logWriteTimeout)
	defer cancel()
	_, err := m.database.Collection(collectionLog).InsertOne(ctx, message)
	return err
}

func (m *MongoDB) GetChargePoint(ctx context.Context, id string) (*models.ChargePoint, error) {
	filter := bson.D{{"charge_point_id", id}}
	var chargePoint models.ChargePoint
	err := m.database.Collection(collectionChargePoints).FindOne(ctx, filter).Decode(&chargePoint)
	if err != nil {
		return nil, notFound(err)
	}
	return &chargePoint, nil
}

func (m *MongoDB) GetChargePoints(ctx context.Context) ([]*models.ChargePoint, error) {
	opts := options.Find().SetSort(bson.D{{"charge_point_id", 1}})
	cursor, err := m.database.Collection(collectionChargePoints).Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, err
	}
	var chargePoints []*models.ChargePoint
	if err = cursor.All(ctx, &chargePoints); err != nil {
		return nil, err
	}
	return chargePoints, nil
}

// AddChargePoint provisions a charge point, replacing registration status and prices of an existing one
func (m *MongoDB) AddChargePoint(ctx context.Context, chargePoint *models.ChargePoint) error {
	filter := bson.D{{"charge_point_id", chargePoint.Id}}
	update := bson.D{
		{"$set", bson.D{
			{"registration_status", chargePoint.RegistrationStatus},
			{"title", chargePoint.Title},
			{"description", chargePoint.Description},
			{"prices", chargePoint.Prices},
		}},
		{"$setOnInsert", bson.D{{"charge_point_id", chargePoint.Id}}},
	}
	_, err := m.database.Collection(collectionChargePoints).UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return err
}

func (m *MongoDB) updateChargePoint(ctx context.Context, id string, fields bson.D) error {
	filter := bson.D{{"charge_point_id", id}}
	result, err := m.database.Collection(collectionChargePoints).UpdateOne(ctx, filter, bson.D{{"$set", fields}})
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (m *MongoDB) UpdateBootInfo(ctx context.Context, id string, info models.BootInfo, heartbeat time.Time) error {
	return m.updateChargePoint(ctx, id, bson.D{
		{"vendor", info.Vendor},
		{"model", info.Model},
		{"serial_number", info.SerialNumber},
		{"charge_box_serial_number", info.ChargeBoxSerialNumber},
		{"firmware_version", info.FirmwareVersion},
		{"iccid", info.Iccid},
		{"imsi", info.Imsi},
		{"meter_type", info.MeterType},
		{"meter_serial_number", info.MeterSerialNumber},
		{"last_heartbeat", heartbeat},
	})
}

func (m *MongoDB) UpdateHeartbeat(ctx context.Context, id string, heartbeat time.Time) error {
	return m.updateChargePoint(ctx, id, bson.D{{"last_heartbeat", heartbeat}})
}

func (m *MongoDB) UpdateFirmwareStatus(ctx context.Context, id string, status string) error {
	return m.updateChargePoint(ctx, id, bson.D{{"firmware_status", status}})
}

func (m *MongoDB) UpdateDiagnosticsStatus(ctx context.Context, id string, status string) error {
	return m.updateChargePoint(ctx, id, bson.D{{"diagnostics_status", status}})
}

func (m *MongoDB) UpdateConnector(ctx context.Context, connector *models.Connector) error {
	filter := bson.D{{"charge_point_id", connector.ChargePointId}, {"connector_id", connector.Id}}
	update := bson.M{"$set": connector}
	_, err := m.database.Collection(collectionConnectors).UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return err
}

func (m *MongoDB) GetConnector(ctx context.Context, chargePointId string, connectorId int) (*models.Connector, error) {
	filter := bson.D{{"charge_point_id", chargePointId}, {"connector_id", connectorId}}
	var connector models.Connector
	err := m.database.Collection(collectionConnectors).FindOne(ctx, filter).Decode(&connector)
	if err != nil {
		return nil, notFound(err)
	}
	return &connector, nil
}

func (m *MongoDB) nextSequence(ctx context.Context, name string) (int, error) {
	filter := bson.D{{"_id", name}}
	update := bson.D{{"$inc", bson.D{{"seq", 1}}}}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var counter struct {
		Seq int `bson:"seq"`
	}
	err := m.database.Collection(collectionCounters).FindOneAndUpdate(ctx, filter, update, opts).Decode(&counter)
	if err != nil {
		return 0, fmt.Errorf("next %s: %w", name, err)
	}
	return counter.Seq, nil
}

func (m *MongoDB) AddTransaction(ctx context.Context, transaction *models.Transaction) (int, error) {
	id, err := m.nextSequence(ctx, transactionSequence)
	if err != nil {
		return 0, err
	}
	transaction.Id = id
	if transaction.MeterValues == nil {
		// meter values are appended with $push, which needs an array
		transaction.MeterValues = []models.TransactionMeter{}
	}
	if _, err = m.database.Collection(collectionTransactions).InsertOne(ctx, transaction); err != nil {
		return 0, err
	}
	return id, nil
}

func (m *MongoDB) GetTransaction(ctx context.Context, id int) (*models.Transaction, error) {
	filter := bson.D{{"transaction_id", id}}
	var transaction models.Transaction
	err := m.database.Collection(collectionTransactions).FindOne(ctx, filter).Decode(&transaction)
	if err != nil {
		return nil, notFound(err)
	}
	return &transaction, nil
}

func (m *MongoDB) CloseTransaction(ctx context.Context, id int, stop models.TransactionStop) (*models.Transaction, error) {
	filter := bson.D{{"transaction_id", id}, {"is_finished", false}}
	update := bson.D{{"$set", bson.D{
		{"is_finished", true},
		{"meter_stop", stop.MeterStop},
		{"time_stop", stop.TimeStop},
		{"reason", stop.Reason},
		{"stop_actor", stop.StopActor},
	}}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var transaction models.Transaction
	err := m.database.Collection(collectionTransactions).FindOneAndUpdate(ctx, filter, update, opts).Decode(&transaction)
	if err == nil {
		return &transaction, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, err
	}
	existing, err := m.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	return existing, ErrTransactionClosed
}

func (m *MongoDB) AddMeterValues(ctx context.Context, id int, values []models.TransactionMeter) error {
	if len(values) == 0 {
		return nil
	}
	filter := bson.D{{"transaction_id", id}}
	update := bson.D{{"$push", bson.D{{"meter_values", bson.D{{"$each", values}}}}}}
	result, err := m.database.Collection(collectionTransactions).UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (m *MongoDB) GetMeterValues(ctx context.Context, id int) ([]models.TransactionMeter, error) {
	filter := bson.D{{"transaction_id", id}}
	opts := options.FindOne().SetProjection(bson.D{{"meter_values", 1}})
	var transaction models.Transaction
	err := m.database.Collection(collectionTransactions).FindOne(ctx, filter, opts).Decode(&transaction)
	if err != nil {
		return nil, notFound(err)
	}
	return transaction.MeterValues, nil
}

func (m *MongoDB) GetActiveTransactions(ctx context.Context, chargePointId string, connectorId int) ([]*models.Transaction, error) {
	filter := bson.D{
		{"charge_point_id", chargePointId},
		{"connector_id", connectorId},
		{"is_finished", false},
	}
	opts := options.Find().SetProjection(bson.D{{"meter_values", 0}})
	cursor, err := m.database.Collection(collectionTransactions).Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var transactions []*models.Transaction
	if err = cursor.All(ctx, &transactions); err != nil {
		return nil, err
	}
	return transactions, nil
}

func (m *MongoDB) GetUserTag(ctx context.Context, idTag string) (*models.UserTag, error) {
	filter := bson.D{{"id_tag", idTag}}
	var userTag models.UserTag
	err := m.database.Collection(collectionUserTags).FindOne(ctx, filter).Decode(&userTag)
	if err != nil {
		return nil, notFound(err)
	}
	return &userTag, nil
}

// AddUserTag provisions a tag; the balance of an existing tag is left untouched
func (m *MongoDB) AddUserTag(ctx context.Context, userTag *models.UserTag) error {
	filter := bson.D{{"id_tag", userTag.IdTag}}
	update := bson.D{
		{"$set", bson.D{
			{"username", userTag.Username},
			{"status", userTag.Status},
			{"expiry_date", userTag.ExpiryDate},
			{"parent_id_tag", userTag.ParentIdTag},
			{"note", userTag.Note},
		}},
		{"$setOnInsert", bson.D{
			{"id_tag", userTag.IdTag},
			{"balance", userTag.Balance},
			{"date_registered", userTag.DateRegistered},
		}},
	}
	_, err := m.database.Collection(collectionUserTags).UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return err
}

func (m *MongoDB) changeBalance(ctx context.Context, idTag string, delta float64, returnDocument options.ReturnDocument) (float64, error) {
	filter := bson.D{{"id_tag", idTag}}
	update := bson.D{{"$inc", bson.D{{"balance", delta}}}}
	opts := options.FindOneAndUpdate().SetReturnDocument(returnDocument)
	var userTag models.UserTag
	err := m.database.Collection(collectionUserTags).FindOneAndUpdate(ctx, filter, update, opts).Decode(&userTag)
	if err != nil {
		return 0, notFound(err)
	}
	return userTag.Balance, nil
}

func (m *MongoDB) DecreaseBalance(ctx context.Context, idTag string, amount float64) (float64, error) {
	return m.changeBalance(ctx, idTag, -amount, options.Before)
}

func (m *MongoDB) IncreaseBalance(ctx context.Context, idTag string, amount float64) (float64, error) {
	return m.changeBalance(ctx, idTag, amount, options.After)
}

func (m *MongoDB) WriteError(ctx context.Context, data *models.ErrorData) error {
	_, err := m.database.Collection(collectionErrors).InsertOne(ctx, data)
	return err
}

// GetTodayErrorCount error counts since midnight UTC grouped by charge point and code
func (m *MongoDB) GetTodayErrorCount(ctx context.Context) ([]*models.ErrorCounter, error) {
	now := time.Now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	pipeline := bson.A{
		bson.D{{"$match", bson.D{{"timestamp", bson.D{{"$gte", midnight}}}}}},
		bson.D{{"$group", bson.D{
			{"_id", bson.D{{"charge_point_id", "$charge_point_id"}, {"error_code", "$error_code"}}},
			{"count", bson.D{{"$sum", 1}}},
		}}},
		bson.D{{"$project", bson.D{
			{"_id", 0},
			{"charge_point_id", "$_id.charge_point_id"},
			{"error_code", "$_id.error_code"},
			{"count", 1},
		}}},
	}
	cursor, err := m.database.Collection(collectionErrors).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("aggregate errors: %w", err)
	}
	var counters []*models.ErrorCounter
	if err = cursor.All(ctx, &counters); err != nil {
		return nil, fmt.Errorf("decode errors: %w", err)
	}
	return counters, nil
}

func (m *MongoDB) GetSubscriptions(ctx context.Context) ([]models.UserSubscription, error) {
	cursor, err := m.database.Collection(collectionSubscriptions).Find(ctx, bson.D{})
	if err != nil {
		return nil, err
	}
	var subscriptions []models.UserSubscription
	if err = cursor.All(ctx, &subscriptions); err != nil {
		return nil, err
	}
	return subscriptions, nil
}

func (m *MongoDB) AddSubscription(ctx context.Context, subscription *models.UserSubscription) error {
	filter := bson.D{{"user_id", subscription.UserID}}
	update := bson.M{"$set": subscription}
	_, err := m.database.Collection(collectionSubscriptions).UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return err
}

func (m *MongoDB) DeleteSubscription(ctx context.Context, subscription *models.UserSubscription) error {
	filter := bson.D{{"user_id", subscription.UserID}}
	_, err := m.database.Collection(collectionSubscriptions).DeleteOne(ctx, filter)
	return err
}
