package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	statesCollection   = "user_states"
	commandsCollection = "command_log"
	opTimeout          = 5 * time.Second
)

type MongoStorage struct {
	client   *mongo.Client
	states   *mongo.Collection
	commands *mongo.Collection
	log      *slog.Logger
}

func NewMongoStorage(uri, database string, log *slog.Logger) (*MongoStorage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("pinging MongoDB: %w", err)
	}

	db := client.Database(database)
	states := db.Collection(statesCollection)
	commands := db.Collection(commandsCollection)

	_, err = states.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		log.Warn("creating states index", slog.String("error", err.Error()))
	}
	_, err = commands.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "timestamp", Value: 1}},
	})
	if err != nil {
		log.Warn("creating command log index", slog.String("error", err.Error()))
	}

	return &MongoStorage{
		client:   client,
		states:   states,
		commands: commands,
		log:      log,
	}, nil
}

func (m *MongoStorage) GetUserState(userId int64) (*UserState, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var state UserState
	err := m.states.FindOne(ctx, bson.M{"user_id": userId}).Decode(&state)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("finding state", userId, err)
	}
	return state.normalize(), nil
}

func (m *MongoStorage) CreateUserState(state *UserState) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	update := bson.M{"$setOnInsert": state}
	opts := options.Update().SetUpsert(true)
	res, err := m.states.UpdateOne(ctx, bson.M{"user_id": state.UserId}, update, opts)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, wrap("creating state", state.UserId, err)
	}
	return res.UpsertedCount > 0, nil
}

func (m *MongoStorage) SaveUserState(state *UserState) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	state.UpdatedAt = time.Now()
	if state.CreatedAt.IsZero() {
		state.CreatedAt = state.UpdatedAt
	}

	opts := options.Replace().SetUpsert(true)
	_, err := m.states.ReplaceOne(ctx, bson.M{"user_id": state.UserId}, state, opts)
	return wrap("saving state", state.UserId, err)
}

func (m *MongoStorage) AppendCommand(record CommandRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := m.commands.InsertOne(ctx, record)
	return wrap("appending command", record.UserId, err)
}

func (m *MongoStorage) GetCommandLog(userId int64) ([]CommandRecord, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}})
	cursor, err := m.commands.Find(ctx, bson.M{"user_id": userId}, opts)
	if err != nil {
		return nil, wrap("finding command log", userId, err)
	}
	defer func(cursor *mongo.Cursor, ctx context.Context) {
		err := cursor.Close(ctx)
		if err != nil {
			m.log.Warn("closing cursor", slog.String("error", err.Error()))
		}
	}(cursor, ctx)

	var records []CommandRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, wrap("decoding command log", userId, err)
	}
	return records, nil
}

func (m *MongoStorage) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	return m.client.Disconnect(ctx)
}
