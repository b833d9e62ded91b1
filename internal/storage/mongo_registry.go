package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/annel0/world-templates/internal/world"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoConfig contains connection settings for the MongoDB world registry.
type MongoConfig struct {
	URI        string // e.g. mongodb://localhost:27017
	Database   string // e.g. worldtpl
	Collection string // e.g. worlds
}

// MongoRegistry implements WorldRegistry on MongoDB backend.
type MongoRegistry struct {
	client     *mongo.Client
	collection *mongo.Collection
	now        func() time.Time
}

type worldDoc struct {
	Name         string    `bson:"_id"`
	ID           string    `bson:"world_id"`
	Dir          string    `bson:"dir"`
	Environment  string    `bson:"environment"`
	Generator    string    `bson:"generator,omitempty"`
	Seed         *int64    `bson:"seed,omitempty"`
	AdjustSpawn  bool      `bson:"adjust_spawn"`
	RegisteredAt time.Time `bson:"registered_at"`
}

// NewMongoRegistry establishes connection and returns registry.
func NewMongoRegistry(cfg MongoConfig) (*MongoRegistry, error) {
	if cfg.URI == "" {
		cfg.URI = "mongodb://localhost:27017"
	}
	if cfg.Database == "" {
		cfg.Database = "worldtpl"
	}
	if cfg.Collection == "" {
		cfg.Collection = "worlds"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, err
	}

	return &MongoRegistry{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
		now:        time.Now,
	}, nil
}

// Register upserts the world document keyed by name.
func (m *MongoRegistry) Register(ctx context.Context, h world.Handle, opts world.RegisterOptions) error {
	if h.Name == "" {
		return fmt.Errorf("недействительное имя мира: %q", h.Name)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	rec := world.NewRecord(h, opts, m.now())
	doc := worldDoc{
		Name:         rec.Name,
		ID:           rec.ID.String(),
		Dir:          rec.Dir,
		Environment:  string(rec.Environment),
		Generator:    rec.Generator,
		Seed:         rec.Seed,
		AdjustSpawn:  rec.AdjustSpawn,
		RegisteredAt: rec.RegisteredAt,
	}
	_, err := m.collection.ReplaceOne(ctx, bson.M{"_id": rec.Name}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongo register %s: %w", rec.Name, err)
	}
	return nil
}

// Unregister removes the document. A missing document is not an error.
func (m *MongoRegistry) Unregister(ctx context.Context, name string) error {
	if _, err := m.collection.DeleteOne(ctx, bson.M{"_id": name}); err != nil {
		return fmt.Errorf("mongo unregister %s: %w", name, err)
	}
	return nil
}

// Lookup implements WorldRegistry.
func (m *MongoRegistry) Lookup(ctx context.Context, name string) (world.Record, bool, error) {
	var doc worldDoc
	err := m.collection.FindOne(ctx, bson.M{"_id": name}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return world.Record{}, false, nil
	}
	if err != nil {
		return world.Record{}, false, err
	}
	rec, err := doc.record()
	return rec, err == nil, err
}

// List returns all records ordered by name.
func (m *MongoRegistry) List(ctx context.Context) ([]world.Record, error) {
	cur, err := m.collection.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []world.Record
	for cur.Next(ctx) {
		var doc worldDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		rec, err := doc.record()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, cur.Err()
}

// Close disconnects the client.
func (m *MongoRegistry) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

func (d worldDoc) record() (world.Record, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return world.Record{}, fmt.Errorf("некорректный id мира %s: %w", d.Name, err)
	}
	return world.Record{
		ID:           id,
		Name:         d.Name,
		Dir:          d.Dir,
		Environment:  world.Environment(d.Environment),
		Generator:    d.Generator,
		Seed:         d.Seed,
		AdjustSpawn:  d.AdjustSpawn,
		RegisteredAt: d.RegisteredAt.UTC(),
	}, nil
}
