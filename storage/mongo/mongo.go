// Package mongo provides the MongoDB document store. The destination's store
// names the database and its collection names the collection.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/drblury/serialbridge/internal/coerce"
	"github.com/drblury/serialbridge/internal/routing"
	"github.com/drblury/serialbridge/internal/runtime/logging"
	"github.com/drblury/serialbridge/storage"
)

// BackendName is the name used to register this store.
const BackendName = "mongo"

// DefaultURL is the legacy default server.
const DefaultURL = "mongodb://localhost:27017"

// DisconnectTimeout bounds Close.
var DisconnectTimeout = 5 * time.Second

var ErrClosed = errors.New("mongo store closed")

// Names lists every backend name the store registers under.
var Names = []string{BackendName, "mongodb"}

func init() {
	for _, name := range Names {
		storage.Register(name, Build)
	}
}

// Client is the subset of the driver the store uses.
type Client interface {
	InsertOne(ctx context.Context, database, collection string, doc bson.D) error
	Disconnect(ctx context.Context) error
}

// Connect dials the server and verifies it answers. Tests replace it.
var Connect = func(ctx context.Context, uri string) (Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetAppName("serialbridge"))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return driverClient{client: client}, nil
}

type driverClient struct {
	client *mongo.Client
}

func (c driverClient) InsertOne(ctx context.Context, database, collection string, doc bson.D) error {
	_, err := c.client.Database(database).Collection(collection).InsertOne(ctx, doc)
	return err
}

func (c driverClient) Disconnect(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}

// Build connects to the configured store URL.
func Build(ctx context.Context, cfg storage.Config, log logging.ServiceLogger) (storage.Store, error) {
	return New(ctx, cfg.GetStoreURL(), log)
}

// Store inserts one BSON document per write.
type Store struct {
	client Client
	logger logging.ServiceLogger

	mu     sync.RWMutex
	closed bool
}

// New connects to uri, falling back to DefaultURL.
func New(ctx context.Context, uri string, log logging.ServiceLogger) (*Store, error) {
	if uri == "" {
		uri = DefaultURL
	}
	if log == nil {
		log = logging.NewNop()
	}
	client, err := Connect(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	log.Debug("Connected to MongoDB", logging.LogFields{"hosts": hostsOf(uri)})
	return &Store{client: client, logger: log}, nil
}

// hostsOf returns the server list of uri without credentials.
func hostsOf(uri string) []string {
	opts := options.Client().ApplyURI(uri)
	if opts.Validate() != nil {
		return nil
	}
	return opts.Hosts
}

// ToBSON converts doc to an ordered BSON document.
func ToBSON(doc coerce.Document) bson.D {
	d := make(bson.D, 0, len(doc))
	for _, e := range doc {
		d = append(d, bson.E{Key: e.Key, Value: e.Value.Interface()})
	}
	return d
}

func (s *Store) Write(ctx context.Context, dst routing.Destination, doc coerce.Document) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrClosed
	}
	if err := s.client.InsertOne(ctx, dst.Store, dst.Collection, ToBSON(doc)); err != nil {
		return fmt.Errorf("failed to insert into %s: %w", dst, err)
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	ctx, cancel := context.WithTimeout(context.Background(), DisconnectTimeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}
