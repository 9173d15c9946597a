package mongostore

import (
	"context"
	"time"

	"github.com/phuslu/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"nuha.dev/textgps/internal/gpsv2/position"
	"nuha.dev/textgps/internal/store"
)

type StoreConfig struct {
	URI        string
	Database   string
	Collection string
	BufSize    int
	FlushDur   time.Duration
}

type Store struct {
	config     *StoreConfig
	client     *mongo.Client
	collection *mongo.Collection
	in         chan *position.Position
	done       chan struct{}
	log        log.Logger
}

func Connect(ctx context.Context, config *StoreConfig) (*Store, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(config.URI))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, err
	}
	return NewStore(client, config), nil
}

func NewStore(client *mongo.Client, config *StoreConfig) *Store {
	o := &Store{config: config, client: client}
	o.collection = client.Database(config.Database).Collection(config.Collection)
	o.in = make(chan *position.Position, config.BufSize*4)
	o.done = make(chan struct{})
	o.log = log.DefaultLogger
	o.log.Context = log.NewContext(nil).Str("module", "mongostore").Value()
	return o
}

// EnsureIndexes creates the index used by Latest.
func (st *Store) EnsureIndexes(ctx context.Context) error {
	_, err := st.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "device_id", Value: 1}, {Key: "device_time", Value: -1}},
	})
	return err
}

func (st *Store) Put(pos *position.Position) {
	select {
	case st.in <- pos:
	default:
		st.log.Error().Str("id", pos.ID).Msg("mongostore is behind, dropping position")
	}
}

func (st *Store) Run(ctx context.Context) {
	go st.handle(ctx)
}

func (st *Store) Done() <-chan struct{} {
	return st.done
}

func (st *Store) handle(ctx context.Context) {
	defer close(st.done)
	ticker := time.NewTicker(st.config.FlushDur)
	defer ticker.Stop()
	batch := make([]interface{}, 0, st.config.BufSize)
	for {
		select {
		case pos := <-st.in:
			batch = append(batch, pos)
			if len(batch) >= st.config.BufSize {
				batch = st.flush(batch)
			}
		case <-ticker.C:
			if len(batch) != 0 {
				batch = st.flush(batch)
			}
		case <-ctx.Done():
		drain:
			for {
				select {
				case pos := <-st.in:
					batch = append(batch, pos)
				default:
					break drain
				}
			}
			if len(batch) != 0 {
				st.flush(batch)
			}
			st.client.Disconnect(context.Background())
			return
		}
	}
}

func (st *Store) flush(batch []interface{}) []interface{} {
	t1 := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_, err := st.collection.InsertMany(ctx, batch, options.InsertMany().SetOrdered(false))
	if err != nil {
		st.log.Error().Err(err).Int("length", len(batch)).Msg("flush error")
	} else {
		st.log.Debug().Str("action", "flush").Int("length", len(batch)).Dur("time_taken", time.Since(t1)).Msg("flush successfull")
	}
	return batch[:0]
}

func (st *Store) Latest(ctx context.Context, device_id uint64) (*position.Position, error) {
	var pos position.Position
	opts := options.FindOne().SetSort(bson.D{{Key: "device_time", Value: -1}})
	err := st.collection.FindOne(ctx, bson.M{"device_id": device_id}, opts).Decode(&pos)
	if err == mongo.ErrNoDocuments {
		return nil, store.ErrNotFound
	} else if err != nil {
		return nil, err
	}
	return &pos, nil
}
