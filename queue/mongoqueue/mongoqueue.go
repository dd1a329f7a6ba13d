// Package mongoqueue implements queue.Store backed by MongoDB, durable
// across process restarts (spec §6 persistent state (b) and (c)).
package mongoqueue

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/actiquest-dev/membria/queue"
)

const (
	defaultSignalCollection = "membria_signals"
	defaultCacheCollection  = "membria_extraction_cache"
	defaultTimeout          = 5 * time.Second
)

// Options configures the MongoDB-backed queue store.
type Options struct {
	Client           *mongodriver.Client
	Database         string
	SignalCollection string
	CacheCollection  string
	Timeout          time.Duration
}

// Store implements queue.Store against MongoDB. Reservation is implemented
// as a compare-and-set via FindOneAndUpdate with a status filter, so two
// concurrent Reserve calls can never claim the same signal (spec §5).
type Store struct {
	mongo   *mongodriver.Client
	signals collection
	cache   collection
	timeout time.Duration
}

var _ queue.Store = (*Store)(nil)

// New returns a Store backed by opts.Client. It ensures the required
// indexes exist before returning.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongoqueue: client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("mongoqueue: database name is required")
	}
	sigColl := opts.SignalCollection
	if sigColl == "" {
		sigColl = defaultSignalCollection
	}
	cacheColl := opts.CacheCollection
	if cacheColl == "" {
		cacheColl = defaultCacheCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	db := opts.Client.Database(opts.Database)
	signals := mongoCollection{coll: db.Collection(sigColl)}
	cache := mongoCollection{coll: db.Collection(cacheColl)}

	ictx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := ensureIndexes(ictx, signals); err != nil {
		return nil, err
	}

	return &Store{
		mongo:   opts.Client,
		signals: signals,
		cache:   cache,
		timeout: timeout,
	}, nil
}

func ensureIndexes(ctx context.Context, coll collection) error {
	index := mongodriver.IndexModel{
		Keys: bson.D{{Key: "status", Value: 1}, {Key: "next_retry_at", Value: 1}},
	}
	_, err := coll.Indexes().CreateOne(ctx, index)
	return err
}

// Ping checks connectivity to the underlying MongoDB deployment.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.mongo.Ping(ctx, nil)
}

type signalDocument struct {
	ID             string   `bson:"_id"`
	SourcePrompt   string   `bson:"source_prompt"`
	SourceResponse string   `bson:"source_response"`
	Patterns       []string `bson:"patterns,omitempty"`
	Module         string   `bson:"module"`
	Status         string   `bson:"status"`
	Attempts       int      `bson:"attempts"`
	NextRetryAt    int64    `bson:"next_retry_at"`
	CreatedAt      int64    `bson:"created_at"`
}

func toDocument(s queue.Signal) signalDocument {
	return signalDocument{
		ID:             s.ID,
		SourcePrompt:   s.SourcePrompt,
		SourceResponse: s.SourceResponse,
		Patterns:       s.Patterns,
		Module:         s.Module,
		Status:         string(s.Status),
		Attempts:       s.Attempts,
		NextRetryAt:    s.NextRetryAt,
		CreatedAt:      s.CreatedAt,
	}
}

func fromDocument(d signalDocument) queue.Signal {
	return queue.Signal{
		ID:             d.ID,
		SourcePrompt:   d.SourcePrompt,
		SourceResponse: d.SourceResponse,
		Patterns:       d.Patterns,
		Module:         d.Module,
		Status:         queue.Status(d.Status),
		Attempts:       d.Attempts,
		NextRetryAt:    d.NextRetryAt,
		CreatedAt:      d.CreatedAt,
	}
}

// Enqueue persists a new pending signal.
func (s *Store) Enqueue(ctx context.Context, sig queue.Signal) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if sig.Status == "" {
		sig.Status = queue.StatusPending
	}
	doc := toDocument(sig)
	_, err := s.signals.InsertOne(ctx, doc)
	return err
}

// Reserve claims up to n eligible signals by CAS-updating their status to
// extracting one at a time via FindOneAndUpdate; a signal already claimed
// by a concurrent Reserve will not match the filter again.
func (s *Store) Reserve(ctx context.Context, n int) ([]queue.Signal, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var claimed []queue.Signal
	for len(claimed) < n {
		filter := bson.M{
			"status": bson.M{"$in": bson.A{string(queue.StatusPending), string(queue.StatusFailed)}},
		}
		update := bson.M{"$set": bson.M{"status": string(queue.StatusExtracting)}}
		var doc signalDocument
		err := s.signals.FindOneAndUpdate(ctx, filter, update, options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&doc)
		if err != nil {
			if errors.Is(err, mongodriver.ErrNoDocuments) {
				break
			}
			return claimed, err
		}
		claimed = append(claimed, fromDocument(doc))
	}
	return claimed, nil
}

// MarkExtracted transitions id to extracted and records its fingerprint
// in the extraction cache collection.
func (s *Store) MarkExtracted(ctx context.Context, id, fingerprint, decisionID string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.signals.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"status": string(queue.StatusExtracted)}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return queue.ErrNotFound
	}

	_, err = s.cache.UpdateOne(ctx,
		bson.M{"_id": fingerprint},
		bson.M{"$set": bson.M{"decision_id": decisionID}},
		options.Update().SetUpsert(true),
	)
	return err
}

// MarkFailed transitions id to failed or dead with the given retry time.
func (s *Store) MarkFailed(ctx context.Context, id string, nextRetryAt int64, dead bool) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	status := string(queue.StatusFailed)
	if dead {
		status = string(queue.StatusDead)
	}
	res, err := s.signals.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{
			"$set": bson.M{"status": status, "next_retry_at": nextRetryAt},
			"$inc": bson.M{"attempts": 1},
		},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return queue.ErrNotFound
	}
	return nil
}

// Revert transitions id from extracting back to pending.
func (s *Store) Revert(ctx context.Context, id string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	res, err := s.signals.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"status": string(queue.StatusPending)}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return queue.ErrNotFound
	}
	return nil
}

// Repair reverts every signal stuck in extracting back to pending. Used
// after an ungraceful crash where no in-flight cancellation ran.
func (s *Store) Repair(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.signals.UpdateMany(ctx,
		bson.M{"status": string(queue.StatusExtracting)},
		bson.M{"$set": bson.M{"status": string(queue.StatusPending)}},
	)
	return err
}

// Depth reports current queue occupancy by status via a single
// aggregation pipeline.
func (s *Store) Depth(ctx context.Context) (queue.Depth, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var d queue.Depth
	for _, st := range []queue.Status{queue.StatusPending, queue.StatusExtracting, queue.StatusFailed, queue.StatusDead} {
		n, err := s.signals.CountDocuments(ctx, bson.M{"status": string(st)})
		if err != nil {
			return queue.Depth{}, err
		}
		switch st {
		case queue.StatusPending:
			d.Pending = int(n)
		case queue.StatusExtracting:
			d.Extracting = int(n)
		case queue.StatusFailed:
			d.Failed = int(n)
		case queue.StatusDead:
			d.Dead = int(n)
		}
	}
	return d, nil
}

// CacheLookup returns the decision ID previously extracted for
// fingerprint, if any.
func (s *Store) CacheLookup(ctx context.Context, fingerprint string) (string, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var doc struct {
		DecisionID string `bson:"decision_id"`
	}
	err := s.cache.FindOne(ctx, bson.M{"_id": fingerprint}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return "", false, nil
		}
		return "", false, err
	}
	return doc.DecisionID, true, nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// collection narrows the mongo-driver collection surface to what this
// package exercises, mirroring the teacher's narrow-interface pattern for
// testability without a live MongoDB deployment.
type collection interface {
	InsertOne(ctx context.Context, document any) (*mongodriver.InsertOneResult, error)
	FindOne(ctx context.Context, filter any) singleResult
	FindOneAndUpdate(ctx context.Context, filter, update any, opts ...options.Lister[options.FindOneAndUpdateOptions]) singleResult
	UpdateOne(ctx context.Context, filter, update any, opts ...options.Lister[options.UpdateOptions]) (*mongodriver.UpdateResult, error)
	UpdateMany(ctx context.Context, filter, update any) (*mongodriver.UpdateResult, error)
	CountDocuments(ctx context.Context, filter any) (int64, error)
	Indexes() indexView
}

type indexView interface {
	CreateOne(ctx context.Context, model mongodriver.IndexModel) (string, error)
}

type singleResult interface {
	Decode(val any) error
}

type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) InsertOne(ctx context.Context, document any) (*mongodriver.InsertOneResult, error) {
	return c.coll.InsertOne(ctx, document)
}

func (c mongoCollection) FindOne(ctx context.Context, filter any) singleResult {
	return c.coll.FindOne(ctx, filter)
}

func (c mongoCollection) FindOneAndUpdate(ctx context.Context, filter, update any, opts ...options.Lister[options.FindOneAndUpdateOptions]) singleResult {
	return c.coll.FindOneAndUpdate(ctx, filter, update, opts...)
}

func (c mongoCollection) UpdateOne(ctx context.Context, filter, update any, opts ...options.Lister[options.UpdateOptions]) (*mongodriver.UpdateResult, error) {
	return c.coll.UpdateOne(ctx, filter, update, opts...)
}

func (c mongoCollection) UpdateMany(ctx context.Context, filter, update any) (*mongodriver.UpdateResult, error) {
	return c.coll.UpdateMany(ctx, filter, update)
}

func (c mongoCollection) CountDocuments(ctx context.Context, filter any) (int64, error) {
	return c.coll.CountDocuments(ctx, filter)
}

func (c mongoCollection) Indexes() indexView {
	return c.coll.Indexes()
}
