// Package db provides the MongoDB-backed index of processed webhook events,
// used to de-duplicate Stripe event redeliveries across service replicas.
package db

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.vocdoni.io/dvote/log"
)

const eventsCollection = "webhook_events"

// processedEvent is a single processed webhook event. The Stripe event ID is
// the document key, so a concurrent insert of the same event fails with a
// duplicate key error instead of creating a second document.
type processedEvent struct {
	ID          string    `bson:"_id"`
	ProcessedAt time.Time `bson:"processedAt"`
}

// EventIndex uses an external MongoDB service for storing processed webhook
// event IDs. Documents expire through a TTL index, Stripe stops redelivering
// events long before that.
type EventIndex struct {
	client *mongo.Client
	events *mongo.Collection
	ttl    time.Duration
}

// NewEventIndex connects to MongoDB and prepares the events collection and
// its TTL index. A zero ttl defaults to 30 days.
func NewEventIndex(url, database string, ttl time.Duration) (*EventIndex, error) {
	if url == "" {
		return nil, fmt.Errorf("mongo URL is not defined")
	}
	if database == "" {
		return nil, fmt.Errorf("mongo database is not defined")
	}
	if ttl == 0 {
		ttl = 30 * 24 * time.Hour
	}
	log.Infow("connecting to mongodb", "url", url, "database", database)
	// preparing connection
	opts := options.Client()
	opts.ApplyURI(url)
	timeout := time.Second * 10
	opts.ConnectTimeout = &timeout
	// create a new client with the connection options
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to mongodb: %w", err)
	}
	// check if the connection is successful
	ctx, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("cannot connect to mongodb: %w", err)
	}

	idx := &EventIndex{
		client: client,
		events: client.Database(database).Collection(eventsCollection),
		ttl:    ttl,
	}
	if err := idx.createIndexes(); err != nil {
		return nil, err
	}
	return idx, nil
}

func (idx *EventIndex) createIndexes() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := idx.events.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "processedAt", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(int32(idx.ttl.Seconds())),
	})
	if err != nil {
		return fmt.Errorf("cannot create TTL index: %w", err)
	}
	return nil
}

// EventExists checks if an event has already been processed. Lookup failures
// are treated as "not processed" so a Mongo hiccup never drops an event, at
// worst it is handled twice.
func (idx *EventIndex) EventExists(eventID string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := idx.events.FindOne(ctx, bson.M{"_id": eventID}).Err()
	if err != nil {
		if err != mongo.ErrNoDocuments {
			log.Warnw("failed to look up webhook event", "eventID", eventID, "error", err)
		}
		return false
	}
	return true
}

// MarkProcessed marks an event as processed. A duplicate insert means another
// replica won the race, which is not an error.
func (idx *EventIndex) MarkProcessed(eventID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := idx.events.InsertOne(ctx, processedEvent{
		ID:          eventID,
		ProcessedAt: time.Now(),
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil
		}
		return fmt.Errorf("cannot mark event %s as processed: %w", eventID, err)
	}
	return nil
}

// Close disconnects the underlying MongoDB client.
func (idx *EventIndex) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := idx.client.Disconnect(ctx); err != nil {
		log.Warn(err)
	}
}
