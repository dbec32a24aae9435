// Package leads implements the shared prospect queue on MongoDB. All
// cross-worker mutual exclusion lives here: a claim is a single
// findOneAndUpdate, so the read of an eligible lead and the write of its
// claim fields are indivisible.
package leads

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/divulgaai/prospecting-engine/pkg/logging"
)

const colProspecting = "prospecting"

// ErrNoEligibleLeads signals that the queue is empty for a worker's filter.
// Not a failure: the worker treats it as its terminal condition.
var ErrNoEligibleLeads = errors.New("leads: no eligible leads")

// Store persists leads in the shared prospecting collection.
type Store struct {
	col    *mongo.Collection
	logger *logging.Logger
}

// NewStore creates a store over db's prospecting collection. The caller owns
// the client lifecycle; the store never disconnects it.
func NewStore(db *mongo.Database, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{col: db.Collection(colProspecting), logger: logger}
}

// ClaimNext atomically claims one eligible lead for workerID and returns the
// post-update document. Returns ErrNoEligibleLeads when nothing matches.
func (s *Store) ClaimNext(ctx context.Context, filter ClaimFilter, workerID string) (*Lead, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var lead Lead
	err := s.col.FindOneAndUpdate(ctx, claimFilter(filter), claimUpdate(workerID, time.Now().UTC()), opts).Decode(&lead)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNoEligibleLeads
		}
		return nil, fmt.Errorf("leads: claim next: %w", err)
	}
	return &lead, nil
}

// Release clears the claim fields so the lead becomes eligible again.
func (s *Store) Release(ctx context.Context, id bson.ObjectID) error {
	_, err := s.col.UpdateOne(ctx, bson.M{"_id": id}, releaseUpdate())
	if err != nil {
		return fmt.Errorf("leads: release %s: %w", id.Hex(), err)
	}
	return nil
}

// MarkUnreachable flags the lead as having no WhatsApp account and releases
// the claim, in one update. The lead is permanently excluded from claiming
// but does not count as contacted.
func (s *Store) MarkUnreachable(ctx context.Context, id bson.ObjectID) error {
	_, err := s.col.UpdateOne(ctx, bson.M{"_id": id}, unreachableUpdate())
	if err != nil {
		return fmt.Errorf("leads: mark unreachable %s: %w", id.Hex(), err)
	}
	return nil
}

// Complete records a successful contact: sets prospection_date (and the
// canonical phone when the gateway reported one) and releases the claim, in
// one update. The lead is terminal afterwards.
func (s *Store) Complete(ctx context.Context, id bson.ObjectID, canonicalPhone string, at time.Time) error {
	_, err := s.col.UpdateOne(ctx, bson.M{"_id": id}, completeUpdate(canonicalPhone, at))
	if err != nil {
		return fmt.Errorf("leads: complete %s: %w", id.Hex(), err)
	}
	return nil
}

// CountCompletedSince counts leads the prospector contacted at or after the
// given instant. The scheduler's daily quota gate calls this with local
// midnight.
func (s *Store) CountCompletedSince(ctx context.Context, prospector string, since time.Time) (int64, error) {
	n, err := s.col.CountDocuments(ctx, bson.M{
		"prospector":       prospector,
		"prospection_date": bson.M{"$gte": since},
	})
	if err != nil {
		return 0, fmt.Errorf("leads: count completed: %w", err)
	}
	return n, nil
}

// ReleaseStale bulk-clears claims older than olderThan and returns how many
// it released. Idempotent: re-clearing an already clear claim matches
// nothing.
func (s *Store) ReleaseStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := s.col.UpdateMany(ctx, staleFilter(cutoff), releaseUpdate())
	if err != nil {
		return 0, fmt.Errorf("leads: release stale: %w", err)
	}
	return res.ModifiedCount, nil
}

// Migrate creates the indexes backing the claim and reaper paths.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		// Claim path: eligibility filter fields.
		{Keys: bson.D{
			{Key: "prospector", Value: 1},
			{Key: "prospection_date", Value: 1},
			{Key: "assigned_to", Value: 1},
		}},
		// Quota path: completed-today count.
		{Keys: bson.D{
			{Key: "prospector", Value: 1},
			{Key: "prospection_date", Value: -1},
		}},
		// Reaper path: stale claim scan.
		{Keys: bson.D{
			{Key: "assigned_to", Value: 1},
			{Key: "assigned_at", Value: 1},
		}},
	}
	if _, err := s.col.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("leads: migrate indexes: %w", err)
	}
	return nil
}

// claimFilter builds the eligibility filter: never contacted, not marked
// unreachable, not currently claimed, matching the worker's prospector and
// optional partition.
func claimFilter(f ClaimFilter) bson.M {
	filter := bson.M{
		"prospection_date": bson.M{"$exists": false},
		"no_whatsapp":      bson.M{"$ne": true},
		"assigned_to":      bson.M{"$exists": false},
		"prospector":       f.Prospector,
	}
	if f.Source != "" {
		filter["bd"] = f.Source
	}
	if f.DevPhone != "" {
		filter["phone"] = f.DevPhone
	}
	return filter
}

func claimUpdate(workerID string, at time.Time) bson.M {
	return bson.M{"$set": bson.M{
		"assigned_to": workerID,
		"assigned_at": at,
	}}
}

func releaseUpdate() bson.M {
	return bson.M{"$unset": bson.M{
		"assigned_to": "",
		"assigned_at": "",
	}}
}

func unreachableUpdate() bson.M {
	return bson.M{
		"$set": bson.M{"no_whatsapp": true},
		"$unset": bson.M{
			"assigned_to": "",
			"assigned_at": "",
		},
	}
}

func completeUpdate(canonicalPhone string, at time.Time) bson.M {
	set := bson.M{"prospection_date": at}
	if canonicalPhone != "" {
		set["phone"] = canonicalPhone
	}
	return bson.M{
		"$set": set,
		"$unset": bson.M{
			"assigned_to": "",
			"assigned_at": "",
		},
	}
}

func staleFilter(cutoff time.Time) bson.M {
	return bson.M{
		"assigned_to": bson.M{"$exists": true},
		"assigned_at": bson.M{"$lt": cutoff},
	}
}
