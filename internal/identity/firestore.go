package identity

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/yokthanwa1993/neezs-app-sub000/internal/log"
)

// Ensure FirestoreStore implements the Store interface
var _ Store = (*FirestoreStore)(nil)

// FirestoreStore persists identity records in Google Cloud Firestore.
// Documents live under {collection}-{role}/{providerUserID} so the two
// roles never share a collection.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
	now        func() time.Time
}

// NewFirestoreStore connects to Firestore for the given project.
func NewFirestoreStore(ctx context.Context, projectID, collection string) (*FirestoreStore, error) {
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}

	log.LogInfoWithFields("identity", "Firestore store ready", map[string]any{
		"project":    projectID,
		"collection": collection,
	})

	return &FirestoreStore{
		client:     client,
		collection: collection,
		now:        time.Now,
	}, nil
}

// Close releases the underlying client.
func (s *FirestoreStore) Close() error {
	return s.client.Close()
}

func (s *FirestoreStore) col(role Role) *firestore.CollectionRef {
	return s.client.Collection(s.collection + "-" + string(role))
}

// Upsert implements Store
func (s *FirestoreStore) Upsert(ctx context.Context, role Role, profile Profile) (*Record, error) {
	now := s.now()
	doc := s.col(role).Doc(profile.ProviderUserID)

	snap, err := doc.Get(ctx)
	switch {
	case err == nil:
		var rec Record
		if err := snap.DataTo(&rec); err != nil {
			return nil, fmt.Errorf("decoding identity record: %w", err)
		}
		rec.DisplayName = profile.DisplayName
		rec.PictureURL = profile.PictureURL
		rec.StatusMessage = profile.StatusMessage
		rec.UpdatedAt = now
		rec.LastLoginAt = now
		if _, err := doc.Set(ctx, rec); err != nil {
			return nil, fmt.Errorf("updating identity record: %w", err)
		}
		return &rec, nil

	case status.Code(err) == codes.NotFound:
		rec := Record{
			ProviderUserID: profile.ProviderUserID,
			Role:           role,
			DisplayName:    profile.DisplayName,
			PictureURL:     profile.PictureURL,
			StatusMessage:  profile.StatusMessage,
			CreatedAt:      now,
			UpdatedAt:      now,
			LastLoginAt:    now,
		}
		if _, err := doc.Set(ctx, rec); err != nil {
			return nil, fmt.Errorf("creating identity record: %w", err)
		}
		return &rec, nil

	default:
		return nil, fmt.Errorf("reading identity record: %w", err)
	}
}

// Get implements Store
func (s *FirestoreStore) Get(ctx context.Context, role Role, providerUserID string) (*Record, error) {
	snap, err := s.col(role).Doc(providerUserID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading identity record: %w", err)
	}

	var rec Record
	if err := snap.DataTo(&rec); err != nil {
		return nil, fmt.Errorf("decoding identity record: %w", err)
	}
	return &rec, nil
}

// List implements Store
func (s *FirestoreStore) List(ctx context.Context, role Role) ([]*Record, error) {
	iter := s.col(role).Documents(ctx)
	defer iter.Stop()

	var out []*Record
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("listing identity records: %w", err)
		}
		var rec Record
		if err := snap.DataTo(&rec); err != nil {
			return nil, fmt.Errorf("decoding identity record: %w", err)
		}
		out = append(out, &rec)
	}
	return out, nil
}
