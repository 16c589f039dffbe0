package store

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreStore is a Firestore-backed implementation of SnapshotStore.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
}

// NewFirestoreStore creates a FirestoreStore using the given client.
func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{
		client:     client,
		collection: "document_snapshots",
	}
}

func (s *FirestoreStore) docRef(documentID string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(documentID)
}

func (s *FirestoreStore) Load(ctx context.Context, documentID string) (*SnapshotRecord, error) {
	snap, err := s.docRef(documentID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot %q: %w", documentID, err)
	}

	data := snap.Data()
	state, _ := data["state"].([]byte)
	updatedAt, _ := data["updatedAt"].(time.Time)
	return &SnapshotRecord{
		DocumentID: documentID,
		State:      state,
		UpdatedAt:  updatedAt,
	}, nil
}

func (s *FirestoreStore) Save(ctx context.Context, documentID string, state []byte) error {
	_, err := s.docRef(documentID).Set(ctx, map[string]interface{}{
		"state":     state,
		"updatedAt": time.Now(),
	})
	if err != nil {
		return fmt.Errorf("save snapshot %q: %w", documentID, err)
	}
	return nil
}

func (s *FirestoreStore) List(ctx context.Context) ([]SnapshotRecord, error) {
	iter := s.client.Collection(s.collection).Documents(ctx)
	defer iter.Stop()

	var result []SnapshotRecord
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list snapshots: %w", err)
		}
		updatedAt, _ := snap.Data()["updatedAt"].(time.Time)
		result = append(result, SnapshotRecord{DocumentID: snap.Ref.ID, UpdatedAt: updatedAt})
	}
	return result, nil
}

func (s *FirestoreStore) Delete(ctx context.Context, documentID string) error {
	_, err := s.docRef(documentID).Delete(ctx)
	if err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("delete snapshot %q: %w", documentID, err)
	}
	return nil
}
