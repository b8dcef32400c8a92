package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const defaultDeleteBatch = 100

// Document is a decoded Firestore document with its update timestamp.
type Document[T any] struct {
	ID         string
	Data       T
	UpdateTime time.Time
}

// Encoder serialises the typed entity prior to persistence.
type Encoder[T any] func(ctx context.Context, value T) (any, error)

// Decoder hydrates the typed entity from a snapshot.
type Decoder[T any] func(ctx context.Context, snap *firestore.DocumentSnapshot) (T, error)

// QueryBuilder narrows a collection query.
type QueryBuilder func(query firestore.Query) firestore.Query

// Collection gives typed access to the documents of one Firestore collection.
type Collection[T any] struct {
	provider *Provider
	name     string
	encode   Encoder[T]
	decode   Decoder[T]
}

// NewCollection binds a typed collection. Nil codecs fall back to Firestore struct encoding.
func NewCollection[T any](provider *Provider, name string, encode Encoder[T], decode Decoder[T]) *Collection[T] {
	if encode == nil {
		encode = IdentityEncoder[T]()
	}
	if decode == nil {
		decode = StructDecoder[T]()
	}
	return &Collection[T]{
		provider: provider,
		name:     strings.TrimSpace(name),
		encode:   encode,
		decode:   decode,
	}
}

// Name returns the collection name.
func (c *Collection[T]) Name() string {
	if c == nil {
		return ""
	}
	return c.name
}

// Set upserts value under id.
func (c *Collection[T]) Set(ctx context.Context, id string, value T) error {
	doc, err := c.documentRef(ctx, id)
	if err != nil {
		return err
	}
	payload, err := c.encode(ctx, value)
	if err != nil {
		return fmt.Errorf("firestore: encode document %s: %w", id, err)
	}
	if _, err := doc.Set(ctx, payload); err != nil {
		return WrapError(c.op("set"), err)
	}
	return nil
}

// Get fetches and decodes the document. Missing documents yield an error for which IsNotFound
// reports true.
func (c *Collection[T]) Get(ctx context.Context, id string) (Document[T], error) {
	doc, err := c.documentRef(ctx, id)
	if err != nil {
		return Document[T]{}, err
	}
	snapshot, err := doc.Get(ctx)
	if err != nil {
		return Document[T]{}, WrapError(c.op("get"), err)
	}
	return c.decodeDocument(ctx, snapshot)
}

// Delete removes the document. Deleting a missing document is not an error.
func (c *Collection[T]) Delete(ctx context.Context, id string) error {
	doc, err := c.documentRef(ctx, id)
	if err != nil {
		return err
	}
	if _, err := doc.Delete(ctx); err != nil && status.Code(err) != codes.NotFound {
		return WrapError(c.op("delete"), err)
	}
	return nil
}

// Upsert reads the document inside a transaction and hands it to fn (nil when missing). The value
// fn returns is written only when write is true.
func (c *Collection[T]) Upsert(ctx context.Context, id string, fn func(current *Document[T]) (next T, write bool, err error), opts ...TxOption) error {
	ref, err := c.documentRef(ctx, id)
	if err != nil {
		return err
	}
	return c.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var current *Document[T]
		snapshot, err := tx.Get(ref)
		switch {
		case status.Code(err) == codes.NotFound:
		case err != nil:
			return err
		default:
			doc, err := c.decodeDocument(ctx, snapshot)
			if err != nil {
				return err
			}
			current = &doc
		}

		next, write, err := fn(current)
		if err != nil || !write {
			return err
		}
		payload, err := c.encode(ctx, next)
		if err != nil {
			return fmt.Errorf("firestore: encode document %s: %w", id, err)
		}
		return tx.Set(ref, payload)
	}, opts...)
}

// DeleteWhere deletes up to limit documents matched by build and reports how many were removed.
func (c *Collection[T]) DeleteWhere(ctx context.Context, build QueryBuilder, limit int) (int, error) {
	coll, err := c.collectionRef(ctx)
	if err != nil {
		return 0, err
	}
	if limit <= 0 {
		limit = defaultDeleteBatch
	}
	query := coll.Query
	if build != nil {
		query = build(query)
	}
	docs, err := query.Limit(limit).Documents(ctx).GetAll()
	if err != nil {
		return 0, WrapError(c.op("query"), err)
	}
	if len(docs) == 0 {
		return 0, nil
	}

	client, err := c.provider.Client(ctx)
	if err != nil {
		return 0, err
	}
	batch := client.Batch()
	for _, doc := range docs {
		batch.Delete(doc.Ref)
	}
	if _, err := batch.Commit(ctx); err != nil {
		return 0, WrapError(c.op("delete"), err)
	}
	return len(docs), nil
}

func (c *Collection[T]) decodeDocument(ctx context.Context, snapshot *firestore.DocumentSnapshot) (Document[T], error) {
	entity, err := c.decode(ctx, snapshot)
	if err != nil {
		return Document[T]{}, err
	}
	return Document[T]{
		ID:         snapshot.Ref.ID,
		Data:       entity,
		UpdateTime: snapshot.UpdateTime,
	}, nil
}

func (c *Collection[T]) collectionRef(ctx context.Context) (*firestore.CollectionRef, error) {
	if c == nil || c.provider == nil {
		return nil, WrapError(c.op("collection"), errors.New("firestore: provider is nil"))
	}
	if c.name == "" {
		return nil, WrapError(c.op("collection"), errors.New("firestore: collection name is required"))
	}
	client, err := c.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(c.name), nil
}

func (c *Collection[T]) documentRef(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	if strings.TrimSpace(id) == "" {
		return nil, WrapError(c.op("document"), errors.New("firestore: document id is required"))
	}
	coll, err := c.collectionRef(ctx)
	if err != nil {
		return nil, err
	}
	return coll.Doc(id), nil
}

func (c *Collection[T]) op(action string) string {
	name := "firestore"
	if c != nil && c.name != "" {
		name = c.name
	}
	return name + "." + strings.ToLower(action)
}

// IdentityEncoder returns an encoder that writes the value unchanged.
func IdentityEncoder[T any]() Encoder[T] {
	return func(_ context.Context, value T) (any, error) {
		return value, nil
	}
}

// StructDecoder populates the target struct using Firestore's native decoding.
func StructDecoder[T any]() Decoder[T] {
	return func(_ context.Context, snap *firestore.DocumentSnapshot) (T, error) {
		var target T
		if err := snap.DataTo(&target); err != nil {
			return target, err
		}
		return target, nil
	}
}
