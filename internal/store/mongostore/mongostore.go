// Package mongostore keeps each fleet collection in a MongoDB collection of
// the same name. Completion uses multi-document transactions, so the server
// must run as a replica set.
package mongostore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"frota/internal/core"
	"frota/internal/store"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Metadata keys kept next to the document fields.
const (
	keyID      = "_id"
	keyCreated = "_created"
	keyUpdated = "_updated"
)

type Store struct {
	*store.Feed

	client *mongo.Client
	db     *mongo.Database
	now    func() time.Time
}

var (
	_ store.Store      = (*Store)(nil)
	_ store.Transactor = (*Store)(nil)
)

func Open(ctx context.Context, uri, database string) (*Store, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	s := &Store{client: client, db: client.Database(database), now: time.Now}
	s.Feed = store.NewFeed(s.List)
	if err := s.ensureIndexes(ctx); err != nil {
		client.Disconnect(context.Background())
		return nil, err
	}
	slog.Info("Document store ready", "dialect", "mongo", "database", database)
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	for _, c := range store.Collections {
		_, err := s.db.Collection(string(c)).Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys: bson.D{{Key: store.KeyAccount, Value: 1}, {Key: keyCreated, Value: 1}},
		})
		if err != nil {
			return fmt.Errorf("create index on %s: %w", c, err)
		}
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, readpref.Primary()); err != nil {
		return core.NewStoreError("ping", "", err)
	}
	return nil
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *Store) coll(c store.Collection) *mongo.Collection { return s.db.Collection(string(c)) }

func scope(account, id string) bson.M {
	return bson.M{keyID: id, store.KeyAccount: account}
}

func checkWrite(op, account string, c store.Collection) error {
	if account == "" {
		return &core.ValidationError{Field: store.KeyAccount, Reason: "is required"}
	}
	if !c.Valid() {
		return core.NewStoreError(op, string(c), &core.ValidationError{Field: "collection", Reason: "unknown"})
	}
	return nil
}

func (s *Store) Create(ctx context.Context, account string, c store.Collection, data []byte) (string, error) {
	if err := checkWrite("create", account, c); err != nil {
		return "", err
	}
	fields, err := toBSON(data)
	if err != nil {
		return "", core.NewStoreError("create", string(c), err)
	}
	id := uuid.NewString()
	now := s.now().UnixNano()
	if _, err := s.coll(c).InsertOne(ctx, withMeta(fields, account, id, now, now)); err != nil {
		return "", core.NewStoreError("create", string(c), err)
	}
	s.Notify(ctx, account, c)
	return id, nil
}

func (s *Store) Put(ctx context.Context, account string, c store.Collection, id string, data []byte) error {
	if err := checkWrite("put", account, c); err != nil {
		return err
	}
	fields, err := toBSON(data)
	if err != nil {
		return core.NewStoreError("put", string(c), err)
	}
	now := s.now().UnixNano()
	created := now
	var prev bson.M
	err = s.coll(c).FindOne(ctx, scope(account, id),
		options.FindOne().SetProjection(bson.M{keyCreated: 1})).Decode(&prev)
	switch {
	case err == nil:
		if v, ok := prev[keyCreated].(int64); ok {
			created = v
		}
	case !errors.Is(err, mongo.ErrNoDocuments):
		return core.NewStoreError("put", string(c), err)
	}

	_, err = s.coll(c).ReplaceOne(ctx, scope(account, id), withMeta(fields, account, id, created, now),
		options.Replace().SetUpsert(true))
	if err != nil {
		return core.NewStoreError("put", string(c), err)
	}
	s.Notify(ctx, account, c)
	return nil
}

func (s *Store) Update(ctx context.Context, account string, c store.Collection, id string, patch map[string]any) error {
	if err := checkWrite("update", account, c); err != nil {
		return err
	}
	update, err := patchUpdate(patch, s.now().UnixNano())
	if err != nil {
		return core.NewStoreError("update", string(c), err)
	}
	res, err := s.coll(c).UpdateOne(ctx, scope(account, id), update)
	if err != nil {
		return core.NewStoreError("update", string(c), err)
	}
	if res.MatchedCount == 0 {
		return core.NewStoreError("update", string(c), core.ErrNotFound)
	}
	s.Notify(ctx, account, c)
	return nil
}

func (s *Store) Delete(ctx context.Context, account string, c store.Collection, id string) error {
	if err := checkWrite("delete", account, c); err != nil {
		return err
	}
	res, err := s.coll(c).DeleteOne(ctx, scope(account, id))
	if err != nil {
		return core.NewStoreError("delete", string(c), err)
	}
	if res.DeletedCount == 0 {
		return core.NewStoreError("delete", string(c), core.ErrNotFound)
	}
	s.Notify(ctx, account, c)
	return nil
}

func (s *Store) Get(ctx context.Context, account string, c store.Collection, id string) (store.Document, error) {
	var raw bson.M
	err := s.coll(c).FindOne(ctx, scope(account, id)).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return store.Document{}, core.NewStoreError("get", string(c), core.ErrNotFound)
	}
	if err != nil {
		return store.Document{}, core.NewStoreError("get", string(c), err)
	}
	doc, err := fromBSON(raw)
	if err != nil {
		return store.Document{}, core.NewStoreError("get", string(c), err)
	}
	return doc, nil
}

// List returns documents in creation order.
func (s *Store) List(ctx context.Context, account string, c store.Collection) ([]store.Document, error) {
	docs, err := s.query(ctx, c, bson.M{store.KeyAccount: account})
	if err != nil {
		return nil, core.NewStoreError("list", string(c), err)
	}
	return docs, nil
}

// Find matches value against string fields and, when value reads as a
// number, against numeric fields too.
func (s *Store) Find(ctx context.Context, account string, c store.Collection, field, value string) ([]store.Document, error) {
	candidates := bson.A{value}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		candidates = append(candidates, f)
	}
	docs, err := s.query(ctx, c, bson.M{store.KeyAccount: account, field: bson.M{"$in": candidates}})
	if err != nil {
		return nil, core.NewStoreError("find", string(c), err)
	}
	return docs, nil
}

func (s *Store) query(ctx context.Context, c store.Collection, filter bson.M) ([]store.Document, error) {
	opts := options.Find().SetSort(bson.D{{Key: keyCreated, Value: 1}, {Key: keyID, Value: 1}})
	cur, err := s.coll(c).Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	docs := []store.Document{}
	for cur.Next(ctx) {
		var raw bson.M
		if err := cur.Decode(&raw); err != nil {
			return nil, err
		}
		doc, err := fromBSON(raw)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, cur.Err()
}

// Complete applies the completion inside a multi-document transaction.
func (s *Store) Complete(ctx context.Context, account string, c store.Completion) (store.CompletionResult, error) {
	var res store.CompletionResult
	if err := checkWrite("complete", account, c.Child); err != nil {
		return res, err
	}

	sess, err := s.client.StartSession()
	if err != nil {
		return res, core.NewStoreError("complete", string(c.Child), err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		res = store.CompletionResult{}
		child, childCreated, err := s.load(sc, account, c.Child, c.ChildID)
		if err != nil {
			return nil, err
		}
		parent, parentCreated, err := s.load(sc, account, c.Parent, c.ParentID)
		if errors.Is(err, core.ErrNotFound) {
			parent = nil
		} else if err != nil {
			return nil, err
		}

		newChild, newParent, r, err := store.ApplyCompletion(c, child, parent)
		if err != nil {
			return nil, err
		}
		now := s.now().UnixNano()
		if err := s.replace(sc, account, c.Child, c.ChildID, newChild, childCreated, now); err != nil {
			return nil, err
		}
		if newParent != nil {
			if err := s.replace(sc, account, c.Parent, c.ParentID, newParent, parentCreated, now); err != nil {
				return nil, err
			}
		}
		res = r
		return nil, nil
	})
	if err != nil {
		return store.CompletionResult{}, core.NewStoreError("complete", string(c.Child), err)
	}

	s.Notify(ctx, account, c.Child)
	if res.CounterUpdated {
		s.Notify(ctx, account, c.Parent)
	}
	return res, nil
}

func (s *Store) load(ctx context.Context, account string, c store.Collection, id string) ([]byte, int64, error) {
	if id == "" || !c.Valid() {
		return nil, 0, core.ErrNotFound
	}
	var raw bson.M
	err := s.coll(c).FindOne(ctx, scope(account, id)).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, 0, core.ErrNotFound
	}
	if err != nil {
		return nil, 0, err
	}
	created, _ := raw[keyCreated].(int64)
	doc, err := fromBSON(raw)
	if err != nil {
		return nil, 0, err
	}
	return doc.Data, created, nil
}

func (s *Store) replace(ctx context.Context, account string, c store.Collection, id string, data []byte, created, now int64) error {
	fields, err := toBSON(data)
	if err != nil {
		return err
	}
	_, err = s.coll(c).ReplaceOne(ctx, scope(account, id), withMeta(fields, account, id, created, now))
	return err
}

// toBSON converts a flat JSON body into fields Mongo stores with native
// number types.
func toBSON(data []byte) (bson.M, error) {
	clean, err := store.Clean(data)
	if err != nil {
		return nil, err
	}
	fields := bson.M{}
	if err := bson.UnmarshalExtJSON(clean, false, &fields); err != nil {
		return nil, fmt.Errorf("convert document: %w", err)
	}
	delete(fields, keyCreated)
	delete(fields, keyUpdated)
	return fields, nil
}

func withMeta(fields bson.M, account, id string, created, updated int64) bson.M {
	fields[keyID] = id
	fields[store.KeyAccount] = account
	fields[keyCreated] = created
	fields[keyUpdated] = updated
	return fields
}

// fromBSON strips the metadata keys and renders the rest as relaxed JSON.
func fromBSON(raw bson.M) (store.Document, error) {
	id, _ := raw[keyID].(string)
	body := bson.M{}
	for k, v := range raw {
		switch k {
		case keyID, store.KeyAccount, keyCreated, keyUpdated:
			continue
		}
		body[k] = v
	}
	data, err := bson.MarshalExtJSON(body, false, false)
	if err != nil {
		return store.Document{}, fmt.Errorf("render document: %w", err)
	}
	return store.Document{ID: id, Data: data}, nil
}

// patchUpdate builds the $set/$unset update for a patch. Values go through
// JSON first so types such as decimal.Decimal land as their JSON form.
func patchUpdate(patch map[string]any, now int64) (bson.M, error) {
	set := bson.M{}
	unset := bson.M{}
	for k, v := range patch {
		if k == store.KeyID || k == store.KeyAccount || k == keyID || k == keyCreated || k == keyUpdated {
			continue
		}
		if v == nil {
			unset[k] = ""
			continue
		}
		set[k] = v
	}
	raw, err := json.Marshal(set)
	if err != nil {
		return nil, fmt.Errorf("encode patch: %w", err)
	}
	converted := bson.M{}
	if err := bson.UnmarshalExtJSON(raw, false, &converted); err != nil {
		return nil, fmt.Errorf("convert patch: %w", err)
	}
	converted[keyUpdated] = now

	update := bson.M{"$set": converted}
	if len(unset) > 0 {
		update["$unset"] = unset
	}
	return update, nil
}
