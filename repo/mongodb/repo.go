// Copyright (c) 2026 - The Event Machine authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package mongodb is a read model repository on MongoDB.
package mongodb

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongoOptions "go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readconcern"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.mongodb.org/mongo-driver/v2/mongo/writeconcern"

	em "github.com/looplab/eventmachine"
	"github.com/looplab/eventmachine/mongoutils"
)

const defaultCollectionName = "repository"

// ErrModelNotSet is when a model factory is not set on the Repo.
var ErrModelNotSet = errors.New("model not set")

// Repo implements a MongoDB repository for entities. Entities are stored as
// documents with the entity ID as "_id", so models need a `bson:"_id"` tag on
// their ID field.
//
// Saving a versionable entity only succeeds if it is newer than the stored
// one. Operations made with the session context of the MongoDB event store,
// as given to InTransaction commit listeners, are part of its transaction.
type Repo struct {
	client          *mongo.Client
	clientOwnership clientOwnership
	db              *mongo.Database
	collection      *mongo.Collection
	newEntity       func() em.Entity
}

type clientOwnership int

const (
	internalClient clientOwnership = iota
	externalClient
)

// NewRepo creates a new Repo with a MongoDB URI: `mongodb://hostname`.
func NewRepo(uri, dbName string, options ...Option) (*Repo, error) {
	opts := mongoOptions.Client().ApplyURI(uri)
	opts.SetWriteConcern(writeconcern.Majority())
	opts.SetReadConcern(readconcern.Majority())
	opts.SetReadPreference(readpref.Primary())

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("could not connect to DB: %w", err)
	}

	r, err := newRepoWithClient(client, internalClient, dbName, options...)
	if err != nil {
		client.Disconnect(context.Background())
		return nil, err
	}

	return r, nil
}

// NewRepoWithClient creates a new Repo with a client. The client is not
// disconnected by Close.
func NewRepoWithClient(client *mongo.Client, dbName string, options ...Option) (*Repo, error) {
	return newRepoWithClient(client, externalClient, dbName, options...)
}

func newRepoWithClient(client *mongo.Client, clientOwnership clientOwnership, dbName string, options ...Option) (*Repo, error) {
	if client == nil {
		return nil, fmt.Errorf("missing DB client")
	}

	if err := mongoutils.CheckDatabaseName(dbName); err != nil {
		return nil, fmt.Errorf("invalid database name %q: %w", dbName, err)
	}

	db := client.Database(dbName)
	r := &Repo{
		client:          client,
		clientOwnership: clientOwnership,
		db:              db,
		collection:      db.Collection(defaultCollectionName),
	}

	for _, option := range options {
		if err := option(r); err != nil {
			return nil, fmt.Errorf("error while applying option: %w", err)
		}
	}

	if err := r.client.Ping(context.Background(), readpref.Primary()); err != nil {
		return nil, fmt.Errorf("could not connect to MongoDB: %w", err)
	}

	return r, nil
}

// Option is an option setter used to configure creation.
type Option func(*Repo) error

// WithCollectionName uses a different collection from the default "repository" collection.
func WithCollectionName(collection string) Option {
	return func(r *Repo) error {
		if err := mongoutils.CheckCollectionName(collection); err != nil {
			return fmt.Errorf("repository collection: %w", err)
		}

		r.collection = r.db.Collection(collection)

		return nil
	}
}

// WithEntityFactory sets the factory of the concrete entity type to decode
// documents into. It is required.
func WithEntityFactory(f func() em.Entity) Option {
	return func(r *Repo) error {
		r.newEntity = f
		return nil
	}
}

// Collection returns the collection of the repo, for custom queries.
func (r *Repo) Collection() *mongo.Collection {
	return r.collection
}

// Find implements the Find method of the eventmachine.ReadRepo interface.
func (r *Repo) Find(ctx context.Context, id string) (em.Entity, error) {
	if r.newEntity == nil {
		return nil, &em.RepoError{
			Err:      ErrModelNotSet,
			Op:       em.RepoOpFind,
			EntityID: id,
		}
	}

	entity := r.newEntity()
	if err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(entity); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			err = em.ErrEntityNotFound
		} else {
			err = mongoutils.StorageErr("could not find", err)
		}

		return nil, &em.RepoError{
			Err:      err,
			Op:       em.RepoOpFind,
			EntityID: id,
		}
	}

	return entity, nil
}

// FindAll implements the FindAll method of the eventmachine.ReadRepo interface.
// Entities are returned in ID order.
func (r *Repo) FindAll(ctx context.Context) ([]em.Entity, error) {
	if r.newEntity == nil {
		return nil, &em.RepoError{
			Err: ErrModelNotSet,
			Op:  em.RepoOpFindAll,
		}
	}

	cursor, err := r.collection.Find(ctx, bson.M{},
		mongoOptions.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, &em.RepoError{
			Err: mongoutils.StorageErr("could not find", err),
			Op:  em.RepoOpFindAll,
		}
	}
	defer cursor.Close(ctx)

	result := []em.Entity{}

	for cursor.Next(ctx) {
		entity := r.newEntity()
		if err := cursor.Decode(entity); err != nil {
			return nil, &em.RepoError{
				Err: fmt.Errorf("could not unmarshal: %w", err),
				Op:  em.RepoOpFindAll,
			}
		}

		result = append(result, entity)
	}

	if err := cursor.Err(); err != nil {
		return nil, &em.RepoError{
			Err: mongoutils.StorageErr("could not iterate", err),
			Op:  em.RepoOpFindAll,
		}
	}

	return result, nil
}

// Save implements the Save method of the eventmachine.WriteRepo interface.
func (r *Repo) Save(ctx context.Context, entity em.Entity) error {
	id := entity.EntityID()
	if id == "" {
		return &em.RepoError{
			Err: em.ErrMissingEntityID,
			Op:  em.RepoOpSave,
		}
	}

	filter := bson.M{"_id": id}

	// Only replace older versions, an existing newer version makes the
	// upsert fail with a duplicate key.
	versionable, hasVersion := entity.(em.Versionable)
	if hasVersion {
		filter["version"] = bson.M{"$lt": versionable.AggregateVersion()}
	}

	if _, err := r.collection.ReplaceOne(ctx, filter, entity,
		mongoOptions.Replace().SetUpsert(true),
	); err != nil {
		if hasVersion && mongo.IsDuplicateKeyError(err) {
			err = em.ErrIncorrectEntityVersion
		} else {
			err = mongoutils.StorageErr("could not save/update", err)
		}

		return &em.RepoError{
			Err:      err,
			Op:       em.RepoOpSave,
			EntityID: id,
		}
	}

	return nil
}

// Remove implements the Remove method of the eventmachine.WriteRepo interface.
func (r *Repo) Remove(ctx context.Context, id string) error {
	res, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return &em.RepoError{
			Err:      mongoutils.StorageErr("could not delete", err),
			Op:       em.RepoOpRemove,
			EntityID: id,
		}
	}

	if res.DeletedCount == 0 {
		return &em.RepoError{
			Err:      em.ErrEntityNotFound,
			Op:       em.RepoOpRemove,
			EntityID: id,
		}
	}

	return nil
}

// Clear clears the read model collection.
func (r *Repo) Clear(ctx context.Context) error {
	if err := r.collection.Drop(ctx); err != nil {
		return &em.RepoError{
			Err: mongoutils.StorageErr("could not drop collection", err),
			Op:  em.RepoOpRemove,
		}
	}

	return nil
}

// Close implements the Close method of the eventmachine.WriteRepo interface.
func (r *Repo) Close() error {
	if r.clientOwnership == externalClient {
		return nil
	}

	return r.client.Disconnect(context.Background())
}
