package storage

import (
	"context"
	"errors"
	"regexp"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoObjectStore keeps envelopes in a MongoDB collection, for
// deployments whose private storage is remote. It stores ciphertext
// only; the logical name is the document _id.
type MongoObjectStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

func NewMongoObjectStore(ctx context.Context, uri, dbName, collName string) (*MongoObjectStore, error) {
	if uri == "" {
		return nil, errors.New("mongo uri is empty")
	}
	cli, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	// Verify connection quickly
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := cli.Ping(pctx, nil); err != nil {
		_ = cli.Disconnect(ctx)
		return nil, err
	}
	return &MongoObjectStore{client: cli, coll: cli.Database(dbName).Collection(collName)}, nil
}

func (m *MongoObjectStore) Put(ctx context.Context, name string, data []byte) error {
	if name == "" {
		return errors.New("empty object name")
	}
	_, err := m.coll.UpdateByID(
		ctx,
		name,
		bson.M{
			"$set": bson.M{
				"data":      data,
				"updatedAt": time.Now(),
			},
			"$setOnInsert": bson.M{
				"createdAt": time.Now(),
			},
		},
		options.Update().SetUpsert(true),
	)
	return err
}

func (m *MongoObjectStore) Get(ctx context.Context, name string) ([]byte, error) {
	if name == "" {
		return nil, errors.New("empty object name")
	}
	var doc struct {
		Data []byte `bson:"data"`
	}
	err := m.coll.FindOne(ctx, bson.M{"_id": name}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	return doc.Data, err
}

func (m *MongoObjectStore) Delete(ctx context.Context, name string) error {
	if name == "" {
		return errors.New("empty object name")
	}
	_, err := m.coll.DeleteOne(ctx, bson.M{"_id": name})
	return err
}

func (m *MongoObjectStore) List(ctx context.Context, prefix string) ([]string, error) {
	filter := bson.M{}
	if prefix != "" {
		filter["_id"] = bson.M{"$regex": primitive.Regex{Pattern: "^" + regexp.QuoteMeta(prefix)}}
	}
	cur, err := m.coll.Find(ctx, filter, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var names []string
	for cur.Next(ctx) {
		var doc struct {
			ID string `bson:"_id"`
		}
		if err := cur.Decode(&doc); err == nil {
			names = append(names, doc.ID)
		}
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func (m *MongoObjectStore) WipeTree(ctx context.Context) error {
	_, err := m.coll.DeleteMany(ctx, bson.M{})
	return err
}

func (m *MongoObjectStore) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
