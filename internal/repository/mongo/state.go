package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"torrentd/internal/domain"
)

const appStateID = "app_state"

type torrentEntryDoc struct {
	Magnet    string `bson:"magnet,omitempty"`
	Torrent   string `bson:"torrent,omitempty"`
	SavePath  string `bson:"savePath"`
	InfoHash  string `bson:"infoHash"`
	Completed bool   `bson:"completed"`
}

type appStateDoc struct {
	ID        string            `bson:"_id"`
	Torrents  []torrentEntryDoc `bson:"torrents"`
	Settings  bson.M            `bson:"settings,omitempty"`
	UpdatedAt int64             `bson:"updatedAt"`
}

// StateRepository stores the application state as a single fixed-id document.
type StateRepository struct {
	collection *mongo.Collection
}

func NewStateRepository(client *mongo.Client, dbName, collectionName string) *StateRepository {
	return &StateRepository{collection: client.Database(dbName).Collection(collectionName)}
}

func Connect(ctx context.Context, uri string, extra ...*options.ClientOptions) (*mongo.Client, error) {
	opts := append([]*options.ClientOptions{options.Client().ApplyURI(uri)}, extra...)
	client, err := mongo.Connect(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (r *StateRepository) Load(ctx context.Context) (domain.AppState, error) {
	var doc appStateDoc
	err := r.collection.FindOne(ctx, bson.M{"_id": appStateID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.AppState{}, nil
		}
		return domain.AppState{}, err
	}
	state := domain.AppState{
		Torrents: make([]domain.TorrentStateEntry, 0, len(doc.Torrents)),
	}
	for _, e := range doc.Torrents {
		state.Torrents = append(state.Torrents, domain.TorrentStateEntry{
			Source:    domain.TorrentSource{Magnet: e.Magnet, Torrent: e.Torrent},
			SavePath:  e.SavePath,
			InfoHash:  domain.InfoHash(e.InfoHash),
			Completed: e.Completed,
		})
	}
	if len(doc.Settings) > 0 {
		state.Settings = make(domain.SettingsMap, len(doc.Settings))
		for k, v := range doc.Settings {
			state.Settings[k] = v
		}
	}
	return state, nil
}

func (r *StateRepository) Save(ctx context.Context, state domain.AppState) error {
	entries := make([]torrentEntryDoc, 0, len(state.Torrents))
	for _, e := range state.Torrents {
		entries = append(entries, torrentEntryDoc{
			Magnet:    e.Source.Magnet,
			Torrent:   e.Source.Torrent,
			SavePath:  e.SavePath,
			InfoHash:  string(e.InfoHash),
			Completed: e.Completed,
		})
	}
	update := bson.M{
		"$set": bson.M{
			"torrents":  entries,
			"settings":  bson.M(state.Settings),
			"updatedAt": time.Now().Unix(),
		},
	}
	_, err := r.collection.UpdateOne(
		ctx,
		bson.M{"_id": appStateID},
		update,
		options.Update().SetUpsert(true),
	)
	return err
}
