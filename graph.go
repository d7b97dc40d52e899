package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"git.fiblab.net/sim/lanepath/netgraph"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// 路网集合中每个文档的格式：{class: "info"|"node"|"segment"|"attachment", data: {...}}
type graphDocument struct {
	Class string   `bson:"class"`
	Data  bson.Raw `bson:"data"`
}

// DownloadSnapshot reads a graph snapshot stored one element per document.
// Nodes and segments are ordered by their data.id field.
func DownloadSnapshot(ctx context.Context, coll *mongo.Collection) (*netgraph.Snapshot, error) {
	opts := options.Find().SetSort(bson.D{{Key: "class", Value: 1}, {Key: "data.id", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("find graph documents: %w", err)
	}
	defer cur.Close(ctx)

	s := &netgraph.Snapshot{}
	for cur.Next(ctx) {
		var doc graphDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode graph document: %w", err)
		}
		switch doc.Class {
		case "info":
			var v netgraph.InfoSpec
			err = bson.Unmarshal(doc.Data, &v)
			s.Infos = append(s.Infos, v)
		case "node":
			var v netgraph.NodeSpec
			err = bson.Unmarshal(doc.Data, &v)
			s.Nodes = append(s.Nodes, v)
		case "segment":
			var v netgraph.SegmentSpec
			err = bson.Unmarshal(doc.Data, &v)
			s.Segments = append(s.Segments, v)
		case "attachment":
			var v netgraph.AttachmentSpec
			err = bson.Unmarshal(doc.Data, &v)
			s.Attachments = append(s.Attachments, v)
		default:
			log.Warnf("skip graph document of unknown class %q", doc.Class)
		}
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", doc.Class, err)
		}
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return s, nil
}

// loadSnapshot resolves the snapshot from an OSM extract, a file or mongo,
// going through the cache dir when one is set.
func loadSnapshot(mongoURI string, graphPath *Path, osmFile, cacheDir string) (*netgraph.Snapshot, error) {
	var cacheFile string
	if cacheDir != "" {
		switch {
		case osmFile != "":
			osmPath, err := NewPath(osmFile)
			if err != nil || osmPath == nil || !osmPath.IsFile() {
				return nil, fmt.Errorf("osm file not found: %s", osmFile)
			}
			cacheFile = filepath.Join(cacheDir, osmPath.CacheName())
		case graphPath != nil:
			cacheFile = filepath.Join(cacheDir, graphPath.CacheName())
		}
	}
	if cacheFile != "" {
		if s, err := netgraph.ReadSnapshotFile(cacheFile); err == nil {
			log.Infof("load graph from cache %s", cacheFile)
			return s, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			log.Warnf("ignore broken cache %s: %v", cacheFile, err)
		}
	}

	var (
		s   *netgraph.Snapshot
		err error
	)
	switch {
	case osmFile != "":
		s, err = importOSM(osmFile)
	case graphPath == nil:
		return nil, errors.New("no graph source, set -graph or -osm")
	case graphPath.IsFile():
		log.Infof("load graph from %s", graphPath.File)
		s, err = netgraph.ReadSnapshotFile(graphPath.File)
	default:
		s, err = downloadFromMongo(mongoURI, graphPath)
	}
	if err != nil {
		return nil, err
	}

	if cacheFile != "" {
		if err := os.MkdirAll(cacheDir, 0o755); err != nil {
			log.Warnf("failed to create cache dir %s: %v", cacheDir, err)
		} else if err := netgraph.WriteSnapshotFile(cacheFile, s); err != nil {
			log.Warnf("failed to write cache %s: %v", cacheFile, err)
		} else {
			log.Infof("graph cached at %s", cacheFile)
		}
	}
	return s, nil
}

func importOSM(file string) (*netgraph.Snapshot, error) {
	log.Infof("import graph from osm extract %s", file)
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := netgraph.ReadOSMPBF(context.Background(), f)
	if err != nil {
		return nil, err
	}
	return netgraph.FromOSM(data)
}

func downloadFromMongo(mongoURI string, p *Path) (*netgraph.Snapshot, error) {
	if mongoURI == "" {
		return nil, fmt.Errorf("-mongo_uri is required to load %s", p)
	}
	log.Infof("download graph from %s", p)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(mongoURI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	defer client.Disconnect(context.Background())
	return DownloadSnapshot(ctx, client.Database(p.DB).Collection(p.Coll))
}

func loadNetwork(mongoURI string, graphPath *Path, osmFile, cacheDir string) (*netgraph.Network, error) {
	s, err := loadSnapshot(mongoURI, graphPath, osmFile, cacheDir)
	if err != nil {
		return nil, err
	}
	return s.Build()
}
