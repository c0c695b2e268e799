package export

import (
	"context"
	"encoding/json"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/teranos/marketpulse/am"
	"github.com/teranos/marketpulse/errors"
	"github.com/teranos/marketpulse/market"
)

// Mongo sink constants
const (
	MongoReportsCollection = "analysis_reports"
	mongoBatchSize         = 100
	mongoConnectTimeout    = 10 * time.Second
)

// mongoReport is the document of one report, keyed by symbol and day
type mongoReport struct {
	ID         string         `bson:"_id"`
	Symbol     string         `bson:"symbol"`
	ReportDate time.Time      `bson:"report_date"`
	Signal     string         `bson:"signal"`
	LastClose  string         `bson:"last_close"`
	Summary    map[string]any `bson:"summary"`
	UpdatedAt  time.Time      `bson:"updated_at"`
}

// mongoCollection is the part of *mongo.Collection the exporter uses
type mongoCollection interface {
	BulkWrite(ctx context.Context, models []mongo.WriteModel, opts ...*options.BulkWriteOptions) (*mongo.BulkWriteResult, error)
}

// MongoExporter mirrors reports into a MongoDB collection with upserting
// bulk writes.
type MongoExporter struct {
	client *mongo.Client
	coll   mongoCollection
	now    func() time.Time
}

// NewMongoExporter connects to uri and verifies the server answers
func NewMongoExporter(ctx context.Context, uri, database string) (*MongoExporter, error) {
	if uri == "" || database == "" {
		return nil, errors.WithHint(
			errors.Wrap(errors.ErrInvalidRequest, "export.mongo_uri and export.mongo_database are required"),
			"set MARKETPULSE_EXPORT_MONGO_URI",
		)
	}
	ctx, cancel := context.WithTimeout(ctx, mongoConnectTimeout)
	defer cancel()

	clientOpts := options.Client().
		ApplyURI(uri).
		SetServerAPIOptions(options.ServerAPI(options.ServerAPIVersion1))
	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "connect to mongodb"), errors.ErrServiceUnavailable)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errors.Mark(errors.Wrap(err, "ping mongodb"), errors.ErrServiceUnavailable)
	}
	e := newMongoExporter(client.Database(database).Collection(MongoReportsCollection), time.Now)
	e.client = client
	return e, nil
}

func newMongoExporter(coll mongoCollection, now func() time.Time) *MongoExporter {
	return &MongoExporter{coll: coll, now: now}
}

// Name implements Exporter
func (e *MongoExporter) Name() string { return am.SinkMongo }

// Export replaces each report's document, inserting it when missing
func (e *MongoExporter) Export(ctx context.Context, reports []market.Report) error {
	batches, err := mongoWriteModels(reports, e.now().UTC(), mongoBatchSize)
	if err != nil {
		return err
	}
	for _, batch := range batches {
		if _, err := e.coll.BulkWrite(ctx, batch, options.BulkWrite().SetOrdered(false)); err != nil {
			return errors.Wrapf(err, "bulk write %d reports", len(batch))
		}
	}
	return nil
}

// Close disconnects the client
func (e *MongoExporter) Close(ctx context.Context) error {
	if e.client == nil {
		return nil
	}
	return e.client.Disconnect(ctx)
}

// mongoReportID is the document key of a report
func mongoReportID(r market.Report) string {
	return r.Symbol + ":" + r.ReportDate.UTC().Format("2006-01-02")
}

// summaryDocument renders a summary through its JSON form so decimals stay
// readable strings in BSON
func summaryDocument(s market.Summary) (map[string]any, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// mongoWriteModels renders upserts split into batches of at most size
func mongoWriteModels(reports []market.Report, now time.Time, size int) ([][]mongo.WriteModel, error) {
	var batches [][]mongo.WriteModel
	var current []mongo.WriteModel
	for _, r := range reports {
		summary, err := summaryDocument(r.Summary)
		if err != nil {
			return nil, errors.Wrapf(err, "encode summary of %s", r.Symbol)
		}
		doc := mongoReport{
			ID:         mongoReportID(r),
			Symbol:     r.Symbol,
			ReportDate: r.ReportDate.UTC().Truncate(24 * time.Hour),
			Signal:     string(r.Signal),
			LastClose:  r.LastClose.String(),
			Summary:    summary,
			UpdatedAt:  now,
		}
		current = append(current, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": doc.ID}).
			SetReplacement(doc).
			SetUpsert(true))
		if len(current) == size {
			batches = append(batches, current)
			current = nil
		}
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches, nil
}
