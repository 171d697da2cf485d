package jobs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"

	"github.com/forgedev/codeforge/types"
)

// mongoCollection 任务记录所在的集合名。
const mongoCollection = "jobs"

// MongoStore 基于 MongoDB 的任务存储，database.driver 为 mongodb 时启用。
// 文档以 ref 为自然键，_id 由服务端生成。
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
	logger *zap.Logger
}

var _ Store = (*MongoStore)(nil)

// NewMongoStore 连接 MongoDB 并确保唯一索引存在。
func NewMongoStore(ctx context.Context, uri, database string, logger *zap.Logger) (*MongoStore, error) {
	if uri == "" {
		return nil, fmt.Errorf("mongo store requires a connection uri")
	}
	if database == "" {
		database = "codeforge"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	coll := client.Database(database).Collection(mongoCollection)
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "ref", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "archive_ref", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
	}
	if _, err := coll.Indexes().CreateMany(ctx, indexes); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("create mongodb indexes: %w", err)
	}

	logger = logger.With(zap.String("component", "job_store"))
	logger.Info("MongoDB 任务存储已就绪", zap.String("database", database))

	return &MongoStore{client: client, coll: coll, logger: logger}, nil
}

// Create 插入一条新任务记录。
func (s *MongoStore) Create(ctx context.Context, job *Job) error {
	if _, err := s.coll.InsertOne(ctx, job); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return types.NewError(types.ErrStorage, fmt.Sprintf("job %s already exists", job.Ref)).WithCause(err)
		}
		return types.NewError(types.ErrStorage, "create job record").WithCause(err)
	}
	return nil
}

// GetByRef 按工作目录 id 查询任务记录。
func (s *MongoStore) GetByRef(ctx context.Context, ref string) (*Job, error) {
	return s.findOne(ctx, bson.D{{Key: "ref", Value: ref}}, ref)
}

// GetByArchiveRef 按归档目录 id 查询任务记录。
func (s *MongoStore) GetByArchiveRef(ctx context.Context, archiveRef string) (*Job, error) {
	return s.findOne(ctx, bson.D{{Key: "archive_ref", Value: archiveRef}}, archiveRef)
}

// Update 以 ref 为键整体替换记录。
func (s *MongoStore) Update(ctx context.Context, job *Job) error {
	res, err := s.coll.ReplaceOne(ctx, bson.D{{Key: "ref", Value: job.Ref}}, job)
	if err != nil {
		return types.NewError(types.ErrStorage, "update job record").WithCause(err)
	}
	if res.MatchedCount == 0 {
		return types.NewError(types.ErrJobNotFound, fmt.Sprintf("job %s not found", job.Ref)).
			WithHTTPStatus(http.StatusNotFound)
	}
	return nil
}

// ListRecent 按创建时间倒序返回最近的任务记录。
func (s *MongoStore) ListRecent(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit))
	cursor, err := s.coll.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, types.NewError(types.ErrStorage, "list job records").WithCause(err)
	}

	var out []*Job
	if err := cursor.All(ctx, &out); err != nil {
		return nil, types.NewError(types.ErrStorage, "decode job records").WithCause(err)
	}
	return out, nil
}

// Ping 检查 MongoDB 连接是否可用，就绪探针使用。
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close 断开 MongoDB 连接。
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) findOne(ctx context.Context, filter bson.D, ref string) (*Job, error) {
	var job Job
	err := s.coll.FindOne(ctx, filter).Decode(&job)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, types.NewError(types.ErrJobNotFound, fmt.Sprintf("job %s not found", ref)).
			WithHTTPStatus(http.StatusNotFound)
	}
	if err != nil {
		return nil, types.NewError(types.ErrStorage, "load job record").WithCause(err)
	}
	return &job, nil
}
