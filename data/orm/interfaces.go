// Package orm 定义模型执行层依赖的底层引擎契约：条件树、读写选项、模型与事务接口。
// 具体实现见 data/orm/basic。
package orm

import (
	"context"

	"ormkit/data/db"
	"ormkit/data/db/dialect"
	"ormkit/schema"
)

// Row 一行记录：字段名 → 已解码的值
type Row = map[string]any

// IEngine 底层引擎：一个 provider 对应一个引擎实例
type IEngine interface {
	// Name 返回 provider 名称
	Name() string
	Dialect() dialect.Dialect
	Capabilities() Capabilities

	// Define 绑定实体模式，重复定义同名实体返回 ConflictError
	Define(s *schema.Schema) (IModel, error)
	// Model 按实体名查找已定义的模型
	Model(entity string) (IModel, bool)
	// Models 按定义顺序返回全部模型
	Models() []IModel

	Begin(ctx context.Context) (ITx, error)
	// Query 执行原始 SQL 并以 Row 返回结果，不做字段解码
	Query(ctx context.Context, tx ITx, query string, args ...any) ([]Row, error)

	Ping(ctx context.Context) error
	Close() error
}

// ITx 引擎事务
type ITx interface {
	ID() string
	Commit() error
	Rollback() error
	// DB 返回绑定事务的数据库句柄
	DB() db.IExecutor
}

// IModel 单个实体上的原子操作
type IModel interface {
	Schema() *schema.Schema

	// Sync 建表（已存在时不做任何事）
	Sync(ctx context.Context) error
	Drop(ctx context.Context) error

	FindAll(ctx context.Context, opts FindOptions) ([]Row, error)
	// FindOne 没有匹配记录时返回 nil, nil
	FindOne(ctx context.Context, opts FindOptions) (Row, error)
	Count(ctx context.Context, opts FindOptions) (int64, error)
	// Distinct 返回某字段的去重取值
	Distinct(ctx context.Context, field string, opts FindOptions) ([]any, error)

	// Create 插入一行并返回重新读取的完整记录
	Create(ctx context.Context, values Row, opts WriteOptions) (Row, error)
	// BulkCreate 在同一事务中逐行插入
	BulkCreate(ctx context.Context, rows []Row, opts WriteOptions) ([]Row, error)
	// Update 按条件更新，values 中的 nil 写入 NULL，返回受影响行数
	Update(ctx context.Context, values Row, opts WriteOptions) (int64, error)
	// Destroy 软删除实体默认写入 deletedAt，Force 时物理删除
	Destroy(ctx context.Context, opts WriteOptions) (int64, error)
	// Restore 清空 deletedAt
	Restore(ctx context.Context, opts WriteOptions) (int64, error)
}
