package dialect

import (
	"strconv"
	"strings"

	core "ormkit/data/db"
)

// Name 标准化的数据库方言名称
type Name string

const (
	NameMySQL    Name = "mysql"
	NameSQLite   Name = "sqlite"
	NamePostgres Name = "postgres"
	NameUnknown  Name = ""
)

// 行锁级别（与查询选项 $lock.$level 对应）
const (
	LockUpdate      = "UPDATE"
	LockShare       = "SHARE"
	LockKeyShare    = "KEY SHARE"
	LockNoKeyUpdate = "NO KEY UPDATE"
)

// Dialect 表示当前数据库的方言能力
//
// 抽象的能力：
//   - 标识符转义与占位符改写
//   - DELETE ... LIMIT 支持
//   - 行锁子句（FOR UPDATE / FOR KEY SHARE ... OF ... SKIP LOCKED）
//   - 建表时的列类型映射
type Dialect struct {
	name Name
}

// New 根据字符串构造方言（大小写不敏感）
func New(name string) Dialect {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "mysql":
		return Dialect{name: NameMySQL}
	case "sqlite", "sqlite3":
		return Dialect{name: NameSQLite}
	case "postgres", "postgresql", "pgx":
		return Dialect{name: NamePostgres}
	default:
		return Dialect{name: NameUnknown}
	}
}

// FromDatabase 按执行器的驱动名推断方言，nil 返回 Unknown
func FromDatabase(db core.IExecutor) Dialect {
	if db == nil {
		return Dialect{name: NameUnknown}
	}
	return New(db.DriverName())
}

// Name 返回标准化方言名
func (d Dialect) Name() Name {
	return d.name
}

// QuoteIdentifier 根据方言对标识符进行转义（如表名/列名）。
//
//   - 支持 schema.table、table.column 等带点形式，会对每一段分别加引号；
//   - MySQL 使用反引号，Postgres/SQLite 使用双引号；
//   - Unknown 方言返回原始字符串。
//
// 不负责校验标识符语法。
func (d Dialect) QuoteIdentifier(name string) string {
	if name == "" {
		return ""
	}
	parts := strings.Split(name, ".")
	for i, p := range parts {
		if p == "" || p == "*" {
			continue
		}
		switch d.name {
		case NameMySQL:
			parts[i] = "`" + p + "`"
		case NameSQLite, NamePostgres:
			parts[i] = `"` + p + `"`
		}
	}
	return strings.Join(parts, ".")
}

// Rebind 将通用占位符 ? 转换为方言特定形式。
//
// 仅 Postgres 需要替换（? → $1、$2...）；单引号字符串字面量中的 ? 保持不变。
func (d Dialect) Rebind(query string) string {
	if query == "" || d.name != NamePostgres {
		return query
	}
	var sb strings.Builder
	sb.Grow(len(query) + 8)
	argIndex := 1
	inLiteral := false
	for i := 0; i < len(query); i++ {
		ch := query[i]
		switch {
		case ch == '\'':
			inLiteral = !inLiteral
			sb.WriteByte(ch)
		case ch == '?' && !inLiteral:
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(argIndex))
			argIndex++
		default:
			sb.WriteByte(ch)
		}
	}
	return sb.String()
}

// SupportsDeleteLimit 当前方言是否支持 DELETE ... LIMIT 语法
func (d Dialect) SupportsDeleteLimit() bool {
	return d.name == NameMySQL
}

// SupportsLocking 是否支持 SELECT ... FOR UPDATE 行锁
func (d Dialect) SupportsLocking() bool {
	return d.name == NameMySQL || d.name == NamePostgres
}

// LockClause 返回行锁子句（带前导空格），不支持的方言或级别返回空串。
//
// KEY SHARE / NO KEY UPDATE 只有 Postgres 支持，MySQL 下分别降级为 SHARE / UPDATE；
// OF 子句只在 Postgres 下输出。
func (d Dialect) LockClause(level, of string, skipLocked bool) string {
	if !d.SupportsLocking() {
		return ""
	}
	if level == "" {
		level = LockUpdate
	}
	if d.name == NameMySQL {
		switch level {
		case LockKeyShare:
			level = LockShare
		case LockNoKeyUpdate:
			level = LockUpdate
		}
	}

	clause := " FOR " + level
	if of != "" && d.name == NamePostgres {
		clause += " OF " + d.QuoteIdentifier(of)
	}
	if skipLocked {
		clause += " SKIP LOCKED"
	}
	return clause
}

// LikeInsensitive 返回大小写不敏感的 LIKE 片段，col 需已转义
func (d Dialect) LikeInsensitive(col string, negate bool) string {
	if d.name == NamePostgres {
		if negate {
			return col + " NOT ILIKE ?"
		}
		return col + " ILIKE ?"
	}
	if negate {
		return "LOWER(" + col + ") NOT LIKE LOWER(?)"
	}
	return "LOWER(" + col + ") LIKE LOWER(?)"
}

// ColumnType 把字段类型标签映射为建表用的列类型
func (d Dialect) ColumnType(kind string) string {
	switch d.name {
	case NameMySQL:
		switch kind {
		case "integer":
			return "INT"
		case "bigint":
			return "BIGINT"
		case "float":
			return "DOUBLE"
		case "decimal":
			return "DECIMAL(20,6)"
		case "boolean":
			return "TINYINT(1)"
		case "text":
			return "TEXT"
		case "date":
			return "DATE"
		case "datetime":
			return "DATETIME(6)"
		case "json", "array":
			return "JSON"
		case "uuid":
			return "CHAR(36)"
		case "blob":
			return "BLOB"
		default:
			return "VARCHAR(255)"
		}
	case NamePostgres:
		switch kind {
		case "integer":
			return "INTEGER"
		case "bigint":
			return "BIGINT"
		case "float":
			return "DOUBLE PRECISION"
		case "decimal":
			return "NUMERIC(20,6)"
		case "boolean":
			return "BOOLEAN"
		case "text":
			return "TEXT"
		case "date":
			return "DATE"
		case "datetime":
			return "TIMESTAMPTZ"
		case "json", "array":
			return "JSONB"
		case "uuid":
			return "UUID"
		case "blob":
			return "BYTEA"
		default:
			return "VARCHAR(255)"
		}
	default:
		// sqlite 按类型亲和性存储；时间以定长 UTC 文本保存
		switch kind {
		case "integer", "bigint", "boolean":
			return "INTEGER"
		case "float":
			return "REAL"
		case "decimal":
			return "NUMERIC"
		case "blob":
			return "BLOB"
		default:
			return "TEXT"
		}
	}
}

// AutoIncrementColumn 返回自增主键列定义（不含列名）
func (d Dialect) AutoIncrementColumn() string {
	switch d.name {
	case NameMySQL:
		return "BIGINT AUTO_INCREMENT PRIMARY KEY"
	case NamePostgres:
		return "BIGSERIAL PRIMARY KEY"
	default:
		return "INTEGER PRIMARY KEY AUTOINCREMENT"
	}
}

// NativeTime 驱动是否原生支持 time.Time 参数（sqlite 使用文本存储）
func (d Dialect) NativeTime() bool {
	return d.name == NameMySQL || d.name == NamePostgres
}
