package db

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	glebarez "github.com/glebarez/sqlite"
	gomysql "github.com/go-sql-driver/mysql"
	"github.com/smallbiznis/atlas/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Dialect picks the gorm dialector for DATABASE_TYPE.
//
//	postgres  pgx, the production store
//	mysql     go-sql-driver
//	sqlite    pure Go (glebarez), no cgo needed
//	sqlite3   mattn/go-sqlite3 through cgo
func Dialect(cfg config.Config) (gorm.Dialector, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.DBType)) {
	case "postgres", "postgresql":
		return postgres.New(postgres.Config{DSN: postgresDSN(cfg)}), nil
	case "mysql":
		return mysql.Open(mysqlDSN(cfg)), nil
	case "sqlite":
		return glebarez.Open(sqliteDSN(cfg)), nil
	case "sqlite3":
		return sqlite.Open(sqliteDSN(cfg)), nil
	default:
		return nil, fmt.Errorf("db: unsupported DATABASE_TYPE %q", cfg.DBType)
	}
}

func postgresDSN(cfg config.Config) string {
	q := url.Values{}
	q.Set("sslmode", defaultString(cfg.DBSSLMode, "disable"))
	q.Set("TimeZone", "UTC")
	if cfg.DBTimeout > 0 {
		q.Set("connect_timeout", fmt.Sprint(int(cfg.DBTimeout/time.Second)))
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.DBUser, cfg.DBPassword),
		Host:     net.JoinHostPort(cfg.DBHost, cfg.DBPort),
		Path:     "/" + cfg.DBName,
		RawQuery: q.Encode(),
	}
	return u.String()
}

func mysqlDSN(cfg config.Config) string {
	c := gomysql.NewConfig()
	c.User = cfg.DBUser
	c.Passwd = cfg.DBPassword
	c.Net = "tcp"
	c.Addr = net.JoinHostPort(cfg.DBHost, cfg.DBPort)
	c.DBName = cfg.DBName
	c.ParseTime = true
	c.Loc = time.UTC
	c.Timeout = cfg.DBTimeout
	c.Params = map[string]string{"charset": "utf8mb4"}
	return c.FormatDSN()
}

// sqliteDSN enables WAL and a busy timeout so the scheduler and the API can
// share one file.
func sqliteDSN(cfg config.Config) string {
	path := defaultString(cfg.DBPath, "atlas.db")
	if strings.Contains(path, "?") || strings.Contains(path, "mode=memory") {
		return path
	}
	return path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
}

func defaultString(v, def string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return def
}
