package db

import (
	"database/sql"
	"strings"

	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"pdf-qa/internal/config"
)

// Document is one row of a collection table. The table name is chosen per
// query, so the model only carries the alias.
type Document struct {
	bun.BaseModel `bun:"alias:d"`
	ID            string          `bun:"id,pk,type:uuid"`
	Content       string          `bun:"content,notnull"`
	Metadata      map[string]any  `bun:"metadata,type:jsonb"`
	Embedding     pgvector.Vector `bun:"embedding,type:vector"`
	Score         float64         `bun:"score,scanonly"`
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

// ConnectDB opens URL style DSNs with pgdriver and key=value DSNs with lib/pq.
func ConnectDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	dsn := config.NormalizeDatabaseURL(cfg.URL)
	if isURLDSN(dsn) {
		return sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn))), nil
	}
	return sql.Open("postgres", dsn)
}

func isURLDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://")
}
