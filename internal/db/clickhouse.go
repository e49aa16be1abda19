package db

import (
	"fmt"
	"time"

	_ "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/jmehdipour/isp-billing/internal/config"
	"github.com/jmoiron/sqlx"
)

// NewClickHouse opens the session snapshot store,
// e.g. clickhouse://default:@localhost:9000/ispbill?dial_timeout=5s&compress=true
func NewClickHouse(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("empty ClickHouse DSN")
	}
	db, err := sqlx.Open("clickhouse", cfg.DSN)
	if err != nil {
		return nil, err
	}
	return open(db, cfg, 3*time.Second)
}
