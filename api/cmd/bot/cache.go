package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"ocr-bot/api/internal/store"
)

type cache struct {
	db   *sql.DB
	repo *store.RecognitionRepo
}

func openCache(ctx context.Context, dsn string) (*cache, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(1 * time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db.Ping: %w", err)
	}
	log.Info().Str("db", dsnSummary(dsn)).Msg("db connected")

	repo := store.NewRecognitionRepo(db)
	if err := repo.EnsureSchema(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("schema: %w", err)
	}
	return &cache{db: db, repo: repo}, nil
}

type purger interface {
	PurgeOlderThan(ctx context.Context, olderThan time.Duration) (int64, error)
}

func startPurge(spec string, ttl time.Duration, repo purger) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(spec, func() { purge(repo, ttl) })
	if err != nil {
		return nil, fmt.Errorf("cron %q: %w", spec, err)
	}
	c.Start()
	return c, nil
}

func purge(repo purger, ttl time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	n, err := repo.PurgeOlderThan(ctx, ttl)
	if err != nil {
		log.Error().Err(err).Msg("cache purge failed")
		return
	}
	log.Info().Int64("rows", n).Msg("cache purged")
}

// dsnSummary names the cache database for logs, without the password.
func dsnSummary(dsn string) string {
	cc, err := pgx.ParseConfig(dsn)
	if err != nil {
		return "unparsable dsn"
	}
	return fmt.Sprintf("%s@%s:%d/%s", cc.User, cc.Host, cc.Port, cc.Database)
}
