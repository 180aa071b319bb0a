package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var ErrNotFound = sql.ErrNoRows

// RecognitionRepo caches recognized text by image hash so that a photo sent
// twice is not recognized twice.
type RecognitionRepo struct{ DB *sql.DB }

func NewRecognitionRepo(db *sql.DB) *RecognitionRepo { return &RecognitionRepo{DB: db} }

const schema = `
create table if not exists recognitions (
  image_hash text not null,
  engine     text not null,
  languages  text not null,
  text       text not null,
  chat_id    bigint,
  created_at timestamptz not null default now(),
  primary key (image_hash, engine, languages)
);
create index if not exists recognitions_created_at_idx on recognitions (created_at);`

func (r *RecognitionRepo) EnsureSchema(ctx context.Context) error {
	_, err := r.DB.ExecContext(ctx, schema)
	return err
}

// Find returns the cached text for (imageHash, engine, languages). Rows older
// than maxAge are treated as missing when maxAge > 0.
func (r *RecognitionRepo) Find(ctx context.Context, imageHash, engine, languages string, maxAge time.Duration) (string, error) {
	const q = `select text, created_at
	           from recognitions
	           where image_hash=$1 and engine=$2 and languages=$3`
	var (
		text string
		ts   time.Time
	)
	if err := r.DB.QueryRowContext(ctx, q, imageHash, engine, languages).Scan(&text, &ts); err != nil {
		return "", err
	}
	if maxAge > 0 && time.Since(ts) > maxAge {
		return "", ErrNotFound
	}
	return text, nil
}

// Upsert stores recognized text. PK: (image_hash, engine, languages).
func (r *RecognitionRepo) Upsert(ctx context.Context, chatID int64, imageHash, engine, languages, text string) error {
	const q = `
insert into recognitions(image_hash, engine, languages, text, chat_id)
values ($1,$2,$3,$4,$5)
on conflict (image_hash, engine, languages)
do update set text=excluded.text, chat_id=excluded.chat_id, created_at=now()`
	_, err := r.DB.ExecContext(ctx, q, imageHash, engine, languages, text, chatID)
	return err
}

// PurgeOlderThan deletes cache rows created before now-olderThan.
func (r *RecognitionRepo) PurgeOlderThan(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, errors.New("olderThan must be > 0")
	}
	cutoff := time.Now().Add(-olderThan)
	const q = `delete from recognitions where created_at < $1`
	res, err := r.DB.ExecContext(ctx, q, cutoff)
	if err != nil {
		return 0, err
	}
	aff, _ := res.RowsAffected()
	return aff, nil
}
