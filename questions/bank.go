package questions

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Bank 基于 SQLite 的本地题库
type Bank struct {
	db *sql.DB
}

func OpenBank(path string) (*Bank, error) {
	if path == "" {
		return nil, fmt.Errorf("empty question bank path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, stmt := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=5000;",
		`CREATE TABLE IF NOT EXISTS questions (
			kit_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			id TEXT NOT NULL,
			body TEXT NOT NULL,
			PRIMARY KEY (kit_id, id)
		);`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init question bank: %w", err)
		}
	}
	return &Bank{db: db}, nil
}

func (b *Bank) Close() error { return b.db.Close() }

// Questions 按 position 顺序返回套题
func (b *Bank) Questions(ctx context.Context, kitID string) ([]Question, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT body FROM questions WHERE kit_id = ? ORDER BY position, id`, kitID)
	if err != nil {
		return nil, fmt.Errorf("query kit %s: %w", kitID, err)
	}
	defer rows.Close()

	var out []Question
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var q Question
		if err := json.Unmarshal([]byte(body), &q); err != nil {
			return nil, fmt.Errorf("kit %s: decode question: %w", kitID, err)
		}
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrKitNotFound, kitID)
	}
	return out, nil
}

// PutKit 整体替换一套题
func (b *Bank) PutKit(ctx context.Context, kitID string, qs []Question) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM questions WHERE kit_id = ?`, kitID); err != nil {
		return err
	}
	for i, q := range qs {
		body, err := json.Marshal(q)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO questions (kit_id, position, id, body) VALUES (?, ?, ?, ?)`,
			kitID, i, q.ID, string(body)); err != nil {
			return fmt.Errorf("insert question %s: %w", q.ID, err)
		}
	}
	return tx.Commit()
}
