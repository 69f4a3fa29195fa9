package cloudsync

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const outboxSchema = `
CREATE TABLE IF NOT EXISTS outbox (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	item_key    TEXT,
	kind        TEXT NOT NULL,
	payload     BLOB NOT NULL,
	enqueued_at TEXT NOT NULL,
	attempts    INTEGER NOT NULL DEFAULT 0,
	last_error  TEXT NOT NULL DEFAULT ''
);
CREATE UNIQUE INDEX IF NOT EXISTS outbox_item_key ON outbox(item_key) WHERE item_key IS NOT NULL;
`

// SQLiteOutbox persiste a fila num arquivo SQLite; sobrevive a restart.
type SQLiteOutbox struct {
	db *sql.DB
	// enqMu torna lookup + insert do Enqueue atômicos
	enqMu sync.Mutex
}

func OpenSQLiteOutbox(path string) (*SQLiteOutbox, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("erro criando diretório da fila: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("erro abrindo fila %s: %w", path, err)
	}
	// sqlite com um writer só
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(outboxSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("erro criando schema da fila: %w", err)
	}
	log.Printf("[cloudsync] fila persistente em %s", path)
	return &SQLiteOutbox{db: db}, nil
}

func nullKey(key string) any {
	if key == "" {
		return nil
	}
	return key
}

func (o *SQLiteOutbox) Enqueue(kind Kind, key string, payload json.RawMessage, at time.Time) (Item, bool, error) {
	o.enqMu.Lock()
	defer o.enqMu.Unlock()

	if key != "" {
		if it, ok, err := o.byKey(key); err != nil || ok {
			return it, false, err
		}
	}
	res, err := o.db.Exec(
		`INSERT INTO outbox(item_key, kind, payload, enqueued_at) VALUES(?, ?, ?, ?)`,
		nullKey(key), string(kind), []byte(payload), at.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return Item{}, false, fmt.Errorf("erro inserindo na fila: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Item{}, false, err
	}
	return Item{
		ID:         id,
		Key:        key,
		Kind:       kind,
		Payload:    append(json.RawMessage(nil), payload...),
		EnqueuedAt: at.UTC(),
	}, true, nil
}

const itemColumns = `id, COALESCE(item_key, ''), kind, payload, enqueued_at, attempts, last_error`

func scanItem(sc interface{ Scan(...any) error }) (Item, error) {
	var (
		it      Item
		kind    string
		payload []byte
		at      string
	)
	if err := sc.Scan(&it.ID, &it.Key, &kind, &payload, &at, &it.Attempts, &it.LastError); err != nil {
		return it, err
	}
	it.Kind = Kind(kind)
	it.Payload = payload
	it.EnqueuedAt, _ = time.Parse(time.RFC3339Nano, at)
	return it, nil
}

func (o *SQLiteOutbox) byKey(key string) (Item, bool, error) {
	row := o.db.QueryRow(`SELECT `+itemColumns+` FROM outbox WHERE item_key = ?`, key)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Item{}, false, nil
	}
	if err != nil {
		return Item{}, false, fmt.Errorf("erro lendo fila: %w", err)
	}
	return it, true, nil
}

func (o *SQLiteOutbox) Peek(limit int) ([]Item, error) {
	q := `SELECT ` + itemColumns + ` FROM outbox ORDER BY id`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := o.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("erro lendo fila: %w", err)
	}
	defer rows.Close()

	var out []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("erro lendo item da fila: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (o *SQLiteOutbox) Get(id int64) (Item, bool, error) {
	it, err := scanItem(o.db.QueryRow(`SELECT `+itemColumns+` FROM outbox WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Item{}, false, nil
	}
	if err != nil {
		return Item{}, false, fmt.Errorf("erro lendo fila: %w", err)
	}
	return it, true, nil
}

func (o *SQLiteOutbox) Remove(id int64) error {
	if _, err := o.db.Exec(`DELETE FROM outbox WHERE id = ?`, id); err != nil {
		return fmt.Errorf("erro removendo item %d: %w", id, err)
	}
	return nil
}

func (o *SQLiteOutbox) MarkFailed(id int64, reason string) error {
	if _, err := o.db.Exec(`UPDATE outbox SET attempts = attempts + 1, last_error = ? WHERE id = ?`, reason, id); err != nil {
		return fmt.Errorf("erro atualizando item %d: %w", id, err)
	}
	return nil
}

func (o *SQLiteOutbox) Len() (int, error) {
	var n int
	if err := o.db.QueryRow(`SELECT COUNT(*) FROM outbox`).Scan(&n); err != nil {
		return 0, fmt.Errorf("erro contando fila: %w", err)
	}
	return n, nil
}

func (o *SQLiteOutbox) Close() error {
	return o.db.Close()
}
