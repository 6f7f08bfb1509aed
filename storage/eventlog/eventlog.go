// Package eventlog keeps an append-only SQLite copy of every committed event.
// Rows are chained with blake3 so edits to the file are detectable.
package eventlog

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"lukechampine.com/blake3"
	_ "modernc.org/sqlite"

	"finerp/core/types"
)

// ErrTampered is returned by Verify when a stored row no longer matches the
// hash chain.
var ErrTampered = errors.New("eventlog: hash chain broken")

// Entry is one stored event.
type Entry struct {
	Sequence  uint64          `json:"sequence"`
	Height    uint64          `json:"height"`
	TxHash    string          `json:"txHash"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	PrevHash  string          `json:"prevHash"`
	Hash      string          `json:"hash"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Log is the SQLite-backed audit log.
type Log struct {
	db  *sql.DB
	now func() time.Time

	mu   sync.Mutex
	seq  uint64
	head [32]byte
}

// Open creates or opens the log at path. ":memory:" gives a private
// in-memory log.
func Open(path string) (*Log, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one connection keeps :memory: databases shared and writes serialised
	db.SetMaxOpenConns(1)
	l := &Log{db: db, now: time.Now}
	if err := l.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Log) init() error {
	const schema = `CREATE TABLE IF NOT EXISTS events (
            sequence INTEGER PRIMARY KEY,
            height INTEGER NOT NULL,
            tx_hash TEXT NOT NULL,
            type TEXT NOT NULL,
            payload TEXT NOT NULL,
            prev_hash TEXT NOT NULL,
            hash TEXT NOT NULL,
            created_at INTEGER NOT NULL
        );`
	if _, err := l.db.Exec(schema); err != nil {
		return err
	}
	row := l.db.QueryRow(`SELECT sequence, hash FROM events ORDER BY sequence DESC LIMIT 1`)
	var (
		seq  uint64
		hash string
	)
	switch err := row.Scan(&seq, &hash); {
	case errors.Is(err, sql.ErrNoRows):
		return nil
	case err != nil:
		return err
	}
	head, err := decodeHash(hash)
	if err != nil {
		return err
	}
	l.seq, l.head = seq, head
	return nil
}

func (l *Log) Close() error { return l.db.Close() }

// Head returns the sequence and hash of the last entry.
func (l *Log) Head() (uint64, string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq, hex.EncodeToString(l.head[:])
}

func chainHash(prev [32]byte, seq, height uint64, txHash, eventType string, payload []byte) [32]byte {
	var buf []byte
	buf = append(buf, prev[:]...)
	buf = binary.BigEndian.AppendUint64(buf, seq)
	buf = binary.BigEndian.AppendUint64(buf, height)
	for _, field := range [][]byte{[]byte(txHash), []byte(eventType), payload} {
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(field)))
		buf = append(buf, field...)
	}
	return blake3.Sum256(buf)
}

func decodeHash(s string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != len(out) {
		return out, fmt.Errorf("eventlog: invalid stored hash %q", s)
	}
	copy(out[:], raw)
	return out, nil
}

// AppendBlock stores every event of the block's receipt in one database
// transaction. Blocks without a receipt are ignored.
func (l *Log) AppendBlock(ctx context.Context, block *types.Block) ([]Entry, error) {
	if block == nil || block.Receipt == nil || len(block.Receipt.Events) == 0 {
		return nil, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() //nolint:errcheck

	seq, head := l.seq, l.head
	txHash := block.Receipt.TxHash.Hex()
	entries := make([]Entry, 0, len(block.Receipt.Events))
	for _, evt := range block.Receipt.Events {
		payload, err := json.Marshal(evt)
		if err != nil {
			return nil, err
		}
		seq++
		hash := chainHash(head, seq, block.Header.Height, txHash, evt.Type, payload)
		entry := Entry{
			Sequence:  seq,
			Height:    block.Header.Height,
			TxHash:    txHash,
			Type:      evt.Type,
			Payload:   payload,
			PrevHash:  hex.EncodeToString(head[:]),
			Hash:      hex.EncodeToString(hash[:]),
			CreatedAt: time.Unix(l.now().Unix(), 0).UTC(),
		}
		const stmt = `INSERT INTO events (sequence, height, tx_hash, type, payload, prev_hash, hash, created_at)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
		if _, err := tx.ExecContext(ctx, stmt, entry.Sequence, entry.Height, entry.TxHash, entry.Type,
			string(entry.Payload), entry.PrevHash, entry.Hash, entry.CreatedAt.Unix()); err != nil {
			return nil, fmt.Errorf("append event %d: %w", seq, err)
		}
		entries = append(entries, entry)
		head = hash
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	l.seq, l.head = seq, head
	return entries, nil
}

// Entries returns up to limit entries starting at sequence from.
func (l *Log) Entries(ctx context.Context, from uint64, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := l.db.QueryContext(ctx, `SELECT sequence, height, tx_hash, type, payload, prev_hash, hash, created_at
        FROM events WHERE sequence >= ? ORDER BY sequence LIMIT ?`, from, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var (
			entry     Entry
			payload   string
			createdAt int64
		)
		if err := rows.Scan(&entry.Sequence, &entry.Height, &entry.TxHash, &entry.Type, &payload,
			&entry.PrevHash, &entry.Hash, &createdAt); err != nil {
			return nil, err
		}
		entry.Payload = json.RawMessage(payload)
		entry.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, entry)
	}
	return out, rows.Err()
}

// Verify walks the whole log and recomputes the hash chain. It returns the
// number of verified entries, or ErrTampered naming the first bad sequence.
func (l *Log) Verify(ctx context.Context) (uint64, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT sequence, height, tx_hash, type, payload, prev_hash, hash
        FROM events ORDER BY sequence`)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	var (
		prev  [32]byte
		count uint64
	)
	for rows.Next() {
		var (
			seq, height                      uint64
			txHash, eventType, payload, p, h string
		)
		if err := rows.Scan(&seq, &height, &txHash, &eventType, &payload, &p, &h); err != nil {
			return count, err
		}
		if seq != count+1 || p != hex.EncodeToString(prev[:]) {
			return count, fmt.Errorf("%w at sequence %d", ErrTampered, seq)
		}
		want := chainHash(prev, seq, height, txHash, eventType, []byte(payload))
		if h != hex.EncodeToString(want[:]) {
			return count, fmt.Errorf("%w at sequence %d", ErrTampered, seq)
		}
		prev = want
		count++
	}
	return count, rows.Err()
}
