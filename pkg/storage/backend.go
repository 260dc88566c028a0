package storage

import (
	"database/sql"
	"sync"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"learnedindex/pkg/common"
	"learnedindex/pkg/logger"
)

// Backend 持久化当前有序数据集, 启动时加载, 每次重建后整体替换.
// watermark 是快照已合并的最大 key log 序号, 与数据集在同一事务中写入
type Backend interface {
	WriteKeys(keys []common.KeyType, watermark uint64) error
	LoadKeys() ([]common.KeyType, error)
	Watermark() (uint64, error)
	Count() (int, error)
	Close() error
}

type SQLiteBackend struct {
	db *sql.DB
	mu sync.Mutex
}

func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}

	query := `
	CREATE TABLE IF NOT EXISTS dataset (
		pos INTEGER PRIMARY KEY,
		key REAL NOT NULL
	);
	CREATE TABLE IF NOT EXISTS meta (
		name TEXT PRIMARY KEY,
		value INTEGER NOT NULL
	);`
	if _, err := db.Exec(query); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "init table")
	}

	_, err = db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA synchronous = NORMAL;
	`)
	if err != nil {
		logger.For("storage").Warnf("Failed to set PRAGMA: %v", err)
	}

	return &SQLiteBackend{db: db}, nil
}

// WriteKeys 在一个事务里替换整个数据集, keys[i] 存为 pos i
func (s *SQLiteBackend) WriteKeys(keys []common.KeyType, watermark uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM dataset"); err != nil {
		tx.Rollback()
		return err
	}

	stmt, err := tx.Prepare("INSERT INTO dataset (pos, key) VALUES (?, ?)")
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i, k := range keys {
		if _, err := stmt.Exec(i, float64(k)); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "insert pos %d", i)
		}
	}

	if _, err := tx.Exec("INSERT OR REPLACE INTO meta (name, value) VALUES ('watermark', ?)", int64(watermark)); err != nil {
		tx.Rollback()
		return errors.Wrap(err, "write watermark")
	}
	return tx.Commit()
}

func (s *SQLiteBackend) LoadKeys() ([]common.KeyType, error) {
	rows, err := s.db.Query("SELECT key FROM dataset ORDER BY pos ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []common.KeyType
	for rows.Next() {
		var k float64
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, common.KeyType(k))
	}
	return keys, rows.Err()
}

func (s *SQLiteBackend) Count() (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM dataset").Scan(&n)
	return n, err
}

// Watermark 返回快照记录的 key log 水位, 从未写过快照时为 0
func (s *SQLiteBackend) Watermark() (uint64, error) {
	var v int64
	err := s.db.QueryRow("SELECT value FROM meta WHERE name = 'watermark'").Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return uint64(v), err
}

func (s *SQLiteBackend) Close() error {
	return s.db.Close()
}
