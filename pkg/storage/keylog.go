package storage

import (
	"bufio"
	"encoding/binary"
	"hash/crc32"
	"io"
	"math"
	"os"
	"sync"

	"github.com/pkg/errors"

	"learnedindex/pkg/common"
)

// [CRC32 4B] [Seq 8B] [Key 4B]

const (
	RecordSize = 4 + 8 + 4 // 16 Bytes
)

var ErrCorrupt = errors.New("keylog: crc mismatch")

// KeyLog 摄入 key 的追加日志; 重启时重放, 重建索引后截断.
// 每条记录带单调递增的序号, 截断后序号继续增长, 快照记下已合并的最大序号
type KeyLog struct {
	file *os.File
	mu   sync.Mutex
	buf  *bufio.Writer
	seq  uint64
}

type Entry struct {
	Key common.KeyType
	Seq uint64
}

func OpenKeyLog(path string) (*KeyLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}

	w := &KeyLog{
		file: f,
		buf:  bufio.NewWriter(f),
	}
	entries, err := w.entries()
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "scan key log")
	}
	for _, e := range entries {
		w.seq = max(w.seq, e.Seq)
	}
	return w, nil
}

// Append 写入一批 key, 返回前已 flush 到文件 (未 fsync, 见 Sync)
func (w *KeyLog) Append(keys ...common.KeyType) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	rec := make([]byte, RecordSize)
	for _, k := range keys {
		w.seq++
		binary.LittleEndian.PutUint64(rec[4:12], w.seq)
		binary.LittleEndian.PutUint32(rec[12:16], math.Float32bits(float32(k)))
		binary.LittleEndian.PutUint32(rec[0:4], crc32.ChecksumIEEE(rec[4:]))
		if _, err := w.buf.Write(rec); err != nil {
			return err
		}
	}

	return w.buf.Flush()
}

// LastSeq 是最后一条已写入记录的序号
func (w *KeyLog) LastSeq() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.seq
}

// Advance 保证后续记录的序号大于 seq (截断后重启时日志为空, 序号从快照水位继续)
func (w *KeyLog) Advance(seq uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.seq = max(w.seq, seq)
}

func (w *KeyLog) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.buf.Flush(); err != nil {
		return err
	}
	return w.file.Sync()
}

func (w *KeyLog) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.buf.Flush(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

func (w *KeyLog) Truncate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.buf.Flush(); err != nil {
		return err
	}
	path := w.file.Name()
	if err := w.file.Close(); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	w.file = f
	w.buf = bufio.NewWriter(f)
	return w.file.Sync()
}

func (w *KeyLog) Size() (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.buf.Flush(); err != nil {
		return 0, err
	}
	st, err := w.file.Stat()
	if err != nil {
		return 0, err
	}
	return st.Size(), nil
}

type KeyLogIterator struct {
	reader *bufio.Reader
	file   *os.File
	rec    []byte
}

func (w *KeyLog) NewIterator() (*KeyLogIterator, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.buf.Flush(); err != nil {
		return nil, err
	}
	f, err := os.Open(w.file.Name())
	if err != nil {
		return nil, err
	}
	return &KeyLogIterator{
		file:   f,
		reader: bufio.NewReader(f),
		rec:    make([]byte, RecordSize),
	}, nil
}

// Next 返回下一条记录; 日志结束时返回 io.EOF, 尾部残缺记录返回 io.ErrUnexpectedEOF
func (it *KeyLogIterator) Next() (Entry, error) {
	if _, err := io.ReadFull(it.reader, it.rec); err != nil {
		return Entry{}, err
	}

	stored := binary.LittleEndian.Uint32(it.rec[0:4])
	if crc32.ChecksumIEEE(it.rec[4:]) != stored {
		return Entry{}, ErrCorrupt
	}
	seq := binary.LittleEndian.Uint64(it.rec[4:12])
	key := math.Float32frombits(binary.LittleEndian.Uint32(it.rec[12:16]))
	return Entry{Key: common.KeyType(key), Seq: seq}, nil
}

func (it *KeyLogIterator) Close() error {
	return it.file.Close()
}

// Replay 返回序号大于 after 的 key; after 之前的记录已合并进快照.
// 残缺的尾部记录 (崩溃时写了一半) 被忽略
func (w *KeyLog) Replay(after uint64) ([]common.KeyType, error) {
	entries, err := w.entries()
	if err != nil {
		return nil, err
	}
	var keys []common.KeyType
	for _, e := range entries {
		if e.Seq > after {
			keys = append(keys, e.Key)
		}
	}
	return keys, nil
}

func (w *KeyLog) entries() ([]Entry, error) {
	it, err := w.NewIterator()
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []Entry
	for {
		e, err := it.Next()
		switch {
		case err == nil:
			out = append(out, e)
		case err == io.EOF || err == io.ErrUnexpectedEOF:
			return out, nil
		default:
			return out, errors.Wrapf(err, "record %d", len(out))
		}
	}
}
