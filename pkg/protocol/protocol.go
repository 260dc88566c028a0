package protocol

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// [Magic 1B] [Op 1B] [KeyLen 2B] [ValLen 4B] [Key] [Value], big endian

const (
	MagicNumber = 0x4E
	HeaderSize  = 8

	// MaxValueLen bounds the value a peer may announce.
	MaxValueLen = 64 << 20

	OpEval     = 0x01 // Key = 一个 key
	OpEvalMany = 0x02 // Value = key 列表
	OpIngest   = 0x03 // Value = key 列表
	OpStats    = 0x04
	OpRebuild  = 0x05

	RespOK   = 0x00
	RespVal  = 0x01
	RespNone = 0x02 // 查找不到, 不是错误
	RespErr  = 0xFF
)

var (
	ErrInvalidMagic = errors.New("invalid magic number")
	ErrTooLarge     = errors.New("value exceeds MaxValueLen")
)

type Packet struct {
	Op    byte
	Key   []byte
	Value []byte
}

func Encode(w io.Writer, op byte, key []byte, value []byte) error {
	if len(key) > 0xFFFF {
		return errors.Errorf("key of %d bytes does not fit the header", len(key))
	}
	if len(value) > MaxValueLen {
		return ErrTooLarge
	}

	buf := make([]byte, HeaderSize, HeaderSize+len(key)+len(value))
	buf[0] = MagicNumber
	buf[1] = op
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(key)))
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(value)))
	buf = append(buf, key...)
	buf = append(buf, value...)

	_, err := w.Write(buf)
	return err
}

func Decode(r io.Reader) (*Packet, error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	if header[0] != MagicNumber {
		return nil, ErrInvalidMagic
	}

	op := header[1]
	kLen := binary.BigEndian.Uint16(header[2:4])
	vLen := binary.BigEndian.Uint32(header[4:8])
	if vLen > MaxValueLen {
		return nil, ErrTooLarge
	}

	key := make([]byte, kLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}

	val := make([]byte, vLen)
	if _, err := io.ReadFull(r, val); err != nil {
		return nil, err
	}

	return &Packet{Op: op, Key: key, Value: val}, nil
}
