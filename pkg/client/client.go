package client

import (
	"encoding/json"
	"net"
	"time"

	"github.com/pkg/errors"

	"learnedindex/pkg/common"
	"learnedindex/pkg/protocol"
)

const dialTimeout = 5 * time.Second

type Client struct {
	conn net.Conn
	addr string
}

func Dial(addr string) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, err
	}
	return &Client{
		conn: conn,
		addr: addr,
	}, nil
}

// Eval returns the position of key, or found=false if the index has no such key.
func (c *Client) Eval(key common.KeyType) (common.Position, bool, error) {
	pkg, err := c.roundTrip(protocol.OpEval, protocol.EncodeKey(key), nil)
	if err != nil {
		return 0, false, err
	}
	switch pkg.Op {
	case protocol.RespVal:
		pos, err := protocol.DecodePosition(pkg.Value)
		return pos, err == nil, err
	case protocol.RespNone:
		return 0, false, nil
	default:
		return 0, false, responseError(pkg)
	}
}

func (c *Client) EvalMany(keys []common.KeyType) ([]common.Lookup, error) {
	pkg, err := c.roundTrip(protocol.OpEvalMany, nil, protocol.EncodeKeys(keys))
	if err != nil {
		return nil, err
	}
	if pkg.Op != protocol.RespVal {
		return nil, responseError(pkg)
	}
	return protocol.DecodeLookups(pkg.Value)
}

// Ingest stages keys on the server; they are searchable after Rebuild.
func (c *Client) Ingest(keys []common.KeyType) error {
	pkg, err := c.roundTrip(protocol.OpIngest, nil, protocol.EncodeKeys(keys))
	if err != nil {
		return err
	}
	if pkg.Op != protocol.RespOK {
		return responseError(pkg)
	}
	return nil
}

func (c *Client) Stats() (map[string]interface{}, error) {
	return c.jsonCall(protocol.OpStats)
}

func (c *Client) Rebuild() (map[string]interface{}, error) {
	return c.jsonCall(protocol.OpRebuild)
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) jsonCall(op byte) (map[string]interface{}, error) {
	pkg, err := c.roundTrip(op, nil, nil)
	if err != nil {
		return nil, err
	}
	if pkg.Op != protocol.RespVal {
		return nil, responseError(pkg)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(pkg.Value, &out); err != nil {
		return nil, errors.Wrap(err, "decode response")
	}
	return out, nil
}

// idempotent ops are safe to re-send when the response was lost. Ingest and
// Rebuild may already have been applied by the server.
func idempotent(op byte) bool {
	switch op {
	case protocol.OpEval, protocol.OpEvalMany, protocol.OpStats:
		return true
	}
	return false
}

// roundTrip sends one request and reads its response. On a broken connection
// it redials; read-only requests are re-sent once, others return the error.
func (c *Client) roundTrip(op byte, key, val []byte) (*protocol.Packet, error) {
	if err := protocol.Encode(c.conn, op, key, val); err != nil {
		return c.reconnectAndRetry(op, key, val, err)
	}
	pkg, err := protocol.Decode(c.conn)
	if err != nil {
		return c.reconnectAndRetry(op, key, val, err)
	}
	return pkg, nil
}

func (c *Client) reconnectAndRetry(op byte, key, val []byte, cause error) (*protocol.Packet, error) {
	c.conn.Close()
	conn, err := net.DialTimeout("tcp", c.addr, dialTimeout)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	if !idempotent(op) {
		return nil, errors.Wrapf(cause, "op 0x%02x not retried", op)
	}

	// Re-send
	if err := protocol.Encode(c.conn, op, key, val); err != nil {
		return nil, err
	}
	// Re-read
	return protocol.Decode(c.conn)
}

func responseError(pkg *protocol.Packet) error {
	if pkg.Op == protocol.RespErr && len(pkg.Value) > 0 {
		return errors.Errorf("server: %s", pkg.Value)
	}
	return errors.Errorf("unexpected response op 0x%02x", pkg.Op)
}
