package network

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"sync"

	"github.com/pkg/errors"

	"learnedindex/pkg/core/store"
	"learnedindex/pkg/logger"
	"learnedindex/pkg/protocol"
)

var log = logger.For("TCP")

type TCPServer struct {
	store *store.Store

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   bool
	wg       sync.WaitGroup
}

func NewTCPServer(s *store.Store) *TCPServer {
	return &TCPServer{store: s, conns: make(map[net.Conn]struct{})}
}

func (s *TCPServer) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	log.Infof("Listening on %s (Binary Protocol)", addr)
	return s.Serve(listener)
}

// Serve accepts connections until the listener is closed by Shutdown.
func (s *TCPServer) Serve(listener net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return listener.Close()
	}
	s.listener = listener
	s.mu.Unlock()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Warnf("Accept error: %v", err)
			continue
		}
		// closed 与 wg.Add 在同一把锁下, Shutdown 之后不再登记新连接
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			continue
		}
		s.conns[conn] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()

		go s.handleConn(conn)
	}
}

// Shutdown closes the listener and every open connection, then waits for handlers.
func (s *TCPServer) Shutdown() error {
	s.mu.Lock()
	s.closed = true
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	return err
}

func (s *TCPServer) handleConn(conn net.Conn) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
		s.wg.Done()
	}()

	for {
		req, err := protocol.Decode(conn)
		if err != nil {
			if err != io.EOF && !errors.Is(err, net.ErrClosed) {
				log.Debugf("Decode error from %s: %v", conn.RemoteAddr(), err)
			}
			return
		}
		if err := s.dispatch(conn, req); err != nil {
			log.Debugf("Write error to %s: %v", conn.RemoteAddr(), err)
			return
		}
	}
}

func (s *TCPServer) dispatch(w io.Writer, req *protocol.Packet) error {
	switch req.Op {
	case protocol.OpEval:
		k, err := protocol.DecodeKey(req.Key)
		if err != nil {
			return protocol.Encode(w, protocol.RespErr, nil, []byte(err.Error()))
		}
		l := s.store.Eval(k)
		if !l.Found {
			return protocol.Encode(w, protocol.RespNone, nil, nil)
		}
		return protocol.Encode(w, protocol.RespVal, nil, protocol.EncodePosition(l.Pos))

	case protocol.OpEvalMany:
		keys, err := protocol.DecodeKeys(req.Value)
		if err != nil {
			return protocol.Encode(w, protocol.RespErr, nil, []byte(err.Error()))
		}
		out, err := s.store.EvalMany(context.Background(), keys)
		if err != nil {
			return protocol.Encode(w, protocol.RespErr, nil, []byte(err.Error()))
		}
		return protocol.Encode(w, protocol.RespVal, nil, protocol.EncodeLookups(out))

	case protocol.OpIngest:
		keys, err := protocol.DecodeKeys(req.Value)
		if err == nil {
			err = s.store.Ingest(keys)
		}
		if err != nil {
			return protocol.Encode(w, protocol.RespErr, nil, []byte(err.Error()))
		}
		return protocol.Encode(w, protocol.RespOK, nil, nil)

	case protocol.OpStats:
		return encodeJSON(w, s.store.Stats())

	case protocol.OpRebuild:
		res, err := s.store.Rebuild(context.Background())
		if err != nil {
			return protocol.Encode(w, protocol.RespErr, nil, []byte(err.Error()))
		}
		return encodeJSON(w, res)

	default:
		return protocol.Encode(w, protocol.RespErr, nil, []byte("unknown op"))
	}
}

func encodeJSON(w io.Writer, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return protocol.Encode(w, protocol.RespErr, nil, []byte(err.Error()))
	}
	return protocol.Encode(w, protocol.RespVal, nil, data)
}
