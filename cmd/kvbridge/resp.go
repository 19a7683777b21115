package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/tidwall/redcon"
	"github.com/zerodha/logf"

	"github.com/mr-karan/kvbridge/pkg/engine"
	"github.com/mr-karan/kvbridge/pkg/tuple"
)

// respServer is a small RESP diagnostic surface over the engine. Keys are
// single string-part tuples, so entries written here are visible to
// datapath clients and vice versa.
type respServer struct {
	eng *engine.Engine
	lo  logf.Logger
}

func serveRESP(addr string, eng *engine.Engine, lo logf.Logger) error {
	srv := &respServer{eng: eng, lo: lo}

	mux := redcon.NewServeMux()
	mux.HandleFunc("ping", srv.ping)
	mux.HandleFunc("quit", srv.quit)
	mux.HandleFunc("set", srv.set)
	mux.HandleFunc("get", srv.get)
	mux.HandleFunc("del", srv.delete)

	lo.Info("resp listener starting", "addr", addr)
	return redcon.ListenAndServe(addr,
		mux.ServeRESP,
		func(conn redcon.Conn) bool {
			return true
		},
		func(conn redcon.Conn, err error) {
		},
	)
}

func (s *respServer) key(arg []byte) ([]byte, error) {
	return tuple.Pack(tuple.Tuple{string(arg)})
}

func (s *respServer) ping(conn redcon.Conn, cmd redcon.Command) {
	conn.WriteString("PONG")
}

func (s *respServer) quit(conn redcon.Conn, cmd redcon.Command) {
	conn.WriteString("OK")
	conn.Close()
}

func (s *respServer) set(conn redcon.Conn, cmd redcon.Command) {
	var (
		withExpiry bool
	)
	switch len(cmd.Args) {
	case 4:
		withExpiry = true
	case 3:
		withExpiry = false
	default:
		conn.WriteError("ERR wrong number of arguments for '" + string(cmd.Args[0]) + "' command")
		return
	}

	key, err := s.key(cmd.Args[1])
	if err != nil {
		conn.WriteError(fmt.Sprintf("ERR invalid key: %s", err))
		return
	}

	expireAt := int64(0)
	if withExpiry {
		expiry, err := time.ParseDuration(string(cmd.Args[3]))
		if err != nil {
			conn.WriteError("ERR invalid duration " + string(cmd.Args[3]))
			return
		}
		expireAt = time.Now().Add(expiry).UnixMilli()
	}

	if _, err := s.eng.Put(key, engine.BytesValue(cmd.Args[2]), expireAt); err != nil {
		conn.WriteError(fmt.Sprintf("ERR: %s", err))
		return
	}

	conn.WriteString("OK")
}

func (s *respServer) get(conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) != 2 {
		conn.WriteError("ERR wrong number of arguments for '" + string(cmd.Args[0]) + "' command")
		return
	}

	key, err := s.key(cmd.Args[1])
	if err != nil {
		conn.WriteError(fmt.Sprintf("ERR invalid key: %s", err))
		return
	}

	ent, err := s.eng.Get(key)
	if err != nil {
		if errors.Is(err, engine.ErrNotFound) {
			conn.WriteNull()
		} else {
			conn.WriteError(fmt.Sprintf("ERR: %s", err))
		}
		return
	}

	conn.WriteBulk(ent.Value.Data)
}

func (s *respServer) delete(conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) != 2 {
		conn.WriteError("ERR wrong number of arguments for '" + string(cmd.Args[0]) + "' command")
		return
	}

	key, err := s.key(cmd.Args[1])
	if err != nil {
		conn.WriteError(fmt.Sprintf("ERR invalid key: %s", err))
		return
	}

	if err := s.eng.Delete(key); err != nil {
		conn.WriteError(fmt.Sprintf("ERR: %s", err))
		return
	}

	conn.WriteNull()
}
