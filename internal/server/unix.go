package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"sync"
)

const maxLine = 1 << 20

// ServeUnix answers line-delimited JSON-RPC requests on a unix socket until ctx is done.
func (s *Server) ServeUnix(ctx context.Context, path string) error {
	_ = os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return err
	}
	defer os.Remove(path)
	return s.serveLines(ctx, ln)
}

func (s *Server) serveLines(ctx context.Context, ln net.Listener) error {
	var wg sync.WaitGroup
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	defer wg.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleLines(ctx, conn)
		}()
	}
}

func (s *Server) handleLines(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), maxLine)
	for scanner.Scan() {
		resp := s.hub.Handler().HandleBytes(ctx, scanner.Bytes())
		data, err := json.Marshal(resp)
		if err != nil {
			s.logger.Errorf("encode rpc response: %v", err)
			return
		}
		if _, err := conn.Write(append(data, '\n')); err != nil {
			return
		}
	}
}
