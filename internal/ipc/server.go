package ipc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
)

// maxLine bounds a single request line. Rule lists travel in one line.
const maxLine = 1 << 20

// Handler answers one request. The returned value, if non-nil, is encoded as
// the response data; a returned error becomes an error response.
type Handler interface {
	ServeIPC(ctx context.Context, req Request) (any, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req Request) (any, error)

func (f HandlerFunc) ServeIPC(ctx context.Context, req Request) (any, error) {
	return f(ctx, req)
}

// Serve listens on socketPath and answers requests with h.
// It runs until ctx is canceled, at which point it closes the listener, waits
// for open connections to finish and removes the socket file.
func Serve(ctx context.Context, socketPath string, h Handler, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	// Remove a stale socket left by a previous run
	if err := os.RemoveAll(socketPath); err != nil {
		return fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", socketPath, err)
	}
	defer os.Remove(socketPath)
	defer listener.Close()

	// Owner only: the socket edits the profile and pauses the engine.
	if err := os.Chmod(socketPath, 0600); err != nil {
		return fmt.Errorf("chmod socket: %w", err)
	}

	logger.Info("IPC listening", "socket", socketPath)

	var (
		mu    sync.Mutex
		conns = make(map[net.Conn]struct{})
		wg    sync.WaitGroup
	)

	// Close the listener and live connections on shutdown. This unblocks
	// Accept() and the per-connection scanners.
	stop := context.AfterFunc(ctx, func() {
		_ = listener.Close()
		mu.Lock()
		for c := range conns {
			_ = c.Close()
		}
		mu.Unlock()
	})
	defer stop()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				logger.Debug("IPC listener closed (shutdown)")
				break
			}
			if errors.Is(err, net.ErrClosed) || strings.Contains(err.Error(), "use of closed network connection") {
				logger.Debug("IPC listener closed")
				break
			}
			logger.Error("IPC accept error", "error", err)
			continue
		}

		mu.Lock()
		if ctx.Err() != nil {
			mu.Unlock()
			_ = conn.Close()
			continue
		}
		conns[conn] = struct{}{}
		mu.Unlock()

		wg.Add(1)
		go func() {
			defer wg.Done()
			handleConnection(ctx, conn, h, logger)
			mu.Lock()
			delete(conns, conn)
			mu.Unlock()
		}()
	}

	wg.Wait()
	return nil
}

func handleConnection(ctx context.Context, conn net.Conn, h Handler, logger *slog.Logger) {
	defer conn.Close()

	logger.Debug("IPC connection", "remote_addr", conn.RemoteAddr())

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		logger.Debug("IPC received", "line", string(line))

		resp := serveLine(ctx, h, line)
		if err := encoder.Encode(resp); err != nil {
			logger.Error("IPC failed to send response", "error", err)
			return
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
		logger.Warn("IPC read error", "error", err)
	}

	logger.Debug("IPC connection closed")
}

func serveLine(ctx context.Context, h Handler, line []byte) Response {
	var req Request
	if err := strictUnmarshal(line, &req); err != nil {
		return errorResponse(fmt.Errorf("parse request: %w", err))
	}
	if req.Type == "" {
		return errorResponse(errors.New("parse request: missing type"))
	}

	out, err := h.ServeIPC(ctx, req)
	if err != nil {
		return errorResponse(err)
	}

	resp := Response{Status: StatusOK}
	if out != nil {
		data, err := json.Marshal(out)
		if err != nil {
			return errorResponse(fmt.Errorf("marshal response: %w", err))
		}
		resp.Data = data
	}
	return resp
}

func errorResponse(err error) Response {
	return Response{Status: StatusError, Error: err.Error()}
}

func strictUnmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected trailing data")
	}
	return nil
}
