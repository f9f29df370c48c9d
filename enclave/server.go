package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/mdlayher/vsock"

	"github.com/cloudx-io/reserveauction/api/httpserver"
	"github.com/cloudx-io/reserveauction/engine"
)

const (
	readTimeout    = 30 * time.Second
	requestTimeout = 10 * time.Second
)

// EnclaveServer accepts JSON requests over vsock, one per connection.
type EnclaveServer struct {
	port    uint32
	handler *RequestHandler
}

func NewEnclaveServer(port uint32, handler *RequestHandler) *EnclaveServer {
	return &EnclaveServer{port: port, handler: handler}
}

func (s *EnclaveServer) Start() error {
	listener, err := vsock.Listen(s.port, nil)
	if err != nil {
		return fmt.Errorf("failed to create vsock listener: %w", err)
	}
	defer func() {
		if err := listener.Close(); err != nil {
			log.Printf("ERROR: Failed to close listener: %v", err)
		}
	}()

	log.Printf("INFO: Auction server listening on vsock port %d", s.port)

	maxWorkers, err := getRequiredEnvInt("ENCLAVE_MAX_WORKERS")
	if err != nil {
		return fmt.Errorf("failed to get max workers config: %w", err)
	}
	return s.serve(listener, maxWorkers)
}

// serve runs the accept loop. Connections beyond maxWorkers are closed immediately.
func (s *EnclaveServer) serve(listener net.Listener, maxWorkers int) error {
	semaphore := make(chan struct{}, maxWorkers)
	log.Printf("INFO: Worker pool initialized with %d max concurrent workers", maxWorkers)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				log.Printf("ERROR: Failed to accept connection: %v", err)
				continue
			}
			return fmt.Errorf("listener closed: %w", err)
		}

		select {
		case semaphore <- struct{}{}:
			go func(c net.Conn) {
				defer func() { <-semaphore }()
				s.handleConnection(c)
			}(conn)
		default:
			log.Printf("INFO: No workers available, rejecting connection (pool full)")
			if err := conn.Close(); err != nil {
				log.Printf("ERROR: Failed to close rejected connection: %v", err)
			}
		}
	}
}

func (s *EnclaveServer) handleConnection(conn net.Conn) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("ERROR: Panic recovered in handleConnection: %v", r)
		}
		if err := conn.Close(); err != nil {
			log.Printf("ERROR: Failed to close connection: %v", err)
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, conn); err != nil {
		log.Printf("ERROR: Failed to read request: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	response := s.handler.Handle(ctx, buf.Bytes())

	if err := json.NewEncoder(conn).Encode(response); err != nil {
		log.Printf("ERROR: Failed to encode response: %v", err)
	} else {
		log.Printf("INFO: Successfully sent %s (request %s)", response.Type, response.RequestID)
	}
}

// Helper function for required environment variable parsing
func getRequiredEnvInt(key string) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return 0, fmt.Errorf("required environment variable %s is not set", key)
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %s (must be a valid integer)", key, value)
	}
	if intValue <= 0 {
		return 0, fmt.Errorf("invalid value for %s: %d (must be positive)", key, intValue)
	}

	log.Printf("INFO: Using %s=%d from environment", key, intValue)
	return intValue, nil
}

func getRequiredEnv(key string) (string, error) {
	value := os.Getenv(key)
	if value == "" {
		return "", fmt.Errorf("required environment variable %s is not set", key)
	}
	return value, nil
}

func run() error {
	path, err := getRequiredEnv("ENCLAVE_CONFIG")
	if err != nil {
		return err
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		return err
	}

	node, err := NewNode(cfg, engine.SystemClock)
	if err != nil {
		return fmt.Errorf("failed to initialize node: %w", err)
	}
	defer func() {
		if err := node.Close(); err != nil {
			log.Printf("ERROR: Failed to close node: %v", err)
		}
	}()

	if cfg.HTTPListen != "" {
		api := httpserver.New(node.Engine, httpserver.Deps{
			Ledger:  node.Tokens,
			Wrapped: node.Wrapped,
			Feed:    node.Feed,
			History: node.History,
		})
		srv := &http.Server{
			Addr:              cfg.HTTPListen,
			Handler:           api.Router(),
			ReadHeaderTimeout: readTimeout,
		}
		go func() {
			log.Printf("INFO: HTTP API listening on %s", cfg.HTTPListen)
			if err := srv.ListenAndServe(); err != nil {
				log.Printf("ERROR: HTTP API stopped: %v", err)
			}
		}()
	}

	handler := NewRequestHandler(node, getEnclaveAttester, engine.SystemClock)
	return NewEnclaveServer(cfg.Port, handler).Start()
}

func main() {
	log.Fatal(run())
}
