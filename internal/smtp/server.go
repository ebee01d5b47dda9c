// Package smtp implements the SMTP ingress gateway. Sessions authenticate
// with the team's API key as password; accepted messages are parsed and
// forwarded to the send API, so the gateway holds no business logic of
// its own.
package smtp

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/ignite/dispatch/internal/pkg/logger"
)

// DefaultMaxMessageBytes caps submitted messages at 10 MiB.
const DefaultMaxMessageBytes = 10 << 20

// Config holds the gateway's listener and session settings.
type Config struct {
	Hostname    string
	GatewayUser string
	// StartTLSPorts accept plaintext and offer STARTTLS.
	StartTLSPorts []int
	// ImplicitTLSPorts wrap the connection in TLS on accept.
	ImplicitTLSPorts []int
	// Certificates maps SNI server names to cert/key pairs. The empty
	// key, when present, is the default certificate.
	Certificates    map[string]tls.Certificate
	MaxMessageBytes int64
}

// Server accepts SMTP connections and runs sessions.
type Server struct {
	cfg       Config
	forwarder Forwarder
	tlsConfig *tls.Config

	mu        sync.Mutex
	listeners []net.Listener
	running   bool
	wg        sync.WaitGroup
}

// NewServer creates the gateway server.
func NewServer(cfg Config, forwarder Forwarder) *Server {
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if cfg.Hostname == "" {
		cfg.Hostname = "dispatch-smtp"
	}

	srv := &Server{cfg: cfg, forwarder: forwarder}
	if len(cfg.Certificates) > 0 {
		srv.tlsConfig = &tls.Config{
			MinVersion:     tls.VersionTLS12,
			GetCertificate: sniCertificate(cfg.Certificates),
		}
	}
	return srv
}

// sniCertificate picks a certificate by SNI server name, falling back to
// the default entry.
func sniCertificate(certs map[string]tls.Certificate) func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return func(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
		name := strings.ToLower(hello.ServerName)
		if c, ok := certs[name]; ok {
			return &c, nil
		}
		if c, ok := certs[""]; ok {
			return &c, nil
		}
		return nil, fmt.Errorf("no certificate for %q", hello.ServerName)
	}
}

// Start opens every configured listener and begins accepting sessions.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("smtp server already running")
	}

	if s.tlsConfig == nil && len(s.cfg.ImplicitTLSPorts) > 0 {
		return errors.New("implicit TLS ports configured without certificates")
	}

	for _, port := range s.cfg.StartTLSPorts {
		if err := s.listen(ctx, port, false); err != nil {
			s.closeListeners()
			return err
		}
	}
	for _, port := range s.cfg.ImplicitTLSPorts {
		if err := s.listen(ctx, port, true); err != nil {
			s.closeListeners()
			return err
		}
	}

	s.running = true
	logger.Info("smtp gateway started",
		"starttls_ports", fmt.Sprint(s.cfg.StartTLSPorts),
		"implicit_tls_ports", fmt.Sprint(s.cfg.ImplicitTLSPorts),
	)
	return nil
}

func (s *Server) listen(ctx context.Context, port int, implicitTLS bool) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("listen :%d: %w", port, err)
	}
	if implicitTLS {
		ln = tls.NewListener(ln, s.tlsConfig)
	}
	s.listeners = append(s.listeners, ln)

	s.wg.Add(1)
	go s.acceptLoop(ctx, ln, implicitTLS)
	return nil
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener, implicitTLS bool) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			logger.Warn("smtp accept failed", "error", err.Error())
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.ServeConn(ctx, conn, implicitTLS)
		}()
	}
}

// ServeConn runs one session on an accepted connection.
func (s *Server) ServeConn(ctx context.Context, conn net.Conn, tlsOn bool) {
	sess := &session{
		srv:    s,
		conn:   conn,
		reader: bufio.NewReader(conn),
		tlsOn:  tlsOn,
	}
	sess.serve(ctx)
}

// Stop closes the listeners and waits for in-flight sessions.
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.closeListeners()
	s.mu.Unlock()

	s.wg.Wait()
	logger.Info("smtp gateway stopped")
}

func (s *Server) closeListeners() {
	for _, ln := range s.listeners {
		ln.Close()
	}
	s.listeners = nil
}
