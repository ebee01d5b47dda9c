package main

import (
	"context"
	"crypto/tls"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ignite/dispatch/internal/config"
	"github.com/ignite/dispatch/internal/pkg/logger"
	"github.com/ignite/dispatch/internal/smtp"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.SMTP.APIBaseURL == "" {
		log.Fatalf("API base URL is required (config smtp.api_base_url or DISPATCH_API_URL)")
	}

	certs, err := loadCertificates(cfg.SMTP)
	if err != nil {
		log.Fatalf("Failed to load TLS certificates: %v", err)
	}

	tlsPorts := cfg.SMTP.TLSPorts
	if len(certs) == 0 && len(tlsPorts) > 0 {
		logger.Warn("no TLS certificates configured, implicit TLS ports disabled", "ports", tlsPorts)
		tlsPorts = nil
	}

	forwarder := smtp.NewAPIForwarder(cfg.SMTP.APIBaseURL, nil)
	server := smtp.NewServer(smtp.Config{
		Hostname:         cfg.SMTP.Hostname,
		GatewayUser:      cfg.SMTP.AuthUsername,
		StartTLSPorts:    cfg.SMTP.PlainPorts,
		ImplicitTLSPorts: tlsPorts,
		Certificates:     certs,
		MaxMessageBytes:  int64(cfg.SMTP.MaxMessageMB) << 20,
	}, forwarder)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := server.Start(ctx); err != nil {
		log.Fatalf("Failed to start SMTP gateway: %v", err)
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-done

	logger.Info("shutting down")
	cancel()
	server.Stop()
}

// loadCertificates builds the SNI certificate map. The empty key is the
// default presented when no server name matches.
func loadCertificates(cfg config.SMTPConfig) (map[string]tls.Certificate, error) {
	certs := make(map[string]tls.Certificate)
	if cfg.DefaultCert != "" {
		cert, err := tls.LoadX509KeyPair(cfg.DefaultCert, cfg.DefaultKey)
		if err != nil {
			return nil, err
		}
		certs[""] = cert
	}
	for name, pair := range cfg.SNICerts {
		cert, err := tls.LoadX509KeyPair(pair.Cert, pair.Key)
		if err != nil {
			return nil, err
		}
		certs[name] = cert
	}
	if len(certs) == 0 {
		return nil, nil
	}
	return certs, nil
}
