package smtp

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/ignite/dispatch/internal/pkg/logger"
)

// session is one SMTP connection's state. The loop follows the classic
// command/reply protocol; TLS may already be active (implicit TLS ports)
// or negotiated mid-session via STARTTLS.
type session struct {
	srv    *Server
	conn   net.Conn
	reader *bufio.Reader
	tlsOn  bool

	authed bool
	apiKey string

	from string
	to   []string
}

func (s *session) serve(ctx context.Context) {
	defer s.conn.Close()

	s.reply("220 %s SMTP Service Ready", s.srv.cfg.Hostname)

	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			if err != io.EOF && !errors.Is(err, net.ErrClosed) {
				logger.Debug("smtp read error", "error", err.Error())
			}
			return
		}
		line = strings.TrimRight(line, "\r\n")
		verb := strings.ToUpper(line)

		switch {
		case strings.HasPrefix(verb, "EHLO"), strings.HasPrefix(verb, "HELO"):
			s.reset()
			s.reply("250-%s", s.srv.cfg.Hostname)
			s.reply("250-AUTH LOGIN PLAIN")
			s.reply("250-SIZE %d", s.srv.cfg.MaxMessageBytes)
			if !s.tlsOn && s.srv.tlsConfig != nil {
				s.reply("250-STARTTLS")
			}
			s.reply("250 OK")

		case verb == "STARTTLS":
			if s.tlsOn || s.srv.tlsConfig == nil {
				s.reply("454 4.7.0 TLS not available")
				continue
			}
			s.reply("220 2.0.0 Ready to start TLS")
			tlsConn := tls.Server(s.conn, s.srv.tlsConfig)
			if err := tlsConn.HandshakeContext(ctx); err != nil {
				logger.Debug("smtp tls handshake failed", "error", err.Error())
				return
			}
			s.conn = tlsConn
			s.reader = bufio.NewReader(tlsConn)
			s.tlsOn = true
			s.reset()
			s.authed = false

		case strings.HasPrefix(verb, "AUTH PLAIN"):
			s.authPlain(line)

		case strings.HasPrefix(verb, "AUTH LOGIN"):
			s.authLogin()

		case strings.HasPrefix(verb, "MAIL FROM:"):
			if !s.requireAuth() {
				continue
			}
			s.from = strings.Trim(line[len("MAIL FROM:"):], " <>")
			s.reply("250 2.1.0 Ok")

		case strings.HasPrefix(verb, "RCPT TO:"):
			if !s.requireAuth() {
				continue
			}
			s.to = append(s.to, strings.Trim(line[len("RCPT TO:"):], " <>"))
			s.reply("250 2.1.5 Ok")

		case verb == "DATA":
			s.data(ctx)

		case verb == "RSET":
			s.reset()
			s.reply("250 2.0.0 Ok")

		case verb == "NOOP":
			s.reply("250 2.0.0 Ok")

		case verb == "QUIT":
			s.reply("221 2.0.0 Bye")
			return

		default:
			s.reply("500 5.5.1 Unknown command")
		}
	}
}

func (s *session) reply(format string, args ...interface{}) {
	fmt.Fprintf(s.conn, format+"\r\n", args...)
}

func (s *session) reset() {
	s.from = ""
	s.to = nil
}

func (s *session) requireAuth() bool {
	if !s.authed {
		s.reply("530 5.7.0 Authentication required")
		return false
	}
	return true
}

// authPlain handles inline and continuation-style AUTH PLAIN. The
// credential is NUL-separated authzid/authcid/password; the password is
// the caller's API key and is verified downstream by the send API.
func (s *session) authPlain(line string) {
	parts := strings.Fields(line)
	var payload string
	if len(parts) == 3 {
		payload = parts[2]
	} else {
		s.reply("334 ")
		next, err := s.reader.ReadString('\n')
		if err != nil {
			return
		}
		payload = strings.TrimSpace(next)
	}

	decoded, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		s.reply("501 5.5.2 Cannot decode credentials")
		return
	}
	fields := bytes.Split(decoded, []byte{0})
	if len(fields) != 3 {
		s.reply("535 5.7.8 Authentication failed")
		return
	}
	s.finishAuth(string(fields[1]), string(fields[2]))
}

func (s *session) authLogin() {
	s.reply("334 VXNlcm5hbWU6")
	userEnc, err := s.reader.ReadString('\n')
	if err != nil {
		return
	}
	s.reply("334 UGFzc3dvcmQ6")
	passEnc, err := s.reader.ReadString('\n')
	if err != nil {
		return
	}

	user, uerr := base64.StdEncoding.DecodeString(strings.TrimSpace(userEnc))
	pass, perr := base64.StdEncoding.DecodeString(strings.TrimSpace(passEnc))
	if uerr != nil || perr != nil {
		s.reply("501 5.5.2 Cannot decode credentials")
		return
	}
	s.finishAuth(string(user), string(pass))
}

func (s *session) finishAuth(username, password string) {
	if username != s.srv.cfg.GatewayUser || password == "" {
		logger.Debug("smtp auth failed", "username", username)
		s.reply("535 5.7.8 Authentication failed")
		return
	}
	s.authed = true
	s.apiKey = password
	s.reply("235 2.7.0 Authentication successful")
}

func (s *session) data(ctx context.Context) {
	if !s.requireAuth() {
		return
	}
	if s.from == "" || len(s.to) == 0 {
		s.reply("503 5.5.1 MAIL and RCPT first")
		return
	}

	s.reply("354 End data with <CR><LF>.<CR><LF>")

	raw, err := s.readData()
	if err != nil {
		if errors.Is(err, errTooLarge) {
			s.reply("552 5.3.4 Message exceeds size limit")
			s.reset()
			return
		}
		return
	}

	msg, err := ParseMessage(raw)
	if err != nil {
		s.reply("554 5.6.0 Could not parse message")
		s.reset()
		return
	}
	// Envelope wins over headers for routing.
	if msg.From == "" {
		msg.From = s.from
	}
	if len(msg.To) == 0 {
		msg.To = s.to
	}

	id, err := s.srv.forwarder.Forward(ctx, s.apiKey, msg)
	switch {
	case errors.Is(err, ErrDeferred):
		s.reply("451 4.3.0 Temporary failure, try again later")
	case err != nil:
		s.reply("554 5.7.1 %s", err.Error())
	default:
		s.reply("250 2.0.0 Ok: queued as %s", id)
	}
	s.reset()
}

var errTooLarge = errors.New("message too large")

// readData consumes the dot-terminated payload, undoing dot stuffing and
// enforcing the size cap.
func (s *session) readData() ([]byte, error) {
	var buf bytes.Buffer
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "." {
			return buf.Bytes(), nil
		}
		if strings.HasPrefix(trimmed, "..") {
			trimmed = trimmed[1:]
		}
		buf.WriteString(trimmed)
		buf.WriteString("\r\n")
		if int64(buf.Len()) > s.srv.cfg.MaxMessageBytes {
			// Drain to the terminator so the reply lands after the data.
			for {
				dl, err := s.reader.ReadString('\n')
				if err != nil || strings.TrimRight(dl, "\r\n") == "." {
					break
				}
			}
			return nil, errTooLarge
		}
	}
}
