package smtp

import (
	"bufio"
	"context"
	"encoding/base64"
	"net"
	"strings"
	"testing"
	"time"
)

type recordingForwarder struct {
	apiKey string
	msg    *Message
	err    error
}

func (f *recordingForwarder) Forward(ctx context.Context, apiKey string, msg *Message) (string, error) {
	f.apiKey = apiKey
	f.msg = msg
	if f.err != nil {
		return "", f.err
	}
	return "em-1", nil
}

type smtpClient struct {
	t      *testing.T
	conn   net.Conn
	reader *bufio.Reader
}

func dialSession(t *testing.T, cfg Config, fwd Forwarder) *smtpClient {
	t.Helper()
	srv := NewServer(cfg, fwd)
	client, server := net.Pipe()
	go srv.ServeConn(context.Background(), server, false)
	t.Cleanup(func() { client.Close() })

	c := &smtpClient{t: t, conn: client, reader: bufio.NewReader(client)}
	if got := c.readReply(); !strings.HasPrefix(got, "220") {
		t.Fatalf("greeting = %q", got)
	}
	return c
}

// readReply returns the final line of a possibly multi-line reply.
func (c *smtpClient) readReply() string {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		line, err := c.reader.ReadString('\n')
		if err != nil {
			c.t.Fatalf("read reply: %v", err)
		}
		line = strings.TrimRight(line, "\r\n")
		if len(line) < 4 || line[3] != '-' {
			return line
		}
	}
}

func (c *smtpClient) cmd(line string) string {
	c.t.Helper()
	if _, err := c.conn.Write([]byte(line + "\r\n")); err != nil {
		c.t.Fatalf("write %q: %v", line, err)
	}
	return c.readReply()
}

func (c *smtpClient) expect(line, prefix string) {
	c.t.Helper()
	if got := c.cmd(line); !strings.HasPrefix(got, prefix) {
		c.t.Fatalf("%q answered %q, want %s", line, got, prefix)
	}
}

func plainCred(user, pass string) string {
	return base64.StdEncoding.EncodeToString([]byte("\x00" + user + "\x00" + pass))
}

func testConfig() Config {
	return Config{Hostname: "smtp.test", GatewayUser: "dispatch"}
}

func TestSessionAuthAndSend(t *testing.T) {
	fwd := &recordingForwarder{}
	c := dialSession(t, testConfig(), fwd)

	c.expect("EHLO client.test", "250")
	c.expect("AUTH PLAIN "+plainCred("dispatch", "dk_key_1"), "235")
	c.expect("MAIL FROM:<sender@example.com>", "250")
	c.expect("RCPT TO:<user@example.com>", "250")
	c.expect("DATA", "354")

	reply := c.cmd("From: Sender <sender@example.com>\r\n" +
		"To: user@example.com\r\n" +
		"Subject: Greetings\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"hello there\r\n" +
		".")
	if !strings.HasPrefix(reply, "250") || !strings.Contains(reply, "em-1") {
		t.Fatalf("DATA reply = %q", reply)
	}

	if fwd.apiKey != "dk_key_1" {
		t.Errorf("forwarded api key = %q", fwd.apiKey)
	}
	if fwd.msg == nil || fwd.msg.Subject != "Greetings" || fwd.msg.Text != "hello there" {
		t.Errorf("forwarded message = %+v", fwd.msg)
	}
	if len(fwd.msg.To) != 1 || fwd.msg.To[0] != "user@example.com" {
		t.Errorf("forwarded to = %v", fwd.msg.To)
	}
}

func TestSessionAuthLogin(t *testing.T) {
	fwd := &recordingForwarder{}
	c := dialSession(t, testConfig(), fwd)

	c.expect("EHLO client.test", "250")
	c.expect("AUTH LOGIN", "334")
	c.expect(base64.StdEncoding.EncodeToString([]byte("dispatch")), "334")
	reply := c.cmd(base64.StdEncoding.EncodeToString([]byte("dk_key_2")))
	if !strings.HasPrefix(reply, "235") {
		t.Fatalf("AUTH LOGIN reply = %q", reply)
	}
}

func TestSessionRejectsWrongUser(t *testing.T) {
	c := dialSession(t, testConfig(), &recordingForwarder{})

	c.expect("EHLO client.test", "250")
	c.expect("AUTH PLAIN "+plainCred("intruder", "key"), "535")
	c.expect("MAIL FROM:<x@example.com>", "530")
}

func TestSessionRequiresAuth(t *testing.T) {
	c := dialSession(t, testConfig(), &recordingForwarder{})

	c.expect("EHLO client.test", "250")
	c.expect("MAIL FROM:<x@example.com>", "530")
	c.expect("RCPT TO:<y@example.com>", "530")
	c.expect("DATA", "530")
}

func TestSessionForwardOutcomes(t *testing.T) {
	send := func(c *smtpClient) string {
		c.expect("EHLO client.test", "250")
		c.expect("AUTH PLAIN "+plainCred("dispatch", "key"), "235")
		c.expect("MAIL FROM:<s@example.com>", "250")
		c.expect("RCPT TO:<r@example.com>", "250")
		c.expect("DATA", "354")
		return c.cmd("Subject: x\r\n\r\nbody\r\n.")
	}

	t.Run("rejected downstream", func(t *testing.T) {
		c := dialSession(t, testConfig(), &recordingForwarder{err: ErrRejected})
		if reply := send(c); !strings.HasPrefix(reply, "554") {
			t.Errorf("reply = %q, want 554", reply)
		}
	})

	t.Run("deferred downstream", func(t *testing.T) {
		c := dialSession(t, testConfig(), &recordingForwarder{err: ErrDeferred})
		if reply := send(c); !strings.HasPrefix(reply, "451") {
			t.Errorf("reply = %q, want 451", reply)
		}
	})
}

func TestSessionSizeCap(t *testing.T) {
	cfg := testConfig()
	cfg.MaxMessageBytes = 64
	c := dialSession(t, cfg, &recordingForwarder{})

	c.expect("EHLO client.test", "250")
	c.expect("AUTH PLAIN "+plainCred("dispatch", "key"), "235")
	c.expect("MAIL FROM:<s@example.com>", "250")
	c.expect("RCPT TO:<r@example.com>", "250")
	c.expect("DATA", "354")

	big := strings.Repeat("aaaaaaaaaaaaaaaa\r\n", 32)
	if reply := c.cmd("Subject: x\r\n\r\n" + big + "."); !strings.HasPrefix(reply, "552") {
		t.Errorf("reply = %q, want 552", reply)
	}
}

func TestSessionDotUnstuffing(t *testing.T) {
	fwd := &recordingForwarder{}
	c := dialSession(t, testConfig(), fwd)

	c.expect("EHLO client.test", "250")
	c.expect("AUTH PLAIN "+plainCred("dispatch", "key"), "235")
	c.expect("MAIL FROM:<s@example.com>", "250")
	c.expect("RCPT TO:<r@example.com>", "250")
	c.expect("DATA", "354")
	c.expect("Subject: x\r\n\r\n..leading dot\r\n.", "250")

	if fwd.msg == nil || fwd.msg.Text != ".leading dot" {
		t.Errorf("text = %+v", fwd.msg)
	}
}
