package smtp

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestParseMessagePlain(t *testing.T) {
	raw := []byte("From: Sender <sender@example.com>\r\n" +
		"To: One <one@example.com>, two@example.com\r\n" +
		"Cc: cc@example.com\r\n" +
		"Reply-To: replies@example.com\r\n" +
		"Subject: Plain hello\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"just text\r\n")

	msg, err := ParseMessage(raw)
	if err != nil {
		t.Fatalf("ParseMessage() error = %v", err)
	}
	if msg.From != "sender@example.com" {
		t.Errorf("From = %q", msg.From)
	}
	if len(msg.To) != 2 || msg.To[1] != "two@example.com" {
		t.Errorf("To = %v", msg.To)
	}
	if len(msg.CC) != 1 || len(msg.ReplyTo) != 1 {
		t.Errorf("CC = %v, ReplyTo = %v", msg.CC, msg.ReplyTo)
	}
	if msg.Subject != "Plain hello" || msg.Text != "just text" || msg.HTML != "" {
		t.Errorf("msg = %+v", msg)
	}
}

func TestParseMessageMultipartAlternative(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString([]byte("<p>rich</p>"))
	raw := []byte("From: s@example.com\r\n" +
		"To: r@example.com\r\n" +
		"Subject: Both parts\r\n" +
		"Content-Type: multipart/alternative; boundary=frontier\r\n" +
		"\r\n" +
		"--frontier\r\n" +
		"Content-Type: text/plain\r\n" +
		"Content-Transfer-Encoding: quoted-printable\r\n" +
		"\r\n" +
		"caf=C3=A9\r\n" +
		"--frontier\r\n" +
		"Content-Type: text/html\r\n" +
		"Content-Transfer-Encoding: base64\r\n" +
		"\r\n" +
		encoded + "\r\n" +
		"--frontier--\r\n")

	msg, err := ParseMessage(raw)
	if err != nil {
		t.Fatalf("ParseMessage() error = %v", err)
	}
	if msg.Text != "café" {
		t.Errorf("Text = %q", msg.Text)
	}
	if msg.HTML != "<p>rich</p>" {
		t.Errorf("HTML = %q", msg.HTML)
	}
}

func TestParseMessageEncodedSubject(t *testing.T) {
	raw := []byte("From: s@example.com\r\n" +
		"To: r@example.com\r\n" +
		"Subject: =?UTF-8?Q?caf=C3=A9_time?=\r\n" +
		"\r\n" +
		"body\r\n")

	msg, err := ParseMessage(raw)
	if err != nil {
		t.Fatalf("ParseMessage() error = %v", err)
	}
	if msg.Subject != "café time" {
		t.Errorf("Subject = %q", msg.Subject)
	}
}

func TestParseMessageGarbage(t *testing.T) {
	if _, err := ParseMessage([]byte("not an rfc822 message")); err == nil {
		t.Error("ParseMessage() accepted garbage")
	}
}

func TestAPIForwarder(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		var gotAuth string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"id":"em-9","status":"QUEUED"}`))
		}))
		defer srv.Close()

		fwd := NewAPIForwarder(srv.URL, srv.Client())
		id, err := fwd.Forward(context.Background(), "dk_key", &Message{From: "a@b.com", To: []string{"c@d.com"}})
		if err != nil {
			t.Fatalf("Forward() error = %v", err)
		}
		if id != "em-9" || gotAuth != "Bearer dk_key" {
			t.Errorf("id = %q, auth = %q", id, gotAuth)
		}
	})

	t.Run("client error rejects", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"invalid to: at least one recipient required"}`))
		}))
		defer srv.Close()

		fwd := NewAPIForwarder(srv.URL, srv.Client())
		_, err := fwd.Forward(context.Background(), "k", &Message{})
		if err == nil || !strings.Contains(err.Error(), "recipient") {
			t.Fatalf("Forward() error = %v", err)
		}
		if !errors.Is(err, ErrRejected) {
			t.Errorf("error %v is not ErrRejected", err)
		}
	})

	t.Run("server error defers", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		fwd := NewAPIForwarder(srv.URL, srv.Client())
		if _, err := fwd.Forward(context.Background(), "k", &Message{}); !errors.Is(err, ErrDeferred) {
			t.Errorf("Forward() error = %v, want deferred", err)
		}
	})
}
