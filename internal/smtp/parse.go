package smtp

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"
)

// Message is the normalized shape extracted from submitted MIME data,
// ready to forward to the send API.
type Message struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	CC      []string `json:"cc,omitempty"`
	ReplyTo []string `json:"reply_to,omitempty"`
	Subject string   `json:"subject"`
	Text    string   `json:"text,omitempty"`
	HTML    string   `json:"html,omitempty"`
}

// ParseMessage extracts the forwardable fields from raw MIME data. Only
// text/plain and text/html parts are carried; the first of each wins.
func ParseMessage(raw []byte) (*Message, error) {
	m, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}

	msg := &Message{Subject: decodeHeader(m.Header.Get("Subject"))}

	if from, err := m.Header.AddressList("From"); err == nil && len(from) > 0 {
		msg.From = from[0].Address
	}
	msg.To = addressList(m.Header, "To")
	msg.CC = addressList(m.Header, "Cc")
	msg.ReplyTo = addressList(m.Header, "Reply-To")

	if err := extractBody(m.Header.Get("Content-Type"), m.Header.Get("Content-Transfer-Encoding"), m.Body, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func addressList(h mail.Header, key string) []string {
	addrs, err := h.AddressList(key)
	if err != nil {
		return nil
	}
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.Address
	}
	return out
}

func decodeHeader(v string) string {
	dec := new(mime.WordDecoder)
	decoded, err := dec.DecodeHeader(v)
	if err != nil {
		return v
	}
	return decoded
}

func extractBody(contentType, transferEncoding string, body io.Reader, msg *Message) error {
	if contentType == "" {
		contentType = "text/plain"
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = "text/plain"
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return fmt.Errorf("multipart message without boundary")
		}
		mr := multipart.NewReader(body, boundary)
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return fmt.Errorf("read part: %w", err)
			}
			if err := extractBody(part.Header.Get("Content-Type"),
				part.Header.Get("Content-Transfer-Encoding"), part, msg); err != nil {
				return err
			}
		}
	}

	switch mediaType {
	case "text/plain":
		if msg.Text == "" {
			text, err := decodeBody(body, transferEncoding)
			if err != nil {
				return err
			}
			msg.Text = text
		}
	case "text/html":
		if msg.HTML == "" {
			html, err := decodeBody(body, transferEncoding)
			if err != nil {
				return err
			}
			msg.HTML = html
		}
	}
	// Attachments and other part types are dropped at the gateway.
	return nil
}

func decodeBody(r io.Reader, transferEncoding string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(transferEncoding)) {
	case "base64":
		r = base64.NewDecoder(base64.StdEncoding, newLineStripper(r))
	case "quoted-printable":
		r = quotedprintable.NewReader(r)
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("decode body: %w", err)
	}
	return strings.TrimRight(string(b), "\r\n"), nil
}

// lineStripper removes CR/LF so wrapped base64 decodes cleanly.
type lineStripper struct{ r io.Reader }

func newLineStripper(r io.Reader) io.Reader { return &lineStripper{r: r} }

func (l *lineStripper) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	kept := 0
	for i := 0; i < n; i++ {
		if p[i] == '\r' || p[i] == '\n' {
			continue
		}
		p[kept] = p[i]
		kept++
	}
	if kept == 0 && err == nil && n > 0 {
		return l.Read(p)
	}
	return kept, err
}
