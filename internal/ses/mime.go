package ses

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/textproto"
	"path/filepath"
	"strings"
)

// buildRawMessage assembles an RFC 5322 message for the attachment path:
// multipart/mixed wrapping an optional multipart/alternative body plus one
// part per attachment. Attachment content arrives base64-encoded and is
// passed through unchanged.
func buildRawMessage(req SendRequest) ([]byte, error) {
	var buf bytes.Buffer
	mixed := multipart.NewWriter(&buf)

	fmt.Fprintf(&buf, "From: %s\r\n", req.From)
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(req.To, ", "))
	if len(req.CC) > 0 {
		fmt.Fprintf(&buf, "Cc: %s\r\n", strings.Join(req.CC, ", "))
	}
	if len(req.ReplyTo) > 0 {
		fmt.Fprintf(&buf, "Reply-To: %s\r\n", strings.Join(req.ReplyTo, ", "))
	}
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", req.Subject))
	fmt.Fprintf(&buf, "%s: %s\r\n", EmailIDHeader, req.EmailID)
	for name, value := range req.Headers {
		fmt.Fprintf(&buf, "%s: %s\r\n", name, value)
	}
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", mixed.Boundary())

	if err := writeBodyParts(mixed, req); err != nil {
		return nil, err
	}

	for _, att := range req.Attachments {
		if err := writeAttachment(mixed, att.Filename, att.Content); err != nil {
			return nil, err
		}
	}

	if err := mixed.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeBodyParts(mixed *multipart.Writer, req SendRequest) error {
	if req.Text != "" && req.HTML != "" {
		var alt bytes.Buffer
		altWriter := multipart.NewWriter(&alt)
		if err := writeTextPart(altWriter, "text/plain", req.Text); err != nil {
			return err
		}
		if err := writeTextPart(altWriter, "text/html", req.HTML); err != nil {
			return err
		}
		if err := altWriter.Close(); err != nil {
			return err
		}

		part, err := mixed.CreatePart(textproto.MIMEHeader{
			"Content-Type": {fmt.Sprintf("multipart/alternative; boundary=%q", altWriter.Boundary())},
		})
		if err != nil {
			return err
		}
		_, err = part.Write(alt.Bytes())
		return err
	}

	if req.HTML != "" {
		return writeTextPart(mixed, "text/html", req.HTML)
	}
	return writeTextPart(mixed, "text/plain", req.Text)
}

func writeTextPart(w *multipart.Writer, contentType, body string) error {
	part, err := w.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {contentType + `; charset="UTF-8"`},
		"Content-Transfer-Encoding": {"quoted-printable"},
	})
	if err != nil {
		return err
	}
	qp := quotedprintable.NewWriter(part)
	if _, err := qp.Write([]byte(body)); err != nil {
		return err
	}
	return qp.Close()
}

func writeAttachment(w *multipart.Writer, filename, b64content string) error {
	contentType := mime.TypeByExtension(filepath.Ext(filename))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	part, err := w.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {contentType},
		"Content-Transfer-Encoding": {"base64"},
		"Content-Disposition":       {fmt.Sprintf("attachment; filename=%q", filename)},
	})
	if err != nil {
		return err
	}
	// Re-wrap to 76-column lines as required for base64 bodies.
	cleaned := strings.Map(func(r rune) rune {
		if r == '\r' || r == '\n' {
			return -1
		}
		return r
	}, b64content)
	if _, err := base64.StdEncoding.DecodeString(cleaned); err != nil {
		return fmt.Errorf("attachment %s: content is not valid base64", filename)
	}
	for len(cleaned) > 76 {
		if _, err := part.Write([]byte(cleaned[:76] + "\r\n")); err != nil {
			return err
		}
		cleaned = cleaned[76:]
	}
	_, err = part.Write([]byte(cleaned + "\r\n"))
	return err
}
