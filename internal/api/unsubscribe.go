package api

import (
	"errors"
	"fmt"
	"html"
	"net/http"

	"github.com/ignite/dispatch/internal/pkg/httputil"
	"github.com/ignite/dispatch/internal/unsubscribe"
)

// UnsubscribePage serves the confirmation form behind the link in campaign
// mail. The link is verified before rendering so a tampered URL never shows
// the form.
func (h *Handlers) UnsubscribePage(w http.ResponseWriter, r *http.Request) {
	contactID, campaignID, hash, ok := unsubscribeParams(r)
	if !ok || !h.unsub.Verify(contactID, campaignID, hash) {
		http.Error(w, "invalid unsubscribe link", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><title>Unsubscribe</title></head>
<body>
<p>Click the button below to stop receiving these emails.</p>
<form method="POST" action="/unsubscribe?id=%s&hash=%s">
<button type="submit">Unsubscribe</button>
</form>
</body>
</html>`, html.EscapeString(r.URL.Query().Get("id")), html.EscapeString(hash))
}

// Unsubscribe applies a verified unsubscribe. Serves both the confirmation
// form above and RFC 8058 one-click POSTs; the one-click form body carries
// List-Unsubscribe=One-Click.
func (h *Handlers) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	contactID, campaignID, hash, ok := unsubscribeParams(r)
	if !ok {
		httputil.BadRequest(w, "invalid unsubscribe link")
		return
	}

	if err := h.unsub.Unsubscribe(r.Context(), contactID, campaignID, hash); err != nil {
		writeUnsubscribeError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{"unsubscribed": true})
}

// OneClickUnsubscribe is the List-Unsubscribe-Post endpoint mail clients
// call directly. POST only, JSON only, no HTML and no redirect; repeats of
// an already-applied unsubscribe still answer success so clients never
// retry a link that already worked.
func (h *Handlers) OneClickUnsubscribe(w http.ResponseWriter, r *http.Request) {
	contactID, campaignID, hash, ok := unsubscribeParams(r)
	if !ok {
		httputil.BadRequest(w, "invalid unsubscribe link")
		return
	}

	if err := h.unsub.Unsubscribe(r.Context(), contactID, campaignID, hash); err != nil {
		writeUnsubscribeError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{
		"success": true,
		"message": "unsubscribed",
	})
}

// Resubscribe restores a subscription through the same signed link.
func (h *Handlers) Resubscribe(w http.ResponseWriter, r *http.Request) {
	contactID, campaignID, hash, ok := unsubscribeParams(r)
	if !ok {
		httputil.BadRequest(w, "invalid unsubscribe link")
		return
	}

	if err := h.unsub.Resubscribe(r.Context(), contactID, campaignID, hash); err != nil {
		writeUnsubscribeError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{"subscribed": true})
}

func unsubscribeParams(r *http.Request) (contactID, campaignID, hash string, ok bool) {
	q := r.URL.Query()
	contactID, campaignID, err := unsubscribe.SplitID(q.Get("id"))
	if err != nil {
		return "", "", "", false
	}
	return contactID, campaignID, q.Get("hash"), true
}

func writeUnsubscribeError(w http.ResponseWriter, err error) {
	if errors.Is(err, unsubscribe.ErrBadLink) {
		httputil.BadRequest(w, "invalid unsubscribe link")
		return
	}
	httputil.InternalError(w, err)
}
