package api

import (
	"io"
	"net/http"

	"github.com/ignite/dispatch/internal/pkg/httputil"
	"github.com/ignite/dispatch/internal/pkg/logger"
)

// maxCallbackBody caps the provider notification payload at 1 MiB.
const maxCallbackBody = 1 << 20

// SESCallback ingests provider delivery notifications. It always answers
// 200 with a JSON body: the provider retries on any other status, and a
// poison payload would otherwise be redelivered forever. Failures are
// logged, reported in the body, and dropped.
func (h *Handlers) SESCallback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody))
	if err != nil {
		logger.Warn("read callback body", "error", err.Error())
		httputil.OK(w, map[string]string{"data": "Error is parsing hook"})
		return
	}

	if err := h.processor.Process(r.Context(), body); err != nil {
		logger.Warn("process callback", "error", err.Error())
		httputil.OK(w, map[string]string{"data": "Error is parsing hook"})
		return
	}
	httputil.OK(w, map[string]string{"data": "Success"})
}
