package transport

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ksort/distsort/cmn/nlog"
)

// Handler receives one decoded batch: header plus payload bytes. Returning
// an error fails the HTTP response with 500, which the sender's Client.Send
// surfaces through the handle's Err().
type Handler func(hdr Hdr, payload []byte) error

// MuxHandler adapts fn for registration on the same *http.ServeMux that
// carries /v1/tick and /v1/abort, so a rank that needs to receive batches
// (the Sorter-master) needs only the one listener the Run Coordinator
// already starts.
func MuxHandler(fn Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hdr, err := decodeHdr(r.Header.Get("X-Distsort-Hdr"))
		if err != nil {
			nlog.Errorf("transport: bad header: %v", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		payload, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := fn(hdr, payload); err != nil {
			nlog.Errorf("transport: handler: %v", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func decodeHdr(s string) (Hdr, error) {
	parts := strings.Fields(s)
	if len(parts) != 4 {
		return Hdr{}, fmt.Errorf("transport: expected 4 header fields, got %d", len(parts))
	}
	vals := make([]int, 4)
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return Hdr{}, fmt.Errorf("transport: header field %d: %w", i, err)
		}
		vals[i] = v
	}
	return Hdr{Tag: vals[0], SrcRank: vals[1], NumBufs: vals[2], PayloadN: vals[3]}, nil
}
