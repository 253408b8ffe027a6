// HTTP realization of the Dispatch Coordinator tick RPC and the global
// abort broadcast (spec §4.3, §7). See SPEC_FULL.md §2 "transport mapping".
package runner

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/ksort/distsort/cmn"
	"github.com/ksort/distsort/coordinator"
)

var js = jsoniter.ConfigFastest

const tickTimeout = 5 * time.Second

// httpCoordClient implements xfer.CoordinatorClient against the master-IO
// rank's /v1/tick endpoint.
type httpCoordClient struct {
	base string
	hc   *http.Client
}

func newHTTPCoordClient(base string) *httpCoordClient {
	return &httpCoordClient{base: base, hc: &http.Client{Timeout: tickTimeout}}
}

func (c *httpCoordClient) Tick(req coordinator.TickRequest) (coordinator.TickResponse, error) {
	var resp coordinator.TickResponse
	body, err := js.Marshal(req)
	if err != nil {
		return resp, errors.Wrap(err, "tick: marshal request")
	}
	httpReq, err := http.NewRequest(http.MethodPost, c.base+"/v1/tick", bytes.NewReader(body))
	if err != nil {
		return resp, errors.Wrap(err, "tick: build request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpResp, err := c.hc.Do(httpReq)
	if err != nil {
		return resp, errors.Wrap(err, "tick: do request")
	}
	defer httpResp.Body.Close()
	b, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return resp, errors.Wrap(err, "tick: read response")
	}
	if httpResp.StatusCode >= http.StatusBadRequest {
		return resp, errors.Errorf("tick: status %d: %s", httpResp.StatusCode, string(b))
	}
	if err := js.Unmarshal(b, &resp); err != nil {
		return resp, errors.Wrap(err, "tick: unmarshal response")
	}
	return resp, nil
}

// registerCoordHandlers wires /v1/tick (master-IO only, when master != nil)
// and /v1/abort (every rank) onto mux.
func registerCoordHandlers(mux *http.ServeMux, master *coordinator.Master, onAbort func(kind, msg string)) {
	if master != nil {
		mux.HandleFunc("/v1/tick", func(w http.ResponseWriter, r *http.Request) {
			var req coordinator.TickRequest
			b, err := io.ReadAll(r.Body)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			if err := js.Unmarshal(b, &req); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			resp := master.Tick(req)
			out, err := js.Marshal(resp)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write(out)
		})
	}

	mux.HandleFunc("/v1/abort", func(w http.ResponseWriter, r *http.Request) {
		var req abortMsg
		b, err := io.ReadAll(r.Body)
		if err == nil {
			_ = js.Unmarshal(b, &req)
		}
		onAbort(req.Kind, req.Msg)
		w.WriteHeader(http.StatusOK)
	})
}

type abortMsg struct {
	Kind string `json:"kind"`
	Msg  string `json:"msg"`
	Rank int    `json:"rank"`
}

// broadcastAbort posts an abort notice to every peer address; best-effort —
// the process is terminating regardless (spec §7 "Any fatal kind triggers a
// global abort... causing all ranks to terminate").
func broadcastAbort(ctx context.Context, peers []string, kind cmn.FatalKind, msg string, rank int) {
	body, _ := js.Marshal(abortMsg{Kind: string(kind), Msg: msg, Rank: rank})
	hc := &http.Client{Timeout: 2 * time.Second}
	for _, addr := range peers {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, addr+"/v1/abort", bytes.NewReader(body))
		if err != nil {
			continue
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := hc.Do(req)
		if err != nil {
			continue
		}
		resp.Body.Close()
	}
}
