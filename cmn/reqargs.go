package cmn

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// ReqArgs is a small control-plane HTTP request builder — the same shape
// dsort's distributeShardRecords/participateInRecordDistribution used to
// build its cross-rank POSTs. The tick RPC and the global-abort broadcast in
// package runner build their requests directly and do not use it.
type ReqArgs struct {
	Method string
	Base   string // e.g. "http://10.0.0.4:51080"
	Path   string
	Body   []byte
	Header http.Header
}

func (args *ReqArgs) Req() (*http.Request, error) {
	var body io.Reader
	if args.Body != nil {
		body = bytes.NewReader(args.Body)
	}
	req, err := http.NewRequest(args.Method, args.Base+args.Path, body)
	if err != nil {
		return nil, err
	}
	if args.Header != nil {
		req.Header = args.Header
	}
	if args.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// Do executes the request with a deadline and returns the response body,
// wrapping errors the way the rest of the pipeline expects (pkg/errors, so
// the rank and kind can be attached by the caller).
func Do(ctx context.Context, client *http.Client, args *ReqArgs, timeout time.Duration) ([]byte, error) {
	req, err := args.Req()
	if err != nil {
		return nil, errors.Wrap(err, "reqargs: build request")
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	req = req.WithContext(ctx)
	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "reqargs: %s %s", args.Method, args.Path)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "reqargs: read response")
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, errors.Errorf("reqargs: %s %s: status %d: %s", args.Method, args.Path, resp.StatusCode, string(b))
	}
	return b, nil
}
