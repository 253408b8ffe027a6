// Package transport is distsort's point-to-point payload transport, spec
// §4.4 step 3d and §6 "Payload send": an asynchronous header send (one
// integer, the byte size) under tag T, followed by an asynchronous bulk
// send of the payload under tag T+1, both tracked by a completion handle.
// The original ran this over MPI Isend/Bsend; here it is one streamed HTTP
// POST per batch, issued on a worker goroutine so the caller never blocks,
// modeled on the teacher transport package's async-send-plus-completion-queue
// shape (workCh / a completion recorded on the returned handle) but
// stripped of aistore's bucket/object addressing.
/*
 * Copyright (c) 2024, distsort authors.
 */
package transport

import (
	"fmt"
	"sync"

	"github.com/valyala/fasthttp"

	"github.com/ksort/distsort/cmn/nlog"
	"github.com/ksort/distsort/xfer"
)

// Hdr is the header carried ahead of the payload bytes (spec §6 "a header
// send (one integer = payload byte size)"); Tag and SrcRank ride along so
// the receiver can demultiplex without a second round trip.
type Hdr struct {
	Tag      int
	SrcRank  int
	NumBufs  int
	PayloadN int
}

func (h Hdr) encode() []byte {
	return []byte(fmt.Sprintf("%d %d %d %d", h.Tag, h.SrcRank, h.NumBufs, h.PayloadN))
}

// Client sends batches to peer Transferrer/Sorter-master endpoints
// asynchronously, handing back an xfer.Handle the caller tracks in its
// in-flight queue.
type Client struct {
	hc *fasthttp.Client
}

func NewClient() *Client {
	return &Client{hc: &fasthttp.Client{Name: "distsort-transferrer"}}
}

// handle is the completion-tracked send; satisfies xfer.Handle.
type handle struct {
	mu   sync.Mutex
	done bool
	err  error
}

func (h *handle) Done() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.done
}

func (h *handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *handle) finish(err error) {
	h.mu.Lock()
	h.done, h.err = true, err
	h.mu.Unlock()
}

// Send issues one batch asynchronously: the caller gets back a handle
// immediately and a goroutine performs the actual POST, mirroring the
// original's MPI_Isend non-blocking semantics (spec §4.4 step 3d "Both
// sends are asynchronous").
func (c *Client) Send(destAddr string, hdr Hdr, payload []byte) xfer.Handle {
	h := &handle{}
	go func() {
		req := fasthttp.AcquireRequest()
		resp := fasthttp.AcquireResponse()
		defer fasthttp.ReleaseRequest(req)
		defer fasthttp.ReleaseResponse(resp)

		req.SetRequestURI(destAddr + "/v1/batch")
		req.Header.SetMethod(fasthttp.MethodPost)
		req.Header.Set("X-Distsort-Hdr", string(hdr.encode()))
		req.SetBody(payload)

		if err := c.hc.Do(req, resp); err != nil {
			nlog.Errorf("transport: send to %s (tag %d) failed: %v", destAddr, hdr.Tag, err)
			h.finish(err)
			return
		}
		if resp.StatusCode() >= fasthttp.StatusBadRequest {
			err := fmt.Errorf("transport: send to %s: status %d", destAddr, resp.StatusCode())
			h.finish(err)
			return
		}
		h.finish(nil)
	}()
	return h
}
