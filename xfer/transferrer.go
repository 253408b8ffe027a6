// Transferrer main loop, spec §4.4: drains the local Buffer Pool, tracks
// in-flight network sends, and participates in the Dispatch Coordinator
// tick every iteration.
package xfer

import (
	"fmt"
	"time"

	"github.com/ksort/distsort/cmn"
	"github.com/ksort/distsort/cmn/nlog"
	"github.com/ksort/distsort/coordinator"
	"github.com/ksort/distsort/pool"
	"github.com/ksort/distsort/stats"
	"github.com/ksort/distsort/transport"
)

// CoordinatorClient is how a Transferrer talks to the master-IO rank's tick
// endpoint — a single request/response round trip collapsing the four
// IO-group collectives of spec §4.3 (see SPEC_FULL.md §2 "transport
// mapping").
type CoordinatorClient interface {
	Tick(req coordinator.TickRequest) (coordinator.TickResponse, error)
}

// AddrBook resolves a Sorter-host rank to the network address of its
// Sorter-master's Transferrer-facing receiver (spec §6 "Transfer group").
type AddrBook interface {
	Addr(rank int) string
}

// Transferrer implements spec §4.4's per-tick algorithm. NumFiles is this
// rank's local share of the global file set (spec §3 "FileAssignment": the
// colocated Reader only ever fills buffers for the files striped to it), not
// the whole run's total.
type Transferrer struct {
	Rank        int
	NumFiles    int
	RecsPerFile int
	RecSize     int
	MaxCoalesce int // M
	Watermark   int // W

	Pool     *pool.Pool
	InFlight *InFlight
	Coord    CoordinatorClient
	Client   *transport.Client
	Addrs    AddrBook

	Stats *stats.Registry // optional; nil means no metrics are recorded

	filesDelivered   int
	reportedThisTick int // files delivered since the last report to the master, for the FilesSentPrev delta
}

// singleFullSleep realizes spec §4.4 step 3b: "If |full| == 1, sleep briefly
// (~100ms) to let the Reader catch up and produce a coalescable neighbor".
const singleFullSleep = 100 * time.Millisecond

// Tick runs one iteration of the main loop (spec §4.4 steps 1-5). It
// returns done=true once this rank has observed global termination (step 1).
func (t *Transferrer) Tick() (done bool, err error) {
	if t.filesDelivered >= t.NumFiles {
		resp, err := t.Coord.Tick(coordinator.TickRequest{
			Rank:          t.Rank,
			FullLen:       t.Pool.NumFull(),
			FilesSentPrev: t.takeReported(),
			MsgQueueLen:   t.InFlight.Len(),
		})
		if err != nil {
			return false, err
		}
		if resp.GlobalInFlight == 0 {
			return true, nil
		}
		t.InFlight.Drain(false, 0)
		return false, nil
	}

	resp, err := t.Coord.Tick(coordinator.TickRequest{
		Rank:          t.Rank,
		FullLen:       t.Pool.NumFull(),
		FilesSentPrev: t.takeReported(),
		MsgQueueLen:   t.InFlight.Len(),
	})
	if err != nil {
		return false, err
	}

	filesSentThisTick := 0
	if resp.Assignment.Assigned && t.Pool.NumFull() > 0 {
		n, err := t.sendBatch(resp.Assignment)
		if err != nil {
			return false, err
		}
		filesSentThisTick = n
	}
	t.filesDelivered += filesSentThisTick
	t.reportedThisTick += filesSentThisTick
	if t.Stats != nil && filesSentThisTick > 0 {
		t.Stats.FilesDelivered.Set(float64(t.filesDelivered))
	}

	t.InFlight.Drain(false, 0)
	return false, nil
}

// takeReported returns and clears the count of files delivered since the
// last tick report, for TickRequest.FilesSentPrev (spec §4.3 step 1's
// files-delivered all-reduce contribution).
func (t *Transferrer) takeReported() int {
	n := t.reportedThisTick
	t.reportedThisTick = 0
	return n
}

// sendBatch ships every run PeekFullPrefix hands back, not just the first:
// PeekFullPrefix has already popped all of them out of the pool's full list
// under the lock, so any run left unsent here would leak its buffers out of
// circulation for good (spec §8 "Buffer Conservation"). Ordinarily there is
// exactly one coalesced run per tick (spec §4.4 step 3c/3d); more than one
// only happens when an out-of-order release left a gap, in which case each
// run still goes to the one destination this tick's assignment named, run i
// under tag a.Tag+2*i.
func (t *Transferrer) sendBatch(a coordinator.Assignment) (int, error) {
	if _, errs := t.InFlight.Drain(true, t.Watermark); len(errs) > 0 {
		nlog.Errorf("rank %d: drainInFlight reported %d send error(s): %v", t.Rank, len(errs), errs[0])
	}

	if t.Pool.NumFull() == 1 {
		time.Sleep(singleFullSleep)
	}

	runs := t.Pool.PeekFullPrefix(t.MaxCoalesce)
	if len(runs) == 0 {
		return 0, nil
	}

	destAddr := t.Addrs.Addr(a.DestRank)
	if destAddr == "" {
		return 0, cmn.NewAbortError(cmn.KindProtocol, t.Rank, "no address for dest rank %d", a.DestRank)
	}

	sent := 0
	for i, run := range runs {
		n, err := t.sendRun(run, destAddr, a.Tag+2*i)
		if err != nil {
			return sent, err
		}
		sent += n
	}
	return sent, nil
}

// sendRun builds and async-sends the payload for one coalesced run under
// tag, recording the completion handle in InFlight.
func (t *Transferrer) sendRun(run pool.Run, destAddr string, tag int) (int, error) {
	payloadSize := run.Count * t.RecsPerFile * t.RecSize
	if payloadSize > len(t.Pool.Buffer(run.Start).Data)*run.Count {
		return 0, cmn.NewAbortError(cmn.KindProtocol, t.Rank, "computed payload %d exceeds buffer capacity", payloadSize)
	}
	payload := make([]byte, 0, payloadSize)
	for i := 0; i < run.Count; i++ {
		buf := t.Pool.Buffer(run.Start + i)
		n := t.RecsPerFile * t.RecSize
		if n > len(buf.Data) {
			n = len(buf.Data)
		}
		payload = append(payload, buf.Data[:n]...)
	}

	hdr := transport.Hdr{Tag: tag, SrcRank: t.Rank, NumBufs: run.Count, PayloadN: len(payload)}
	h := t.Client.Send(destAddr, hdr, payload)
	t.InFlight.Add(MsgRecord{Run: run, Handle: h})
	if t.Stats != nil {
		t.Stats.BytesSent.Add(float64(len(payload)))
	}

	return run.Count, nil
}

func (t *Transferrer) String() string {
	return fmt.Sprintf("transferrer[rank=%d delivered=%d/%d]", t.Rank, t.filesDelivered, t.NumFiles)
}
