package snapshot

import (
	"sync"
	"sync/atomic"
	"time"
)

// Progress is shared by the chunkers of one snapshot and read by status
// reporting. All counters are safe for concurrent use.
type Progress struct {
	accounts     atomic.Uint64
	prevAccounts atomic.Uint64
	blocks       atomic.Uint64
	bytes        atomic.Uint64
	prevBytes    atomic.Uint64
	done         atomic.Bool
	abort        atomic.Bool

	mu       sync.Mutex
	lastTick time.Time
	now      func() time.Time
}

func NewProgress() *Progress {
	p := &Progress{now: time.Now}
	p.lastTick = p.now()
	return p
}

// Reset clears counters and flags for a new snapshot.
func (p *Progress) Reset() {
	p.accounts.Store(0)
	p.prevAccounts.Store(0)
	p.blocks.Store(0)
	p.bytes.Store(0)
	p.prevBytes.Store(0)
	p.done.Store(false)
	p.abort.Store(false)

	p.mu.Lock()
	p.lastTick = p.now()
	p.mu.Unlock()
}

func (p *Progress) Accounts() uint64 { return p.accounts.Load() }
func (p *Progress) Blocks() uint64 { return p.blocks.Load() }
func (p *Progress) Bytes() uint64 { return p.bytes.Load() }
func (p *Progress) Done() bool { return p.done.Load() }

func (p *Progress) AddAccounts(n uint64) { p.accounts.Add(n) }
func (p *Progress) AddBlocks(n uint64) { p.blocks.Add(n) }
func (p *Progress) AddBytes(n uint64) { p.bytes.Add(n) }
func (p *Progress) MarkDone() { p.done.Store(true) }

// Abort asks running chunkers to stop at their next check.
func (p *Progress) Abort() {
	p.abort.Store(true)
}

func (p *Progress) Aborted() bool {
	return p.abort.Load()
}

// Rate returns accounts and bytes per second since the previous sample. A new
// sample is only taken once at least a second has passed; until then both
// rates are zero.
func (p *Progress) Rate() (accounts float64, bytes float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	dt := now.Sub(p.lastTick).Seconds()
	if dt < 1 {
		return 0, 0
	}

	curAccounts := p.accounts.Load()
	curBytes := p.bytes.Load()
	deltaAccounts := curAccounts - p.prevAccounts.Swap(curAccounts)
	deltaBytes := curBytes - p.prevBytes.Swap(curBytes)
	p.lastTick = now

	return float64(deltaAccounts) / dt, float64(deltaBytes) / dt
}
