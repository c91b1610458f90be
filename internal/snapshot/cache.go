// Package snapshot holds the last merged record per validator.
package snapshot

import (
	"sync"

	"go.uber.org/atomic"
)

// Status values for ValidatorRecord.ValidatedBlocksStatus.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// ValidatorRecord is the merged view of one validator.
type ValidatorRecord struct {
	Address               string `json:"address"`
	Name                  string `json:"name"`
	Stake                 string `json:"stake"`
	Rewards               string `json:"rewards"`
	ValidatedBlocksCount  uint64 `json:"validatedBlocksCount"`
	ValidatedBlocksStatus string `json:"validatedBlocksStatus"`
}

// view is immutable once stored. order runs oldest to newest upsert.
type view struct {
	order   []string
	records map[string]ValidatorRecord
}

// Cache is a copy-on-write set of records. Readers load the current view
// without locking; writers build a new view and swap it in.
type Cache struct {
	writeMu sync.Mutex
	current atomic.Pointer[view]
}

func New() *Cache {
	c := &Cache{}
	c.current.Store(&view{records: make(map[string]ValidatorRecord)})
	return c
}

// Upsert replaces any record with the same address and makes it the most
// recent entry.
func (c *Cache) Upsert(rec ValidatorRecord) {
	c.Publish(rec)
}

// Publish upserts every record, in order, as a single visible change.
func (c *Cache) Publish(recs ...ValidatorRecord) {
	if len(recs) == 0 {
		return
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	old := c.current.Load()

	touched := make(map[string]struct{}, len(recs))
	for _, r := range recs {
		touched[r.Address] = struct{}{}
	}

	next := &view{
		order:   make([]string, 0, len(old.order)+len(recs)),
		records: make(map[string]ValidatorRecord, len(old.records)+len(recs)),
	}
	for _, addr := range old.order {
		if _, ok := touched[addr]; ok {
			continue
		}
		next.order = append(next.order, addr)
		next.records[addr] = old.records[addr]
	}
	for _, r := range recs {
		if _, ok := next.records[r.Address]; ok {
			// Same address twice in one batch; keep the later one only.
			next.order = removeAddr(next.order, r.Address)
		}
		next.order = append(next.order, r.Address)
		next.records[r.Address] = r
	}

	c.current.Store(next)
}

// ListAll returns the records most-recently-upserted first.
func (c *Cache) ListAll() []ValidatorRecord {
	v := c.current.Load()
	out := make([]ValidatorRecord, 0, len(v.order))
	for i := len(v.order) - 1; i >= 0; i-- {
		out = append(out, v.records[v.order[i]])
	}
	return out
}

// Get returns the record for address, if present.
func (c *Cache) Get(address string) (ValidatorRecord, bool) {
	r, ok := c.current.Load().records[address]
	return r, ok
}

// Len returns the number of records.
func (c *Cache) Len() int {
	return len(c.current.Load().order)
}

func removeAddr(order []string, addr string) []string {
	for i, a := range order {
		if a == addr {
			return append(order[:i], order[i+1:]...)
		}
	}
	return order
}
