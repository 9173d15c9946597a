package position

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mustafaturan/monoton/v2"
	"github.com/mustafaturan/monoton/v2/sequencer"
)

// 2021-01-01T00:00:00Z in milliseconds
const idEpoch uint64 = 1609459200000

var (
	gen_mu   sync.Mutex
	gen      *monoton.Monoton
	fallback uint64
)

// InitIDs configures the sortable id generator for this node. Until it is
// called, ids come from the default node 0.
func InitIDs(node uint64) error {
	m, err := monoton.New(sequencer.NewMillisecond(), node, idEpoch)
	if err != nil {
		return err
	}
	gen_mu.Lock()
	gen = &m
	gen_mu.Unlock()
	return nil
}

// NextID returns a time sortable unique id for a position.
func NextID() string {
	gen_mu.Lock()
	m := gen
	gen_mu.Unlock()
	if m == nil {
		if err := InitIDs(0); err != nil {
			n := atomic.AddUint64(&fallback, 1)
			return strconv.FormatInt(time.Now().UnixNano(), 36) + strconv.FormatUint(n, 36)
		}
		gen_mu.Lock()
		m = gen
		gen_mu.Unlock()
	}
	return m.Next()
}
