package ids

import (
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)

	node = func() *snowflake.Node {
		n, err := snowflake.NewNode(1)
		if err != nil {
			panic(err)
		}
		return n
	}()
)

// NewID returns a time-ordered numeric identifier.
func NewID() int64 {
	return node.Generate().Int64()
}

// NewSessionID returns a lexicographically sortable session identifier.
func NewSessionID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
