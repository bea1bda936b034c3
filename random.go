package mdns

import (
	"math/rand"
	"time"
)

// jitterSource backs defaultRandomDelay. It is only ever touched from the
// owning TaskRunner's goroutine, consistent with every other piece of
// mutable state in this package.
var jitterSource = rand.New(rand.NewSource(time.Now().UnixNano()))

func pseudoJitter(n int64) int64 {
	if n <= 0 {
		return 0
	}
	return jitterSource.Int63n(n)
}
