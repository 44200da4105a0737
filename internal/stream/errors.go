package stream

import (
	"fmt"

	"firestige.xyz/sipzamine/internal/core"
)

// PartialStream is the diagnostic for a stream that closed while bytes
// were still buffered behind a gap. It is reported, never returned as a
// processing failure.
type PartialStream struct {
	Key   core.StreamKey
	Bytes int
}

func (p PartialStream) Error() string {
	return fmt.Sprintf("sipzamine: stream %s closed with %d undelivered bytes", p.Key, p.Bytes)
}
