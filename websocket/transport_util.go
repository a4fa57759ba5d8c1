package websocket

import (
	"errors"
	"io"
)

func isEOF(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

// rawBatcher brackets a burst of writes with a platform write-coalescing
// hint. Only the Linux TCP implementation has a real one (TCP_CORK); all
// other platforms get the no-op in transport_batch_other.go.
type rawBatcher interface {
	begin()
	end()
}
