package chunkstream

import "io"

// newBytePipePuller adapts a *BytePipe (the push-style byte channel, C1)
// into a chunkPuller's source.
func newBytePipePuller(p *BytePipe) *chunkPuller {
	return newChunkPuller(p)
}

// newReaderPuller adapts any io.Reader pull-source into a chunkPuller's
// source, per spec.md §6's "either a push-style byte channel or a
// pull-style source" input shape. The encoder built on top of either
// adapter behaves identically — it only ever sees the source capability.
func newReaderPuller(r io.Reader) *chunkPuller {
	return newChunkPuller(r)
}
