package port

// LineMirror receives a copy of every line the local sink emits.
// Implementations must not block.
type LineMirror interface {
	BroadcastLine(line []byte)
}
