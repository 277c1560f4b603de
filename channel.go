package surge

// NewChannelSource bridges an existing channel into a read-only source.
// Each received value is published; the source stops reading when it is
// closed or the channel is, whichever comes first. The channel itself is
// never closed here.
func NewChannelSource[S any](name string, initial func() S, ch <-chan S, opts ...SourceOption) *Source[S] {
	src := newSource(name, initial, opts...)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case v, ok := <-ch:
				if !ok {
					return
				}
				src.write(v)
			}
		}
	}()
	src.onClose(func() {
		close(done)
	})
	return src
}
