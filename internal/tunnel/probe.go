package tunnel

import "errors"

var errProbeUnsupported = errors.New("link probe not supported on this platform")

// LinkInfo is what the kernel reports about an interface.
type LinkInfo struct {
	Name  string
	Index int
	MTU   int
	Type  string
	Up    bool
}
