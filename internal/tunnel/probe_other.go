//go:build !linux

package tunnel

func probeLink(string) (LinkInfo, error) {
	return LinkInfo{}, errProbeUnsupported
}
