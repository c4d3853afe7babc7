//go:build !linux && !darwin

package tunnel

import "os"

func accessWritable(dir string) bool {
	f, err := os.CreateTemp(dir, ".tpn-probe-*")
	if err != nil {
		return false
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return true
}
