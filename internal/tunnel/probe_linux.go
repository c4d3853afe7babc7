//go:build linux

package tunnel

import (
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"

	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"
)

// probeLink looks the interface up in the network namespace this process
// runs in, which is where wg-quick creates it.
func probeLink(name string) (LinkInfo, error) {
	ns, err := netns.Get()
	if err != nil {
		return LinkInfo{}, fmt.Errorf("get current netns: %w", err)
	}
	defer ns.Close()

	handle, err := netlink.NewHandleAt(ns)
	if err != nil {
		return LinkInfo{}, fmt.Errorf("open netlink handle: %w", err)
	}
	defer handle.Close()

	link, err := handle.LinkByName(name)
	if err != nil {
		if isLinkNotFound(err) {
			return LinkInfo{}, fmt.Errorf("link %s not found", name)
		}
		return LinkInfo{}, fmt.Errorf("lookup link %s: %w", name, err)
	}

	attrs := link.Attrs()
	return LinkInfo{
		Name:  attrs.Name,
		Index: attrs.Index,
		MTU:   attrs.MTU,
		Type:  link.Type(),
		Up:    attrs.Flags&net.FlagUp != 0,
	}, nil
}

func isLinkNotFound(err error) bool {
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, syscall.ENODEV) {
		return true
	}
	var notFound netlink.LinkNotFoundError
	return errors.As(err, &notFound)
}
