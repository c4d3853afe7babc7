package tunnel

import (
	"strings"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
	"gopkg.in/ini.v1"

	"github.com/cochaviz/tpn/internal/lease"
)

// Summary is a log-friendly view of a leased configuration. It is never
// used to accept or reject a configuration.
type Summary struct {
	Address  string
	DNS      string
	Endpoint string
	PeerKey  string
}

func (s Summary) String() string {
	var parts []string
	if s.Address != "" {
		parts = append(parts, "address="+s.Address)
	}
	if s.Endpoint != "" {
		parts = append(parts, "endpoint="+s.Endpoint)
	}
	if s.PeerKey != "" {
		parts = append(parts, "peer="+s.PeerKey)
	}
	if s.DNS != "" {
		parts = append(parts, "dns="+s.DNS)
	}
	return strings.Join(parts, " ")
}

// Describe pulls the interface address, DNS, peer endpoint and an
// abbreviated peer key out of an INI-style WireGuard configuration. A
// configuration that does not parse yields an empty Summary.
func Describe(config lease.Config) Summary {
	cfg, err := ini.LoadSources(ini.LoadOptions{
		AllowNonUniqueSections: true,
		Insensitive:            true,
		IgnoreInlineComment:    true,
	}, []byte(config))
	if err != nil {
		return Summary{}
	}

	iface := cfg.Section("interface")
	summary := Summary{
		Address: iface.Key("address").String(),
		DNS:     iface.Key("dns").String(),
	}
	peers, err := cfg.SectionsByName("peer")
	if err == nil && len(peers) > 0 {
		summary.Endpoint = peers[0].Key("endpoint").String()
		if key := peers[0].Key("publickey").String(); key != "" {
			summary.PeerKey = shortKey(key)
		}
	}
	return summary
}

func shortKey(value string) string {
	key, err := wgtypes.ParseKey(value)
	if err != nil {
		return "invalid"
	}
	return key.String()[:8] + "…"
}
