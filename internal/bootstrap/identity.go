package bootstrap

import (
	"context"
	"errors"
	"net"
	"os"
	"os/user"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v3/host"
	gopsnet "github.com/shirou/gopsutil/v3/net"

	"github.com/slimrmm/slimrmm-assist/internal/protocol"
)

// CollectIdentity reports this machine's address, user, host name and
// platform. Fields that cannot be determined are left empty; the error
// joins every lookup that failed.
func CollectIdentity(ctx context.Context) (protocol.SystemInfo, error) {
	info := protocol.SystemInfo{Platform: runtime.GOOS}
	var errs []error

	if hostInfo, err := host.InfoWithContext(ctx); err == nil {
		info.HostName = hostInfo.Hostname
	} else {
		errs = append(errs, err)
		if name, herr := os.Hostname(); herr == nil {
			info.HostName = name
		}
	}

	if u, err := user.Current(); err == nil {
		info.Username = shortUsername(u.Username)
	} else {
		errs = append(errs, err)
	}

	ifaces, err := gopsnet.InterfacesWithContext(ctx)
	if err != nil {
		errs = append(errs, err)
	} else {
		info.IP = firstIPv4(ifaces)
	}

	return info, errors.Join(errs...)
}

// shortUsername drops a DOMAIN\ prefix.
func shortUsername(name string) string {
	if i := strings.LastIndex(name, `\`); i >= 0 {
		return name[i+1:]
	}
	return name
}

// firstIPv4 returns the first non-loopback IPv4 address of an interface
// that is up.
func firstIPv4(ifaces gopsnet.InterfaceStatList) string {
	for _, iface := range ifaces {
		if !hasFlag(iface.Flags, "up") || hasFlag(iface.Flags, "loopback") {
			continue
		}
		for _, addr := range iface.Addrs {
			ip, _, err := net.ParseCIDR(addr.Addr)
			if err != nil {
				ip = net.ParseIP(addr.Addr)
			}
			if ip == nil || ip.IsLoopback() || ip.IsLinkLocalUnicast() {
				continue
			}
			if v4 := ip.To4(); v4 != nil {
				return v4.String()
			}
		}
	}
	return ""
}

func hasFlag(flags []string, want string) bool {
	for _, f := range flags {
		if strings.EqualFold(f, want) {
			return true
		}
	}
	return false
}
