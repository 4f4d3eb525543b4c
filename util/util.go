//go:build linux || darwin || netbsd || freebsd || openbsd || dragonfly

package util

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

func SockaddrToTCPAddr(sa unix.Sockaddr) *net.TCPAddr {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{
			IP:   append(net.IP{}, sa.Addr[:]...),
			Port: sa.Port,
		}
	case *unix.SockaddrInet6:
		var zone string
		if sa.ZoneId != 0 {
			if ifi, err := net.InterfaceByIndex(int(sa.ZoneId)); err == nil {
				zone = ifi.Name
			}
		}
		return &net.TCPAddr{
			IP:   append(net.IP{}, sa.Addr[:]...),
			Port: sa.Port,
			Zone: zone,
		}
	}
	return nil
}

// TCPAddrToSockaddr picks the address family from the IP length unless
// family forces one (unix.AF_INET / unix.AF_INET6).
func TCPAddrToSockaddr(addr *net.TCPAddr, family int) (unix.Sockaddr, error) {
	if family == unix.AF_INET || (family == 0 && addr.IP.To4() != nil) {
		ip4 := addr.IP.To4()
		if ip4 == nil {
			if len(addr.IP) != 0 {
				return nil, &net.AddrError{Err: "not an IPv4 address", Addr: addr.IP.String()}
			}
			ip4 = net.IPv4zero.To4()
		}
		sa := &unix.SockaddrInet4{Port: addr.Port}
		copy(sa.Addr[:], ip4)
		return sa, nil
	}
	ip6 := addr.IP.To16()
	if ip6 == nil {
		ip6 = net.IPv6zero
	}
	sa := &unix.SockaddrInet6{Port: addr.Port}
	copy(sa.Addr[:], ip6)
	if addr.Zone != "" {
		if ifi, err := net.InterfaceByName(addr.Zone); err == nil {
			sa.ZoneId = uint32(ifi.Index)
		}
	}
	return sa, nil
}

func TemporaryErr(err error) bool {
	errno, ok := err.(syscall.Errno)
	if !ok {
		return false
	}
	return errno == unix.EINTR || errno.Temporary()
}

func WouldBlock(err error) bool {
	return err == unix.EAGAIN || err == unix.EWOULDBLOCK
}
