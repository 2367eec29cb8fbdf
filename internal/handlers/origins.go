package handlers

import (
	"net"
	"net/http"
	"strings"
)

// resolveOrigins returns the request-local origin and the best public origin
// for building share links: an explicit PUBLIC_BASE_URL wins, then the
// request host when it is not localhost, then a private LAN address so the
// invite link works across the local network.
func (h *RoomHandler) resolveOrigins(r *http.Request) (local, public string) {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	local = scheme + "://" + r.Host

	if h.publicBaseURL != "" {
		return local, h.publicBaseURL
	}

	host := r.Host
	isLocalHost := strings.Contains(host, "localhost") ||
		strings.HasPrefix(host, "127.0.0.1") ||
		strings.HasPrefix(host, "[::1]")
	if !isLocalHost {
		return local, local
	}

	if ip := lanIPAddress(); ip != "" {
		return local, "http://" + net.JoinHostPort(ip, h.port)
	}
	return local, local
}

// lanIPAddress picks a private IPv4 from the host interfaces, falling back
// to any non-loopback IPv4.
func lanIPAddress() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}

	var fallback string
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		ip4 := ipNet.IP.To4()
		if ip4 == nil {
			continue
		}
		if ip4.IsPrivate() {
			return ip4.String()
		}
		if fallback == "" {
			fallback = ip4.String()
		}
	}
	return fallback
}
