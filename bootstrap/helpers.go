package bootstrap

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// ClassifyConnectionError turns a MongoDB or Redis connection failure into a
// message with likely causes and remediation steps.
func ClassifyConnectionError(err error, backend, addr string) string {
	if err == nil {
		return ""
	}
	errStr := err.Error()

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Sprintf("Connection to %s at %s timed out.\n"+
			"  Possible causes:\n"+
			"  - %s is starting up (wait and retry)\n"+
			"  - Network latency or a firewall blocking the connection\n"+
			"  Remediation:\n"+
			"  - Verify network connectivity: nc -zv %s", backend, addr, backend, addr)
	}

	if errors.Is(err, syscall.ECONNREFUSED) || containsIgnoreCase(errStr, "connection refused") {
		return fmt.Sprintf("Connection refused by %s at %s.\n"+
			"  This usually means %s is not running.\n"+
			"  Remediation:\n"+
			"  - Start it: docker compose up -d %s\n"+
			"  - Verify the address in config.yaml", backend, addr, backend, strings.ToLower(backend))
	}

	if containsIgnoreCase(errStr, "server selection") {
		return fmt.Sprintf("No reachable %s server at %s.\n"+
			"  Remediation:\n"+
			"  - Check the replica set name and hosts in the connection URI\n"+
			"  - Raise mongodb.connect_timeout if the server is slow to elect a primary", backend, addr)
	}

	if containsIgnoreCase(errStr, "no such host") || containsIgnoreCase(errStr, "lookup") {
		return fmt.Sprintf("Cannot resolve hostname in %s address %s.\n"+
			"  Remediation:\n"+
			"  - Verify the hostname is correct\n"+
			"  - Check DNS configuration", backend, addr)
	}

	if containsIgnoreCase(errStr, "authentication") || containsIgnoreCase(errStr, "auth") || containsIgnoreCase(errStr, "denied") {
		return fmt.Sprintf("Authentication failed for %s at %s.\n"+
			"  Remediation:\n"+
			"  - Verify the credentials in the connection settings\n"+
			"  - Check the CRITS_MONGODB_URI / CRITS_REDIS_PASSWORD env vars or the secrets provider", backend, addr)
	}

	return fmt.Sprintf("Failed to connect to %s at %s: %v\n"+
		"  Remediation:\n"+
		"  - Ensure %s is running and accessible\n"+
		"  - Verify network connectivity", backend, addr, err, backend)
}

func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
