package protocol

// Keepalive is the literal text frame used as a liveness check. It is
// answered by echoing the same frame, never by "pong".
const Keepalive = "ping"

// SupportedVersions lists the MCP protocol versions the relay accepts,
// newest first.
var SupportedVersions = []string{
	"2025-06-18",
	"2025-03-26",
	"2024-11-05",
}

// LatestVersion is the newest supported MCP protocol version.
const LatestVersion = "2025-06-18"

// MCP method names the relay inspects.
const (
	MethodInitialize  = "initialize"
	MethodInitialized = "notifications/initialized"
	MethodPing        = "ping"
	MethodCancelled   = "notifications/cancelled"
)

// NegotiateVersion returns requested when it is supported. Otherwise it
// returns the unsupported protocol version error carrying the supported list.
func NegotiateVersion(requested string) (string, *Error) {
	for _, v := range SupportedVersions {
		if v == requested {
			return v, nil
		}
	}
	supported := make([]string, len(SupportedVersions))
	copy(supported, SupportedVersions)
	return "", NewUnsupportedProtocolVersion(supported, requested)
}
