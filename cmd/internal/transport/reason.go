package transport

import "strconv"

// DisconnectReason is the numeric status attached to a close update.
type DisconnectReason int

const (
	ReasonNone                DisconnectReason = 0
	ReasonLoggedOut           DisconnectReason = 401
	ReasonForbidden           DisconnectReason = 403
	ReasonConnectionLost      DisconnectReason = 408
	ReasonMultideviceMismatch DisconnectReason = 411
	ReasonConnectionClosed    DisconnectReason = 428
	ReasonConnectionReplaced  DisconnectReason = 440
	ReasonBadSession          DisconnectReason = 500
	ReasonUnavailableService  DisconnectReason = 503
	ReasonRestartRequired     DisconnectReason = 515
)

// String returns a stable snake_case name used in logs and failure reasons.
func (r DisconnectReason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonLoggedOut:
		return "logged_out"
	case ReasonForbidden:
		return "forbidden"
	case ReasonConnectionLost:
		return "connection_lost"
	case ReasonMultideviceMismatch:
		return "multidevice_mismatch"
	case ReasonConnectionClosed:
		return "connection_closed"
	case ReasonConnectionReplaced:
		return "connection_replaced"
	case ReasonBadSession:
		return "bad_session"
	case ReasonUnavailableService:
		return "unavailable_service"
	case ReasonRestartRequired:
		return "restart_required"
	default:
		return "status_" + strconv.Itoa(int(r))
	}
}

// LoggedOut reports whether the account removed this device; reconnecting is pointless.
func (r DisconnectReason) LoggedOut() bool { return r == ReasonLoggedOut }
