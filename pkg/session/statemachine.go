package session

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// ErrAuthFailed is returned when the device responds REJECT or
// NOT_AVAILABLE to an authentication attempt.
var ErrAuthFailed = errors.New("session: authentication failed")

// Hooks are overridden by the sync orchestrator; each fires whenever
// Machine.Observe sees the device enter its corresponding beacon
// state, not again while the state stays the same.
type Hooks struct {
	OnLink           func() error
	OnAuthentication func() error
	OnTransport      func() error
}

// Machine tracks the client device's reported state across
// successive beacons and fires the matching hook on each new state
// observed, per SPEC_FULL.md §4.6. BUSY is observed but never
// dispatched to a hook — the orchestrator simply waits it out.
type Machine struct {
	logger *logrus.Logger
	hooks  Hooks
	state  ClientState
	seen   bool
}

func NewMachine(hooks Hooks, logger *logrus.Logger) *Machine {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Machine{hooks: hooks, logger: logger}
}

// Observe feeds one beacon's state into the machine. It fires the
// hook for a state the first time it is seen, or every time the
// state changes into it from something else (link loss can bounce
// the device back to LINK and the hook fires again on re-entry).
func (m *Machine) Observe(b Beacon) error {
	if m.seen && b.State == m.state {
		return nil
	}
	m.seen = true
	m.state = b.State

	switch b.State {
	case StateLink:
		if m.hooks.OnLink != nil {
			return m.hooks.OnLink()
		}
	case StateAuthentication:
		if m.hooks.OnAuthentication != nil {
			return m.hooks.OnAuthentication()
		}
	case StateTransport:
		if m.hooks.OnTransport != nil {
			return m.hooks.OnTransport()
		}
	case StateBusy:
		m.logger.Debug("device reported BUSY, deferring")
	}
	return nil
}

// State returns the most recently observed client device state.
func (m *Machine) State() ClientState { return m.state }

// AuthResult is the outcome of a completed authentication exchange.
type AuthResult struct {
	Serial   uint32
	Name     string
	Passkey  []byte
	Accepted bool
}

// InterpretAuthResponse turns a decoded AUTHENTICATE response
// envelope into an AuthResult, per the sub-type vocabulary in
// SPEC_FULL.md §4.6 (NOT_AVAILABLE/ACCEPT/REJECT).
func InterpretAuthResponse(resp AuthenticateCommand) (AuthResult, error) {
	switch AuthResponseType(resp.SubType) {
	case AuthAccept:
		return AuthResult{Serial: resp.Serial, Passkey: resp.Data, Accepted: true}, nil
	case AuthNotAvailable, AuthReject:
		return AuthResult{}, fmt.Errorf("%w: %s", ErrAuthFailed, authReasonName(AuthResponseType(resp.SubType)))
	default:
		return AuthResult{}, fmt.Errorf("%w: unrecognised sub-type %d", ErrAuthFailed, resp.SubType)
	}
}

func authReasonName(t AuthResponseType) string {
	switch t {
	case AuthNotAvailable:
		return "NOT_AVAILABLE"
	case AuthReject:
		return "REJECT"
	default:
		return "ACCEPT"
	}
}
