// Package dispatch implements the request dispatcher (C12): a command
// table keyed by function name, parameter validation, the login gate, and
// the JSON response envelope; internal/gateway wraps that envelope in a
// Text frame carrying the request's requestID.
//
// Grounded on JsonMsgProcess.cpp's JsonMessageProcessImpl: a
// function-name-to-handler map (m_function_map), a pre-login allowlist
// (m_normal_function_set), and per-declared-parameter presence/type
// checking against a JsonOption list, translated into Go idiom per the
// design notes' "commands as values in a map".
package dispatch

import (
	"encoding/json"
	"fmt"

	"github.com/qls-chat/qls-server/internal/grouproom"
	"github.com/qls-chat/qls-server/internal/identity"
	"github.com/qls-chat/qls-server/internal/privateroom"
	"github.com/qls-chat/qls-server/internal/qlserrors"
	"github.com/qls-chat/qls-server/internal/sanitize"
	"github.com/qls-chat/qls-server/internal/session"
	"github.com/qls-chat/qls-server/internal/user"
	"github.com/qls-chat/qls-server/internal/verification"
)

// ParamType is the JSON type a declared parameter is checked against.
type ParamType int

const (
	TypeString ParamType = iota
	TypeInt
	TypeBool
)

// ParamSpec declares one parameter a command expects in its JSON dict.
type ParamSpec struct {
	Name string
	Type ParamType
}

// Params is the validated parameter bag handed to a Handler. Validate has
// already confirmed every declared key is present with the declared type.
type Params map[string]any

func (p Params) str(name string) string { s, _ := p[name].(string); return s }
func (p Params) num(name string) int64  { n, _ := p[name].(float64); return int64(n) }
func (p Params) bit(name string) bool   { b, _ := p[name].(bool); return b }

// Result is the handler's successful return, merged into the response
// envelope alongside "state":"success".
type Result map[string]any

// Handler runs a command against the authenticated caller (identity.NoUser
// if not yet logged in) and its validated parameters.
type Handler func(d *Dispatcher, s *session.Session, caller identity.UserID, p Params) (Result, error)

// Command is one entry in the command table.
type Command struct {
	Name          string
	Params        []ParamSpec
	RequiresLogin bool
	Handler       Handler
}

// Manager is the subset of *manager.Manager the dispatcher's handlers need.
type Manager interface {
	session.Manager

	AddNewUser(userName, email, password string) (identity.UserID, error)
	ChangePassword(id identity.UserID, old, new string) error
	HasUser(id identity.UserID) bool
	GetUser(id identity.UserID) (*user.User, bool)
	RemoveFriend(a, b identity.UserID) error

	CreateGroup(creator identity.UserID) (identity.GroupID, error)
	GetGroupRoom(g identity.GroupID) (*grouproom.Room, bool)
	RemoveGroup(requester identity.UserID, g identity.GroupID) error
	LeaveGroup(u identity.UserID, g identity.GroupID) error

	GetPrivateRoom(a, b identity.UserID) (*privateroom.Room, bool)

	VerificationEngine() *verification.Engine
}

// Dispatcher holds the command table and the Manager it dispatches against.
type Dispatcher struct {
	mgr      Manager
	commands map[string]Command
}

// New builds a Dispatcher with the full command table installed.
func New(mgr Manager) *Dispatcher {
	d := &Dispatcher{mgr: mgr, commands: make(map[string]Command)}
	for _, c := range builtinCommands {
		d.commands[c.Name] = c
	}
	return d
}

// Request is the decoded body of a Text frame's payload.
type Request struct {
	Function   string          `json:"function"`
	Parameters json.RawMessage `json:"parameters"`
}

// Dispatch decodes body as a Request, resolves and validates the command,
// invokes its handler, and returns the JSON response envelope (never an
// error itself; failures are encoded into the envelope's "state" field).
func (d *Dispatcher) Dispatch(s *session.Session, body []byte) []byte {
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return errorEnvelope("invalid request")
	}

	cmd, ok := d.commands[req.Function]
	if !ok {
		return errorEnvelope(fmt.Sprintf("unknown function: %s", req.Function))
	}

	caller, authed := s.UserID()
	if cmd.RequiresLogin && !authed {
		return errorEnvelope("You haven't logged in")
	}

	var raw map[string]any
	if len(req.Parameters) > 0 {
		if err := json.Unmarshal(req.Parameters, &raw); err != nil {
			return errorEnvelope("invalid parameters")
		}
	}

	params, errMsg := validate(cmd.Params, raw)
	if errMsg != "" {
		return errorEnvelope(errMsg)
	}

	res, err := cmd.Handler(d, s, caller, params)
	if err != nil {
		return errorEnvelope(qlserrors.Code(err))
	}
	return successEnvelope(res)
}

func validate(specs []ParamSpec, raw map[string]any) (Params, string) {
	out := make(Params, len(specs))
	for _, spec := range specs {
		v, ok := raw[spec.Name]
		if !ok {
			return nil, fmt.Sprintf("Lost a parameter: %s", spec.Name)
		}
		switch spec.Type {
		case TypeString:
			if _, ok := v.(string); !ok {
				return nil, fmt.Sprintf("Wrong parameter type: %s", spec.Name)
			}
		case TypeInt:
			n, ok := v.(float64)
			if !ok || n != float64(int64(n)) {
				return nil, fmt.Sprintf("Wrong parameter type: %s", spec.Name)
			}
		case TypeBool:
			if _, ok := v.(bool); !ok {
				return nil, fmt.Sprintf("Wrong parameter type: %s", spec.Name)
			}
		}
		out[spec.Name] = v
	}
	return out, ""
}

func successEnvelope(res Result) []byte {
	env := map[string]any{"state": "success", "message": "OK"}
	for k, v := range res {
		env[k] = v
	}
	out, _ := json.Marshal(env)
	return out
}

func errorEnvelope(message string) []byte {
	out, _ := json.Marshal(map[string]any{"state": "error", "message": message})
	return out
}
