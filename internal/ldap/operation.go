package ldap

import (
	"context"
	"maps"
	"slices"
)

// Capability classifies what an operation does against the directory.
type Capability int

const (
	CapabilityNone   Capability = iota // local bookkeeping, never touches the wire
	CapabilityRead                     // single-entry reads and read-only extended operations
	CapabilityWrite                    // anything that mutates directory state
	CapabilitySearch                   // subtree or filtered searches
)

// String returns the capability tag as used in logs and metrics.
func (c Capability) String() string {
	switch c {
	case CapabilityNone:
		return "none"
	case CapabilityRead:
		return "read"
	case CapabilityWrite:
		return "write"
	case CapabilitySearch:
		return "search"
	default:
		return "unknown"
	}
}

// Operation names one method of the Connection contract.
type Operation string

const (
	OpSearch           Operation = "search"
	OpReadAttributes   Operation = "read_attributes"
	OpCompare          Operation = "compare"
	OpWhoAmI           Operation = "whoami"
	OpAdd              Operation = "add"
	OpModify           Operation = "modify"
	OpModifyDN         Operation = "modify_dn"
	OpDelete           Operation = "delete"
	OpPasswordModify   Operation = "password_modify"
	OpClose            Operation = "close"
	OpIsConnected      Operation = "is_connected"
	OpConfig           Operation = "config"
	OpErrorIsRetryable Operation = "error_is_retryable"
)

// OperationInfo is the static metadata attached to an Operation.
type OperationInfo struct {
	Capability Capability
	// Void operations return nothing but an error and are never cached.
	Void bool
}

// operationTable is the only place operations are tagged. Layers consult it
// instead of matching on method names.
var operationTable = map[Operation]OperationInfo{
	OpSearch:           {Capability: CapabilitySearch},
	OpReadAttributes:   {Capability: CapabilityRead},
	OpCompare:          {Capability: CapabilityRead},
	OpWhoAmI:           {Capability: CapabilityRead},
	OpAdd:              {Capability: CapabilityWrite, Void: true},
	OpModify:           {Capability: CapabilityWrite, Void: true},
	OpModifyDN:         {Capability: CapabilityWrite, Void: true},
	OpDelete:           {Capability: CapabilityWrite, Void: true},
	OpPasswordModify:   {Capability: CapabilityWrite},
	OpClose:            {Capability: CapabilityNone, Void: true},
	OpIsConnected:      {Capability: CapabilityNone},
	OpConfig:           {Capability: CapabilityNone},
	OpErrorIsRetryable: {Capability: CapabilityNone},
}

// Operations returns every tagged operation in a stable order.
func Operations() []Operation {
	return slices.Sorted(maps.Keys(operationTable))
}

// Info returns the operation's metadata. Unknown operations are untagged.
func (o Operation) Info() OperationInfo {
	return operationTable[o]
}

func (o Operation) Capability() Capability {
	return o.Info().Capability
}

// IsNetwork reports whether the operation reaches the directory.
func (o Operation) IsNetwork() bool {
	return o.Capability() != CapabilityNone
}

func (o Operation) IsWrite() bool {
	return o.Capability() == CapabilityWrite
}

func (o Operation) IsVoid() bool {
	return o.Info().Void
}

func (o Operation) String() string {
	return string(o)
}

// Call is one operation in flight through the layer chain.
type Call struct {
	Op   Operation
	Args []any
	// Invoke performs the operation against the next Connection in the chain.
	Invoke func(ctx context.Context, conn Connection) (any, error)
}

// Apply runs the call against next.
func (c *Call) Apply(ctx context.Context, next Connection) (any, error) {
	return c.Invoke(ctx, next)
}

// Interceptor is implemented by every layer. Intercept decides, usually from
// call.Op's tag, whether to act on the call or hand it straight to the next
// Connection.
type Interceptor interface {
	Intercept(ctx context.Context, call *Call) (any, error)
}
