package ldap

import (
	"context"

	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// readOnlyLayer rejects write operations before they reach the directory.
type readOnlyLayer struct {
	proxy
	next Connection
}

func newReadOnlyLayer(next Connection) *readOnlyLayer {
	l := &readOnlyLayer{next: next}
	l.proxy = proxy{interceptor: l}
	return l
}

func (l *readOnlyLayer) layerKind() layerKind { return layerReadOnly }

func (l *readOnlyLayer) Unwrap() Connection { return l.next }

func (l *readOnlyLayer) Intercept(ctx context.Context, call *Call) (any, error) {
	if call.Op.IsWrite() {
		tflog.SubsystemWarn(ctx, subsystemLDAP, "Rejected write on read-only connection", map[string]any{
			"operation": call.Op.String(),
		})
		return nil, ErrReadOnly
	}
	return call.Apply(ctx, l.next)
}
