package ldap

import (
	"context"
	"maps"
	"slices"

	"github.com/hashicorp/terraform-plugin-log/tflog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// wireTraceLayer records every network call on the wire subsystem and as a
// client span.
type wireTraceLayer struct {
	proxy
	next   Connection
	tracer trace.Tracer
	clock  Clock
}

func newWireTraceLayer(next Connection, clock Clock) *wireTraceLayer {
	l := &wireTraceLayer{
		next:   next,
		tracer: otel.Tracer(instrumentationName),
		clock:  clock,
	}
	l.proxy = proxy{interceptor: l}
	return l
}

func (l *wireTraceLayer) layerKind() layerKind { return layerWireTrace }

func (l *wireTraceLayer) Unwrap() Connection { return l.next }

func (l *wireTraceLayer) Intercept(ctx context.Context, call *Call) (any, error) {
	if !call.Op.IsNetwork() {
		return call.Apply(ctx, l.next)
	}

	fields := SanitizeFields(traceFields(call))
	tflog.SubsystemTrace(ctx, subsystemWire, "Sending request", fields)

	ctx, span := l.tracer.Start(ctx, "ldap."+call.Op.String(),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("ldap.operation", call.Op.String()),
			attribute.String("ldap.capability", call.Op.Capability().String()),
		),
	)
	defer span.End()

	start := l.clock.Now()
	v, err := call.Apply(ctx, l.next)
	elapsed := l.clock.Now().Sub(start)

	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		fields["error"] = err.Error()
		fields["retryable"] = IsRetryableError(err)
	} else {
		span.SetStatus(codes.Ok, "")
		if res, ok := v.(*SearchResult); ok && res != nil {
			fields["entries"] = len(res.Entries)
			span.SetAttributes(attribute.Int("ldap.entries", len(res.Entries)))
		}
	}

	LogPerformance(ctx, subsystemWire, call.Op.String(), elapsed, fields)
	return v, err
}

// traceFields describes a call's arguments for logging. Credentials never
// appear: password modify requests only contribute the user identity.
func traceFields(call *Call) map[string]any {
	fields := map[string]any{
		"operation":  call.Op.String(),
		"capability": call.Op.Capability().String(),
	}

	arg := func(i int) any {
		if i < len(call.Args) {
			return call.Args[i]
		}
		return nil
	}

	switch call.Op {
	case OpSearch:
		if req, ok := arg(0).(*SearchRequest); ok && req != nil {
			fields["base_dn"] = req.BaseDN
			fields["scope"] = req.Scope.String()
			fields["filter"] = req.Filter
			fields["attributes"] = req.Attributes
		}
	case OpReadAttributes:
		fields["dn"] = arg(0)
		fields["attributes"] = arg(1)
	case OpCompare:
		fields["dn"] = arg(0)
		fields["attribute"] = arg(1)
	case OpDelete:
		fields["dn"] = arg(0)
	case OpAdd:
		if req, ok := arg(0).(*AddRequest); ok && req != nil {
			fields["dn"] = req.DN
			fields["attributes"] = slices.Sorted(maps.Keys(req.Attributes))
		}
	case OpModify:
		if req, ok := arg(0).(*ModifyRequest); ok && req != nil {
			fields["dn"] = req.DN
			fields["add"] = slices.Sorted(maps.Keys(req.AddAttributes))
			fields["replace"] = slices.Sorted(maps.Keys(req.ReplaceAttributes))
			fields["delete"] = req.DeleteAttributes
		}
	case OpModifyDN:
		if req, ok := arg(0).(*ModifyDNRequest); ok && req != nil {
			fields["dn"] = req.DN
			fields["new_rdn"] = req.NewRDN
			fields["new_superior"] = req.NewSuperior
		}
	case OpPasswordModify:
		if req, ok := arg(0).(*PasswordModifyRequest); ok && req != nil {
			fields["user_identity"] = req.UserIdentity
		}
	}

	return fields
}
