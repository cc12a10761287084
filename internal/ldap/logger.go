package ldap

import (
	"context"
	"errors"
	"maps"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// tflog subsystems used by this package.
const (
	subsystemLDAP     = "ldap"
	subsystemFailover = "failover"
	subsystemWatchdog = "watchdog"
	subsystemCache    = "cache"
	subsystemWire     = "wire"
)

var subsystems = []string{subsystemLDAP, subsystemFailover, subsystemWatchdog, subsystemCache, subsystemWire}

// WithLogging registers the package's subsystems on ctx. Each level is read
// from TF_LOG_PROVIDER_LDAP_<SUBSYSTEM>.
func WithLogging(ctx context.Context) context.Context {
	for _, name := range subsystems {
		ctx = tflog.NewSubsystem(ctx, name,
			tflog.WithLevelFromEnv("TF_LOG_PROVIDER_LDAP_"+strings.ToUpper(name)))
	}
	return ctx
}

// LogOperation is a helper function to log an operation with timing.
func LogOperation(ctx context.Context, subsystem, operation string, fields map[string]any, fn func() error) error {
	start := time.Now()

	if fields == nil {
		fields = make(map[string]any)
	}
	fields["operation"] = operation

	tflog.SubsystemDebug(ctx, subsystem, "Starting operation", fields)

	err := fn()

	fields["duration_ms"] = time.Since(start).Milliseconds()

	if err != nil {
		LogLDAPError(ctx, subsystem, operation, err, fields)
	} else {
		tflog.SubsystemDebug(ctx, subsystem, "Operation completed successfully", fields)
	}

	return err
}

// LogPerformance logs how long an operation took, escalating slow ones.
func LogPerformance(ctx context.Context, subsystem, operation string, duration time.Duration, fields map[string]any) {
	if fields == nil {
		fields = make(map[string]any)
	}

	fields["operation"] = operation
	fields["duration_ms"] = duration.Milliseconds()

	switch {
	case duration > 5*time.Second:
		tflog.SubsystemWarn(ctx, subsystem, "Slow operation detected", fields)
	case duration > time.Second:
		tflog.SubsystemInfo(ctx, subsystem, "Operation performance", fields)
	default:
		tflog.SubsystemTrace(ctx, subsystem, "Operation performance", fields)
	}
}

// LogLDAPError logs LDAP-specific error information.
func LogLDAPError(ctx context.Context, subsystem string, operation string, err error, fields map[string]any) {
	if fields == nil {
		fields = make(map[string]any)
	}

	fields["operation"] = operation
	fields["error"] = err.Error()
	fields["retryable"] = IsRetryableError(err)

	var resultErr *ldap.Error
	if errors.As(err, &resultErr) {
		fields["ldap_result_code"] = resultErr.ResultCode
		if resultErr.MatchedDN != "" {
			fields["ldap_matched_dn"] = resultErr.MatchedDN
		}
		if resultErr.Err != nil {
			fields["ldap_diagnostic_message"] = resultErr.Err.Error()
		}
	}

	tflog.SubsystemError(ctx, subsystem, "LDAP operation failed", fields)
}

// LogConnectionEvent logs connection lifecycle events on the given subsystem.
func LogConnectionEvent(ctx context.Context, subsystem, event string, fields map[string]any) {
	if fields == nil {
		fields = make(map[string]any)
	}

	fields["event"] = event

	switch event {
	case "connection_established", "authentication_success", "failover_recovered":
		tflog.SubsystemInfo(ctx, subsystem, "Connection event", fields)
	case "connection_failed", "authentication_failed", "connection_lost", "failover_exhausted":
		tflog.SubsystemError(ctx, subsystem, "Connection event", fields)
	case "connection_reclaimed", "failover_rotated", "failback":
		tflog.SubsystemWarn(ctx, subsystem, "Connection event", fields)
	default:
		tflog.SubsystemDebug(ctx, subsystem, "Connection event", fields)
	}
}

// SanitizeFields removes sensitive information from log fields.
func SanitizeFields(fields map[string]any) map[string]any {
	sanitized := make(map[string]any, len(fields))

	sensitiveKeys := map[string]bool{
		"password":     true,
		"passwd":       true,
		"old_password": true,
		"new_password": true,
		"secret":       true,
		"token":        true,
		"key":          true,
		"private_key":  true,
		"credential":   true,
		"credentials":  true,
	}

	for k, v := range fields {
		if sensitiveKeys[strings.ToLower(k)] {
			sanitized[k] = "[REDACTED]"
			continue
		}
		if str, ok := v.(string); ok && containsSensitivePattern(str) {
			sanitized[k] = "[REDACTED]"
			continue
		}
		sanitized[k] = v
	}

	return sanitized
}

// containsSensitivePattern checks if a string contains patterns that might be sensitive.
func containsSensitivePattern(s string) bool {
	patterns := []string{
		"password=",
		"passwd=",
		"secret=",
		"token=",
		"key=",
	}

	lower := strings.ToLower(s)
	for _, pattern := range patterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}

	return false
}

// LogDataSourceOperation logs the start of a data source operation and
// returns the function that logs its outcome.
func LogDataSourceOperation(ctx context.Context, dataSource, operation string, fields map[string]any) func(error) {
	return logTerraformOperation(ctx, "data_source", dataSource, operation, fields)
}

// LogResourceOperation is LogDataSourceOperation for resources.
func LogResourceOperation(ctx context.Context, resource, operation string, fields map[string]any) func(error) {
	return logTerraformOperation(ctx, "resource", resource, operation, fields)
}

func logTerraformOperation(ctx context.Context, kind, name, operation string, fields map[string]any) func(error) {
	start := time.Now()

	with := func(extra map[string]any) map[string]any {
		out := maps.Clone(fields)
		if out == nil {
			out = make(map[string]any, len(extra)+2)
		}
		out[kind] = name
		out["operation"] = operation
		maps.Copy(out, extra)
		return out
	}

	label := strings.ReplaceAll(kind, "_", " ")
	tflog.SubsystemDebug(ctx, "provider", "Starting "+label+" operation", with(nil))

	return func(err error) {
		exit := with(map[string]any{
			"duration_ms": time.Since(start).Milliseconds(),
			"has_error":   err != nil,
		})
		if err != nil {
			exit["error"] = err.Error()
			tflog.SubsystemError(ctx, "provider", "Operation failed", exit)
			return
		}
		tflog.SubsystemDebug(ctx, "provider", "Operation completed", exit)
	}
}
