/*
Package ldap provides a resilient LDAP client for the Terraform LDAP provider.

A Factory opens a raw transport connection and wraps it in the layers a
Config enables. Every layer implements Connection and intercepts only the
operations whose tag concerns it; the rest pass through untouched.

# Architecture Overview

From the transport outwards:

  - Transport: go-ldap connection with simple, Kerberos, external or anonymous bind
  - FailoverCoordinator: rotates across the configured servers, failing back to the first
  - WatchdogCoordinator: reclaims idle, hung or long-lived connections and reopens lazily
  - ReadOnlyGuard: rejects writes
  - WireTrace: logs and traces every network call
  - StatisticsCollector: per-handle and factory-wide counters
  - CachingLayer: read-through cache, cleared by any write
  - ThreadSafetyGate: one network operation at a time
  - Handle: lifecycle, IDs and the factory's registry of open connections

# Operation Tags

Each Connection method is tagged read, write, search or none in one table
(see Operations). Layers consult the tag, never the method name:

  - none: Close, IsConnected, Config, ErrorIsRetryable
  - read: ReadAttributes, Compare, WhoAmI
  - search: Search
  - write: Add, Modify, ModifyDN, Delete, PasswordModify

# Error Handling

Every error returned by a Connection matches one of the sentinels with
errors.Is:

  - ErrUnavailable: no server could serve the call; retry later
  - ErrOperationFailed: the server refused the call (see LDAPError for details)
  - ErrIllegalState: the handle was used after Close

# Example Usage

	factory, err := ldap.NewFactory(ctx)
	if err != nil {
		return err
	}
	defer factory.Close()

	cfg := ldap.DefaultConfig()
	cfg.URLs = []string{"ldaps://dc1.example.com", "ldaps://dc2.example.com"}
	cfg.BindDN = "cn=admin,dc=example,dc=com"
	cfg.Password = "secret"
	cfg.EnableWatchdog = true
	cfg.EnableCaching = true

	conn, err := factory.NewConnection(ctx, cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	who, err := conn.WhoAmI(ctx)
*/
package ldap
