package provider

import (
	"fmt"
	"testing"

	ldapclient "github.com/isometry/terraform-provider-ldap/internal/ldap"
)

// benchmarkHandle opens a handle on an in-memory directory seeded with n
// entries below OU=Users.
func benchmarkHandle(b *testing.B, n int, configure func(*ldapclient.Config)) *ldapclient.Handle {
	b.Helper()

	dir := newMemDirectory()
	for i := range n {
		dir.put(fmt.Sprintf("CN=user%04d,OU=Users,DC=example,DC=com", i), map[string][]string{
			"objectClass": {"person"},
			"cn":          {fmt.Sprintf("user%04d", i)},
			"description": {"benchmark entry"},
		})
	}

	factory, err := ldapclient.NewFactory(b.Context(), ldapclient.WithTransport(memoryTransport, dir.dial))
	if err != nil {
		b.Fatalf("creating factory: %v", err)
	}

	cfg := ldapclient.DefaultConfig()
	cfg.Transport = memoryTransport
	cfg.URLs = []string{memoryURL}
	cfg.BaseDN = testBaseDN
	if configure != nil {
		configure(cfg)
	}

	handle, err := factory.NewConnection(b.Context(), cfg)
	if err != nil {
		b.Fatalf("opening connection: %v", err)
	}

	data := &providerData{factory: factory, handle: handle, baseDN: cfg.BaseDN}
	b.Cleanup(func() { _ = data.close() })
	return handle
}

// BenchmarkReadAttributes compares repeated reads of one entry with and
// without the result cache.
func BenchmarkReadAttributes(b *testing.B) {
	for _, caching := range []bool{false, true} {
		b.Run(fmt.Sprintf("caching=%t", caching), func(b *testing.B) {
			handle := benchmarkHandle(b, 10, func(cfg *ldapclient.Config) { cfg.EnableCaching = caching })

			b.ResetTimer()
			for b.Loop() {
				if _, err := handle.ReadAttributes(b.Context(), "CN=user0001,OU=Users,DC=example,DC=com", []string{"cn", "description"}); err != nil {
					b.Fatalf("read failed: %v", err)
				}
			}
		})
	}
}

// BenchmarkSearch measures subtree searches through the full layer stack.
func BenchmarkSearch(b *testing.B) {
	for _, size := range []int{10, 100, 1000} {
		b.Run(fmt.Sprintf("entries=%d", size), func(b *testing.B) {
			handle := benchmarkHandle(b, size, nil)
			req := &ldapclient.SearchRequest{
				BaseDN:     "OU=Users,DC=example,DC=com",
				Scope:      ldapclient.ScopeWholeSubtree,
				Filter:     "(objectClass=person)",
				Attributes: []string{"cn"},
			}

			b.ResetTimer()
			for b.Loop() {
				if _, err := handle.Search(b.Context(), req); err != nil {
					b.Fatalf("search failed: %v", err)
				}
			}
		})
	}
}

// BenchmarkConcurrentReads exercises the thread-safety layer under parallel
// load.
func BenchmarkConcurrentReads(b *testing.B) {
	handle := benchmarkHandle(b, 10, nil)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := handle.ReadAttributes(b.Context(), testBaseDN, []string{"objectClass"}); err != nil {
				b.Errorf("read failed: %v", err)
				return
			}
		}
	})
}
