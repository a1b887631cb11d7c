package client

import (
	"context"
	"testing"
	"time"

	"authz-rpc/registry"
	"authz-rpc/session"
)

func setupBench(b *testing.B) (*Client, context.Context) {
	b.Helper()
	reg := registry.NewMemoryRegistry()
	verifier := session.NewTokenVerifier([]byte("bench-secret"))
	startServer(b, reg, verifier)
	token, err := verifier.Issue(session.User{ID: "bench", Address: validAddr}, time.Hour)
	if err != nil {
		b.Fatal(err)
	}
	cli := NewClient(reg, nil, WithPoolSize(8))
	b.Cleanup(func() { cli.Close() })
	return cli, WithSessionToken(context.Background(), token)
}

// Single goroutine, public procedure.
func BenchmarkSerialCall(b *testing.B) {
	cli, _ := setupBench(b)
	args := &Args{A: 1, B: 2}
	reply := &Reply{}
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if err := cli.Call(context.Background(), "Arith.Add", args, reply); err != nil {
			b.Fatal(err)
		}
	}
}

// Single goroutine, protected procedure: adds token verification and the
// address check.
func BenchmarkSerialProtectedCall(b *testing.B) {
	cli, ctx := setupBench(b)
	reply := &Owner{}
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if err := cli.Call(ctx, "Wallet.Owner", &struct{}{}, reply); err != nil {
			b.Fatal(err)
		}
	}
}

// Many goroutines sharing pooled, multiplexed connections.
func BenchmarkConcurrentCall(b *testing.B) {
	cli, ctx := setupBench(b)
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		reply := &Owner{}
		for pb.Next() {
			if err := cli.Call(ctx, "Wallet.Owner", &struct{}{}, reply); err != nil {
				b.Error(err)
				return
			}
		}
	})
}
