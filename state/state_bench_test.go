package state

import (
	"context"
	"fmt"
	"testing"

	"github.com/dhcgn/patchtrack/model"
)

func benchIntegration(i int) model.Integration {
	return model.Integration{
		Target: fmt.Sprintf("commit-%d", i),
		Branch: "master",
		State:  model.IntegratedViaMerge,
		Commit: fmt.Sprintf("merge-%d", i),
	}
}

// BenchmarkFileStore_Set benchmarks record append performance
func BenchmarkFileStore_Set(b *testing.B) {
	store, err := NewFileStore(b.TempDir(), true)
	if err != nil {
		b.Fatal(err)
	}
	defer store.Close()
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := store.Set(ctx, CommitKey(fmt.Sprintf("c%d", i)), benchIntegration(i)); err != nil {
			b.Fatal(err)
		}
	}
	b.StopTimer()

	if err := store.Close(); err != nil {
		b.Fatal(err)
	}
}

// BenchmarkFileStore_Has benchmarks lookup performance
func BenchmarkFileStore_Has(b *testing.B) {
	store, err := NewFileStore(b.TempDir(), true)
	if err != nil {
		b.Fatal(err)
	}
	defer store.Close()
	ctx := context.Background()

	for i := 0; i < 1000; i++ {
		if err := store.Set(ctx, CommitKey(fmt.Sprintf("c%d", i)), benchIntegration(i)); err != nil {
			b.Fatal(err)
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = store.Has(ctx, CommitKey(fmt.Sprintf("c%d", i%1000)))
	}
}

// BenchmarkFileStore_Load benchmarks replaying the record log
func BenchmarkFileStore_Load(b *testing.B) {
	dir := b.TempDir()
	store, err := NewFileStore(dir, true)
	if err != nil {
		b.Fatal(err)
	}
	ctx := context.Background()

	for i := 0; i < 10000; i++ {
		if err := store.Set(ctx, CommitKey(fmt.Sprintf("c%d", i%2500)), benchIntegration(i)); err != nil {
			b.Fatal(err)
		}
	}
	if err := store.Close(); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		reloaded, err := NewFileStore(dir, false)
		if err != nil {
			b.Fatal(err)
		}
		reloaded.Close()
	}
}

// BenchmarkFileStore_WithFlush benchmarks writes with periodic flushes
func BenchmarkFileStore_WithFlush(b *testing.B) {
	store, err := NewFileStore(b.TempDir(), true)
	if err != nil {
		b.Fatal(err)
	}
	defer store.Close()
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := store.Set(ctx, CommitKey(fmt.Sprintf("c%d", i)), benchIntegration(i)); err != nil {
			b.Fatal(err)
		}
		if i%100 == 0 {
			if err := store.Flush(); err != nil {
				b.Fatal(err)
			}
		}
	}
}

// BenchmarkMemoryStore_Set benchmarks the in-memory store for comparison
func BenchmarkMemoryStore_Set(b *testing.B) {
	store := NewMemoryStore()
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := store.Set(ctx, CommitKey(fmt.Sprintf("c%d", i)), benchIntegration(i)); err != nil {
			b.Fatal(err)
		}
	}
}
