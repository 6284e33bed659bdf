package service

import (
	"context"
	"fmt"
	"sort"
	"testing"
)

func TestRedisIdentityIndexUpsertLookupRemove(t *testing.T) {
	ctx := context.Background()
	_, client := newRedisClientForTest(t)
	idx := NewRedisIdentityIndex(client, "idx_test")

	if _, ok, err := idx.Lookup(ctx, "sid"); err != nil || ok {
		t.Fatalf("expected initial miss, got %v %v", ok, err)
	}
	if err := idx.Upsert(ctx, "sid", "alice"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	name, ok, err := idx.Lookup(ctx, "sid")
	if err != nil || !ok || name != "alice" {
		t.Fatalf("lookup=(%q,%v,%v)", name, ok, err)
	}
	members, err := idx.Members(ctx)
	if err != nil || len(members) != 1 || members[0] != "sid" {
		t.Fatalf("members=%v err=%v", members, err)
	}

	if err := idx.Remove(ctx, "sid"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok, _ := idx.Lookup(ctx, "sid"); ok {
		t.Fatal("expected miss after remove")
	}
	if members, _ := idx.Members(ctx); len(members) != 0 {
		t.Fatalf("expected no members after remove, got %v", members)
	}
}

func TestRedisIdentityIndexRecordAccessIsMonotonicAndBoundOnly(t *testing.T) {
	ctx := context.Background()
	server, client := newRedisClientForTest(t)
	idx := NewRedisIdentityIndex(client, "idx_test")

	if err := idx.RecordAccess(ctx, "anon", 1_000); err != nil {
		t.Fatalf("record access unbound: %v", err)
	}
	if server.Exists("idx_test:sid:anon") {
		t.Fatal("record access must not create entries")
	}

	if err := idx.Upsert(ctx, "sid", "alice"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, ok, err := idx.Touch(ctx, "sid"); err != nil || ok {
		t.Fatalf("expected no access before any request, got %v %v", ok, err)
	}
	for _, at := range []int64{3_000, 9_000, 4_000} {
		if err := idx.RecordAccess(ctx, "sid", at); err != nil {
			t.Fatalf("record access %d: %v", at, err)
		}
	}
	at, ok, err := idx.Touch(ctx, "sid")
	if err != nil || !ok || at != 9_000 {
		t.Fatalf("touch=(%d,%v,%v) want 9000", at, ok, err)
	}
}

func TestRedisIdentityIndexLoadBatches(t *testing.T) {
	ctx := context.Background()
	_, client := newRedisClientForTest(t)
	idx := NewRedisIdentityIndex(client, "")

	entries := make([]IndexEntry, 0, 1203)
	for i := 0; i < cap(entries); i++ {
		entries = append(entries, IndexEntry{SessionID: fmt.Sprintf("sid-%04d", i), IdentityName: fmt.Sprintf("user-%d", i%7)})
	}
	n, err := idx.Load(ctx, entries)
	if err != nil || n != len(entries) {
		t.Fatalf("load=(%d,%v)", n, err)
	}
	members, err := idx.Members(ctx)
	if err != nil {
		t.Fatalf("members: %v", err)
	}
	sort.Strings(members)
	if len(members) != len(entries) || members[0] != "sid-0000" {
		t.Fatalf("unexpected members: %d first=%v", len(members), members[:1])
	}
	name, ok, _ := idx.Lookup(ctx, "sid-0008")
	if !ok || name != "user-1" {
		t.Fatalf("lookup after load=(%q,%v)", name, ok)
	}
}

func TestRedisIdentityIndexSurfacesBackendErrors(t *testing.T) {
	ctx := context.Background()
	server, client := newRedisClientForTest(t)
	idx := NewRedisIdentityIndex(client, "idx_test")
	server.Close()

	if err := idx.Upsert(ctx, "sid", "alice"); err == nil {
		t.Fatal("expected upsert error with redis down")
	}
	if _, _, err := idx.Touch(ctx, "sid"); err == nil {
		t.Fatal("expected touch error with redis down")
	}
}
