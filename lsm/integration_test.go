package lsm

import (
	"fmt"
	"testing"

	"go.uber.org/zap"
)

func reopen(t *testing.T, dir string) *LSM {
	t.Helper()
	walID, memtableID, err := ResolveStartingIDs(dir)
	if err != nil {
		t.Fatalf("ResolveStartingIDs failed: %v", err)
	}
	cfg := DefaultConfig(dir)
	cfg.Wal.ID = walID
	cfg.Memtable.ID = memtableID
	engine, err := New(cfg, zap.NewNop(), nil)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if err := engine.Restore(); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	return engine
}

func TestCrashRecovery(t *testing.T) {
	dir := t.TempDir()

	cfg := DefaultConfig(dir)
	engine, err := New(cfg, zap.NewNop(), nil)
	if err != nil {
		t.Fatalf("Failed to create LSM: %v", err)
	}

	testData := map[string]string{
		"key1": "value1",
		"key2": "value2",
		"key3": "value3",
	}
	for key, value := range testData {
		if err := engine.Insert([]byte(key), []byte(value)); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	if err := engine.Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if err := engine.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	engine2 := reopen(t, dir)
	defer engine2.Close()

	for key, expectedValue := range testData {
		value, err := engine2.Get([]byte(key))
		if err != nil {
			t.Fatalf("Get failed for %s: %v", key, err)
		}
		if string(value) != expectedValue {
			t.Fatalf("expected %s, got %s for key %s", expectedValue, value, key)
		}
	}
}

func TestCompactionPreservesData(t *testing.T) {
	dir := t.TempDir()

	cfg := DefaultConfig(dir)
	cfg.Memtable.MaxSize = 512
	engine, err := New(cfg, zap.NewNop(), nil)
	if err != nil {
		t.Fatalf("Failed to create LSM: %v", err)
	}
	defer engine.Close()

	numKeys := 1000
	testData := make(map[string]string, numKeys)
	for i := 0; i < numKeys; i++ {
		key := fmt.Sprintf("key%05d", i)
		value := fmt.Sprintf("value%05d", i)
		testData[key] = value
		if err := engine.Insert([]byte(key), []byte(value)); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	if err := engine.ForceCompaction(); err != nil {
		t.Fatalf("ForceCompaction failed: %v", err)
	}

	for key, expectedValue := range testData {
		value, err := engine.Get([]byte(key))
		if err != nil {
			t.Fatalf("Get failed for %s: %v", key, err)
		}
		if string(value) != expectedValue {
			t.Fatalf("expected %s, got %s for key %s", expectedValue, value, key)
		}
	}

	t.Logf("after compaction: L1 files=%d L2 files=%d", engine.levels.NumL1(), engine.levels.NumL2())
}

func TestBloomFilterEffectiveness(t *testing.T) {
	dir := t.TempDir()

	cfg := DefaultConfig(dir)
	cfg.Memtable.MaxSize = 512
	engine, err := New(cfg, zap.NewNop(), nil)
	if err != nil {
		t.Fatalf("Failed to create LSM: %v", err)
	}
	defer engine.Close()

	for i := 0; i < 100; i++ {
		key := fmt.Sprintf("key%05d", i)
		value := []byte(fmt.Sprintf("value%05d", i))
		if err := engine.Insert([]byte(key), value); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	misses := 0
	for i := 100; i < 200; i++ {
		key := fmt.Sprintf("key%05d", i)
		if _, err := engine.Get([]byte(key)); err != nil {
			misses++
		}
	}

	if misses != 100 {
		t.Fatalf("expected 100 misses, got %d", misses)
	}
}

func TestUpdatesDuringCompaction(t *testing.T) {
	dir := t.TempDir()

	cfg := DefaultConfig(dir)
	cfg.Memtable.MaxSize = 512
	engine, err := New(cfg, zap.NewNop(), nil)
	if err != nil {
		t.Fatalf("Failed to create LSM: %v", err)
	}
	defer engine.Close()

	for i := 0; i < 100; i++ {
		key := fmt.Sprintf("key%04d", i)
		value := []byte(fmt.Sprintf("v1-%04d", i))
		if err := engine.Insert([]byte(key), value); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	if err := engine.ForceCompaction(); err != nil {
		t.Fatalf("ForceCompaction failed: %v", err)
	}

	for i := 0; i < 100; i++ {
		key := fmt.Sprintf("key%04d", i)
		value := []byte(fmt.Sprintf("v2-%04d", i))
		if err := engine.Insert([]byte(key), value); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	if err := engine.ForceCompaction(); err != nil {
		t.Fatalf("ForceCompaction failed: %v", err)
	}

	for i := 0; i < 100; i++ {
		key := fmt.Sprintf("key%04d", i)
		expectedValue := fmt.Sprintf("v2-%04d", i)
		value, err := engine.Get([]byte(key))
		if err != nil {
			t.Fatalf("Get failed for %s: %v", key, err)
		}
		if string(value) != expectedValue {
			t.Fatalf("expected %s, got %s for key %s", expectedValue, value, key)
		}
	}
}

func TestPersistenceAcrossRestart(t *testing.T) {
	dir := t.TempDir()

	cfg := DefaultConfig(dir)
	cfg.Memtable.MaxSize = 512

	engine1, err := New(cfg, zap.NewNop(), nil)
	if err != nil {
		t.Fatalf("Failed to create LSM: %v", err)
	}

	for i := 0; i < 200; i++ {
		key := fmt.Sprintf("key%04d", i)
		value := []byte(fmt.Sprintf("value%04d", i))
		if err := engine1.Insert([]byte(key), value); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	if err := engine1.ForceCompaction(); err != nil {
		t.Fatalf("ForceCompaction failed: %v", err)
	}
	if err := engine1.Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if err := engine1.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	engine2 := reopen(t, dir)
	defer engine2.Close()

	for i := 0; i < 200; i++ {
		key := fmt.Sprintf("key%04d", i)
		expectedValue := fmt.Sprintf("value%04d", i)
		value, err := engine2.Get([]byte(key))
		if err != nil {
			t.Fatalf("Get failed for %s: %v", key, err)
		}
		if string(value) != expectedValue {
			t.Fatalf("expected %s, got %s for key %s", expectedValue, value, key)
		}
	}

	t.Logf("after restart: L1 files=%d L2 files=%d", engine2.levels.NumL1(), engine2.levels.NumL2())
}
