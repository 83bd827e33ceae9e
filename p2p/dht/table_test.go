package dht

import (
	"testing"
	"time"
)

func TestTableInsertAndClosest(t *testing.T) {
	self := NewNode("10.0.0.1", 7000, time.Now())
	table := NewTable(self.ID)

	var nodes []Node
	for i := 0; i < 30; i++ {
		n := NewNode("10.0.0.2", uint16(7001+i), time.Now())
		nodes = append(nodes, n)
		table.Insert(n)
	}

	if got := table.Size(); got != len(nodes) {
		t.Fatalf("expected %d nodes, got %d", len(nodes), got)
	}

	closest := table.Closest(self.ID, 5)
	if len(closest) != 5 {
		t.Fatalf("expected 5 closest nodes, got %d", len(closest))
	}
}

func TestTableRefusesSelfInsert(t *testing.T) {
	self := NewNode("10.0.0.1", 7000, time.Now())
	table := NewTable(self.ID)
	if table.Insert(self) {
		t.Fatalf("expected inserting self to be refused")
	}
	if table.Size() != 0 {
		t.Fatalf("expected empty table after refused self-insert")
	}
}

func TestTableRemove(t *testing.T) {
	self := NewNode("10.0.0.1", 7000, time.Now())
	table := NewTable(self.ID)
	n := NewNode("10.0.0.2", 7001, time.Now())
	table.Insert(n)
	if !table.Remove(n.ID) {
		t.Fatalf("expected Remove to report success")
	}
	if table.Size() != 0 {
		t.Fatalf("expected table empty after remove")
	}
}
