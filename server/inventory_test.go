package server

import (
	"testing"

	"devicearena/config"
)

func TestInventoryStacking(t *testing.T) {
	inv := NewInventory(config.DefaultTables())

	if over := inv.AddItem("medpack", 7, 0); over != 0 {
		t.Fatalf("overflow = %d", over)
	}
	if over := inv.AddItem("medpack", 7, 0); over != 4 {
		t.Fatalf("overflow = %d, want 4", over)
	}
	if over := inv.AddItem("medpack", 1, 0); over != 1 {
		t.Fatalf("full stack accepted more: %d", over)
	}
	if inv.AddItem("unknown-thing", 1000, 0) != 0 || inv.Items["unknown-thing"] != 1000 {
		t.Fatal("unknown items should not be capped")
	}

	if got := inv.Take("medpack", 4); got != 4 || inv.Items["medpack"] != 6 {
		t.Fatalf("take = %d left = %d", got, inv.Items["medpack"])
	}
	if got := inv.Take("medpack", 50); got != 6 {
		t.Fatalf("take = %d", got)
	}
	if _, ok := inv.Items["medpack"]; ok {
		t.Fatal("empty stack kept")
	}
}

func TestInventoryWeaponSlots(t *testing.T) {
	inv := NewInventory(config.DefaultTables())
	if over := inv.AddItem("gadget-blaster", 7, 3); over != 2 {
		t.Fatalf("overflow = %d, want 2", over)
	}
	if len(inv.Slots) != interactiveSlots || inv.ActiveSlot().Clip != 3 {
		t.Fatalf("slots = %+v", inv.Slots)
	}

	if !inv.SetActive(4) || inv.SetActive(5) {
		t.Fatal("SetActive bounds")
	}
	if _, ok := inv.TakeSlot(4); !ok {
		t.Fatal("take slot 4")
	}
	if inv.Active != 3 {
		t.Fatalf("active = %d after removing the active last slot", inv.Active)
	}
	for len(inv.Slots) > 0 {
		inv.TakeSlot(0)
	}
	if inv.ActiveSlot() != nil {
		t.Fatal("active slot on empty inventory")
	}
	if _, ok := inv.TakeSlot(0); ok {
		t.Fatal("took from empty slots")
	}
}
