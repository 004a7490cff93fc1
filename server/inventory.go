package server

import (
	"devicearena/config"
)

// interactiveSlots 可切换的武器/道具栏位数
const interactiveSlots = 5

// Slot 交互栏位中的一件物品
type Slot struct {
	ItemID string `json:"itemId"`
	Clip   int    `json:"currentClip"`
}

// Inventory 玩家背包：普通物品按堆叠数量记录，武器占用交互栏位
type Inventory struct {
	tables config.Tables

	Items  map[string]int `json:"items"`
	Slots  []Slot         `json:"interactiveSlots"`
	Active int            `json:"activeInteractiveSlot"`
}

func NewInventory(tables config.Tables) *Inventory {
	return &Inventory{tables: tables, Items: map[string]int{}}
}

// AddItem 加入物品，返回放不下的数量；未知物品不做堆叠上限
func (inv *Inventory) AddItem(itemID string, amount, clip int) int {
	if itemID == "" || amount <= 0 {
		return 0
	}
	opt, _ := inv.tables.Item(itemID)
	if opt.Type == "weapon" {
		added := 0
		for added < amount && len(inv.Slots) < interactiveSlots {
			inv.Slots = append(inv.Slots, Slot{ItemID: itemID, Clip: clip})
			added++
		}
		return amount - added
	}
	if opt.MaxStack <= 0 {
		inv.Items[itemID] += amount
		return 0
	}
	room := opt.MaxStack - inv.Items[itemID]
	if room <= 0 {
		return amount
	}
	if amount <= room {
		inv.Items[itemID] += amount
		return 0
	}
	inv.Items[itemID] = opt.MaxStack
	return amount - room
}

// Take 取出至多 amount 个普通物品，返回实际数量
func (inv *Inventory) Take(itemID string, amount int) int {
	have := inv.Items[itemID]
	if amount > have {
		amount = have
	}
	if amount <= 0 {
		return 0
	}
	if have == amount {
		delete(inv.Items, itemID)
	} else {
		inv.Items[itemID] = have - amount
	}
	return amount
}

// TakeSlot 取出交互栏位中的物品
func (inv *Inventory) TakeSlot(i int) (Slot, bool) {
	if i < 0 || i >= len(inv.Slots) {
		return Slot{}, false
	}
	s := inv.Slots[i]
	inv.Slots = append(inv.Slots[:i], inv.Slots[i+1:]...)
	if inv.Active >= len(inv.Slots) && inv.Active > 0 {
		inv.Active = len(inv.Slots) - 1
	}
	return s, true
}

// ActiveSlot 当前选中的交互栏位
func (inv *Inventory) ActiveSlot() *Slot {
	if inv.Active < 0 || inv.Active >= len(inv.Slots) {
		return nil
	}
	return &inv.Slots[inv.Active]
}

func (inv *Inventory) SetActive(i int) bool {
	if i < 0 || i >= len(inv.Slots) {
		return false
	}
	inv.Active = i
	return true
}
