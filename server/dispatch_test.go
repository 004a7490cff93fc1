package server

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestDispatchRoomHandlersFirst(t *testing.T) {
	d := NewDispatcher()
	p1, p2 := &Player{id: "p1"}, &Player{id: "p2"}
	var calls []string
	d.OnFor("p1", "MOVE", func(*Player, json.RawMessage) { calls = append(calls, "p1-only") })
	d.On("MOVE", func(p *Player, _ json.RawMessage) { calls = append(calls, "room:"+string(p.id)) })

	if !d.Dispatch(p1, "MOVE", nil) {
		t.Fatal("MOVE not handled")
	}
	d.Dispatch(p2, "MOVE", nil)
	if got := strings.Join(calls, ","); got != "room:p1,p1-only,room:p2" {
		t.Fatalf("calls = %s", got)
	}
	if d.Dispatch(p1, "FIRE", nil) {
		t.Fatal("FIRE reported as handled")
	}
}

func TestUnsubscribeDuringDispatch(t *testing.T) {
	d := NewDispatcher()
	p := &Player{id: "p1"}
	n := 0
	var unsub func()
	unsub = d.OnFor("p1", "MOVE", func(*Player, json.RawMessage) {
		n++
		unsub()
		unsub()
	})
	d.On("MOVE", func(*Player, json.RawMessage) {})

	d.Dispatch(p, "MOVE", nil)
	d.Dispatch(p, "MOVE", nil)
	if n != 1 {
		t.Fatalf("handler ran %d times", n)
	}
	if d.Count("MOVE") != 1 {
		t.Fatalf("count = %d", d.Count("MOVE"))
	}
}

func TestPlayerHandlerOnlyHandlesItsPlayer(t *testing.T) {
	d := NewDispatcher()
	d.OnFor("p1", "RELOAD", func(*Player, json.RawMessage) {})
	if d.Dispatch(&Player{id: "p2"}, "RELOAD", nil) {
		t.Fatal("p2 message handled by p1's handler")
	}
}
