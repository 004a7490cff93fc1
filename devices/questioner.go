package devices

import (
	"context"
	"encoding/json"

	"devicearena/blocks"
	"devicearena/questions"
)

// questioner 答题设备（gimkitLiveQuestion）：每个玩家有独立的乱序题目队列
type questioner struct {
	Passive
	d *Device

	questions []questions.Question
	queues    map[string][]string
	streaks   map[string]int
}

func newQuestioner(d *Device) Behavior {
	q := &questioner{d: d, queues: map[string][]string{}, streaks: map[string]int{}}
	d.Custom = blocks.Handlers{
		"message_correct_answer": func(c *blocks.Call) blocks.Value {
			if v := c.Run("set_message_shown_when_player_answers_correctly"); v != nil {
				d.UpdateGlobal("correctText", blocks.ToText(v))
			}
			return nil
		},
		"message_incorrect_answer": func(c *blocks.Call) blocks.Value {
			if v := c.Run("set_message_shown_when_player_answers_incorrectly"); v != nil {
				d.UpdateGlobal("incorrectText", blocks.ToText(v))
			}
			return nil
		},
		"question_answering_streak": func(c *blocks.Call) blocks.Value {
			a := c.Env.Actor()
			if a == nil {
				return 0.0
			}
			return float64(q.streaks[a.ID()])
		},
	}
	return q
}

// Load 加载失败时退回示例题，错误只用于记录
func (q *questioner) Load(ctx context.Context) (func(), error) {
	qs, err := questions.Fetch(ctx, q.d.registry.source, q.d.OptString("kitId"))
	return func() { q.questions = qs }, err
}

func (q *questioner) Restore() {
	q.d.UpdateGlobal("enabled", true)

	scope := q.d.OptScope("textShownWhenAnsweringScope")
	correct := q.d.OptString("textShownWhenAnsweringCorrectly")
	if correct == "" {
		correct = "Correct!"
	}
	incorrect := q.d.OptString("textShownWhenAnsweringIncorrectly")
	if incorrect == "" {
		incorrect = "Incorrect!"
	}
	q.d.UpdateForAll(scope, "correctText", correct)
	q.d.UpdateForAll(scope, "incorrectText", incorrect)

	raw, err := json.Marshal(q.questionsOrEmpty())
	if err != nil {
		raw = []byte("[]")
	}
	q.d.UpdateGlobal("questions", string(raw))

	q.queues = map[string][]string{}
	q.streaks = map[string]int{}
	for _, p := range q.d.registry.host.Players() {
		q.OnJoin(p)
	}
}

func (q *questioner) questionsOrEmpty() []questions.Question {
	if q.questions == nil {
		return []questions.Question{}
	}
	return q.questions
}

// next 队列用完后重新洗牌
func (q *questioner) next(playerID string) string {
	queue := q.queues[playerID]
	if len(queue) == 0 {
		if len(q.questions) == 0 {
			return ""
		}
		perm := q.d.registry.rnd.Perm(len(q.questions))
		queue = make([]string, len(perm))
		for i, j := range perm {
			queue[i] = q.questions[j].ID
		}
	}
	id := queue[0]
	q.queues[playerID] = queue[1:]
	return id
}

func (q *questioner) OnJoin(p Player) {
	q.d.UpdatePlayer(p.ID(), "currentQuestionId", q.next(p.ID()))
	q.d.UpdatePlayer(p.ID(), "nextQuestionId", q.next(p.ID()))
}

func (q *questioner) enabled() bool {
	v, _ := q.d.State(ScopeGlobal, "", "enabled")
	on, _ := v.(bool)
	return on
}

func (q *questioner) find(id string) (questions.Question, bool) {
	for _, qs := range q.questions {
		if qs.ID == id {
			return qs, true
		}
	}
	return questions.Question{}, false
}

// OnMessage 客户端展示的是 nextQuestionId 对应的题目
func (q *questioner) OnMessage(p Player, key string, data any) {
	if key != "answered" || p == nil || !q.enabled() {
		return
	}
	var answer string
	if m, ok := data.(map[string]any); ok {
		answer, _ = m["answer"].(string)
	}
	v, _ := q.d.State(ScopePlayer, p.ID(), "nextQuestionId")
	id, _ := v.(string)
	question, found := q.find(id)
	correct := found && question.IsCorrect(answer)

	q.d.UpdatePlayer(p.ID(), "currentQuestionId", id)
	q.d.UpdatePlayer(p.ID(), "nextQuestionId", q.next(p.ID()))

	if correct {
		q.streaks[p.ID()]++
		q.d.TriggerBlock("whenQuestionAnsweredCorrectly", p, "")
		q.d.TriggerWire("questionCorrect", p)
		q.d.TriggerChannel(q.d.OptString("whenAnsweredCorrectlyTransmitOn"), p)
		return
	}
	q.streaks[p.ID()] = 0
	q.d.TriggerBlock("whenQuestionAnsweredIncorrectly", p, "")
	q.d.TriggerWire("questionIncorrect", p)
	q.d.TriggerChannel(q.d.OptString("whenAnsweredIncorrectlyTransmitOn"), p)
}

func (q *questioner) OnChannel(channel string, actor Player) {
	switch channel {
	case q.d.OptString("disableWhenReceivingOn"):
		q.d.UpdateGlobal("enabled", false)
	case q.d.OptString("enableWhenReceivingOn"):
		q.d.UpdateGlobal("enabled", true)
	case q.d.OptString("openWhenReceivingOn"):
		if actor != nil {
			actor.SetOpenDeviceUI(q.d.ID)
		}
	case q.d.OptString("closeWhenReceivingOn"):
		if actor != nil {
			actor.SetOpenDeviceUI("")
		}
	}
}

func (q *questioner) OnWire(connection string, actor Player) {
	switch connection {
	case "open":
		if actor != nil {
			actor.SetOpenDeviceUI(q.d.ID)
		}
	case "close":
		if actor != nil {
			actor.SetOpenDeviceUI("")
		}
	case "enable":
		q.d.UpdateGlobal("enabled", true)
	case "disable":
		q.d.UpdateGlobal("enabled", false)
	case "codeGrid":
		q.d.TriggerBlock("wire", actor, "")
	}
}

func (q *questioner) OnOpen(p Player) {
	if !q.enabled() {
		return
	}
	q.d.TriggerChannel(q.d.OptString("whenOpenedChannel"), p)
	q.d.TriggerWire("opened", p)
}

func (q *questioner) OnClose(p Player) {
	if !q.enabled() {
		return
	}
	q.d.TriggerChannel(q.d.OptString("whenClosedChannel"), p)
	q.d.TriggerWire("closed", p)
}
