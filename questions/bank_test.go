package questions

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func TestBankRoundTrip(t *testing.T) {
	ctx := context.Background()
	bank, err := OpenBank(filepath.Join(t.TempDir(), "bank", "questions.db"))
	if err != nil {
		t.Fatalf("OpenBank: %v", err)
	}
	defer bank.Close()

	kit := []Question{
		{ID: "q2", Text: "2+2", Type: "text", Answers: []Answer{{ID: "a", Text: "4"}}},
		{ID: "q1", Text: "capital", Type: "mc", Answers: []Answer{{ID: "x", Text: "Paris", Correct: true}}},
	}
	if err := bank.PutKit(ctx, "math", kit); err != nil {
		t.Fatalf("PutKit: %v", err)
	}
	got, err := bank.Questions(ctx, "math")
	if err != nil {
		t.Fatalf("Questions: %v", err)
	}
	if len(got) != 2 || got[0].ID != "q2" || got[1].Answers[0].Text != "Paris" {
		t.Fatalf("got %+v", got)
	}

	if err := bank.PutKit(ctx, "math", kit[:1]); err != nil {
		t.Fatal(err)
	}
	if got, _ := bank.Questions(ctx, "math"); len(got) != 1 {
		t.Fatalf("PutKit should replace, got %d questions", len(got))
	}

	if _, err := bank.Questions(ctx, "history"); !errors.Is(err, ErrKitNotFound) {
		t.Fatalf("missing kit err = %v", err)
	}
}

func TestFetchFallsBackToDemo(t *testing.T) {
	ctx := context.Background()
	qs, err := Fetch(ctx, nil, "")
	if err != nil || len(qs) != 1 || qs[0].ID != "demo_question" {
		t.Fatalf("empty kit: %+v, %v", qs, err)
	}

	bank, err := OpenBank(filepath.Join(t.TempDir(), "q.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer bank.Close()
	qs, err = Fetch(ctx, bank, "missing")
	if !errors.Is(err, ErrKitNotFound) || qs[0].ID != "demo_question" {
		t.Fatalf("missing kit: %+v, %v", qs, err)
	}
}

func TestIsCorrect(t *testing.T) {
	mc := Demo()[0]
	if !mc.IsCorrect("correct_answer") || mc.IsCorrect("incorrect_answer_1") || mc.IsCorrect("nope") {
		t.Fatal("multiple choice check wrong")
	}
	text := Question{Type: "text", Answers: []Answer{
		{Text: "blue"},
		{Text: "sky", TextType: 2},
	}}
	for answered, want := range map[string]bool{
		"blue":       true,
		"Blue":       false,
		"the sky is": true,
		"light blue": false,
		"":           false,
	} {
		if got := text.IsCorrect(answered); got != want {
			t.Errorf("IsCorrect(%q) = %v, want %v", answered, got, want)
		}
	}
}
