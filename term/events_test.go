package term

import "testing"

func TestStripANSI(t *testing.T) {
	in := "\x1b[31mred\x1b[0m plain \x1b]0;title\x07done"
	if got := StripANSI(in); got != "red plain done" {
		t.Errorf("expected %q, got %q", "red plain done", got)
	}
}

func TestClassifyEmptyChunk(t *testing.T) {
	if events := Classify([]byte("\x1b[2J   \n")); events != nil {
		t.Errorf("expected no events for whitespace-only chunk, got %v", events)
	}
}

func TestClassifyAskUser(t *testing.T) {
	chunk := []byte("Do you want to proceed?\n1. Yes\n2. No, ask again\n")
	events := Classify(chunk)
	if len(events) != 1 || events[0].Type != EventAskUser {
		t.Fatalf("expected one ask_user event, got %v", events)
	}

	opts := events[0].Options
	if len(opts) != 2 {
		t.Fatalf("expected 2 options, got %d", len(opts))
	}
	if opts[0].Value != "1" || opts[0].Label != "Yes" {
		t.Errorf("unexpected first option: %+v", opts[0])
	}
	if opts[1].Value != "2" || opts[1].Label != "No, ask again" {
		t.Errorf("unexpected second option: %+v", opts[1])
	}
}

func TestClassifyQuestionWithoutOptionsIsText(t *testing.T) {
	events := Classify([]byte("What should I do next?\n"))
	if len(events) != 1 || events[0].Type != EventText {
		t.Errorf("expected text event, got %v", events)
	}
}

func TestClassifyIndentedNumberedListIsNotAskUser(t *testing.T) {
	chunk := []byte("Steps so far?\n  1. cloned the repo\n  2. ran the tests\n")
	events := Classify(chunk)
	if len(events) != 1 || events[0].Type != EventText {
		t.Errorf("indented numbered lines must not read as options, got %v", events)
	}
}

func TestClassifyToolStart(t *testing.T) {
	events := Classify([]byte("● Bash(ls -la)\n"))
	if len(events) != 1 || events[0].Type != EventToolStart {
		t.Fatalf("expected tool_start, got %v", events)
	}
	if events[0].ToolName != "Bash" {
		t.Errorf("expected toolName Bash, got %q", events[0].ToolName)
	}
}

func TestClassifyToolEnd(t *testing.T) {
	events := Classify([]byte("● Read(main.go)\n  ⎿ 120 lines\n"))
	if len(events) != 1 || events[0].Type != EventToolEnd {
		t.Fatalf("expected tool_end, got %v", events)
	}
	if events[0].ToolName != "Read" {
		t.Errorf("expected toolName Read, got %q", events[0].ToolName)
	}
}

func TestClassifyDiff(t *testing.T) {
	events := Classify([]byte("@@ -1,3 +1,4 @@\n+added line\n context\n"))
	if len(events) != 1 || events[0].Type != EventDiff {
		t.Errorf("expected diff event, got %v", events)
	}
}

func TestClassifyPlainText(t *testing.T) {
	events := Classify([]byte("Compiling the project now.\n"))
	if len(events) != 1 || events[0].Type != EventText {
		t.Errorf("expected text event, got %v", events)
	}
}
