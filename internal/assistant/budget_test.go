package assistant

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func classifyFixed(kinds map[string]ToolKind) func(string) ToolKind {
	return func(name string) ToolKind {
		if kind, ok := kinds[name]; ok {
			return kind
		}
		return KindQuery
	}
}

func TestBudgetPoolsAreIndependent(t *testing.T) {
	b := NewToolBudget(classifyFixed(map[string]ToolKind{
		"get_task":    KindQuery,
		"create_task": KindAction,
		"ask_user":    KindMeta,
	}))

	b.RecordCall("get_task")
	b.RecordCall("get_task")
	b.RecordCall("create_task")
	b.RecordCall("ask_user")

	status := b.Status()
	if status["query"].Used != 2 {
		t.Errorf("query used = %d, want 2", status["query"].Used)
	}
	if status["action"].Used != 1 {
		t.Errorf("action used = %d, want 1", status["action"].Used)
	}
	if status["meta"].Used != 1 {
		t.Errorf("meta used = %d, want 1", status["meta"].Used)
	}
}

func TestBudgetRemainingNeverNegative(t *testing.T) {
	b := NewToolBudget(nil)
	for i := 0; i < DefaultQueryLimit+4; i++ {
		b.RecordCall("get_task")
	}

	status := b.Status()["query"]
	if status.Used != DefaultQueryLimit+4 {
		t.Errorf("used = %d, want %d", status.Used, DefaultQueryLimit+4)
	}
	if status.Remaining != 0 {
		t.Errorf("remaining = %d, want 0", status.Remaining)
	}
}

func TestBudgetThinkIsExempt(t *testing.T) {
	b := NewToolBudget(nil)
	for i := 0; i < 20; i++ {
		b.RecordCall("think")
	}
	for _, pool := range []string{"query", "action", "meta"} {
		if used := b.Status()[pool].Used; used != 0 {
			t.Errorf("%s used = %d after think calls, want 0", pool, used)
		}
	}
}

func TestBudgetUnknownToolChargesQuery(t *testing.T) {
	b := NewToolBudget(nil)
	b.RecordCall("no_such_tool")
	if used := b.Status()["query"].Used; used != 1 {
		t.Errorf("query used = %d, want 1", used)
	}
}

func TestBudgetInjectionMessage(t *testing.T) {
	b := NewToolBudget(nil)

	if msg := b.InjectionMessage(); msg != "" {
		t.Errorf("fresh budget advisory = %q, want empty", msg)
	}

	// Three calls leave 3 remaining: still quiet.
	for i := 0; i < 3; i++ {
		b.RecordCall("get_task")
	}
	if msg := b.InjectionMessage(); msg != "" {
		t.Errorf("advisory at 3 remaining = %q, want empty", msg)
	}

	// Two remaining: low warning with the count.
	b.RecordCall("get_task")
	msg := b.InjectionMessage()
	if !strings.Contains(msg, "Query budget low") || !strings.Contains(msg, "2 lookup(s)") {
		t.Errorf("advisory at 2 remaining = %q", msg)
	}

	b.RecordCall("get_task")
	if msg := b.InjectionMessage(); !strings.Contains(msg, "1 lookup(s)") {
		t.Errorf("advisory at 1 remaining = %q", msg)
	}

	b.RecordCall("get_task")
	if msg := b.InjectionMessage(); !strings.Contains(msg, "Query budget exhausted") {
		t.Errorf("advisory at 0 remaining = %q", msg)
	}
}

func TestBudgetMetaExhaustionAdvisory(t *testing.T) {
	b := NewToolBudget(classifyFixed(map[string]ToolKind{"ask_user": KindMeta}))
	for i := 0; i < DefaultMetaLimit; i++ {
		b.RecordCall("ask_user")
	}
	if msg := b.InjectionMessage(); !strings.Contains(msg, "Meta budget exhausted") {
		t.Errorf("advisory = %q, want meta exhaustion", msg)
	}
}

func TestBudgetNewUserMessageResetsQueryAndMetaOnly(t *testing.T) {
	b := NewToolBudget(classifyFixed(map[string]ToolKind{
		"create_task": KindAction,
		"ask_user":    KindMeta,
	}))

	b.RecordCall("get_task")
	b.RecordCall("create_task")
	b.RecordCall("ask_user")

	b.OnNewUserMessage()

	status := b.Status()
	if status["query"].Used != 0 {
		t.Errorf("query used = %d after reset, want 0", status["query"].Used)
	}
	if status["meta"].Used != 0 {
		t.Errorf("meta used = %d after reset, want 0", status["meta"].Used)
	}
	if status["action"].Used != 1 {
		t.Errorf("action used = %d after reset, want 1 (cumulative)", status["action"].Used)
	}
	if b.AwaitingUserResponse() {
		t.Error("awaiting flag should clear on new user message")
	}
}

func TestBudgetClarificationRefund(t *testing.T) {
	b := NewToolBudget(nil)
	for i := 0; i < 5; i++ {
		b.RecordCall("get_task")
	}
	b.RecordCall("ask_user") // charges query under nil classifier; flag still set
	if !b.AwaitingUserResponse() {
		t.Fatal("expected awaiting flag after ask_user")
	}

	msg := b.OnUserClarification("it was the staging cluster")
	if b.AwaitingUserResponse() {
		t.Error("awaiting flag should clear after clarification")
	}
	if !strings.Contains(msg, `"it was the staging cluster"`) {
		t.Errorf("clarification message = %q, want echoed reply", msg)
	}

	// 6 used, refund capped at 3.
	if used := b.Status()["query"].Used; used != 3 {
		t.Errorf("query used = %d after refund, want 3", used)
	}
}

func TestBudgetClarificationRefundFloorsAtZero(t *testing.T) {
	b := NewToolBudget(nil)
	b.RecordCall("get_task")
	b.OnUserClarification("answer")
	if used := b.Status()["query"].Used; used != 0 {
		t.Errorf("query used = %d, want 0", used)
	}
}

func TestBudgetClarificationEchoTruncated(t *testing.T) {
	b := NewToolBudget(nil)
	long := strings.Repeat("x", 200)
	msg := b.OnUserClarification(long)
	if !strings.Contains(msg, strings.Repeat("x", 80)+"...") {
		t.Errorf("expected truncated echo in %q", msg)
	}
	if strings.Contains(msg, strings.Repeat("x", 81)) {
		t.Errorf("echo longer than cap in %q", msg)
	}
}

func TestBudgetClarificationEchoKeepsRuneBoundary(t *testing.T) {
	b := NewToolBudget(nil)
	// The second byte of the first é sits exactly on the 80-byte cap.
	reply := strings.Repeat("a", 79) + "éé"
	msg := b.OnUserClarification(reply)
	if !utf8.ValidString(msg) {
		t.Errorf("echo split a rune: %q", msg)
	}
	if !strings.Contains(msg, strings.Repeat("a", 79)+"...") {
		t.Errorf("expected rune-safe truncation in %q", msg)
	}
}

func TestTruncate(t *testing.T) {
	cases := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"exactly-ten", 11, "exactly-ten"},
		{"abcdefghij", 5, "abcde..."},
		{"ααααα", 4, "αα..."}, // 2-byte runes; cap lands mid-rune
	}
	for _, tc := range cases {
		got := truncate(tc.in, tc.max)
		if got != tc.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tc.in, tc.max, got, tc.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("truncate(%q, %d) produced invalid UTF-8", tc.in, tc.max)
		}
	}
}

func TestBudgetActionExecutedRefund(t *testing.T) {
	b := NewToolBudget(classifyFixed(map[string]ToolKind{"create_task": KindAction}))
	b.RecordCall("get_task")
	b.RecordCall("get_task")
	b.RecordCall("create_task")

	msg := b.OnActionExecuted("created task t-1")
	if used := b.Status()["query"].Used; used != 1 {
		t.Errorf("query used = %d after execution refund, want 1", used)
	}
	if !strings.Contains(msg, "created task t-1") || !strings.Contains(msg, "14 action(s) remaining") {
		t.Errorf("execution message = %q", msg)
	}
}

func TestBudgetActionExecutedNoRefundWhenUnused(t *testing.T) {
	b := NewToolBudget(nil)
	b.OnActionExecuted("created task t-1")
	if used := b.Status()["query"].Used; used != 0 {
		t.Errorf("query used = %d, want 0 (no refund below zero)", used)
	}
}
