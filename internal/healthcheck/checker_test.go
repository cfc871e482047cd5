package healthcheck

import (
	"context"
	"testing"
)

type staticChecker []CheckResult

func (s staticChecker) ListChecks(context.Context, string) []CheckResult {
	return s
}

func TestGroupConcatenates(t *testing.T) {
	t.Parallel()

	g := Group{
		staticChecker{{ID: "a", Status: StatusOK}},
		nil,
		staticChecker{{ID: "b", Status: StatusWarn}, {ID: "c", Status: StatusOK}},
	}
	items := g.ListChecks(context.Background(), "acct")
	if len(items) != 3 {
		t.Fatalf("expected 3 checks, got %d", len(items))
	}
	if items[0].ID != "a" || items[2].ID != "c" {
		t.Fatalf("unexpected order: %+v", items)
	}
}

func TestOverall(t *testing.T) {
	t.Parallel()

	cases := []struct {
		items []CheckResult
		want  string
	}{
		{nil, StatusOK},
		{[]CheckResult{{Status: StatusOK}}, StatusOK},
		{[]CheckResult{{Status: StatusOK}, {Status: StatusUnknown}}, StatusWarn},
		{[]CheckResult{{Status: StatusWarn}, {Status: StatusError}, {Status: StatusOK}}, StatusError},
	}
	for _, tc := range cases {
		if got := Overall(tc.items); got != tc.want {
			t.Fatalf("Overall(%+v) = %s, want %s", tc.items, got, tc.want)
		}
	}
}
