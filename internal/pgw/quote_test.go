package pgw

import "testing"

func TestQuoteIdent(t *testing.T) {
	cases := []struct{ in, want string }{
		{"users", `"users"`},
		{"Order Details", `"Order Details"`},
		{`evil"name`, `"evil""name"`},
		{"select", `"select"`},
	}
	for _, c := range cases {
		if got := QuoteIdent(c.in); got != c.want {
			t.Errorf("QuoteIdent(%q) = %s, want %s", c.in, got, c.want)
		}
	}
}

func TestQualifyTable(t *testing.T) {
	if got := QualifyTable("public", "people"); got != `"public"."people"` {
		t.Errorf("QualifyTable = %s", got)
	}
}

func TestFingerprintExpr(t *testing.T) {
	if got := fingerprintExpr([]string{"id"}); got != `COALESCE(t."id"::text, '')` {
		t.Errorf("single column: %s", got)
	}
	want := `COALESCE(t."tenant"::text, '') || '::' || COALESCE(t."id"::text, '')`
	if got := fingerprintExpr([]string{"tenant", "id"}); got != want {
		t.Errorf("composite: got %s, want %s", got, want)
	}
}
