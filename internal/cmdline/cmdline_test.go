package cmdline

import "testing"

func TestParseBasic(t *testing.T) {
	tbl := Parse("loglevel=5 term_driver=framebuffer sched_policy=pbrr timekeeper.tsc_enable=0 quiet")

	if lvl, ok := tbl.LogLevel(); !ok || lvl != 5 {
		t.Fatalf("loglevel = %d,%v; want 5,true", lvl, ok)
	}
	if v := tbl.GetString("term_driver", ""); v != "framebuffer" {
		t.Fatalf("term_driver = %q", v)
	}
	if tbl.GetBoolFlag("timekeeper.tsc_enable", true) {
		t.Fatal("expected tsc_enable=0 to disable TSC")
	}
	if v, ok := tbl.Get("quiet"); !ok || v != "" {
		t.Fatalf("bare flag quiet = %q,%v; want empty,true", v, ok)
	}
}

func TestLogLevelOutOfRange(t *testing.T) {
	tbl := Parse("loglevel=9")
	if _, ok := tbl.LogLevel(); ok {
		t.Fatal("expected out-of-range loglevel to be rejected")
	}
}

func TestDuplicateKeyLastWins(t *testing.T) {
	tbl := Parse("sched_policy=rr sched_policy=pbrr")
	if v := tbl.GetString("sched_policy", ""); v != "pbrr" {
		t.Fatalf("sched_policy = %q; want pbrr", v)
	}
}
