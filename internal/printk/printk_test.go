package printk

import "testing"

type captureSink struct{ got []Record }

func (c *captureSink) WriteRecord(r Record) { c.got = append(c.got, r) }

func TestLevelFiltering(t *testing.T) {
	r := New(Warn)
	sink := &captureSink{}
	r.AddSink(sink)

	r.Printf(Debug, "should be dropped")
	r.Printf(Err, "should pass: %d", 7)

	if len(sink.got) != 1 {
		t.Fatalf("expected 1 record, got %d", len(sink.got))
	}
	if sink.got[0].Message != "should pass: 7" {
		t.Fatalf("unexpected message %q", sink.got[0].Message)
	}
}

func TestSnapshotOrdering(t *testing.T) {
	r := New(Debug)
	for i := 0; i < 5; i++ {
		r.Printf(Info, "msg %d", i)
	}
	snap := r.Snapshot(3)
	if len(snap) != 3 {
		t.Fatalf("expected 3 records, got %d", len(snap))
	}
	if snap[0].Message != "msg 2" || snap[2].Message != "msg 4" {
		t.Fatalf("unexpected snapshot order: %+v", snap)
	}
}

func TestFormatTimestamp(t *testing.T) {
	got := FormatTimestamp(12_345_678_901)
	want := "[00012.345678]"
	if got != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}
