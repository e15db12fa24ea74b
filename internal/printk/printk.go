// Package printk implements the kernel's leveled log sink: the two-byte
// "\001<level>" prefix convention and "[SSSSS.uuuuuu]" boot-relative
// timestamp column from spec.md §6, backed by a fixed ring buffer so it is
// usable before the heap exists. This generalizes the teacher's raw
// uartPuts debug trail (kernel.go, heap.go) into a structured logger in the
// manner gopheros' kernel/kfmt package structures its kernel-side Printf.
package printk

import "sync/atomic"

// Level mirrors the two-byte "\001<level>" prefix from spec.md §6.
type Level uint8

const (
	Emerg Level = 1
	Crit  Level = 2
	Err   Level = 3
	Warn  Level = 4
	Info  Level = 5
	Debug Level = 6
)

func (l Level) String() string {
	switch l {
	case Emerg:
		return "emerg"
	case Crit:
		return "crit"
	case Err:
		return "err"
	case Warn:
		return "warn"
	case Info:
		return "info"
	case Debug:
		return "dbg"
	default:
		return "?"
	}
}

const ringCapacity = 4096 // records, not bytes

// Record is one line appended to the log ring.
type Record struct {
	Seq       uint64
	Level     Level
	BootNanos int64 // boot-relative timestamp in nanoseconds
	Message   string
}

// Sink is an output for formatted records, e.g. a UART or framebuffer
// terminal driver plugged in by the boundary (out of core scope).
type Sink interface {
	WriteRecord(Record)
}

// Ring is the core's leveled logger. Construct one with New: a zero Ring
// has minimum level 0 and drops every record until SetLevel is called.
// Records carry a zero timestamp until SetClock installs a boot-relative
// clock.
type Ring struct {
	level   atomic.Uint32
	seq     atomic.Uint64
	nowFn   atomic.Pointer[func() int64]
	entries [ringCapacity]Record
	next    atomic.Uint64

	sinks []Sink
}

// Global is the process-wide logger singleton (spec.md §9: printk hooks
// are a process-wide global behind an explicit init sequence).
var Global = New(Info)

// New constructs a Ring at the given minimum level.
func New(level Level) *Ring {
	r := &Ring{}
	r.level.Store(uint32(level))
	return r
}

// SetClock installs the boot-relative clock used to timestamp records.
// Called once the early timekeeper (spec.md §4.9) has been selected.
func (r *Ring) SetClock(now func() int64) {
	r.nowFn.Store(&now)
}

// SetLevel changes the minimum level that is recorded, e.g. from the
// cmdline "loglevel" key.
func (r *Ring) SetLevel(level Level) {
	r.level.Store(uint32(level))
}

// AddSink registers an output sink. Not safe to call concurrently with
// Printf; intended for boot-time wiring only.
func (r *Ring) AddSink(s Sink) {
	r.sinks = append(r.sinks, s)
}

// Printf appends a formatted record at the given level if it passes the
// current minimum level, then forwards it to every registered sink.
func (r *Ring) Printf(level Level, format string, args ...interface{}) {
	if uint32(level) > r.level.Load() {
		return
	}

	var now int64
	if fn := r.nowFn.Load(); fn != nil {
		now = (*fn)()
	}

	rec := Record{
		Seq:       r.seq.Add(1),
		Level:     level,
		BootNanos: now,
		Message:   sprintf(format, args...),
	}

	idx := r.next.Add(1) - 1
	r.entries[idx%ringCapacity] = rec

	for _, s := range r.sinks {
		s.WriteRecord(rec)
	}
}

// Snapshot returns up to n most recent records, oldest first.
func (r *Ring) Snapshot(n int) []Record {
	total := r.next.Load()
	if n <= 0 || total == 0 {
		return nil
	}
	if uint64(n) > total {
		n = int(total)
	}
	if n > ringCapacity {
		n = ringCapacity
	}

	out := make([]Record, n)
	start := total - uint64(n)
	for i := 0; i < n; i++ {
		out[i] = r.entries[(start+uint64(i))%ringCapacity]
	}
	return out
}

// FormatTimestamp renders a boot-relative nanosecond count as
// "[SSSSS.uuuuuu]" per spec.md §6.
func FormatTimestamp(bootNanos int64) string {
	if bootNanos < 0 {
		bootNanos = 0
	}
	seconds := bootNanos / 1_000_000_000
	micros := (bootNanos % 1_000_000_000) / 1000
	return "[" + padLeft(itoa(seconds), 5, '0') + "." + padLeft(itoa(int64(micros)), 6, '0') + "]"
}

func itoa(v int64) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func padLeft(s string, width int, pad byte) string {
	if len(s) >= width {
		return s
	}
	buf := make([]byte, width-len(s))
	for i := range buf {
		buf[i] = pad
	}
	return string(buf) + s
}

// sprintf is a tiny allocation-aware formatter supporting %s, %d, %x, %v and
// %%, avoiding a dependency on fmt's full reflection path in the hot
// logging path the way the rest of the core avoids fmt below the boundary.
func sprintf(format string, args ...interface{}) string {
	var out []byte
	argi := 0
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' || i == len(format)-1 {
			out = append(out, c)
			continue
		}
		i++
		verb := format[i]
		if verb == '%' {
			out = append(out, '%')
			continue
		}
		if argi >= len(args) {
			out = append(out, '%', verb)
			continue
		}
		out = append(out, formatArg(verb, args[argi])...)
		argi++
	}
	return string(out)
}

func formatArg(verb byte, arg interface{}) string {
	switch verb {
	case 's':
		if s, ok := arg.(string); ok {
			return s
		}
		return anyToString(arg)
	case 'd':
		switch v := arg.(type) {
		case int:
			return itoa(int64(v))
		case int32:
			return itoa(int64(v))
		case int64:
			return itoa(v)
		case uint32:
			return itoa(int64(v))
		case uint64:
			return itoa(int64(v))
		case uintptr:
			return itoa(int64(v))
		default:
			return anyToString(arg)
		}
	case 'x':
		var v uint64
		switch x := arg.(type) {
		case uintptr:
			v = uint64(x)
		case uint64:
			v = x
		case uint32:
			v = uint64(x)
		case int:
			v = uint64(x)
		default:
			return anyToString(arg)
		}
		return "0x" + hex(v)
	default:
		return anyToString(arg)
	}
}

func hex(v uint64) string {
	const digits = "0123456789abcdef"
	if v == 0 {
		return "0"
	}
	var buf [16]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = digits[v&0xf]
		v >>= 4
	}
	return string(buf[i:])
}

// anyToString is the fallback path for verbs/types not special-cased above.
func anyToString(v interface{}) string {
	type stringer interface{ String() string }
	if s, ok := v.(stringer); ok {
		return s.String()
	}
	if e, ok := v.(error); ok {
		return e.Error()
	}
	return "<?>"
}
