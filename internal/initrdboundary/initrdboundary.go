// Package initrdboundary decodes a USTAR-format initrd module handed
// off at boot into a sequence of entries, with no dependency on an
// actual filesystem. Grounded on
// original_source/kernel/init/initrd.c.
package initrdboundary

import (
	"nebula/internal/kernelerr"
)

// EntryType mirrors enum ustar_types.
type EntryType uint8

const (
	TypeFile EntryType = iota
	TypeHardlink
	TypeSymlink
	TypeCharDev
	TypeBlockDev
	TypeDir
	TypeFIFO
)

// Entry is one decoded USTAR header plus the file data that follows it,
// matching struct ustar_entry plus handle_entry's data pointer.
type Entry struct {
	Name string
	Mode uint32
	UID  uint32
	GID  uint32
	Size uint64

	ModTimeUnix int64
	Type        EntryType
	Link        string

	Data []byte
}

const (
	blockSize  = 512
	headerSize = 512
)

// header field byte offsets/lengths, matching struct ustar_header.
const (
	offName     = 0
	lenName     = 100
	offMode     = 100
	lenMode     = 8
	offUID      = 108
	lenUID      = 8
	offGID      = 116
	lenGID      = 8
	offSize     = 124
	lenSize     = 12
	offModTime  = 136
	lenModTime  = 12
	offTypeFlag = 156
	offLink     = 157
	lenLink     = 100
	offIndicator = 257
	lenIndicator = 6
	offPrefix   = 345
	lenPrefix   = 155
)

func parseOctal(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		if c < '0' || c > '7' {
			break
		}
		v = v*8 + uint64(c-'0')
	}
	return v
}

func cstr(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func roundUp(n, multiple uint64) uint64 {
	if multiple == 0 {
		return n
	}
	rem := n % multiple
	if rem == 0 {
		return n
	}
	return n + multiple - rem
}

// Decode walks a USTAR byte stream, building one Entry per header until
// it hits a block whose magic does not read "ustar", matching
// initrd_init's scan loop.
func Decode(data []byte) ([]Entry, kernelerr.Errno) {
	var entries []Entry
	off := 0

	for {
		if off+headerSize > len(data) {
			break
		}
		hdr := data[off : off+headerSize]

		indicator := cstr(hdr[offIndicator : offIndicator+lenIndicator])
		if indicator != "ustar" {
			break
		}

		name := cstr(hdr[offName : offName+lenName])
		if prefix := cstr(hdr[offPrefix : offPrefix+lenPrefix]); prefix != "" {
			name = prefix + "/" + name
		}

		size := parseOctal(hdr[offSize : offSize+lenSize])
		entry := Entry{
			Name:        name,
			Mode:        uint32(parseOctal(hdr[offMode : offMode+lenMode])),
			UID:         uint32(parseOctal(hdr[offUID : offUID+lenUID])),
			GID:         uint32(parseOctal(hdr[offGID : offGID+lenGID])),
			Size:        size,
			ModTimeUnix: int64(parseOctal(hdr[offModTime : offModTime+lenModTime])),
			Type:        EntryType(hdr[offTypeFlag]),
			Link:        cstr(hdr[offLink : offLink+lenLink]),
		}

		dataStart := off + blockSize
		dataEnd := dataStart + int(size)
		if dataEnd > len(data) {
			return entries, kernelerr.EINVAL
		}
		entry.Data = data[dataStart:dataEnd]
		entries = append(entries, entry)

		off = dataStart + int(roundUp(size, blockSize))
	}

	return entries, kernelerr.OK
}
