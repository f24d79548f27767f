// Package timeline implements TimelineItem serialization and
// TimelineItemStorage, the SettingsFile specialization that backs the
// pins and reminders namespaces (spec.md §3, §4.3).
package timeline

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// ItemType distinguishes pins from reminders from notifications.
type ItemType uint8

const (
	TypePin ItemType = iota
	TypeReminder
	TypeNotification
)

// Flag bits carried in the header's flags byte.
const (
	FlagFromWatch = uint8(1 << 0)
	FlagAllDay    = uint8(1 << 1)
)

// Header is the fixed-size prefix of every serialized TimelineItem.
// On disk, Flags and Status are stored bitwise-inverted (see Encode);
// callers always work with the logical (non-inverted) values here.
type Header struct {
	ID       uuid.UUID
	ParentID uuid.UUID
	Created  int64 // unix seconds
	Duration int32 // minutes
	Type     ItemType
	Layout   uint8
	Flags    uint8
	Status   uint8
	AllDay   bool
	Source   uint8
}

// HeaderSize is sizeof(serialized Header) on disk: id(16) parent_id(16)
// created(8) duration(4) type(1) layout(1) flags(1) status(1)
// all_day(1) source(1) reserved(1).
const HeaderSize = 16 + 16 + 8 + 4 + 1 + 1 + 1 + 1 + 1 + 1 + 1 // = 51

// statusByteOffset is the offset of the Status field within the
// serialized header; SetStatusBits patches exactly this byte.
const statusByteOffset = 16 + 16 + 8 + 4 + 1 + 1 + 1

// Attribute is one key/value pair in an item's payload attribute list.
type Attribute struct {
	ID    uint8
	Value []byte
}

// Action is one entry of an item's payload action list.
type Action struct {
	ID   uint8
	Type uint8
	Attrs []Attribute
}

// Item is the full decoded TimelineItem: header plus payload.
type Item struct {
	Header     Header
	Attributes []Attribute
	Actions    []Action
}

// EndTime returns the item's end-of-life instant in unix seconds.
func (it Item) EndTime() int64 {
	return it.Header.Created + int64(it.Header.Duration)*60
}

// Encode serializes an Item to its on-disk form: the fixed header
// (with Flags/Status bitwise-inverted per spec.md §3) followed by a
// length-prefixed attribute list and a length-prefixed action list.
func Encode(it Item) []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:16], it.Header.ID[:])
	copy(buf[16:32], it.Header.ParentID[:])
	binary.LittleEndian.PutUint64(buf[32:40], uint64(it.Header.Created))
	binary.LittleEndian.PutUint32(buf[40:44], uint32(it.Header.Duration))
	buf[44] = uint8(it.Header.Type)
	buf[45] = it.Header.Layout
	buf[46] = ^it.Header.Flags
	buf[47] = ^it.Header.Status
	if it.Header.AllDay {
		buf[48] = 1
	}
	buf[49] = it.Header.Source
	buf[50] = 0 // reserved

	var payload []byte
	payload = appendUint16(payload, uint16(len(it.Attributes)))
	for _, a := range it.Attributes {
		payload = append(payload, a.ID)
		payload = appendUint16(payload, uint16(len(a.Value)))
		payload = append(payload, a.Value...)
	}
	payload = appendUint16(payload, uint16(len(it.Actions)))
	for _, a := range it.Actions {
		payload = append(payload, a.ID, a.Type)
		payload = appendUint16(payload, uint16(len(a.Attrs)))
		for _, attr := range a.Attrs {
			payload = append(payload, attr.ID)
			payload = appendUint16(payload, uint16(len(attr.Value)))
			payload = append(payload, attr.Value...)
		}
	}
	return append(buf, payload...)
}

func appendUint16(b []byte, v uint16) []byte {
	return append(b, byte(v), byte(v>>8))
}

// Decode parses the on-disk form produced by Encode. A buffer shorter
// than HeaderSize is rejected; a buffer exactly HeaderSize long (a
// partial read) decodes to a header-only Item with empty payload,
// matching spec.md §4.3's "partial read … returns only the header".
func Decode(buf []byte) (Item, error) {
	if len(buf) < HeaderSize {
		return Item{}, fmt.Errorf("timeline: buffer too small for header (%d < %d)", len(buf), HeaderSize)
	}
	var it Item
	copy(it.Header.ID[:], buf[0:16])
	copy(it.Header.ParentID[:], buf[16:32])
	it.Header.Created = int64(binary.LittleEndian.Uint64(buf[32:40]))
	it.Header.Duration = int32(binary.LittleEndian.Uint32(buf[40:44]))
	it.Header.Type = ItemType(buf[44])
	it.Header.Layout = buf[45]
	it.Header.Flags = ^buf[46]
	it.Header.Status = ^buf[47]
	it.Header.AllDay = buf[48] != 0
	it.Header.Source = buf[49]

	if len(buf) == HeaderSize {
		return it, nil
	}
	p := buf[HeaderSize:]
	pos := 0
	readU16 := func() (uint16, error) {
		if pos+2 > len(p) {
			return 0, fmt.Errorf("timeline: truncated payload")
		}
		v := binary.LittleEndian.Uint16(p[pos : pos+2])
		pos += 2
		return v, nil
	}
	numAttrs, err := readU16()
	if err != nil {
		return Item{}, err
	}
	for i := 0; i < int(numAttrs); i++ {
		if pos >= len(p) {
			return Item{}, fmt.Errorf("timeline: truncated attribute list")
		}
		id := p[pos]
		pos++
		vl, err := readU16()
		if err != nil {
			return Item{}, err
		}
		if pos+int(vl) > len(p) {
			return Item{}, fmt.Errorf("timeline: truncated attribute value")
		}
		val := append([]byte(nil), p[pos:pos+int(vl)]...)
		pos += int(vl)
		it.Attributes = append(it.Attributes, Attribute{ID: id, Value: val})
	}
	numActions, err := readU16()
	if err != nil {
		return Item{}, err
	}
	for i := 0; i < int(numActions); i++ {
		if pos+2 > len(p) {
			return Item{}, fmt.Errorf("timeline: truncated action list")
		}
		aID, aType := p[pos], p[pos+1]
		pos += 2
		nAttrs, err := readU16()
		if err != nil {
			return Item{}, err
		}
		act := Action{ID: aID, Type: aType}
		for j := 0; j < int(nAttrs); j++ {
			if pos >= len(p) {
				return Item{}, fmt.Errorf("timeline: truncated action attribute list")
			}
			id := p[pos]
			pos++
			vl, err := readU16()
			if err != nil {
				return Item{}, err
			}
			if pos+int(vl) > len(p) {
				return Item{}, fmt.Errorf("timeline: truncated action attribute value")
			}
			val := append([]byte(nil), p[pos:pos+int(vl)]...)
			pos += int(vl)
			act.Attrs = append(act.Attrs, Attribute{ID: id, Value: val})
		}
		it.Actions = append(it.Actions, act)
	}
	return it, nil
}

// RequiredAttributes maps a layout id to the attribute ids a valid
// payload for that layout must carry. VerifyLayout enforces this set.
// Empty until a layout registers requirements here, so VerifyLayout
// currently accepts every layout id.
var RequiredAttributes = map[uint8][]uint8{}

// VerifyLayout checks that the item's attribute list carries every
// attribute RequiredAttributes[layout] demands. An unregistered layout
// has no requirements.
func VerifyLayout(it Item) bool {
	required, ok := RequiredAttributes[it.Header.Layout]
	if !ok {
		return true
	}
	have := make(map[uint8]bool, len(it.Attributes))
	for _, a := range it.Attributes {
		have[a.ID] = true
	}
	for _, id := range required {
		if !have[id] {
			return false
		}
	}
	return true
}
