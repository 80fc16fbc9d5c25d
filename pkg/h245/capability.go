package h245

import (
	"fmt"
	"sort"
	"strings"
)

// Kind тип возможности. Набор вариантов закрыт, обработка выполняется через switch.
type Kind int

const (
	KindAudio Kind = iota
	KindVideo
	KindData
	KindFax
	KindUserInput
	KindSecurity
)

const kindCount = 6

func (k Kind) String() string {
	switch k {
	case KindAudio:
		return "audio"
	case KindVideo:
		return "video"
	case KindData:
		return "data"
	case KindFax:
		return "fax"
	case KindUserInput:
		return "userInput"
	case KindSecurity:
		return "security"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// SessionID возвращает RTP сессию по умолчанию для типа медиа
func (k Kind) SessionID() uint8 {
	switch k {
	case KindAudio, KindFax:
		return 1
	case KindVideo:
		return 2
	case KindData:
		return 3
	}
	return 0
}

// Direction направление возможности
type Direction int

const (
	DirReceive Direction = iota
	DirTransmit
	DirReceiveAndTransmit
)

func (d Direction) String() string {
	switch d {
	case DirReceive:
		return "receive"
	case DirTransmit:
		return "transmit"
	case DirReceiveAndTransmit:
		return "receiveAndTransmit"
	}
	return fmt.Sprintf("Direction(%d)", int(d))
}

// Allows проверяет, допускает ли направление d указанное направление потока
func (d Direction) Allows(want Direction) bool {
	return d == DirReceiveAndTransmit || d == want
}

// MediaFormat описание медиаформата
type MediaFormat struct {
	// Name имя кодировки в терминах RTP (PCMU, PCMA, G722, H264, telephone-event)
	Name        string
	PayloadType uint8
	ClockRate   uint32
	// FramesPerPacket для аудио, максимальное число кадров в пакете
	FramesPerPacket uint16
	// MaxBitRate в единицах 100 бит/с
	MaxBitRate uint32
}

// Известные форматы
var (
	FormatPCMU      = MediaFormat{Name: "PCMU", PayloadType: 0, ClockRate: 8000, FramesPerPacket: 240, MaxBitRate: 640}
	FormatPCMA      = MediaFormat{Name: "PCMA", PayloadType: 8, ClockRate: 8000, FramesPerPacket: 240, MaxBitRate: 640}
	FormatG722      = MediaFormat{Name: "G722", PayloadType: 9, ClockRate: 8000, FramesPerPacket: 240, MaxBitRate: 640}
	FormatG729      = MediaFormat{Name: "G729", PayloadType: 18, ClockRate: 8000, FramesPerPacket: 24, MaxBitRate: 80}
	FormatGSM       = MediaFormat{Name: "GSM", PayloadType: 3, ClockRate: 8000, FramesPerPacket: 4, MaxBitRate: 132}
	FormatH261      = MediaFormat{Name: "H261", PayloadType: 31, ClockRate: 90000, MaxBitRate: 3840}
	FormatH263      = MediaFormat{Name: "H263", PayloadType: 34, ClockRate: 90000, MaxBitRate: 3840}
	FormatH264      = MediaFormat{Name: "H264", PayloadType: 96, ClockRate: 90000, MaxBitRate: 10240}
	FormatT38       = MediaFormat{Name: "t38", ClockRate: 0, MaxBitRate: 144}
	FormatUserInput = MediaFormat{Name: "telephone-event", PayloadType: 101, ClockRate: 8000}
)

// Capability одна возможность терминала
type Capability struct {
	Kind      Kind
	Format    MediaFormat
	Direction Direction
}

// Audio создает аудио возможность на прием и передачу
func Audio(f MediaFormat) Capability {
	return Capability{Kind: KindAudio, Format: f, Direction: DirReceiveAndTransmit}
}

// Video создает видео возможность на прием и передачу
func Video(f MediaFormat) Capability {
	return Capability{Kind: KindVideo, Format: f, Direction: DirReceiveAndTransmit}
}

// UserInput создает возможность передачи пользовательского ввода (DTMF)
func UserInput() Capability {
	return Capability{Kind: KindUserInput, Format: FormatUserInput, Direction: DirReceiveAndTransmit}
}

// SessionID возвращает RTP сессию возможности
func (c Capability) SessionID() uint8 {
	return c.Kind.SessionID()
}

// IsMedia возвращает true для возможностей, для которых открываются логические каналы
func (c Capability) IsMedia() bool {
	switch c.Kind {
	case KindAudio, KindVideo, KindData, KindFax:
		return true
	}
	return false
}

// SameFormat сравнивает тип и формат без учета направления
func (c Capability) SameFormat(o Capability) bool {
	return c.Kind == o.Kind && strings.EqualFold(c.Format.Name, o.Format.Name)
}

func (c Capability) String() string {
	return c.Kind.String() + "/" + c.Format.Name
}

// Descriptor дескриптор одновременных возможностей:
// список наборов альтернатив, из каждого набора одновременно может быть
// использована не более чем одна возможность.
type Descriptor struct {
	Number       uint8
	Alternatives [][]uint16
}

// TableEntry запись таблицы возможностей
type TableEntry struct {
	ID         uint16
	Capability Capability
}

// CapabilityTable таблица возможностей (локальная или удаленная)
type CapabilityTable struct {
	entries     map[uint16]Capability
	descriptors []Descriptor
	nextID      uint16
}

// NewCapabilityTable создает пустую таблицу
func NewCapabilityTable() *CapabilityTable {
	return &CapabilityTable{entries: make(map[uint16]Capability), nextID: 1}
}

// BuildTable создает таблицу из списка возможностей с дескриптором по умолчанию:
// по одному набору альтернатив на каждый тип медиа.
func BuildTable(caps []Capability) *CapabilityTable {
	t := NewCapabilityTable()
	perKind := make(map[Kind][]uint16)
	var kinds []Kind
	for _, c := range caps {
		id := t.Add(c)
		if _, ok := perKind[c.Kind]; !ok {
			kinds = append(kinds, c.Kind)
		}
		perKind[c.Kind] = append(perKind[c.Kind], id)
	}
	if len(kinds) > 0 {
		d := Descriptor{Number: 1}
		for _, k := range kinds {
			d.Alternatives = append(d.Alternatives, perKind[k])
		}
		t.descriptors = []Descriptor{d}
	}
	return t
}

// Add добавляет возможность и возвращает ее номер
func (t *CapabilityTable) Add(c Capability) uint16 {
	for {
		if _, busy := t.entries[t.nextID]; !busy {
			break
		}
		t.nextID++
	}
	id := t.nextID
	t.entries[id] = c
	t.nextID++
	return id
}

// Set устанавливает запись с заданным номером
func (t *CapabilityTable) Set(id uint16, c Capability) {
	t.entries[id] = c
}

// SetDescriptors заменяет дескрипторы одновременных возможностей
func (t *CapabilityTable) SetDescriptors(d []Descriptor) {
	t.descriptors = d
}

// Descriptors возвращает дескрипторы
func (t *CapabilityTable) Descriptors() []Descriptor {
	return t.descriptors
}

// Get возвращает возможность по номеру
func (t *CapabilityTable) Get(id uint16) (Capability, bool) {
	c, ok := t.entries[id]
	return c, ok
}

// Len количество записей
func (t *CapabilityTable) Len() int {
	return len(t.entries)
}

// IsEmpty пустая таблица (используется как сигнал удержания)
func (t *CapabilityTable) IsEmpty() bool {
	return t == nil || len(t.entries) == 0
}

// Entries возвращает записи, упорядоченные по номеру
func (t *CapabilityTable) Entries() []TableEntry {
	out := make([]TableEntry, 0, len(t.entries))
	for id, c := range t.entries {
		out = append(out, TableEntry{ID: id, Capability: c})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Capabilities возвращает возможности в порядке номеров
func (t *CapabilityTable) Capabilities() []Capability {
	entries := t.Entries()
	out := make([]Capability, len(entries))
	for i, e := range entries {
		out[i] = e.Capability
	}
	return out
}

// Find ищет запись с тем же форматом, направление которой допускает dir
func (t *CapabilityTable) Find(c Capability, dir Direction) (uint16, Capability, bool) {
	for _, e := range t.Entries() {
		if e.Capability.SameFormat(c) && e.Capability.Direction.Allows(dir) {
			return e.ID, e.Capability, true
		}
	}
	return 0, Capability{}, false
}

// Allowed проверяет, может ли возможность id использоваться одновременно
// с уже используемыми возможностями open. Таблица без дескрипторов
// не накладывает ограничений.
func (t *CapabilityTable) Allowed(id uint16, open []uint16) bool {
	if _, ok := t.entries[id]; !ok {
		return false
	}
	if len(t.descriptors) == 0 {
		return true
	}
	want := append([]uint16{id}, open...)
	for _, d := range t.descriptors {
		if assignAlternatives(want, d.Alternatives, make([]bool, len(d.Alternatives))) {
			return true
		}
	}
	return false
}

// assignAlternatives подбирает для каждой возможности отдельный набор альтернатив
func assignAlternatives(want []uint16, sets [][]uint16, used []bool) bool {
	if len(want) == 0 {
		return true
	}
	for i, set := range sets {
		if used[i] || !containsID(set, want[0]) {
			continue
		}
		used[i] = true
		if assignAlternatives(want[1:], sets, used) {
			return true
		}
		used[i] = false
	}
	return false
}

func containsID(set []uint16, id uint16) bool {
	for _, v := range set {
		if v == id {
			return true
		}
	}
	return false
}
