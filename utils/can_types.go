package utils

import "sort"

// SignalDef describes one little-endian signal inside a CAN frame payload.
type SignalDef struct {
	Name       string
	StartBit   int
	BitLength  int
	Signed     bool
	Factor     float64
	Offset     float64
	Min        float64
	Max        float64
	Default    float64
	Unit       string
	Comment    string
	Endianness string // only "little" supported
}

type FrameDef struct {
	ID        uint32
	Name      string
	DLC       int
	Direction string
	CycleMS   int
	Signals   []SignalDef
}

// SignalNames lists the frame's signals in start-bit order.
func (fd *FrameDef) SignalNames() []string {
	out := make([]string, 0, len(fd.Signals))
	for _, s := range fd.Signals {
		out = append(out, s.Name)
	}
	return out
}

// CANMap indexes the frames of a CAN map file by ID and by name.
type CANMap struct {
	ByID   map[uint32]*FrameDef
	ByName map[string]*FrameDef
}

func (m *CANMap) FrameNames() []string {
	out := make([]string, 0, len(m.ByName))
	for k := range m.ByName {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
