package id

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	"chronolog/internal/core/apperror"
)

// Layout selects how the time and random components are packed.
type Layout string

const (
	// LayoutCoarse: 48-bit millisecond timestamp followed by 80 random bits.
	LayoutCoarse Layout = "coarse"

	// LayoutCompact: microsecond timestamp spread over the UUID field grouping,
	// version/variant nibbles fixed, 54 random bits.
	LayoutCompact Layout = "compact"
)

const (
	coarseRandomBytes = 10
	compactRandomBits = 54
	compactRandomMask = uint64(1)<<compactRandomBits - 1
)

// ParseLayout validates a layout name from configuration.
func ParseLayout(s string) (Layout, error) {
	switch Layout(s) {
	case LayoutCoarse, LayoutCompact:
		return Layout(s), nil
	case "":
		return LayoutCoarse, nil
	default:
		return "", fmt.Errorf("unknown identifier layout %q", s)
	}
}

// Generator mints fresh identifiers.
type Generator interface {
	// Generate returns a new identifier or an ENTROPY_UNAVAILABLE error.
	Generate() (ID, error)
}

// Option configures a TimeGenerator.
type Option func(*TimeGenerator)

// WithEntropy replaces the secure random source (tests only).
func WithEntropy(r io.Reader) Option {
	return func(g *TimeGenerator) { g.entropy = r }
}

// WithClock replaces the wall clock (tests only).
func WithClock(now func() time.Time) Option {
	return func(g *TimeGenerator) { g.now = now }
}

// TimeGenerator produces time-ordered identifiers in one layout.
//
// Within a single generator values are strictly increasing: when the clock has
// not advanced past the previous tick (or moved backwards) the random
// component of the previous value is incremented instead of redrawn.
// Safe for concurrent use.
type TimeGenerator struct {
	layout  Layout
	entropy io.Reader
	now     func() time.Time

	mu      sync.Mutex
	seeded  bool
	lastTS  uint64
	coarse  [coarseRandomBytes]byte
	compact uint64
}

var _ Generator = (*TimeGenerator)(nil)

// NewGenerator creates a generator for the given layout.
func NewGenerator(layout Layout, opts ...Option) *TimeGenerator {
	g := &TimeGenerator{
		layout:  layout,
		entropy: rand.Reader,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Layout returns the generator's packing layout.
func (g *TimeGenerator) Layout() Layout {
	return g.layout
}

// Generate implements Generator.
func (g *TimeGenerator) Generate() (ID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ts := g.tick()
	if !g.seeded || ts > g.lastTS {
		if err := g.reseed(); err != nil {
			return Nil(), err
		}
		g.lastTS = ts
		g.seeded = true
	} else if !g.increment() {
		// random component exhausted for this tick, borrow the next one
		if err := g.reseed(); err != nil {
			return Nil(), err
		}
		g.lastTS++
	}

	if g.layout == LayoutCompact {
		return packCompact(g.lastTS, g.compact), nil
	}
	return packCoarse(g.lastTS, g.coarse), nil
}

func (g *TimeGenerator) tick() uint64 {
	t := g.now().UTC()
	if g.layout == LayoutCompact {
		return uint64(t.UnixMicro())
	}
	return uint64(t.UnixMilli())
}

func (g *TimeGenerator) reseed() error {
	if g.layout == LayoutCompact {
		var buf [8]byte
		if _, err := io.ReadFull(g.entropy, buf[1:]); err != nil {
			return apperror.NewEntropyUnavailable(err)
		}
		g.compact = binary.BigEndian.Uint64(buf[:]) & compactRandomMask
		return nil
	}
	if _, err := io.ReadFull(g.entropy, g.coarse[:]); err != nil {
		return apperror.NewEntropyUnavailable(err)
	}
	return nil
}

// increment adds one to the random component; false on overflow.
func (g *TimeGenerator) increment() bool {
	if g.layout == LayoutCompact {
		if g.compact == compactRandomMask {
			return false
		}
		g.compact++
		return true
	}
	for i := len(g.coarse) - 1; i >= 0; i-- {
		g.coarse[i]++
		if g.coarse[i] != 0 {
			return true
		}
	}
	return false
}

func packCoarse(ms uint64, random [coarseRandomBytes]byte) ID {
	var u ID
	u[0] = byte(ms >> 40)
	u[1] = byte(ms >> 32)
	u[2] = byte(ms >> 24)
	u[3] = byte(ms >> 16)
	u[4] = byte(ms >> 8)
	u[5] = byte(ms)
	copy(u[6:], random[:])
	return u
}

func packCompact(us uint64, r uint64) ID {
	var u ID
	binary.BigEndian.PutUint32(u[0:4], uint32(us>>32))
	binary.BigEndian.PutUint16(u[4:6], uint16(us>>16))
	binary.BigEndian.PutUint16(u[6:8], 0x4000|uint16((us>>4)&0x0FFF))
	binary.BigEndian.PutUint16(u[8:10], 0x8000|uint16(us&0xF)<<10|uint16(r>>48)&0x3F)
	binary.BigEndian.PutUint16(u[10:12], uint16(r>>32))
	binary.BigEndian.PutUint32(u[12:16], uint32(r))
	return u
}

// TimeOf recovers the creation time embedded in an identifier of the given layout.
func TimeOf(layout Layout, v ID) time.Time {
	if layout == LayoutCompact {
		hi := uint64(binary.BigEndian.Uint32(v[0:4]))
		mid := uint64(binary.BigEndian.Uint16(v[4:6]))
		lo := uint64(binary.BigEndian.Uint16(v[6:8]) & 0x0FFF)
		nib := uint64(binary.BigEndian.Uint16(v[8:10])>>10) & 0xF
		us := hi<<32 | mid<<16 | lo<<4 | nib
		return time.UnixMicro(int64(us)).UTC()
	}
	var buf [8]byte
	copy(buf[2:], v[0:6])
	return time.UnixMilli(int64(binary.BigEndian.Uint64(buf[:]))).UTC()
}
