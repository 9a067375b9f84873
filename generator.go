// generator.go: Signature-driven adversarial value generation
//
// The generator turns a parsed signature node into one concrete Go value
// suitable for a godbus call. Scalar generation is stateful: each basic
// numeric type owns a counter that walks an escalation ladder from
// boundary values (maximum, half maximum, zero) into fully randomized
// values, so the first calls against a target probe the classic overflow
// edges and later calls explore the full range. String-like generation
// shares one cumulative length counter: every generated string is longer
// than the one before it, deliberately probing buffer handling at
// increasing sizes.
//
// State is an explicit object, never a package global, so independent
// fuzz runs (and tests) can hold isolated instances. Escalation is global
// across one run by design: counters are never reset between methods,
// which spreads boundary coverage evenly when many methods share few
// distinct basic types.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package charybdis

import (
	"fmt"
	"math"
	"math/rand"
	"reflect"
	"time"

	"github.com/agilira/go-errors"
	"github.com/godbus/dbus/v5"
)

// Escalation ladder thresholds, shared by all basic numeric types. Each
// type's own counter decides its tier, so types escalate independently.
const (
	tierMaxUntil     = 20 // [0,20): maximum representable value
	tierHalfUntil    = 40 // [20,40): half of maximum
	tierZeroUntil    = 50 // [40,50): zero
	tierSubnormUntil = 60 // [50,60): minimum positive subnormal (doubles only)
)

// GeneratorConfig bounds the generated values.
type GeneratorConfig struct {
	// MaxStringLength caps the cumulative generated string length. Once
	// the shared length counter reaches the cap it stays there; lengths
	// never decrease.
	MaxStringLength int

	// StringIncrementCap bounds the per-call random growth of the shared
	// string length counter; each call adds between 1 and this many bytes.
	StringIncrementCap int

	// MaxArrayElements bounds the random element count of generated
	// arrays and dicts.
	MaxArrayElements int
}

// DefaultGeneratorConfig returns the generation bounds used when the
// operator supplies none.
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		MaxStringLength:    50000,
		StringIncrementCap: 127,
		MaxArrayElements:   9,
	}
}

func (c GeneratorConfig) withDefaults() GeneratorConfig {
	def := DefaultGeneratorConfig()
	if c.MaxStringLength <= 0 {
		c.MaxStringLength = def.MaxStringLength
	}
	if c.StringIncrementCap <= 0 {
		c.StringIncrementCap = def.StringIncrementCap
	}
	if c.MaxArrayElements <= 0 {
		c.MaxArrayElements = def.MaxArrayElements
	}
	return c
}

// GeneratorState holds the per-run escalation state: one counter per basic
// numeric type plus the shared cumulative string length. It is not safe
// for concurrent use; a parallel runner must shard states per worker.
//
// A counter advances once per top-level generation call, not once per
// produced value: every int32 inside one call's argument list sits on the
// same escalation tier, and the next call moves the tier forward.
type GeneratorState struct {
	cfg GeneratorConfig
	rng *rand.Rand

	// Per-type escalation counters. uint32 wrap-around is the documented
	// "large threshold" at which escalation restarts from the top.
	byteCount   uint32
	int16Count  uint32
	uint16Count uint32
	int32Count  uint32
	uint32Count uint32
	int64Count  uint32
	uint64Count uint32
	doubleCount uint32

	// touched collects the counters read during the current call; advance
	// increments each exactly once.
	touched map[*uint32]struct{}

	// strLen is the shared cumulative length for string, object-path and
	// signature generation. Monotonically non-decreasing within a run.
	strLen int
}

// NewGeneratorState creates a fresh escalation state seeded from the clock.
func NewGeneratorState(cfg GeneratorConfig) *GeneratorState {
	return NewSeededGeneratorState(cfg, time.Now().UnixNano())
}

// NewSeededGeneratorState creates a state with a caller-chosen seed, for
// reproducible runs and tests.
func NewSeededGeneratorState(cfg GeneratorConfig, seed int64) *GeneratorState {
	return &GeneratorState{
		cfg:     cfg.withDefaults(),
		rng:     rand.New(rand.NewSource(seed)),
		touched: make(map[*uint32]struct{}),
	}
}

// tick reads a counter's current value and marks it for advancement at the
// end of the enclosing call.
func (g *GeneratorState) tick(c *uint32) uint32 {
	g.touched[c] = struct{}{}
	return *c
}

// advance moves every counter read during the finished call one step up
// the escalation ladder.
func (g *GeneratorState) advance() {
	for c := range g.touched {
		*c++
		delete(g.touched, c)
	}
}

// StringLength returns the current cumulative string length counter.
func (g *GeneratorState) StringLength() int { return g.strLen }

// Generate produces one typed value for the given signature node and then
// advances the escalation counters the node exercised. Failure of any
// recursive step fails the whole container: no partial values are ever
// returned.
func (g *GeneratorState) Generate(node SigNode) (interface{}, error) {
	defer g.advance()
	return g.generate(node)
}

// GenerateArgs produces one value per node, in order. All nodes belong to
// the same call: shared counters advance once afterwards.
func (g *GeneratorState) GenerateArgs(nodes []SigNode) ([]interface{}, error) {
	defer g.advance()

	args := make([]interface{}, 0, len(nodes))
	for _, n := range nodes {
		v, err := g.generate(n)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}
	return args, nil
}

func (g *GeneratorState) generate(node SigNode) (interface{}, error) {
	switch n := node.(type) {
	case BasicNode:
		return g.generateBasic(n.Code)
	case ArrayNode:
		return g.generateArray(n)
	case StructNode:
		return g.generateStruct(n)
	case DictEntryNode:
		// The parser only ever yields dict entries under arrays; a bare
		// one means a hand-built node.
		return nil, errors.New(ErrCodeGeneration, "dict entry outside array")
	default:
		return nil, errors.New(ErrCodeGeneration, fmt.Sprintf("unsupported signature node %T", node))
	}
}

func (g *GeneratorState) generateBasic(code TypeCode) (interface{}, error) {
	switch code {
	case TypeByte:
		return g.nextByte(), nil
	case TypeBoolean:
		return g.rng.Intn(2) == 0, nil
	case TypeInt16:
		return g.nextInt16(), nil
	case TypeUint16:
		return g.nextUint16(), nil
	case TypeInt32:
		return g.nextInt32(), nil
	case TypeUint32:
		return g.nextUint32(), nil
	case TypeInt64:
		return g.nextInt64(), nil
	case TypeUint64:
		return g.nextUint64(), nil
	case TypeDouble:
		return g.nextDouble(), nil
	case TypeString:
		return g.nextString(), nil
	case TypeObjectPath:
		return dbus.ObjectPath(g.nextObjectPath()), nil
	case TypeSignature:
		sig, err := dbus.ParseSignature(g.nextSignatureString())
		if err != nil {
			return nil, errors.Wrap(err, ErrCodeGeneration, "generated signature rejected")
		}
		return sig, nil
	case TypeVariant:
		return g.nextVariant()
	case TypeUnixFD:
		// Always a stable, known-open descriptor (stdin). Fuzzing fd
		// values is out of scope: a random fd either fails transport
		// sendmsg locally or leaks an unrelated descriptor.
		return dbus.UnixFD(0), nil
	default:
		return nil, errors.New(ErrCodeGeneration, fmt.Sprintf("unknown type code '%c'", byte(code)))
	}
}

// Scalar escalation. Each next* helper reads its type's counter and
// produces the tier's magnitude. Signed types then flip sign on a coin
// toss: (-v - 1) of a maximum is the type's minimum, so negative
// boundaries get exercised roughly half the time in every tier.

// unsignedMagnitude picks the escalation-tier magnitude for a type with
// the given maximum.
func unsignedMagnitude(c uint32, max uint64, random func() uint64) uint64 {
	switch {
	case c < tierMaxUntil:
		return max
	case c < tierHalfUntil:
		return max / 2
	case c < tierZeroUntil:
		return 0
	default:
		return random()
	}
}

func (g *GeneratorState) nextByte() uint8 {
	c := g.tick(&g.byteCount)
	return uint8(unsignedMagnitude(c, math.MaxUint8, func() uint64 {
		return uint64(g.rng.Intn(math.MaxUint8 + 1))
	}))
}

func (g *GeneratorState) nextUint16() uint16 {
	c := g.tick(&g.uint16Count)
	return uint16(unsignedMagnitude(c, math.MaxUint16, func() uint64 {
		return uint64(g.rng.Intn(math.MaxUint16 + 1))
	}))
}

func (g *GeneratorState) nextUint32() uint32 {
	c := g.tick(&g.uint32Count)
	return uint32(unsignedMagnitude(c, math.MaxUint32, func() uint64 {
		return uint64(g.rng.Uint32())
	}))
}

func (g *GeneratorState) nextUint64() uint64 {
	c := g.tick(&g.uint64Count)
	return unsignedMagnitude(c, math.MaxUint64, g.rng.Uint64)
}

// signed applies the independent sign randomization shared by all signed
// integer types.
func (g *GeneratorState) signed(magnitude int64) int64 {
	if g.rng.Intn(2) == 0 {
		return -magnitude - 1
	}
	return magnitude
}

func (g *GeneratorState) nextInt16() int16 {
	c := g.tick(&g.int16Count)
	m := unsignedMagnitude(c, math.MaxInt16, func() uint64 {
		return uint64(g.rng.Intn(math.MaxInt16 + 1))
	})
	return int16(g.signed(int64(m)))
}

func (g *GeneratorState) nextInt32() int32 {
	c := g.tick(&g.int32Count)
	m := unsignedMagnitude(c, math.MaxInt32, func() uint64 {
		return uint64(g.rng.Int31())
	})
	return int32(g.signed(int64(m)))
}

func (g *GeneratorState) nextInt64() int64 {
	c := g.tick(&g.int64Count)
	m := unsignedMagnitude(c, math.MaxInt64, func() uint64 {
		return uint64(g.rng.Int63())
	})
	return g.signed(int64(m))
}

// nextDouble walks one extra tier: after zero comes the smallest positive
// subnormal, probing code that mishandles denormal input, then the random
// tier. Sign randomization applies to every nonzero magnitude.
func (g *GeneratorState) nextDouble() float64 {
	c := g.tick(&g.doubleCount)

	var m float64
	switch {
	case c < tierMaxUntil:
		m = math.MaxFloat64
	case c < tierHalfUntil:
		m = math.MaxFloat64 / 2
	case c < tierZeroUntil:
		m = 0
	case c < tierSubnormUntil:
		m = math.SmallestNonzeroFloat64
	default:
		m = g.rng.Float64() * math.MaxFloat64
	}

	if m != 0 && g.rng.Intn(2) == 0 {
		return -m
	}
	return m
}

// growStringLength advances the shared cumulative length counter and
// returns its new value. Growth is strictly positive until the cap.
func (g *GeneratorState) growStringLength() int {
	g.strLen += 1 + g.rng.Intn(g.cfg.StringIncrementCap)
	if g.strLen > g.cfg.MaxStringLength {
		g.strLen = g.cfg.MaxStringLength
	}
	return g.strLen
}

// printableChars is the alphabet for plain string generation.
const printableChars = " !\"#$%&'()*+,-./0123456789:;<=>?@" +
	"ABCDEFGHIJKLMNOPQRSTUVWXYZ[\\]^_`" +
	"abcdefghijklmnopqrstuvwxyz{|}~"

func (g *GeneratorState) nextString() string {
	n := g.growStringLength()
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = printableChars[g.rng.Intn(len(printableChars))]
	}
	return string(buf)
}

// objectPathChars is the element alphabet allowed by the D-Bus spec.
const objectPathChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789_"

// nextObjectPath builds a random but valid object path of roughly the
// shared cumulative length: "/"-separated non-empty elements drawn from
// [A-Za-z0-9_].
func (g *GeneratorState) nextObjectPath() string {
	n := g.growStringLength()
	if n < 2 {
		return "/"
	}

	var b []byte
	for len(b) < n {
		elem := 1 + g.rng.Intn(16)
		if remaining := n - len(b) - 1; elem > remaining {
			elem = remaining
		}
		if elem < 1 {
			break
		}
		b = append(b, '/')
		for i := 0; i < elem; i++ {
			b = append(b, objectPathChars[g.rng.Intn(len(objectPathChars))])
		}
	}
	return string(b)
}

// nextSignatureString builds a random but valid signature string whose
// length is bounded by the shared cumulative counter (and by the D-Bus
// 255-byte limit). Containers nest at most a handful of levels so the
// budget is spent on breadth rather than pathological depth.
func (g *GeneratorState) nextSignatureString() string {
	budget := g.growStringLength()
	if budget > maxSignatureLength {
		budget = maxSignatureLength
	}
	if budget < 1 {
		budget = 1
	}

	var b []byte
	for len(b) < budget {
		b = g.appendRandomType(b, budget-len(b), 0)
	}
	return string(b)
}

// signatureBasicCodes excludes 'v' so generated signatures stay iterable
// by any consumer; variants are still produced as argument values.
const signatureBasicCodes = "ybnqiuxtdsogh"

const signatureMaxNest = 6

// appendRandomType appends one complete type no longer than budget bytes.
func (g *GeneratorState) appendRandomType(b []byte, budget, depth int) []byte {
	if budget <= 1 || depth >= signatureMaxNest {
		return append(b, signatureBasicCodes[g.rng.Intn(len(signatureBasicCodes))])
	}

	switch g.rng.Intn(4) {
	case 0: // array: "a" + one complete type
		b = append(b, 'a')
		return g.appendRandomType(b, budget-1, depth+1)
	case 1: // struct: "(" + at least one complete type + ")"
		if budget < 3 {
			return append(b, signatureBasicCodes[g.rng.Intn(len(signatureBasicCodes))])
		}
		b = append(b, '(')
		inner := 1 + g.rng.Intn(budget-2)
		start := len(b)
		for len(b)-start < inner {
			b = g.appendRandomType(b, inner-(len(b)-start), depth+1)
		}
		return append(b, ')')
	case 2: // dict: "a{" + basic key + one complete value + "}"
		if budget < 5 {
			return append(b, signatureBasicCodes[g.rng.Intn(len(signatureBasicCodes))])
		}
		b = append(b, 'a', '{')
		b = append(b, signatureBasicCodes[g.rng.Intn(len(signatureBasicCodes))])
		b = g.appendRandomType(b, budget-4, depth+1)
		return append(b, '}')
	default:
		return append(b, signatureBasicCodes[g.rng.Intn(len(signatureBasicCodes))])
	}
}

// nextVariant wraps a freshly generated value of a pseudo-randomly chosen
// basic type. Nested variants are excluded to keep the wrapped value a
// single concrete leaf.
func (g *GeneratorState) nextVariant() (interface{}, error) {
	code := TypeCode(signatureBasicCodes[g.rng.Intn(len(signatureBasicCodes))])
	inner, err := g.generateBasic(code)
	if err != nil {
		return nil, err
	}
	return dbus.MakeVariant(inner), nil
}

// Container generation. godbus marshals by reflection, so containers are
// materialized as concretely typed Go values: slices for arrays, maps for
// arrays of dict entries, and runtime-built struct types for structs.

func (g *GeneratorState) generateArray(n ArrayNode) (interface{}, error) {
	if entry, ok := n.Elem.(DictEntryNode); ok {
		return g.generateDict(entry)
	}

	elemType, err := goTypeFor(n.Elem)
	if err != nil {
		return nil, err
	}

	count := g.rng.Intn(g.cfg.MaxArrayElements + 1)
	slice := reflect.MakeSlice(reflect.SliceOf(elemType), count, count)
	for i := 0; i < count; i++ {
		v, err := g.generate(n.Elem)
		if err != nil {
			return nil, err
		}
		slice.Index(i).Set(reflect.ValueOf(v))
	}
	return slice.Interface(), nil
}

func (g *GeneratorState) generateDict(entry DictEntryNode) (interface{}, error) {
	keyType, err := goTypeFor(entry.Key)
	if err != nil {
		return nil, err
	}
	valType, err := goTypeFor(entry.Value)
	if err != nil {
		return nil, err
	}

	m := reflect.MakeMap(reflect.MapOf(keyType, valType))
	count := g.rng.Intn(g.cfg.MaxArrayElements + 1)
	for i := 0; i < count; i++ {
		k, err := g.generate(entry.Key)
		if err != nil {
			return nil, err
		}
		v, err := g.generate(entry.Value)
		if err != nil {
			return nil, err
		}
		// Duplicate random keys simply overwrite; the entry count is a
		// target, not a guarantee.
		m.SetMapIndex(reflect.ValueOf(k), reflect.ValueOf(v))
	}
	return m.Interface(), nil
}

func (g *GeneratorState) generateStruct(n StructNode) (interface{}, error) {
	structType, err := goTypeFor(n)
	if err != nil {
		return nil, err
	}

	value := reflect.New(structType).Elem()
	for i, field := range n.Fields {
		v, err := g.generate(field)
		if err != nil {
			return nil, err
		}
		value.Field(i).Set(reflect.ValueOf(v))
	}
	return value.Interface(), nil
}

// Reflected Go types per basic code, matching godbus's signature mapping.
var basicGoTypes = map[TypeCode]reflect.Type{
	TypeByte:       reflect.TypeOf(uint8(0)),
	TypeBoolean:    reflect.TypeOf(false),
	TypeInt16:      reflect.TypeOf(int16(0)),
	TypeUint16:     reflect.TypeOf(uint16(0)),
	TypeInt32:      reflect.TypeOf(int32(0)),
	TypeUint32:     reflect.TypeOf(uint32(0)),
	TypeInt64:      reflect.TypeOf(int64(0)),
	TypeUint64:     reflect.TypeOf(uint64(0)),
	TypeDouble:     reflect.TypeOf(float64(0)),
	TypeString:     reflect.TypeOf(""),
	TypeObjectPath: reflect.TypeOf(dbus.ObjectPath("")),
	TypeSignature:  reflect.TypeOf(dbus.Signature{}),
	TypeVariant:    reflect.TypeOf(dbus.Variant{}),
	TypeUnixFD:     reflect.TypeOf(dbus.UnixFD(0)),
}

// goTypeFor maps a signature node to the Go type godbus marshals with that
// signature.
func goTypeFor(node SigNode) (reflect.Type, error) {
	switch n := node.(type) {
	case BasicNode:
		t, ok := basicGoTypes[n.Code]
		if !ok {
			return nil, errors.New(ErrCodeGeneration, fmt.Sprintf("unknown type code '%c'", byte(n.Code)))
		}
		return t, nil
	case ArrayNode:
		if entry, ok := n.Elem.(DictEntryNode); ok {
			kt, err := goTypeFor(entry.Key)
			if err != nil {
				return nil, err
			}
			vt, err := goTypeFor(entry.Value)
			if err != nil {
				return nil, err
			}
			return reflect.MapOf(kt, vt), nil
		}
		et, err := goTypeFor(n.Elem)
		if err != nil {
			return nil, err
		}
		return reflect.SliceOf(et), nil
	case StructNode:
		fields := make([]reflect.StructField, len(n.Fields))
		for i, f := range n.Fields {
			ft, err := goTypeFor(f)
			if err != nil {
				return nil, err
			}
			fields[i] = reflect.StructField{
				Name: fmt.Sprintf("Field%d", i),
				Type: ft,
			}
		}
		return reflect.StructOf(fields), nil
	case DictEntryNode:
		return nil, errors.New(ErrCodeGeneration, "dict entry outside array")
	default:
		return nil, errors.New(ErrCodeGeneration, fmt.Sprintf("unsupported signature node %T", node))
	}
}
