// signature.go: Recursive grammar for D-Bus type signatures
//
// A D-Bus signature is a compact string encoding of argument types, e.g.
// "a{sv}" or "(ixas)". This file parses such strings into a tree of
// SigNode values and serializes them back. Parsing is pure: no partial
// trees survive an error, and output size is linear in input size.
//
// The recognized alphabet and nesting limits follow the D-Bus
// specification (and godbus/dbus, which enforces the same 255-byte and
// 64-deep bounds on the wire).
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package charybdis

import (
	"fmt"
	"strings"

	"github.com/agilira/go-errors"
)

// TypeCode is a single D-Bus basic type code.
type TypeCode byte

const (
	TypeByte       TypeCode = 'y'
	TypeBoolean    TypeCode = 'b'
	TypeInt16      TypeCode = 'n'
	TypeUint16     TypeCode = 'q'
	TypeInt32      TypeCode = 'i'
	TypeUint32     TypeCode = 'u'
	TypeInt64      TypeCode = 'x'
	TypeUint64     TypeCode = 't'
	TypeDouble     TypeCode = 'd'
	TypeString     TypeCode = 's'
	TypeObjectPath TypeCode = 'o'
	TypeSignature  TypeCode = 'g'
	TypeVariant    TypeCode = 'v'
	TypeUnixFD     TypeCode = 'h'
)

const (
	// maxSignatureLength is the D-Bus limit on a signature string.
	maxSignatureLength = 255
	// maxSignatureDepth is the D-Bus limit on container nesting.
	maxSignatureDepth = 64
)

// basicCodes is the full set of recognized basic type codes.
var basicCodes = [...]TypeCode{
	TypeByte, TypeBoolean, TypeInt16, TypeUint16, TypeInt32, TypeUint32,
	TypeInt64, TypeUint64, TypeDouble, TypeString, TypeObjectPath,
	TypeSignature, TypeVariant, TypeUnixFD,
}

// IsBasicCode reports whether c is one of the 14 recognized basic type codes.
func IsBasicCode(c TypeCode) bool {
	switch c {
	case TypeByte, TypeBoolean, TypeInt16, TypeUint16, TypeInt32,
		TypeUint32, TypeInt64, TypeUint64, TypeDouble, TypeString,
		TypeObjectPath, TypeSignature, TypeVariant, TypeUnixFD:
		return true
	}
	return false
}

// isDictKeyCode reports whether c may key a dict entry. The D-Bus grammar
// restricts keys to non-container basic types, which excludes variants.
func isDictKeyCode(c TypeCode) bool {
	return IsBasicCode(c) && c != TypeVariant
}

// SigNode is one node of a parsed D-Bus type signature tree.
type SigNode interface {
	// String returns the node's signature string; serializing a parsed
	// tree reproduces the original input.
	String() string

	sigNode()
}

// BasicNode is a leaf node holding one of the basic type codes. Variants
// are modeled as basic: they cannot be structurally iterated.
type BasicNode struct {
	Code TypeCode
}

func (n BasicNode) String() string { return string(byte(n.Code)) }
func (n BasicNode) sigNode()       {}

// ArrayNode is an array of a single element type.
type ArrayNode struct {
	Elem SigNode
}

func (n ArrayNode) String() string { return "a" + n.Elem.String() }
func (n ArrayNode) sigNode()       {}

// StructNode is an ordered, non-empty sequence of field types.
type StructNode struct {
	Fields []SigNode
}

func (n StructNode) String() string {
	var b strings.Builder
	b.WriteByte('(')
	for _, f := range n.Fields {
		b.WriteString(f.String())
	}
	b.WriteByte(')')
	return b.String()
}
func (n StructNode) sigNode() {}

// DictEntryNode is a key/value pair type; legal only as the element type
// of an ArrayNode.
type DictEntryNode struct {
	Key   BasicNode
	Value SigNode
}

func (n DictEntryNode) String() string {
	return "{" + n.Key.String() + n.Value.String() + "}"
}
func (n DictEntryNode) sigNode() {}

// SignatureString serializes an ordered sequence of nodes back into a
// signature string.
func SignatureString(nodes []SigNode) string {
	var b strings.Builder
	for _, n := range nodes {
		b.WriteString(n.String())
	}
	return b.String()
}

// ParseSignature parses a D-Bus signature string into its top-level ordered
// sequence of type nodes. The empty string parses to an empty sequence.
//
// Parsing rejects unknown type codes, unbalanced container delimiters,
// empty structs, dict entries outside arrays, signatures longer than 255
// bytes and nesting deeper than 64 levels.
func ParseSignature(s string) ([]SigNode, error) {
	if len(s) > maxSignatureLength {
		return nil, errors.New(ErrCodeSignatureParse,
			fmt.Sprintf("signature exceeds %d bytes: %d", maxSignatureLength, len(s)))
	}

	p := &sigParser{input: s}
	var nodes []SigNode
	for !p.eof() {
		n, err := p.parseSingle(0)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

// sigParser is a cursor over a signature string.
type sigParser struct {
	input string
	pos   int
}

func (p *sigParser) eof() bool { return p.pos >= len(p.input) }

func (p *sigParser) fail(reason string) error {
	return errors.New(ErrCodeSignatureParse,
		fmt.Sprintf("invalid signature %q at offset %d: %s", p.input, p.pos, reason))
}

// parseSingle consumes exactly one complete type starting at the cursor.
func (p *sigParser) parseSingle(depth int) (SigNode, error) {
	if depth > maxSignatureDepth {
		return nil, p.fail("container nesting too deep")
	}
	if p.eof() {
		return nil, p.fail("unexpected end of signature")
	}

	c := TypeCode(p.input[p.pos])
	p.pos++

	switch {
	case IsBasicCode(c):
		return BasicNode{Code: c}, nil

	case c == 'a':
		if !p.eof() && p.input[p.pos] == '{' {
			entry, err := p.parseDictEntry(depth + 1)
			if err != nil {
				return nil, err
			}
			return ArrayNode{Elem: entry}, nil
		}
		elem, err := p.parseSingle(depth + 1)
		if err != nil {
			return nil, err
		}
		return ArrayNode{Elem: elem}, nil

	case c == '(':
		var fields []SigNode
		for {
			if p.eof() {
				return nil, p.fail("unmatched '('")
			}
			if p.input[p.pos] == ')' {
				p.pos++
				break
			}
			f, err := p.parseSingle(depth + 1)
			if err != nil {
				return nil, err
			}
			fields = append(fields, f)
		}
		if len(fields) == 0 {
			return nil, p.fail("empty struct")
		}
		return StructNode{Fields: fields}, nil

	case c == '{':
		return nil, p.fail("dict entry outside array")

	case c == ')' || c == '}':
		return nil, p.fail(fmt.Sprintf("unbalanced '%c'", byte(c)))

	default:
		return nil, p.fail(fmt.Sprintf("unknown type code '%c'", byte(c)))
	}
}

// parseDictEntry consumes "{kv}" with the cursor on '{'.
func (p *sigParser) parseDictEntry(depth int) (DictEntryNode, error) {
	p.pos++ // consume '{'

	if p.eof() {
		return DictEntryNode{}, p.fail("unmatched '{'")
	}
	key := TypeCode(p.input[p.pos])
	if !isDictKeyCode(key) {
		return DictEntryNode{}, p.fail(fmt.Sprintf("dict key must be a basic type, got '%c'", byte(key)))
	}
	p.pos++

	value, err := p.parseSingle(depth + 1)
	if err != nil {
		return DictEntryNode{}, err
	}

	if p.eof() || p.input[p.pos] != '}' {
		return DictEntryNode{}, p.fail("unmatched '{'")
	}
	p.pos++ // consume '}'

	return DictEntryNode{Key: BasicNode{Code: key}, Value: value}, nil
}
