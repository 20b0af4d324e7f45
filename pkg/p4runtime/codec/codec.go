// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2022-2023 Intel Corporation, or its subsidiaries.
// Copyright (C) 2023 Nordix Foundation.

// Package codec converts typed match and action values into the fixed-width
// byte strings carried by P4Runtime messages.
package codec

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"net"
	"strings"
)

var (
	// ErrValueOutOfRange is returned when a value does not fit the declared bit width
	ErrValueOutOfRange = errors.New("value out of range")
	// ErrInvalidWidth is returned for non positive bit widths
	ErrInvalidWidth = errors.New("invalid bit width")
	// ErrInvalidEncoding is returned when a byte string is not a valid encoding for a width
	ErrInvalidEncoding = errors.New("invalid encoding")
	// ErrInvalidValue is returned when a string cannot be parsed into a value
	ErrInvalidValue = errors.New("invalid value")
)

// Value is a non-negative integer of arbitrary size. The zero Value is 0.
type Value struct {
	n *big.Int
}

// Uint builds a value from an unsigned integer
func Uint(v uint64) Value {
	return Value{n: new(big.Int).SetUint64(v)}
}

// FromBig builds a value from a big integer, negative numbers are rejected
func FromBig(v *big.Int) (Value, error) {
	if v == nil {
		return Value{}, nil
	}
	if v.Sign() < 0 {
		return Value{}, fmt.Errorf("%w: negative value %s", ErrValueOutOfRange, v)
	}
	return Value{n: new(big.Int).Set(v)}, nil
}

// FromBytes interprets b as a big-endian unsigned integer
func FromBytes(b []byte) Value {
	return Value{n: new(big.Int).SetBytes(b)}
}

// IP builds a value from an IP address, IPv4 addresses are taken as 32 bit numbers
func IP(ip net.IP) Value {
	if v4 := ip.To4(); v4 != nil {
		return FromBytes(v4)
	}
	return FromBytes(ip.To16())
}

// MAC builds a value from a hardware address
func MAC(mac net.HardwareAddr) Value {
	return FromBytes(mac)
}

// Parse reads a value written as an IP address, a MAC address, a 0x prefixed
// hex number or a decimal number.
func Parse(s string) (Value, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Value{}, fmt.Errorf("%w: empty string", ErrInvalidValue)
	}
	if ip := net.ParseIP(s); ip != nil {
		return IP(ip), nil
	}
	if strings.Count(s, ":") == 5 || strings.Count(s, "-") == 5 {
		if mac, err := net.ParseMAC(s); err == nil {
			return MAC(mac), nil
		}
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		digits := s[2:]
		if len(digits)%2 == 1 {
			digits = "0" + digits
		}
		b, err := hex.DecodeString(digits)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %q: %v", ErrInvalidValue, s, err)
		}
		return FromBytes(b), nil
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Value{}, fmt.Errorf("%w: %q", ErrInvalidValue, s)
	}
	return FromBig(n)
}

// MustParse is Parse for constants known to be valid
func MustParse(s string) Value {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

func (v Value) int() *big.Int {
	if v.n == nil {
		return new(big.Int)
	}
	return v.n
}

// Big returns a copy of the value as a big integer
func (v Value) Big() *big.Int {
	return new(big.Int).Set(v.int())
}

// BitLen is the minimum number of bits needed to represent the value
func (v Value) BitLen() int {
	return v.int().BitLen()
}

// IsZero reports whether the value is 0
func (v Value) IsZero() bool {
	return v.int().Sign() == 0
}

// Cmp compares two values and returns -1, 0 or +1
func (v Value) Cmp(o Value) int {
	return v.int().Cmp(o.int())
}

// And returns the bitwise and of two values
func (v Value) And(o Value) Value {
	return Value{n: new(big.Int).And(v.int(), o.int())}
}

// Equal reports whether two values hold the same number
func (v Value) Equal(o Value) bool {
	return v.Cmp(o) == 0
}

func (v Value) String() string {
	return "0x" + v.int().Text(16)
}

// ByteWidth is the number of bytes used on the wire for a field of the given bit width
func ByteWidth(bitwidth int32) int {
	return int((bitwidth + 7) / 8)
}

// Encode writes v as exactly ceil(bitwidth/8) bytes, most significant byte first.
// Values wider than bitwidth are rejected, never truncated.
func Encode(v Value, bitwidth int32) ([]byte, error) {
	if bitwidth <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidWidth, bitwidth)
	}
	if v.BitLen() > int(bitwidth) {
		return nil, fmt.Errorf("%w: %s needs %d bits, field is %d bits", ErrValueOutOfRange, v, v.BitLen(), bitwidth)
	}
	return v.int().FillBytes(make([]byte, ByteWidth(bitwidth))), nil
}

// Decode reads a fixed-width big-endian encoding produced by Encode
func Decode(b []byte, bitwidth int32) (Value, error) {
	if bitwidth <= 0 {
		return Value{}, fmt.Errorf("%w: %d", ErrInvalidWidth, bitwidth)
	}
	if len(b) != ByteWidth(bitwidth) {
		return Value{}, fmt.Errorf("%w: %d bytes for a %d bit field, want %d", ErrInvalidEncoding, len(b), bitwidth, ByteWidth(bitwidth))
	}
	v := FromBytes(b)
	if v.BitLen() > int(bitwidth) {
		return Value{}, fmt.Errorf("%w: bits set above bit %d", ErrValueOutOfRange, bitwidth)
	}
	return v, nil
}

// AllOnes is the value with the low bitwidth bits set
func AllOnes(bitwidth int32) Value {
	if bitwidth <= 0 {
		return Value{}
	}
	n := new(big.Int).Lsh(big.NewInt(1), uint(bitwidth))
	return Value{n: n.Sub(n, big.NewInt(1))}
}

// PrefixMask is the mask of the prefixLen most significant bits of a bitwidth wide field
func PrefixMask(prefixLen, bitwidth int32) Value {
	if prefixLen <= 0 {
		return Value{}
	}
	if prefixLen >= bitwidth {
		return AllOnes(bitwidth)
	}
	host := AllOnes(bitwidth - prefixLen)
	return Value{n: new(big.Int).Xor(AllOnes(bitwidth).int(), host.int())}
}
