package tactile

import (
	"math/rand"
	"testing"
)

// crcRef is a bit-at-a-time CRC-16/CCITT-FALSE used to cross-check the table driven one.
func crcRef(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

func TestChecksumKnownVectors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want uint16
	}{
		{"check", []byte("123456789"), 0x29B1},
		{"empty", nil, 0xFFFF},
		{"single_zero", []byte{0x00}, 0xE1F0},
		{"header", []byte{0xAA, 0xAA, 0xAA}, crcRef([]byte{0xAA, 0xAA, 0xAA})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Checksum(tt.data); got != tt.want {
				t.Fatalf("Checksum(% X) = 0x%04X, want 0x%04X", tt.data, got, tt.want)
			}
		})
	}
}

func TestChecksumMatchesReference(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		data := make([]byte, r.Intn(300))
		r.Read(data)
		if got, want := Checksum(data), crcRef(data); got != want {
			t.Fatalf("len=%d: got 0x%04X want 0x%04X", len(data), got, want)
		}
	}
}
