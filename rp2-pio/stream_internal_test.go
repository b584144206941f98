package pio

import (
	"bytes"
	"testing"
)

func TestTransferWord(t *testing.T) {
	tests := []struct {
		name string
		tr   Transfer
		want []uint32
	}{
		{"bytes", Transfer{Buf: []byte{0x12, 0xab}, Stride: 1}, []uint32{0x12121212, 0xabababab}},
		{"halfwords", Transfer{Buf: []byte{0x34, 0x12}, Stride: 2}, []uint32{0x12341234}},
		{"halfwords swapped", Transfer{Buf: []byte{0x34, 0x12}, Stride: 2, Swap: true}, []uint32{0x34123412}},
		{"words", Transfer{Buf: []byte{1, 2, 3, 4}, Stride: 4}, []uint32{0x04030201}},
		{"words swapped", Transfer{Buf: []byte{1, 2, 3, 4}, Stride: 4, Swap: true}, []uint32{0x01020304}},
	}
	for _, tc := range tests {
		if n := tc.tr.Len(); n != len(tc.want) {
			t.Fatalf("%s: Len() = %d", tc.name, n)
		}
		for i, want := range tc.want {
			if got := tc.tr.Word(i); got != want {
				t.Errorf("%s[%d]: got %#08x, want %#08x", tc.name, i, got, want)
			}
		}
	}
}

func TestTransferStore(t *testing.T) {
	tests := []struct {
		name string
		tr   Transfer
		word uint32
		want []byte
	}{
		{"byte lane 0", Transfer{Buf: make([]byte, 1), Stride: 1}, 0xaabbccdd, []byte{0xdd}},
		{"byte lane 3", Transfer{Buf: make([]byte, 1), Stride: 1, Lane: 3}, 0xaabbccdd, []byte{0xaa}},
		{"halfword lane 2", Transfer{Buf: make([]byte, 2), Stride: 2, Lane: 2}, 0xaabbccdd, []byte{0xbb, 0xaa}},
		{"halfword swapped", Transfer{Buf: make([]byte, 2), Stride: 2, Swap: true}, 0x1234, []byte{0x12, 0x34}},
		{"word", Transfer{Buf: make([]byte, 4), Stride: 4}, 0x04030201, []byte{1, 2, 3, 4}},
	}
	for _, tc := range tests {
		tc.tr.Store(0, tc.word)
		if !bytes.Equal(tc.tr.Buf, tc.want) {
			t.Errorf("%s: got % x, want % x", tc.name, tc.tr.Buf, tc.want)
		}
	}
}

func TestOptionsBounds(t *testing.T) {
	tests := []struct {
		o          Options
		n          int
		start, end int
	}{
		{Options{}, 10, 0, 10},
		{Options{Start: 2}, 10, 2, 10},
		{Options{Start: 2, End: 5}, 10, 2, 5},
		{Options{End: -1}, 10, 0, 9},
		{Options{Start: -3}, 10, 7, 10},
		{Options{Start: 8, End: 4}, 10, 4, 4},
		{Options{Start: 20, End: 30}, 10, 10, 10},
		{Options{End: -20}, 10, 0, 0},
		{Options{}, 0, 0, 0},
	}
	for _, tc := range tests {
		start, end := tc.o.bounds(tc.n)
		if start != tc.start || end != tc.end {
			t.Errorf("%+v over %d: got [%d:%d], want [%d:%d]", tc.o, tc.n, start, end, tc.start, tc.end)
		}
	}
}

func TestBufferValidate(t *testing.T) {
	tests := []struct {
		b  Buffer
		ok bool
	}{
		{Buffer{Data: make([]byte, 3)}, true},
		{Bytes(make([]byte, 3)), true},
		{Buffer{Data: make([]byte, 3), Stride: 2}, false},
		{Buffer{Data: make([]byte, 4), Stride: 3}, false},
		{Words(make([]uint32, 2)), true},
		{Halfwords(nil), true},
	}
	for _, tc := range tests {
		if err := tc.b.validate(); (err == nil) != tc.ok {
			t.Errorf("%d bytes stride %d: got %v", len(tc.b.Data), tc.b.Stride, err)
		}
	}
	if n := Halfwords(make([]uint16, 3)).Len(); n != 3 {
		t.Errorf("Halfwords Len() = %d", n)
	}
}

func TestPathPick(t *testing.T) {
	a, b, c := []byte("a"), []byte("b"), []byte("c")
	tests := []struct {
		name              string
		once, loop, loop2 []byte
		want              string
	}{
		{"once", a, nil, nil, "a"},
		{"once loop", a, b, nil, "abbbb"},
		{"once loop loop2", a, b, c, "abcbc"},
		{"loop2 only", nil, nil, c, "cccc"},
		{"loop loop2", nil, b, c, "bcbcb"},
	}
	for _, tc := range tests {
		p := path{once: tc.once, loop: tc.loop, loop2: tc.loop2}
		if p.once != nil {
			p.pending++
		}
		if p.loop != nil || p.loop2 != nil {
			p.pending++
		}
		var got []byte
		for i := 0; i < len(tc.want); i++ {
			buf := p.pick()
			if buf == nil {
				break
			}
			got = append(got, buf...)
		}
		if string(got) != tc.want {
			t.Errorf("%s: got %q, want %q", tc.name, got, tc.want)
		}
		if p.pending != 0 {
			t.Errorf("%s: %d buffers still pending", tc.name, p.pending)
		}
		if tc.loop == nil && tc.loop2 == nil && p.pick() != nil {
			t.Errorf("%s: once buffer picked twice", tc.name)
		}
	}
}
