// buffer_test.go: Uninitialized buffer tests
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package shared

import (
	"testing"
	"unsafe"
)

func TestCreateInplaceUninitializedBuffer(t *testing.T) {
	ta := NewTestAllocator("buffer")

	buf, err := CreateInplaceUninitializedBuffer(100, ta)
	if err != nil {
		t.Fatalf("CreateInplaceUninitializedBuffer failed: %v", err)
	}
	if !buf.HasValue() {
		t.Fatal("Buffer should be engaged")
	}
	if ta.BlocksInUse() != 1 {
		t.Errorf("Header and bytes should share one block, got %d blocks", ta.BlocksInUse())
	}
	if ta.BytesInUse() < 100 {
		t.Errorf("Block should hold at least 100 bytes, got %d", ta.BytesInUse())
	}

	data := BufferBytes(buf)
	if len(data) != 100 {
		t.Fatalf("Expected 100 bytes, got %d", len(data))
	}
	if &data[0] != buf.Get() {
		t.Error("Ptr should point at the first byte of the region")
	}
	for i := range data {
		data[i] = byte(i)
	}

	c := buf.Clone()
	buf.Reset()
	if got := BufferBytes(c); got[99] != 99 {
		t.Error("Clone should see the same bytes")
	}
	c.Reset()

	if err := ta.Verify(); err != nil {
		t.Errorf("Buffer leaked: %v", err)
	}
}

func TestCreateInplaceUninitializedBuffer_Alias(t *testing.T) {
	buf, err := CreateInplaceUninitializedBuffer(16, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer buf.Reset()

	data := BufferBytes(buf)
	tail := Alias(buf, &data[10])
	defer tail.Reset()

	if got := len(BufferBytes(tail)); got != 6 {
		t.Errorf("Alias at offset 10 should see 6 bytes, got %d", got)
	}
	if buf.NumReferences() != 2 {
		t.Errorf("Expected 2 references, got %d", buf.NumReferences())
	}
}

func TestCreateInplaceUninitializedBuffer_ZeroSize(t *testing.T) {
	ta := NewTestAllocator("buffer-zero")
	buf, err := CreateInplaceUninitializedBuffer(0, ta)
	if err != nil {
		t.Fatalf("Zero-size buffer failed: %v", err)
	}
	if buf.IsEmpty() {
		t.Error("Zero-size buffer should still hold a representation")
	}
	if len(BufferBytes(buf)) != 0 {
		t.Error("Zero-size buffer should have an empty region")
	}
	buf.Reset()
	if err := ta.Verify(); err != nil {
		t.Errorf("Zero-size buffer leaked: %v", err)
	}
}

func TestCreateInplaceUninitializedBuffer_Negative(t *testing.T) {
	ta := NewTestAllocator("buffer-negative")
	buf, err := CreateInplaceUninitializedBuffer(-1, ta)
	if err == nil {
		t.Fatal("Expected error for negative size")
	}
	assertErrorCode(t, err, ErrCodeInvalidBufferSize)
	if !buf.IsEmpty() {
		t.Error("Failed allocation should return an empty Ptr")
	}
	if ta.Stats().TotalBlocks != 0 {
		t.Error("Negative size must not allocate")
	}
}

func TestBufferBytes_NotABuffer(t *testing.T) {
	b := CreateInplaceValue[byte](nil, 7)
	defer b.Reset()
	if BufferBytes(b) != nil {
		t.Error("BufferBytes should return nil for a non-buffer Ptr")
	}
	if BufferBytes(Ptr[byte]{}) != nil {
		t.Error("BufferBytes should return nil for an empty Ptr")
	}
}

func TestBufferBlockLayout(t *testing.T) {
	blockType, offset := bufferBlockType(32)
	if offset < unsafe.Sizeof(bufferHeader{}) {
		t.Errorf("Data offset %d overlaps the header", offset)
	}
	if blockType.Size() < offset+32 {
		t.Errorf("Block of %d bytes cannot hold 32 bytes at offset %d", blockType.Size(), offset)
	}
}

func TestBufferSizeClasses(t *testing.T) {
	cases := map[int]int{0: 0, 1: 1, 2: 2, 3: 4, 33: 64, 64: 64, 65: 128, 1000: 1024}
	for size, want := range cases {
		if got := bufferSizeClass(size); got != want {
			t.Errorf("bufferSizeClass(%d) = %d, want %d", size, got, want)
		}
	}

	a, _ := bufferBlockType(33)
	b, _ := bufferBlockType(64)
	if a != b {
		t.Error("Sizes in one class should share a block type")
	}
	c, _ := bufferBlockType(65)
	if a == c {
		t.Error("Sizes in different classes should not share a block type")
	}
}

func TestCreateInplaceUninitializedBuffer_ExactLength(t *testing.T) {
	ta := NewTestAllocator("buffer-class")
	buf, err := CreateInplaceUninitializedBuffer(33, ta)
	if err != nil {
		t.Fatal(err)
	}
	if got := len(BufferBytes(buf)); got != 33 {
		t.Errorf("Region should expose the requested 33 bytes, got %d", got)
	}
	if ta.BytesInUse() < 64 {
		t.Errorf("Block should be sized by its class, got %d bytes", ta.BytesInUse())
	}
	buf.Reset()
	if err := ta.Verify(); err != nil {
		t.Errorf("Buffer leaked: %v", err)
	}
}
