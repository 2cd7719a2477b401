// Copyright 2015 Matthew Holt and The Caddy Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tempbuffer

import (
	"bytes"
	"testing"
)

func TestInMemoryRoundTrip(t *testing.T) {
	b := New(DefaultThreshold)
	if _, err := b.Write([]byte("hello ")); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Write([]byte("world")); err != nil {
		t.Fatal(err)
	}
	got, err := b.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte("hello world")) {
		t.Fatalf("got %q", got)
	}
	if b.Size() != 11 {
		t.Fatalf("size = %d, want 11", b.Size())
	}
}

func TestSpillsToDisk(t *testing.T) {
	b := New(8)
	payload := bytes.Repeat([]byte("x"), 100)
	if _, err := b.Write(payload); err != nil {
		t.Fatal(err)
	}
	if !b.onDisk {
		t.Fatal("expected buffer to have spilled to disk")
	}
	got, err := b.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("round trip through disk spill did not match")
	}
}

func TestWriteAfterDiscardFails(t *testing.T) {
	b := New(DefaultThreshold)
	if err := b.Discard(); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Write([]byte("x")); err == nil {
		t.Fatal("expected write-after-discard error")
	}
}

func TestResetReusesBacking(t *testing.T) {
	b := New(4)
	b.Write([]byte("abcdefgh"))
	if !b.onDisk {
		t.Fatal("expected spill")
	}
	if err := b.Reset(); err != nil {
		t.Fatal(err)
	}
	if b.Size() != 0 {
		t.Fatalf("size after reset = %d", b.Size())
	}
	b.Write([]byte("zz"))
	got, _ := b.ReadAll()
	if !bytes.Equal(got, []byte("zz")) {
		t.Fatalf("got %q", got)
	}
}
