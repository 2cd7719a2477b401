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

package bodyreader

import (
	"strings"
	"testing"
)

func TestMultipartBasicTwoFields(t *testing.T) {
	boundary := "X-BOUNDARY"
	body := "--" + boundary + "\r\n" +
		"Content-Disposition: form-data; name=\"a\"\r\n" +
		"\r\n" +
		"hello\r\n" +
		"--" + boundary + "\r\n" +
		"Content-Disposition: form-data; name=\"b\"\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"world\r\n" +
		"--" + boundary + "--\r\n"

	var completedNames []string
	mp := NewMultipart(boundary, Events{
		FieldCompleted: func(name string) { completedNames = append(completedNames, name) },
	})
	if err := mp.Write([]byte(body)); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if !mp.IsComplete() {
		t.Fatal("expected complete")
	}
	if mp.HasFailed() {
		t.Fatal("unexpected failure")
	}
	if got := mp.FieldNames(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("got field names %v", got)
	}
	av, err := mp.Field("a").Value()
	if err != nil || string(av) != "hello" {
		t.Fatalf("field a = %q, err=%v", av, err)
	}
	bv, err := mp.Field("b").Value()
	if err != nil || string(bv) != "world" {
		t.Fatalf("field b = %q, err=%v", bv, err)
	}
	if mp.Field("b").MIMEType != "text/plain" {
		t.Fatalf("got mime %q", mp.Field("b").MIMEType)
	}
	if len(completedNames) != 2 {
		t.Fatalf("expected 2 completions, got %v", completedNames)
	}
}

func TestMultipartByteAtATime(t *testing.T) {
	boundary := "B"
	body := "--" + boundary + "\r\n" +
		"Content-Disposition: form-data; name=\"f\"\r\n\r\n" +
		"0123456789" +
		"\r\n--" + boundary + "--\r\n"
	mp := NewMultipart(boundary, Events{})
	for i := 0; i < len(body); i++ {
		if err := mp.Write([]byte{body[i]}); err != nil {
			t.Fatalf("write failed at byte %d: %v", i, err)
		}
	}
	if !mp.IsComplete() {
		t.Fatal("expected complete")
	}
	v, _ := mp.Field("f").Value()
	if string(v) != "0123456789" {
		t.Fatalf("got %q", v)
	}
}

func TestMultipartBadFirstLineFails(t *testing.T) {
	mp := NewMultipart("B", Events{})
	err := mp.Write([]byte("not-the-boundary\r\n"))
	_ = err
	if !mp.HasFailed() {
		t.Fatal("expected failure on bad first line")
	}
}

func TestURLEncodedBasic(t *testing.T) {
	u := NewURLEncoded("", Events{})
	if err := u.Write([]byte("a=1&b=hello%20world&")); err != nil {
		t.Fatal(err)
	}
	if err := u.Write([]byte("c=3")); err != nil {
		t.Fatal(err)
	}
	if err := u.Close(); err != nil {
		t.Fatal(err)
	}
	if !u.IsComplete() {
		t.Fatal("expected complete")
	}
	checks := map[string]string{"a": "1", "b": "hello world", "c": "3"}
	for k, want := range checks {
		f := u.Field(k)
		if f == nil {
			t.Fatalf("missing field %q", k)
		}
		v, _ := f.Value()
		if string(v) != want {
			t.Errorf("field %q = %q, want %q", k, v, want)
		}
	}
	if u.Field("a").MIMEType != "text/plain; charset=utf-8" {
		t.Fatalf("got mime %q", u.Field("a").MIMEType)
	}
}

func TestURLEncodedPrematureEOFFails(t *testing.T) {
	u := NewURLEncoded("", Events{})
	if err := u.Write([]byte("a")); err != nil {
		t.Fatal(err)
	}
	if err := u.Close(); err == nil {
		t.Fatal("expected failure: key without '=' at EOF")
	}
	if !u.HasFailed() {
		t.Fatal("expected HasFailed() true")
	}
}

func TestURLEncodedEmptyBodyCompletesWithZeroFields(t *testing.T) {
	u := NewURLEncoded("", Events{})
	if err := u.Close(); err != nil {
		t.Fatal(err)
	}
	if !u.IsComplete() || len(u.FieldNames()) != 0 {
		t.Fatal("expected complete, zero fields")
	}
}

func TestURLEncodedSplitAcrossWrites(t *testing.T) {
	u := NewURLEncoded("", Events{})
	full := "name=" + strings.Repeat("z", 50)
	for i := 0; i < len(full); i++ {
		if err := u.Write([]byte{full[i]}); err != nil {
			t.Fatal(err)
		}
	}
	if err := u.Close(); err != nil {
		t.Fatal(err)
	}
	v, _ := u.Field("name").Value()
	if string(v) != strings.Repeat("z", 50) {
		t.Fatalf("got len %d", len(v))
	}
}
