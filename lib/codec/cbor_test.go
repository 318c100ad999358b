// Copyright 2026 The Tether Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

func TestMarshalDeterministic(t *testing.T) {
	value := map[string]any{
		"zebra":  1,
		"apple":  2,
		"murmur": 3,
	}
	first, err := Marshal(value)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := Marshal(value)
		if err != nil {
			t.Fatalf("Marshal() error = %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("encoding %d differs: %x vs %x", i, first, again)
		}
	}
}

func TestUnmarshalIgnoresUnknownFields(t *testing.T) {
	type v2 struct {
		Name  string `cbor:"name"`
		Extra string `cbor:"extra"`
	}
	type v1 struct {
		Name string `cbor:"name"`
	}

	data, err := Marshal(v2{Name: "tether", Extra: "future field"})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var decoded v1
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if decoded.Name != "tether" {
		t.Errorf("Name = %q, want %q", decoded.Name, "tether")
	}
}

func TestUnmarshalAnyUsesStringKeyedMaps(t *testing.T) {
	data, err := Marshal(map[string]int{"count": 3})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var decoded any
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	asMap, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("decoded type = %T, want map[string]any", decoded)
	}
	if asMap["count"] != uint64(3) && asMap["count"] != int64(3) {
		t.Errorf("count = %v (%T)", asMap["count"], asMap["count"])
	}
}

func TestStreamEncoderDecoder(t *testing.T) {
	type record struct {
		ID   int    `cbor:"id"`
		Name string `cbor:"name"`
	}

	var stream bytes.Buffer
	encoder := NewEncoder(&stream)
	for i := 1; i <= 3; i++ {
		if err := encoder.Encode(record{ID: i, Name: "entry"}); err != nil {
			t.Fatalf("Encode() error = %v", err)
		}
	}

	decoder := NewDecoder(&stream)
	for i := 1; i <= 3; i++ {
		var decoded record
		if err := decoder.Decode(&decoded); err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		if decoded.ID != i {
			t.Errorf("ID = %d, want %d", decoded.ID, i)
		}
	}
}
