// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

type storedEntry struct {
	Key      string   `cbor:"key"`
	HitCount int64    `cbor:"hit_count"`
	Sources  []string `cbor:"sources,omitempty"`
}

type sharedShape struct {
	ModelID string  `json:"modelId"`
	CostUSD float64 `json:"costUsd"`
}

func TestMarshalDeterministic(t *testing.T) {
	t.Parallel()

	entry := storedEntry{Key: "ab12", HitCount: 3, Sources: []string{"v1", "v2"}}
	first, err := Marshal(entry)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	second, err := Marshal(entry)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Errorf("encoding not deterministic: %x != %x", first, second)
	}

	var decoded storedEntry
	if err := Unmarshal(first, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Key != entry.Key || decoded.HitCount != entry.HitCount || len(decoded.Sources) != 2 {
		t.Errorf("decoded %+v, want %+v", decoded, entry)
	}
}

func TestJSONTagFallback(t *testing.T) {
	t.Parallel()

	data, err := Marshal(sharedShape{ModelID: "gpt-4o-mini", CostUSD: 0.002})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var generic map[string]any
	if err := Unmarshal(data, &generic); err != nil {
		t.Fatalf("Unmarshal into map: %v", err)
	}
	if generic["modelId"] != "gpt-4o-mini" {
		t.Errorf("modelId = %v, want gpt-4o-mini (json tag used as CBOR key)", generic["modelId"])
	}
}

func TestUnknownFieldsIgnored(t *testing.T) {
	t.Parallel()

	type newer struct {
		Key   string `cbor:"key"`
		Extra string `cbor:"extra"`
	}
	data, err := Marshal(newer{Key: "k", Extra: "future"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var older storedEntry
	if err := Unmarshal(data, &older); err != nil {
		t.Fatalf("Unmarshal with unknown field: %v", err)
	}
	if older.Key != "k" {
		t.Errorf("Key = %q, want k", older.Key)
	}
}
