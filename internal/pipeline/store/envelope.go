// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"encoding/json"
	"time"
)

// envelope is the on-disk form for backends without native version columns.
type envelope struct {
	Value     json.RawMessage `json:"v"`
	Version   int64           `json:"ver"`
	UpdatedAt int64           `json:"ts"`
}

func wrap(it Item) ([]byte, error) {
	return json.Marshal(envelope{Value: it.Value, Version: it.Version, UpdatedAt: it.UpdatedAt.UnixMilli()})
}

func unwrap(pk, sk string, raw []byte) (Item, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Item{}, err
	}
	return Item{PK: pk, SK: sk, Value: env.Value, Version: env.Version, UpdatedAt: time.UnixMilli(env.UpdatedAt).UTC()}, nil
}
