// Package hashing produces stable content fingerprints and idempotency keys.
package hashing

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// UnknownType is used as the type hint when the caller does not provide one.
const UnknownType = "unknown"

// ErrUnhashable is returned when a payload has no canonical JSON form.
var ErrUnhashable = errors.New("payload is not serializable")

// Hash returns the lowercase hex SHA-256 of the canonical form of
// {"__type__": typeHint, "payload": payload}. Object keys are sorted at every
// depth so logically equal payloads hash identically regardless of key order.
func Hash(payload any, typeHint string) (string, error) {
	canonical, err := Canonicalize(payload, typeHint)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// MustHash is Hash for inputs known to be serializable.
func MustHash(payload any, typeHint string) string {
	h, err := Hash(payload, typeHint)
	if err != nil {
		panic(err)
	}
	return h
}

// Canonicalize returns the exact bytes that Hash digests.
func Canonicalize(payload any, typeHint string) ([]byte, error) {
	if typeHint == "" {
		typeHint = UnknownType
	}

	tree, err := normalize(payload)
	if err != nil {
		return nil, err
	}

	envelope := map[string]any{
		"__type__": typeHint,
		"payload":  tree,
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnhashable, err)
	}
	// Encoder always terminates with a newline
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// normalize converts payload into a generic JSON tree (maps, slices, strings,
// json.Number, bools, nil). encoding/json sorts map keys on output, which
// makes struct field order irrelevant once the value has been round-tripped.
func normalize(payload any) (any, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnhashable, err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnhashable, err)
	}
	return tree, nil
}

// IdempotencyKey joins an operation and entity into "{operation}-{entityID}".
func IdempotencyKey(entityID, operation string) string {
	return operation + "-" + entityID
}
