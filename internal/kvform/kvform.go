// Package kvform implements the key:value newline encoding used for
// direct (non-redirect) OpenID exchanges.
package kvform

import (
	"fmt"
	"strings"

	"github.com/apex/log"
)

// Pair is one ordered key/value entry.
type Pair struct {
	Key   string
	Value string
}

// Encode serializes pairs as "key:value\n" lines, preserving order.
// A colon or newline in a key, or a newline in a value, fails the whole
// encode; no partial output is ever produced.
func Encode(pairs []Pair) (string, error) {
	var b strings.Builder
	for _, p := range pairs {
		if strings.ContainsRune(p.Key, ':') {
			return "", fmt.Errorf("kvform: %q in key %q", ":", p.Key)
		}
		if strings.ContainsRune(p.Key, '\n') {
			return "", fmt.Errorf("kvform: newline in key %q", p.Key)
		}
		if strings.ContainsRune(p.Value, '\n') {
			return "", fmt.Errorf("kvform: newline in value for key %q", p.Key)
		}
		b.WriteString(p.Key)
		b.WriteByte(':')
		b.WriteString(p.Value)
		b.WriteByte('\n')
	}
	return b.String(), nil
}

// EncodeMap serializes m with keys in first-seen order of the order
// slice. Keys absent from m are skipped.
func EncodeMap(order []string, m map[string]string) (string, error) {
	pairs := make([]Pair, 0, len(order))
	for _, k := range order {
		if v, ok := m[k]; ok {
			pairs = append(pairs, Pair{Key: k, Value: v})
		}
	}
	return Encode(pairs)
}

// Decode parses a KV string into ordered pairs. It is deliberately
// tolerant of non-canonical input: a missing trailing newline,
// colonless lines, and whitespace around keys or values are accepted
// but logged, since peers in the wild produce all three. A duplicate
// key keeps its first position and its last value.
func Decode(s string) []Pair {
	if s == "" {
		return nil
	}

	lines := strings.Split(s, "\n")
	last := lines[len(lines)-1]
	if last == "" {
		lines = lines[:len(lines)-1]
	} else {
		log.Warnf("kvform: no newline at end of kv string %q", s)
	}

	var pairs []Pair
	index := make(map[string]int)

	for lineno, line := range lines {
		colon := strings.IndexByte(line, ':')
		if colon < 0 {
			log.Warnf("kvform: no colon on line %d: %q", lineno, line)
			continue
		}

		key := line[:colon]
		if tkey := strings.TrimSpace(key); tkey != key {
			log.Warnf("kvform: whitespace in key on line %d: %q", lineno, key)
			key = tkey
		}

		value := line[colon+1:]
		if tval := strings.TrimSpace(value); tval != value {
			log.Warnf("kvform: whitespace in value on line %d: %q", lineno, value)
			value = tval
		}

		if at, seen := index[key]; seen {
			pairs[at].Value = value
			continue
		}
		index[key] = len(pairs)
		pairs = append(pairs, Pair{Key: key, Value: value})
	}
	return pairs
}

// ToMap flattens pairs into a map. Later pairs win, matching Decode's
// duplicate-key rule.
func ToMap(pairs []Pair) map[string]string {
	m := make(map[string]string, len(pairs))
	for _, p := range pairs {
		m[p.Key] = p.Value
	}
	return m
}

// DecodeMap is Decode followed by ToMap.
func DecodeMap(s string) map[string]string {
	return ToMap(Decode(s))
}
