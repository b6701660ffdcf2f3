package ruleengine

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strconv"
)

// ComputeHash returns the deterministic, content-addressed digest of one
// evaluation: a SHA-256 over a canonical JSON envelope of the rule identity
// and version, the context data with lexicographically sorted keys, and the
// context timestamp truncated to unix seconds, rendered as lowercase hex.
//
// The digest never depends on map iteration order, locale, or float
// formatting: values serialize through the same canonicalization the
// evaluator compares with. Identical inputs always produce identical
// digests; changing any context value changes the digest.
func (e *Evaluator) ComputeHash(rule Rule, ctx EvaluationContext) string {
	return ComputeHash(rule.ID, rule.Version, ctx.Data, ctx.Timestamp.Unix())
}

// ComputeHash is the standalone form used when no Evaluator is at hand.
func ComputeHash(ruleID string, ruleVersion int, data map[string]Value, unixSeconds int64) string {
	// The envelope is assembled by hand so field order is fixed regardless
	// of how encoding/json would order struct fields in future refactors.
	var buf bytes.Buffer
	buf.WriteString(`{"ruleId":`)
	writeJSONString(&buf, ruleID)
	buf.WriteString(`,"ruleVersion":`)
	buf.WriteString(strconv.Itoa(ruleVersion))
	buf.WriteString(`,"context":{`)

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeJSONString(&buf, k)
		buf.WriteByte(':')
		// Value.MarshalJSON is canonical and cannot fail.
		b, _ := data[k].MarshalJSON()
		buf.Write(b)
	}

	buf.WriteString(`},"timestamp":`)
	buf.WriteString(strconv.FormatInt(unixSeconds, 10))
	buf.WriteByte('}')

	sum := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:])
}

func writeJSONString(buf *bytes.Buffer, s string) {
	b, _ := json.Marshal(s)
	buf.Write(b)
}
