// Package normalize flattens raw CRM payloads into deterministic text for embedding.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/hubmind/crmcache/internal/models"
)

// MaxTextLen bounds the normalized text so embedding cost stays bounded even
// for pathologically long inputs (e.g. long email threads).
const MaxTextLen = 2000

// headLen and tailLen control deterministic truncation: the first headLen and
// last tailLen characters are kept, joined by a marker.
const (
	headLen = 1600
	tailLen = 300
)

// fieldOrder lists the semantically meaningful fields per source type, in the
// fixed order they are emitted. Stability of this order is what makes the
// content hash stable across runs.
var fieldOrder = map[models.SourceType][]string{
	models.SourceContact:    {"firstname", "lastname", "email", "company", "jobtitle", "phone", "lifecyclestage"},
	models.SourceCompany:    {"name", "domain", "industry", "city", "country", "description"},
	models.SourceEngagement: {"type", "subject", "body", "outcome", "notes"},
}

// Normalize converts a raw CRM payload into a flat text representation.
// It is a pure function: identical input always produces identical output.
func Normalize(raw json.RawMessage, sourceType models.SourceType) (string, error) {
	if !sourceType.Valid() {
		return "", fmt.Errorf("unknown source type: %q", sourceType)
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("parse payload: %w", err)
	}

	var text string
	if sourceType == models.SourceConversationThread {
		text = normalizeThread(payload)
	} else {
		text = normalizeFlat(payload, fieldOrder[sourceType])
	}
	if text == "" {
		return "", fmt.Errorf("payload has no normalizable fields")
	}
	return Truncate(text), nil
}

// normalizeFlat emits the named fields in order, then any remaining scalar
// fields sorted by key so unrecognized properties still contribute.
func normalizeFlat(payload map[string]interface{}, order []string) string {
	props := properties(payload)
	var parts []string
	seen := make(map[string]bool, len(order))
	for _, key := range order {
		seen[key] = true
		if v := scalarString(props[key]); v != "" {
			parts = append(parts, v)
		}
	}
	rest := make([]string, 0, len(props))
	for key := range props {
		if !seen[key] && key != "id" && key != "hs_object_id" {
			rest = append(rest, key)
		}
	}
	sort.Strings(rest)
	for _, key := range rest {
		if v := scalarString(props[key]); v != "" {
			parts = append(parts, key+": "+v)
		}
	}
	return strings.Join(parts, ", ")
}

// normalizeThread flattens a conversation thread: subject first, then each
// message as "sender: body" in stored order.
func normalizeThread(payload map[string]interface{}) string {
	var parts []string
	if subj := scalarString(payload["subject"]); subj != "" {
		parts = append(parts, subj)
	}
	msgs, _ := payload["messages"].([]interface{})
	for _, m := range msgs {
		msg, ok := m.(map[string]interface{})
		if !ok {
			continue
		}
		sender := scalarString(msg["from"])
		if sender == "" {
			sender = scalarString(msg["sender"])
		}
		body := scalarString(msg["text"])
		if body == "" {
			body = scalarString(msg["body"])
		}
		if body == "" {
			continue
		}
		if sender != "" {
			parts = append(parts, sender+": "+body)
		} else {
			parts = append(parts, body)
		}
	}
	return strings.Join(parts, "\n")
}

// properties returns the HubSpot-style nested "properties" map when present,
// otherwise the payload itself.
func properties(payload map[string]interface{}) map[string]interface{} {
	if nested, ok := payload["properties"].(map[string]interface{}); ok {
		return nested
	}
	return payload
}

func scalarString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case float64:
		if s == float64(int64(s)) {
			return fmt.Sprintf("%d", int64(s))
		}
		return fmt.Sprintf("%g", s)
	case bool:
		return fmt.Sprintf("%t", s)
	default:
		return ""
	}
}

// Truncate bounds text to MaxTextLen characters, keeping the first headLen and
// last tailLen so repeated runs over the same input are stable. Cut points
// back off to rune boundaries so the output stays valid UTF-8.
func Truncate(text string) string {
	if len(text) <= MaxTextLen {
		return text
	}
	head := headLen
	for head > 0 && !utf8.RuneStart(text[head]) {
		head--
	}
	tail := len(text) - tailLen
	for tail < len(text) && !utf8.RuneStart(text[tail]) {
		tail++
	}
	return text[:head] + " [...] " + text[tail:]
}

// ContentHash returns the deterministic digest of normalized text, used as the
// embedding-cache key and the de-duplication key.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// RecordID derives the stable record identifier from the payload's native id.
// Sub-objects carrying a sequence marker (e.g. a single conversation message)
// get it appended so they remain unique within their thread. Payloads without
// a native id fall back to a digest of the raw bytes, which is still stable
// for identical fetches.
func RecordID(raw json.RawMessage, sourceType models.SourceType) (string, error) {
	if !sourceType.Valid() {
		return "", fmt.Errorf("unknown source type: %q", sourceType)
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("parse payload: %w", err)
	}
	native := scalarString(payload["id"])
	if native == "" {
		native = scalarString(payload["hs_object_id"])
	}
	if native == "" {
		if props, ok := payload["properties"].(map[string]interface{}); ok {
			native = scalarString(props["hs_object_id"])
		}
	}
	if native == "" {
		sum := sha256.Sum256(raw)
		native = hex.EncodeToString(sum[:8])
	}
	id := string(sourceType) + ":" + native
	if seq := scalarString(payload["sequence"]); seq != "" {
		id += ":" + seq
	}
	return id, nil
}
