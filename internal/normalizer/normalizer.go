// Package normalizer converts raw remote-record fields into canonical,
// JSON-safe values. Both the sync worker and the polling scheduler call this
// exact code; there is deliberately no second implementation anywhere.
//
// Every output value is one of: string, float64, bool, nil, []any,
// map[string]any. Nothing here ever returns a time.Time or any other type
// that would need a second conversion before hitting the wire.
package normalizer

import (
	"fmt"
	"strings"
	"time"

	"github.com/prudhvinik1/crmsync/internal/models"
)

// Normalizer holds the one piece of configuration normalization needs: the
// fallback owner identity. Everything else is stateless.
type Normalizer struct {
	defaultOwner models.Owner
}

func New(defaultOwner models.Owner) *Normalizer {
	return &Normalizer{defaultOwner: defaultOwner}
}

// phone-like field names, matched as substrings, case-insensitive
var phoneFieldHints = []string{"phone", "mobile", "fax"}

// accepted input layouts, tried in order
var datetimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05-0700",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// NormalizeRecord maps every field of a raw remote record to its canonical
// form. It never fails: unparseable phones become nil, unknown shapes pass
// through untouched. Running it on its own output is a no-op.
func (n *Normalizer) NormalizeRecord(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for name, value := range fields {
		out[name] = n.normalizeField(name, value)
	}
	return out
}

func (n *Normalizer) normalizeField(name string, value any) any {
	switch v := value.(type) {
	case string:
		if isPhoneField(name) {
			if e164, ok := E164(v); ok {
				return e164
			}
			return nil
		}
		if iso, ok := ISO8601(v); ok {
			return iso
		}
		return v
	case []any:
		return Picklist(v)
	case map[string]any:
		if isOwnerField(name) {
			return ownerToMap(n.OwnerFromMap(v))
		}
		return n.NormalizeRecord(v)
	default:
		// numbers and bools are already canonical
		return v
	}
}

// E164 canonicalizes a phone number to E.164. Formatting characters are
// stripped, an international 00 prefix becomes +, and bare digit strings of
// plausible international length are accepted. Anything ambiguous (such as a
// national 10-digit number with no country hint) reports false.
func E164(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", false
	}

	hasPlus := strings.HasPrefix(s, "+")
	var digits strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits.WriteRune(r)
		case r == '+' || r == ' ' || r == '-' || r == '.' || r == '(' || r == ')':
			// formatting noise
		default:
			return "", false
		}
	}

	d := digits.String()
	if !hasPlus && strings.HasPrefix(d, "00") {
		d = d[2:]
		hasPlus = true
	}
	if !hasPlus && len(d) >= 11 {
		hasPlus = true
	}
	if !hasPlus {
		return "", false
	}
	if len(d) < 8 || len(d) > 15 || d[0] == '0' {
		return "", false
	}
	return "+" + d, true
}

// ISO8601 reports whether raw parses as a datetime and, if so, returns it
// formatted as an ISO-8601 string with explicit UTC offset. Already-RFC3339
// input round-trips unchanged.
func ISO8601(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if len(s) < 8 {
		return "", false
	}
	for _, layout := range datetimeLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		return t.Format(time.RFC3339), true
	}
	return "", false
}

// Picklist converts a multi-select value into an ordered list of strings.
// The result is never nil: no selection means an empty list.
func Picklist(values []any) []any {
	out := make([]any, 0, len(values))
	for _, v := range values {
		switch s := v.(type) {
		case string:
			out = append(out, s)
		case map[string]any:
			// some providers wrap options as {"name": "..."}
			if name, ok := s["name"].(string); ok {
				out = append(out, name)
				continue
			}
			out = append(out, fmt.Sprintf("%v", v))
		default:
			out = append(out, fmt.Sprintf("%v", v))
		}
	}
	return out
}

// OwnerFromMap extracts the {id, name, email} owner identity from a raw
// owner/actor sub-object, filling in the configured default when fields are
// missing. Owner is never left empty if a default is configured.
func (n *Normalizer) OwnerFromMap(raw map[string]any) models.Owner {
	owner := n.defaultOwner
	if raw == nil {
		return owner
	}
	if id := stringField(raw, "id"); id != "" {
		owner.ID = id
	}
	if name := stringField(raw, "name", "full_name"); name != "" {
		owner.Name = name
	}
	if email := stringField(raw, "email"); email != "" {
		owner.Email = email
	}
	return owner
}

// ExtractOwner pulls the owner out of a full record payload, checking the
// usual wrapper keys, with the configured default as fallback.
func (n *Normalizer) ExtractOwner(fields map[string]any) models.Owner {
	for _, key := range []string{"Owner", "owner", "user"} {
		if raw, ok := fields[key].(map[string]any); ok {
			return n.OwnerFromMap(raw)
		}
	}
	return n.defaultOwner
}

func isPhoneField(name string) bool {
	lower := strings.ToLower(name)
	for _, hint := range phoneFieldHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

func isOwnerField(name string) bool {
	lower := strings.ToLower(name)
	return lower == "owner" || lower == "user" || lower == "created_by" || lower == "modified_by"
}

func ownerToMap(o models.Owner) map[string]any {
	return map[string]any{
		"id":    o.ID,
		"name":  o.Name,
		"email": o.Email,
	}
}

func stringField(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
