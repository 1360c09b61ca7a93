package tokenauth

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrMissingClaim is returned when a required claim is missing
	ErrMissingClaim = errors.New("missing required claim")

	// ErrInvalidClaimType is returned when a claim has an unexpected type
	ErrInvalidClaimType = errors.New("invalid claim type")
)

// ClaimKind identifies which variant a ClaimValue holds
type ClaimKind int

const (
	KindNull ClaimKind = iota
	KindString
	KindNumber
	KindBool
	KindStringList
	KindList
	KindMap
)

// String returns the kind's name
func (k ClaimKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindStringList:
		return "string list"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ClaimValue is a decoded claim. Exactly one variant is populated, selected by Kind.
// Use the As* methods to narrow it; they fail with ErrInvalidClaimType on a shape mismatch.
type ClaimValue struct {
	kind ClaimKind
	str  string
	num  float64
	b    bool
	strs []string
	list []ClaimValue
	m    map[string]ClaimValue
}

// NewClaimValue converts a JSON-decoded value into a ClaimValue
func NewClaimValue(raw any) ClaimValue {
	switch v := raw.(type) {
	case nil:
		return ClaimValue{kind: KindNull}
	case ClaimValue:
		return v
	case string:
		return ClaimValue{kind: KindString, str: v}
	case bool:
		return ClaimValue{kind: KindBool, b: v}
	case float64:
		return ClaimValue{kind: KindNumber, num: v}
	case float32:
		return ClaimValue{kind: KindNumber, num: float64(v)}
	case int:
		return ClaimValue{kind: KindNumber, num: float64(v)}
	case int64:
		return ClaimValue{kind: KindNumber, num: float64(v)}
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return ClaimValue{kind: KindString, str: v.String()}
		}
		return ClaimValue{kind: KindNumber, num: f}
	case []string:
		return ClaimValue{kind: KindStringList, strs: append([]string(nil), v...)}
	case []any:
		return newListValue(v)
	case map[string]any:
		m := make(map[string]ClaimValue, len(v))
		for name, item := range v {
			m[name] = NewClaimValue(item)
		}
		return ClaimValue{kind: KindMap, m: m}
	default:
		// Round-trip anything else through JSON so it lands on a known variant
		data, err := json.Marshal(v)
		if err != nil {
			return ClaimValue{kind: KindString, str: fmt.Sprint(v)}
		}
		var generic any
		if err := json.Unmarshal(data, &generic); err != nil {
			return ClaimValue{kind: KindString, str: string(data)}
		}
		return NewClaimValue(generic)
	}
}

// newListValue keeps all-string arrays in the StringList variant
func newListValue(items []any) ClaimValue {
	strs := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			list := make([]ClaimValue, len(items))
			for i, it := range items {
				list[i] = NewClaimValue(it)
			}
			return ClaimValue{kind: KindList, list: list}
		}
		strs = append(strs, s)
	}
	return ClaimValue{kind: KindStringList, strs: strs}
}

// Kind returns the variant held by v
func (v ClaimValue) Kind() ClaimKind {
	return v.kind
}

// IsNull reports whether the claim was JSON null
func (v ClaimValue) IsNull() bool {
	return v.kind == KindNull
}

func (v ClaimValue) mismatch(want ClaimKind) error {
	return fmt.Errorf("%w: want %s, got %s", ErrInvalidClaimType, want, v.kind)
}

// AsString narrows v to a string
func (v ClaimValue) AsString() (string, error) {
	if v.kind != KindString {
		return "", v.mismatch(KindString)
	}
	return v.str, nil
}

// AsNumber narrows v to a number
func (v ClaimValue) AsNumber() (float64, error) {
	if v.kind != KindNumber {
		return 0, v.mismatch(KindNumber)
	}
	return v.num, nil
}

// AsInt64 narrows v to an integral number
func (v ClaimValue) AsInt64() (int64, error) {
	n, err := v.AsNumber()
	if err != nil {
		return 0, err
	}
	if n != math.Trunc(n) || n > math.MaxInt64 || n < math.MinInt64 {
		return 0, fmt.Errorf("%w: %v is not an integer", ErrInvalidClaimType, n)
	}
	return int64(n), nil
}

// AsBool narrows v to a boolean
func (v ClaimValue) AsBool() (bool, error) {
	if v.kind != KindBool {
		return false, v.mismatch(KindBool)
	}
	return v.b, nil
}

// AsStringList narrows v to a list of strings
func (v ClaimValue) AsStringList() ([]string, error) {
	if v.kind != KindStringList {
		return nil, v.mismatch(KindStringList)
	}
	return append([]string(nil), v.strs...), nil
}

// AsList narrows v to a list of claim values. String lists are accepted.
func (v ClaimValue) AsList() ([]ClaimValue, error) {
	switch v.kind {
	case KindList:
		return append([]ClaimValue(nil), v.list...), nil
	case KindStringList:
		list := make([]ClaimValue, len(v.strs))
		for i, s := range v.strs {
			list[i] = ClaimValue{kind: KindString, str: s}
		}
		return list, nil
	default:
		return nil, v.mismatch(KindList)
	}
}

// AsMap narrows v to a nested claim set
func (v ClaimValue) AsMap() (Claims, error) {
	if v.kind != KindMap {
		return nil, v.mismatch(KindMap)
	}
	out := make(Claims, len(v.m))
	for name, item := range v.m {
		out[name] = item
	}
	return out, nil
}

// AsUUID narrows v to a UUID encoded as a string
func (v ClaimValue) AsUUID() (uuid.UUID, error) {
	s, err := v.AsString()
	if err != nil {
		return uuid.Nil, err
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidClaimType, err)
	}
	return id, nil
}

// AsTime narrows v to a NumericDate (seconds since the epoch)
func (v ClaimValue) AsTime() (time.Time, error) {
	n, err := v.AsNumber()
	if err != nil {
		return time.Time{}, err
	}
	sec, frac := math.Modf(n)
	return time.Unix(int64(sec), int64(frac*1e9)), nil
}

// Interface returns v as plain Go values, the way encoding/json would decode it
func (v ClaimValue) Interface() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return v.num
	case KindBool:
		return v.b
	case KindStringList:
		out := make([]any, len(v.strs))
		for i, s := range v.strs {
			out[i] = s
		}
		return out
	case KindList:
		out := make([]any, len(v.list))
		for i, item := range v.list {
			out[i] = item.Interface()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.m))
		for name, item := range v.m {
			out[name] = item.Interface()
		}
		return out
	default:
		return nil
	}
}

// MarshalJSON implements json.Marshaler
func (v ClaimValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

// UnmarshalJSON implements json.Unmarshaler
func (v *ClaimValue) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = NewClaimValue(raw)
	return nil
}

// Claims is the full claim set of a token keyed by claim name
type Claims map[string]ClaimValue

// NewClaims converts a JSON-decoded claim set
func NewClaims(raw map[string]any) Claims {
	claims := make(Claims, len(raw))
	for name, value := range raw {
		claims[name] = NewClaimValue(value)
	}
	return claims
}

// Get returns the named claim
func (c Claims) Get(name string) (ClaimValue, bool) {
	v, ok := c[name]
	return v, ok
}

// Has reports whether the named claim is present
func (c Claims) Has(name string) bool {
	_, ok := c[name]
	return ok
}

func (c Claims) require(name string) (ClaimValue, error) {
	v, ok := c[name]
	if !ok {
		return ClaimValue{}, fmt.Errorf("%w: %s", ErrMissingClaim, name)
	}
	return v, nil
}

// GetString returns a required string claim
func (c Claims) GetString(name string) (string, error) {
	v, err := c.require(name)
	if err != nil {
		return "", err
	}
	s, err := v.AsString()
	if err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}
	return s, nil
}

// GetStringList returns a required string-list claim
func (c Claims) GetStringList(name string) ([]string, error) {
	v, err := c.require(name)
	if err != nil {
		return nil, err
	}
	list, err := v.AsStringList()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return list, nil
}

// GetMap returns a required nested claim set
func (c Claims) GetMap(name string) (Claims, error) {
	v, err := c.require(name)
	if err != nil {
		return nil, err
	}
	m, err := v.AsMap()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return m, nil
}

// Decode unmarshals the claim set into a caller-defined struct
func (c Claims) Decode(out any) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode claims: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidClaimType, err)
	}
	return nil
}
