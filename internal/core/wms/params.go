package wms

import (
	"net/url"
	"strings"
	"unicode"
)

type param struct {
	key, value       string
	rawKey, rawValue string
	hasValue         bool
	dirty            bool
}

// Params is an ordered, case-insensitive view over a raw query string.
// Untouched parameters are re-encoded exactly as received.
type Params struct {
	list []param
}

// ParseParams splits a raw query string into ordered parameters. Pairs
// that fail to unescape are kept verbatim.
func ParseParams(raw string) *Params {
	p := &Params{}
	for _, part := range strings.Split(raw, "&") {
		if part == "" {
			continue
		}
		rk, rv, has := strings.Cut(part, "=")
		k, err := url.QueryUnescape(rk)
		if err != nil {
			k = rk
		}
		v, err := url.QueryUnescape(rv)
		if err != nil {
			v = rv
		}
		p.list = append(p.list, param{key: k, value: v, rawKey: rk, rawValue: rv, hasValue: has})
	}
	return p
}

func (p *Params) index(name string) int {
	for i := range p.list {
		if strings.EqualFold(p.list[i].key, name) {
			return i
		}
	}
	return -1
}

// Get returns the first value for name, matched case-insensitively.
func (p *Params) Get(name string) (string, bool) {
	if i := p.index(name); i >= 0 {
		return p.list[i].value, true
	}
	return "", false
}

// Value is Get with surrounding whitespace trimmed and absence folded to "".
func (p *Params) Value(name string) string {
	v, _ := p.Get(name)
	return strings.TrimSpace(v)
}

func (p *Params) Has(name string) bool { return p.index(name) >= 0 }

// Set replaces the first occurrence of name, dropping later duplicates, or
// appends it when absent. The original spelling of the key is kept.
func (p *Params) Set(name, value string) {
	i := p.index(name)
	if i < 0 {
		p.list = append(p.list, param{key: name, value: value, hasValue: true, dirty: true})
		return
	}
	p.list[i].value = value
	p.list[i].hasValue = true
	p.list[i].dirty = true
	p.dropAfter(i, name)
}

// SetDefault appends name=value only when name is absent.
func (p *Params) SetDefault(name, value string) {
	if !p.Has(name) {
		p.Set(name, value)
	}
}

// Rename moves the value of from to key to. When to is already present
// from is dropped and to keeps its value.
func (p *Params) Rename(from, to string) {
	i := p.index(from)
	if i < 0 {
		return
	}
	if p.Has(to) {
		p.Del(from)
		return
	}
	p.list[i].key = matchCase(p.list[i].key, to)
	p.list[i].dirty = true
	p.dropAfter(i, from)
}

func (p *Params) Del(name string) {
	out := p.list[:0]
	for _, e := range p.list {
		if !strings.EqualFold(e.key, name) {
			out = append(out, e)
		}
	}
	p.list = out
}

func (p *Params) dropAfter(i int, name string) {
	out := p.list[:i+1]
	for _, e := range p.list[i+1:] {
		if !strings.EqualFold(e.key, name) {
			out = append(out, e)
		}
	}
	p.list = out
}

func (p *Params) Len() int { return len(p.list) }

// Keys returns parameter names in order, as spelled by the caller.
func (p *Params) Keys() []string {
	out := make([]string, len(p.list))
	for i, e := range p.list {
		out[i] = e.key
	}
	return out
}

func (p *Params) Clone() *Params {
	cp := &Params{list: make([]param, len(p.list))}
	copy(cp.list, p.list)
	return cp
}

// Encode renders the parameters back into a query string.
func (p *Params) Encode() string {
	var b strings.Builder
	for i, e := range p.list {
		if i > 0 {
			b.WriteByte('&')
		}
		if !e.dirty {
			b.WriteString(e.rawKey)
			if e.hasValue {
				b.WriteByte('=')
				b.WriteString(e.rawValue)
			}
			continue
		}
		b.WriteString(url.QueryEscape(e.key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(e.value))
	}
	return b.String()
}

// matchCase spells name in upper case when like is all upper case.
func matchCase(like, name string) string {
	hasLetter := false
	for _, r := range like {
		if unicode.IsLetter(r) {
			hasLetter = true
			if !unicode.IsUpper(r) {
				return name
			}
		}
	}
	if !hasLetter {
		return name
	}
	return strings.ToUpper(name)
}
