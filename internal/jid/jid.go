// Package jid parses and normalizes chat addresses of the form
// local@domain/resource.
//
// Local and domain parts are lower cased so that two spellings of the same
// address intern to the same key. Lower casing keeps characters such as ß
// that a full case fold would expand. The resource is only NFC normalized:
// it is case sensitive.
package jid

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// maxPartLen is the maximum length in bytes of each address part.
const maxPartLen = 1023

// forbiddenLocal lists characters that may not appear in a local part.
const forbiddenLocal = "\"&'/:<>@ "

var (
	// ErrEmpty is returned when parsing an empty address.
	ErrEmpty = errors.New("empty address")

	// ErrNotBare is returned by ParseBare when the address carries a resource.
	ErrNotBare = errors.New("address is not bare")
)

// JID is a parsed, normalized address. The zero value is the empty address.
// JID is comparable and can be used as a map key. Values other than the zero
// value are built by Parse, ParseBare or MustParse.
type JID struct {
	local    string
	domain   string
	resource string
}

// Parse parses and normalizes s.
func Parse(s string) (JID, error) {
	if s == "" {
		return JID{}, ErrEmpty
	}
	if !utf8.ValidString(s) {
		return JID{}, fmt.Errorf("parse %q: invalid utf-8", s)
	}

	var j JID
	rest := s
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		j.resource = rest[i+1:]
		rest = rest[:i]
		if j.resource == "" {
			return JID{}, fmt.Errorf("parse %q: empty resource", s)
		}
	}
	if i := strings.LastIndexByte(rest, '@'); i >= 0 {
		j.local = rest[:i]
		rest = rest[i+1:]
		if j.local == "" {
			return JID{}, fmt.Errorf("parse %q: empty local part", s)
		}
	}
	j.domain = strings.TrimSuffix(rest, ".")

	j = normalize(j)
	if err := j.validate(); err != nil {
		return JID{}, fmt.Errorf("parse %q: %w", s, err)
	}
	return j, nil
}

// ParseBare parses s and fails with ErrNotBare when s has a resource.
func ParseBare(s string) (JID, error) {
	j, err := Parse(s)
	if err != nil {
		return JID{}, err
	}
	if !j.IsBare() {
		return JID{}, fmt.Errorf("parse %q: %w", s, ErrNotBare)
	}
	return j, nil
}

// MustParse is like Parse but panics on error. Intended for tests and
// constants.
func MustParse(s string) JID {
	j, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return j
}

func normalize(j JID) JID {
	lower := cases.Lower(language.Und)
	j.local = norm.NFC.String(lower.String(j.local))
	j.domain = norm.NFC.String(lower.String(j.domain))
	j.resource = norm.NFC.String(j.resource)
	return j
}

func (j JID) validate() error {
	if j.domain == "" {
		return errors.New("empty domain")
	}
	if len(j.domain) > maxPartLen {
		return errors.New("domain too long")
	}
	if strings.ContainsAny(j.domain, "@/ ") {
		return errors.New("invalid character in domain")
	}
	if len(j.local) > maxPartLen {
		return errors.New("local part too long")
	}
	if strings.ContainsAny(j.local, forbiddenLocal) {
		return errors.New("invalid character in local part")
	}
	if len(j.resource) > maxPartLen {
		return errors.New("resource too long")
	}
	return nil
}

// Local returns the local part, empty for a domain address.
func (j JID) Local() string { return j.local }

// Domain returns the domain part.
func (j JID) Domain() string { return j.domain }

// Resource returns the resource, empty for a bare address.
func (j JID) Resource() string { return j.resource }

// IsZero reports whether j is the empty address.
func (j JID) IsZero() bool {
	return j == JID{}
}

// IsBare reports whether j has no resource.
func (j JID) IsBare() bool {
	return j.resource == ""
}

// Bare returns j without its resource.
func (j JID) Bare() JID {
	j.resource = ""
	return j
}

// WithResource returns a copy of j with the given resource.
func (j JID) WithResource(resource string) JID {
	j.resource = norm.NFC.String(resource)
	return j
}

// String returns the canonical string form.
func (j JID) String() string {
	if j.IsZero() {
		return ""
	}
	var b strings.Builder
	if j.local != "" {
		b.WriteString(j.local)
		b.WriteByte('@')
	}
	b.WriteString(j.domain)
	if j.resource != "" {
		b.WriteByte('/')
		b.WriteString(j.resource)
	}
	return b.String()
}

// MarshalText implements encoding.TextMarshaler.
func (j JID) MarshalText() ([]byte, error) {
	return []byte(j.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (j *JID) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*j = JID{}
		return nil
	}
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*j = parsed
	return nil
}
