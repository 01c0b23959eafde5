package jid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want JID
	}{
		{"domain only", "example.org", JID{domain: "example.org"}},
		{"bare", "user@example.org", JID{local: "user", domain: "example.org"}},
		{"full", "user@example.org/phone", JID{local: "user", domain: "example.org", resource: "phone"}},
		{"case folded", "User@Example.ORG/Phone", JID{local: "user", domain: "example.org", resource: "Phone"}},
		{"trailing dot", "user@example.org.", JID{local: "user", domain: "example.org"}},
		{"slash in resource", "room@muc.example.org/nick/with/slash", JID{local: "room", domain: "muc.example.org", resource: "nick/with/slash"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, in := range []string{
		"",
		"@example.org",
		"user@",
		"user@example.org/",
		"us er@example.org",
		"a<b@example.org",
		"\xff@example.org",
	} {
		t.Run(in, func(t *testing.T) {
			_, err := Parse(in)
			assert.Error(t, err)
		})
	}
}

func TestParseBare(t *testing.T) {
	j, err := ParseBare("user@example.org")
	require.NoError(t, err)
	assert.True(t, j.IsBare())

	_, err = ParseBare("user@example.org/res")
	assert.ErrorIs(t, err, ErrNotBare)
}

func TestJID_String(t *testing.T) {
	assert.Equal(t, "user@example.org/res", MustParse("user@example.org/res").String())
	assert.Equal(t, "example.org", MustParse("example.org").String())
	assert.Equal(t, "", JID{}.String())
}

func TestJID_Bare(t *testing.T) {
	full := MustParse("room@muc.example.org/nick")
	assert.Equal(t, MustParse("room@muc.example.org"), full.Bare())
	assert.Equal(t, full, full.Bare().WithResource("nick"))
}

func TestJID_EqualAfterNormalization(t *testing.T) {
	a := MustParse("ÜSER@example.org")
	b := MustParse("üser@EXAMPLE.org")
	assert.Equal(t, a, b)

	m := map[JID]int{a: 1}
	assert.Equal(t, 1, m[b])
}

func TestJID_KeepsSharpS(t *testing.T) {
	a := MustParse("STRAẞE@example.org")
	assert.Equal(t, "straße", a.Local())
	assert.NotEqual(t, MustParse("strasse@example.org"), a)
}

func TestJID_Accessors(t *testing.T) {
	j := MustParse("User@Example.org/Phone")
	assert.Equal(t, "user", j.Local())
	assert.Equal(t, "example.org", j.Domain())
	assert.Equal(t, "Phone", j.Resource())
	assert.Equal(t, "", j.Bare().Resource())
}

func TestJID_TextRoundTrip(t *testing.T) {
	var j JID
	require.NoError(t, j.UnmarshalText([]byte("User@Example.org")))
	text, err := j.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "user@example.org", string(text))
}
