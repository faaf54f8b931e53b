package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatCompanyName(t *testing.T) {
	cases := []struct {
		name     string
		expected string
	}{
		{"Acme Corp.", "acme"},
		{"Acme Holdings Limited", "acme"},
		{"Saudi Aramco Base Oil Co.", "saudi aramco base oil"},
		{"B&M European Value Retail S.A.", "b m european value retail"},
		{"  Tokyo  Metro  Co., Ltd.  ", "tokyo metro"},
		{"Group", "group"}, // a lone suffix is still a name
		{"", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.expected, FormatCompanyName(tc.name), "input %q", tc.name)
	}
}

func TestNormalizeWhitespace(t *testing.T) {
	assert.Equal(t, "a b c", NormalizeWhitespace("a  b\t\nc"))
	assert.Equal(t, "", NormalizeWhitespace("     "))
}

func TestSameTicker(t *testing.T) {
	assert.True(t, SameTicker("acme", "ACME"))
	assert.True(t, SameTicker(" 0700 ", "700"))
	assert.False(t, SameTicker("ACME", "ACMX"))
	assert.False(t, SameTicker("", ""))
	assert.False(t, SameTicker("0", "00")) // zero-only codes reduce to empty
}
