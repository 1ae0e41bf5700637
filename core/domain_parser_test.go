package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainParser_Parse(t *testing.T) {
	p, err := NewDomainParser(16)
	require.NoError(t, err)

	tests := []struct {
		host     string
		wantRoot string
		wantFQDN string
		noTLD    bool
	}{
		{host: "www.example.com", wantRoot: "example.com", wantFQDN: "www.example.com"},
		{host: "Mail.Example.CO.UK.", wantRoot: "example.co.uk", wantFQDN: "mail.example.co.uk"},
		{host: "example.com", wantRoot: "example.com", wantFQDN: "example.com"},
		{host: "192.168.1.10", noTLD: true},
		{host: "2001:db8::1", noTLD: true},
		{host: "intranet", noTLD: true},
		{host: "com", noTLD: true},
		{host: "", noTLD: true},
	}

	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			root, fqdn, err := p.Parse(tt.host)
			if tt.noTLD {
				assert.True(t, errors.Is(err, ErrNoTLD), "expected ErrNoTLD, got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantRoot, root)
			assert.Equal(t, tt.wantFQDN, fqdn)
		})
	}
}

func TestDomainParser_CachesResults(t *testing.T) {
	p, err := NewDomainParser(2)
	require.NoError(t, err)

	root1, _, err1 := p.Parse("a.example.org")
	root2, _, err2 := p.Parse("A.EXAMPLE.ORG")
	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, root1, root2)
	assert.Equal(t, 1, p.cache.Len())
}

func TestIsIPv4(t *testing.T) {
	assert.True(t, IsIPv4("10.0.0.1"))
	assert.False(t, IsIPv4("::ffff:10.0.0.1"))
	assert.False(t, IsIPv4("2001:db8::1"))
	assert.True(t, IsIP("[2001:db8::1]"))
	assert.False(t, IsIP("example.com"))
}
