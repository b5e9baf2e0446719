package arangostore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigValidateRequiresURLUsernameDatabase(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"missing url", Config{Username: "root", Database: "hcc"}, false},
		{"missing username", Config{URL: "http://localhost:8529", Database: "hcc"}, false},
		{"missing database", Config{URL: "http://localhost:8529", Username: "root"}, false},
		{"complete", Config{URL: "http://localhost:8529", Username: "root", Database: "hcc"}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestMakeKeyIsDeterministicAndDistinguishesInputs(t *testing.T) {
	a := makeKey("skill", "take key", "uncertain")
	b := makeKey("skill", "take key", "uncertain")
	c := makeKey("skill", "take key", "confident_unlocked")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 16)
}
