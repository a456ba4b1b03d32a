package irc

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestChooseMechanism(t *testing.T) {
	assert.Equal(t, mechPlain, chooseMechanism(""))
	assert.Equal(t, mechPlain, chooseMechanism("PLAIN,EXTERNAL"))
	assert.Equal(t, mechSCRAMSHA256, chooseMechanism("PLAIN,SCRAM-SHA-256"))
	assert.Equal(t, mechSCRAMSHA512, chooseMechanism("scram-sha-512,plain"))
	assert.Equal(t, true, offersMechanism("", mechPlain))
	assert.Equal(t, false, offersMechanism("SCRAM-SHA-256", mechPlain))
}

func TestSCRAMRejectsForeignNonce(t *testing.T) {
	s, err := newSCRAM(mechSCRAMSHA256, "user", "pencil", "abc")
	assert.Equal(t, nil, err)
	s.clientFirst()

	_, err = s.clientFinal("r=xyz123,s=W22ZaJ0SNY7soEsUEjb6gQ==,i=4096")
	assert.NotEqual(t, nil, err)
	_, err = s.clientFinal("r=abc,s=W22ZaJ0SNY7soEsUEjb6gQ==,i=4096")
	assert.NotEqual(t, nil, err)
	_, err = s.clientFinal("e=invalid-proof")
	assert.NotEqual(t, nil, err)
}

func TestSCRAMEscapesUsername(t *testing.T) {
	s, err := newSCRAM(mechSCRAMSHA512, "a=b,c", "pw", "n0nce")
	assert.Equal(t, nil, err)
	assert.Equal(t, "n,,n=a=3Db=2Cc,r=n0nce", s.clientFirst())

	_, err = newSCRAM("DIGEST-MD5", "a", "b", "c")
	assert.NotEqual(t, nil, err)
}
