package irc

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"fmt"
	"hash"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/pbkdf2"
)

// SASL mechanisms in order of preference
const (
	mechSCRAMSHA256 = "SCRAM-SHA-256"
	mechSCRAMSHA512 = "SCRAM-SHA-512"
	mechPlain       = "PLAIN"
)

var preferredMechs = []string{mechSCRAMSHA256, mechSCRAMSHA512}

// gs2 header without channel binding or authorization identity
const gs2Header = "n,,"

// scram runs the client side of one SCRAM exchange (RFC 5802)
type scram struct {
	hash  func() hash.Hash
	user  string
	pass  string
	nonce string

	clientFirstBare string
	serverKey       []byte
	authMessage     string
}

func newSCRAM(mechanism, user, pass, nonce string) (*scram, error) {
	s := &scram{user: user, pass: pass, nonce: nonce}
	switch mechanism {
	case mechSCRAMSHA256:
		s.hash = sha256.New
	case mechSCRAMSHA512:
		s.hash = sha512.New
	default:
		return nil, fmt.Errorf("unsupported mechanism %s", mechanism)
	}
	return s, nil
}

func newNonce() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// clientFirst returns the first client message
func (s *scram) clientFirst() string {
	s.clientFirstBare = "n=" + escapeSASLName(s.user) + ",r=" + s.nonce
	return gs2Header + s.clientFirstBare
}

// clientFinal answers the server-first message with the client proof
func (s *scram) clientFinal(serverFirst string) (string, error) {
	attrs := parseSCRAM(serverFirst)
	if e, ok := attrs["e"]; ok {
		return "", fmt.Errorf("server error: %s", e)
	}
	nonce := attrs["r"]
	if !strings.HasPrefix(nonce, s.nonce) || len(nonce) == len(s.nonce) {
		return "", errors.New("invalid server nonce")
	}
	salt, err := base64.StdEncoding.DecodeString(attrs["s"])
	if err != nil || len(salt) == 0 {
		return "", errors.New("invalid salt")
	}
	iterations, err := strconv.Atoi(attrs["i"])
	if err != nil || iterations <= 0 {
		return "", errors.New("invalid iteration count")
	}

	salted := pbkdf2.Key([]byte(s.pass), salt, iterations, s.hash().Size(), s.hash)
	clientKey := s.hmac(salted, "Client Key")
	h := s.hash()
	h.Write(clientKey)
	storedKey := h.Sum(nil)
	s.serverKey = s.hmac(salted, "Server Key")

	withoutProof := "c=" + base64.StdEncoding.EncodeToString([]byte(gs2Header)) + ",r=" + nonce
	s.authMessage = s.clientFirstBare + "," + serverFirst + "," + withoutProof

	proof := s.hmac(storedKey, s.authMessage)
	for i := range proof {
		proof[i] ^= clientKey[i]
	}
	return withoutProof + ",p=" + base64.StdEncoding.EncodeToString(proof), nil
}

// verify checks the server signature of the server-final message
func (s *scram) verify(serverFinal string) error {
	attrs := parseSCRAM(serverFinal)
	if e, ok := attrs["e"]; ok {
		return fmt.Errorf("server error: %s", e)
	}
	got, err := base64.StdEncoding.DecodeString(attrs["v"])
	if err != nil || s.serverKey == nil {
		return errors.New("invalid server signature")
	}
	if !hmac.Equal(got, s.hmac(s.serverKey, s.authMessage)) {
		return errors.New("server signature mismatch")
	}
	return nil
}

func (s *scram) hmac(key []byte, data string) []byte {
	mac := hmac.New(s.hash, key)
	mac.Write([]byte(data))
	return mac.Sum(nil)
}

func parseSCRAM(msg string) map[string]string {
	attrs := make(map[string]string)
	for _, part := range strings.Split(msg, ",") {
		if len(part) >= 2 && part[1] == '=' {
			attrs[part[:1]] = part[2:]
		}
	}
	return attrs
}

func escapeSASLName(name string) string {
	return strings.NewReplacer("=", "=3D", ",", "=2C").Replace(name)
}

// chooseMechanism picks the strongest offered mechanism. offered is the
// value of the sasl capability and may be empty when the server does not
// list its mechanisms.
func chooseMechanism(offered string) string {
	if offered == "" {
		return mechPlain
	}
	listed := strings.Split(strings.ToUpper(offered), ",")
	for _, want := range preferredMechs {
		for _, m := range listed {
			if m == want {
				return want
			}
		}
	}
	return mechPlain
}

// offersMechanism reports whether mechanism may be tried against offered
func offersMechanism(offered, mechanism string) bool {
	if offered == "" {
		return true
	}
	for _, m := range strings.Split(strings.ToUpper(offered), ",") {
		if m == mechanism {
			return true
		}
	}
	return false
}
