package mqttclient

import (
	"crypto/hmac"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scramServer is the server half of a SCRAM exchange, enough to check the
// client against.
type scramServer struct {
	hash       SCRAMHash
	keys       scramKeys
	salt       []byte
	iterations int

	clientFirstBare string
	serverFirst     string
}

func newSCRAMServer(h SCRAMHash, password string) *scramServer {
	salt := []byte("mqtt-salt")
	return &scramServer{
		hash:       h,
		keys:       deriveSCRAMKeys(h, password, salt, minSCRAMIterations),
		salt:       salt,
		iterations: minSCRAMIterations,
	}
}

func (s *scramServer) first(clientFirst string) string {
	s.clientFirstBare = strings.TrimPrefix(clientFirst, "n,,")
	nonce := parseSCRAMAttributes(s.clientFirstBare)['r'] + "server"
	s.serverFirst = "r=" + nonce + ",s=" + base64.StdEncoding.EncodeToString(s.salt) + ",i=4096"
	return s.serverFirst
}

func (s *scramServer) final(clientFinal string) (string, bool) {
	withoutProof := clientFinal[:strings.LastIndex(clientFinal, ",p=")]
	authMessage := s.clientFirstBare + "," + s.serverFirst + "," + withoutProof

	proof, err := base64.StdEncoding.DecodeString(parseSCRAMAttributes(clientFinal)['p'])
	if err != nil {
		return "", false
	}
	signature := scramHMAC(s.hash, s.keys.storedKey, authMessage)
	if len(proof) != len(signature) {
		return "", false
	}
	clientKey := make([]byte, len(proof))
	for i := range proof {
		clientKey[i] = proof[i] ^ signature[i]
	}
	sum := s.hash.hashFunc()()
	sum.Write(clientKey)
	if !hmac.Equal(sum.Sum(nil), s.keys.storedKey) {
		return "e=invalid-proof", false
	}
	return "v=" + base64.StdEncoding.EncodeToString(scramHMAC(s.hash, s.keys.serverKey, authMessage)), true
}

func TestSCRAMAuthenticator(t *testing.T) {
	for _, h := range []SCRAMHash{SCRAMHashSHA256, SCRAMHashSHA512} {
		t.Run(h.String(), func(t *testing.T) {
			server := newSCRAMServer(h, "secret")
			a := NewSCRAMAuthenticator(h, "alice", "secret")
			assert.Equal(t, h.String(), a.Method())

			first, err := a.InitialData()
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(string(first), "n,,n=alice,r="))

			final, err := a.Continue([]byte(server.first(string(first))))
			require.NoError(t, err)

			serverFinal, ok := server.final(string(final))
			require.True(t, ok, "server rejected the proof")

			out, err := a.Continue([]byte(serverFinal))
			require.NoError(t, err)
			assert.Nil(t, out)

			_, err = a.Continue([]byte(serverFinal))
			assert.ErrorIs(t, err, ErrSCRAMState)
		})
	}
}

func TestSCRAMWrongPassword(t *testing.T) {
	server := newSCRAMServer(SCRAMHashSHA256, "secret")
	a := NewSCRAMAuthenticator(SCRAMHashSHA256, "alice", "guess")

	first, err := a.InitialData()
	require.NoError(t, err)
	final, err := a.Continue([]byte(server.first(string(first))))
	require.NoError(t, err)

	serverFinal, ok := server.final(string(final))
	assert.False(t, ok)

	_, err = a.Continue([]byte(serverFinal))
	assert.ErrorIs(t, err, ErrAuthFailed)
}

// RFC 7677 section 3.
func TestSCRAMKnownExchange(t *testing.T) {
	a := NewSCRAMAuthenticator(SCRAMHashSHA256, "user", "pencil")
	a.nonce = func() (string, error) { return "rOprNGfwEbeRWgbNEkqO", nil }

	first, err := a.InitialData()
	require.NoError(t, err)
	assert.Equal(t, "n,,n=user,r=rOprNGfwEbeRWgbNEkqO", string(first))

	final, err := a.Continue([]byte("r=rOprNGfwEbeRWgbNEkqO%hvYDpWUa2RaTCAfuxFIlj)hNlF$k0,s=W22ZaJ0SNY7soEsUEjb6gQ==,i=4096"))
	require.NoError(t, err)
	assert.Equal(t, "c=biws,r=rOprNGfwEbeRWgbNEkqO%hvYDpWUa2RaTCAfuxFIlj)hNlF$k0,p=dHzbZapWIk4jUhN+Ute9ytag9zjfMHgsqmmiz7AndVQ=", string(final))

	_, err = a.Continue([]byte("v=6rriTRBi23WpRR/wtup+mMhUZUn/dB5nLTJRsjl95G4="))
	assert.NoError(t, err)
}

func TestSCRAMServerFirstRejected(t *testing.T) {
	tests := []struct {
		name        string
		serverFirst string
		err         error
	}{
		{"server error", "e=unknown-user", ErrAuthFailed},
		{"nonce not extended", "r=other,s=c2FsdA==,i=4096", ErrSCRAMServerNonce},
		{"nonce not longer", "r=abc,s=c2FsdA==,i=4096", ErrSCRAMServerNonce},
		{"bad salt", "r=abcdef,s=!!,i=4096", ErrAuthFailed},
		{"weak iterations", "r=abcdef,s=c2FsdA==,i=1000", ErrAuthFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewSCRAMAuthenticator(SCRAMHashSHA256, "u", "p")
			a.nonce = func() (string, error) { return "abc", nil }
			_, err := a.InitialData()
			require.NoError(t, err)

			_, err = a.Continue([]byte(tt.serverFirst))
			assert.ErrorIs(t, err, tt.err)
		})
	}

	t.Run("before initial data", func(t *testing.T) {
		_, err := NewSCRAMAuthenticator(SCRAMHashSHA256, "u", "p").Continue(nil)
		assert.ErrorIs(t, err, ErrSCRAMState)
	})
}

func TestEscapeSCRAMName(t *testing.T) {
	assert.Equal(t, "a=3Db=2Cc", escapeSCRAMName("a=b,c"))
}
