package mqttclient

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"fmt"
	"hash"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// SCRAMHash represents the hash algorithm used for SCRAM authentication.
type SCRAMHash int

const (
	// SCRAMHashSHA256 uses SHA-256.
	SCRAMHashSHA256 SCRAMHash = iota
	// SCRAMHashSHA512 uses SHA-512.
	SCRAMHashSHA512
)

// String returns the MQTT authentication method name for this hash.
func (h SCRAMHash) String() string {
	if h == SCRAMHashSHA512 {
		return "SCRAM-SHA-512"
	}
	return "SCRAM-SHA-256"
}

func (h SCRAMHash) hashFunc() func() hash.Hash {
	if h == SCRAMHashSHA512 {
		return sha512.New
	}
	return sha256.New
}

func (h SCRAMHash) keySize() int {
	if h == SCRAMHashSHA512 {
		return sha512.Size
	}
	return sha256.Size
}

// SCRAM errors.
var (
	ErrSCRAMServerNonce     = fmt.Errorf("%w: SCRAM server nonce does not extend client nonce", ErrAuthFailed)
	ErrSCRAMServerSignature = fmt.Errorf("%w: SCRAM server signature mismatch", ErrAuthFailed)
	ErrSCRAMState           = errors.New("scram: unexpected message for exchange state")
)

// minSCRAMIterations rejects servers that ask for a weak key derivation.
const minSCRAMIterations = 4096

type scramStep int

const (
	scramStart scramStep = iota
	scramClientFirstSent
	scramClientFinalSent
	scramDone
)

// SCRAMAuthenticator is the client side of SCRAM-SHA-256 and SCRAM-SHA-512
// (RFC 5802 without channel binding).
type SCRAMAuthenticator struct {
	hash     SCRAMHash
	username string
	password string

	step            scramStep
	clientNonce     string
	clientFirstBare string
	serverSignature []byte

	// nonce is replaceable in tests.
	nonce func() (string, error)
}

// NewSCRAMAuthenticator creates an authenticator for one set of
// credentials.
func NewSCRAMAuthenticator(hash SCRAMHash, username, password string) *SCRAMAuthenticator {
	return &SCRAMAuthenticator{
		hash:     hash,
		username: username,
		password: password,
		nonce:    generateSCRAMNonce,
	}
}

// Method returns SCRAM-SHA-256 or SCRAM-SHA-512.
func (a *SCRAMAuthenticator) Method() string {
	return a.hash.String()
}

// InitialData returns the client-first-message and restarts the exchange.
func (a *SCRAMAuthenticator) InitialData() ([]byte, error) {
	nonce, err := a.nonce()
	if err != nil {
		return nil, err
	}
	a.clientNonce = nonce
	a.clientFirstBare = "n=" + escapeSCRAMName(a.username) + ",r=" + nonce
	a.serverSignature = nil
	a.step = scramClientFirstSent
	return []byte("n,," + a.clientFirstBare), nil
}

// Continue answers the server-first-message with the client-final-message,
// then verifies the server-final-message.
func (a *SCRAMAuthenticator) Continue(data []byte) ([]byte, error) {
	switch a.step {
	case scramClientFirstSent:
		return a.clientFinal(string(data))
	case scramClientFinalSent:
		return nil, a.verifyServerFinal(string(data))
	default:
		return nil, ErrSCRAMState
	}
}

func (a *SCRAMAuthenticator) clientFinal(serverFirst string) ([]byte, error) {
	attrs := parseSCRAMAttributes(serverFirst)
	if msg, ok := attrs['e']; ok {
		return nil, fmt.Errorf("%w: server error %s", ErrAuthFailed, msg)
	}

	nonce := attrs['r']
	if !strings.HasPrefix(nonce, a.clientNonce) || len(nonce) == len(a.clientNonce) {
		return nil, ErrSCRAMServerNonce
	}
	salt, err := base64.StdEncoding.DecodeString(attrs['s'])
	if err != nil || len(salt) == 0 {
		return nil, fmt.Errorf("%w: invalid SCRAM salt", ErrAuthFailed)
	}
	iterations, err := strconv.Atoi(attrs['i'])
	if err != nil || iterations < minSCRAMIterations {
		return nil, fmt.Errorf("%w: invalid SCRAM iteration count %q", ErrAuthFailed, attrs['i'])
	}

	keys := deriveSCRAMKeys(a.hash, a.password, salt, iterations)

	// "biws" is base64("n,,"): no channel binding.
	withoutProof := "c=biws,r=" + nonce
	authMessage := a.clientFirstBare + "," + serverFirst + "," + withoutProof

	signature := scramHMAC(a.hash, keys.storedKey, authMessage)
	proof := make([]byte, len(keys.clientKey))
	for i := range proof {
		proof[i] = keys.clientKey[i] ^ signature[i]
	}

	a.serverSignature = scramHMAC(a.hash, keys.serverKey, authMessage)
	a.step = scramClientFinalSent
	return []byte(withoutProof + ",p=" + base64.StdEncoding.EncodeToString(proof)), nil
}

func (a *SCRAMAuthenticator) verifyServerFinal(serverFinal string) error {
	attrs := parseSCRAMAttributes(serverFinal)
	if msg, ok := attrs['e']; ok {
		return fmt.Errorf("%w: server error %s", ErrAuthFailed, msg)
	}
	got, err := base64.StdEncoding.DecodeString(attrs['v'])
	if err != nil || !hmac.Equal(got, a.serverSignature) {
		return ErrSCRAMServerSignature
	}
	a.step = scramDone
	return nil
}

// scramKeys are the keys derived from a password. A server stores
// storedKey and serverKey; a client needs clientKey as well.
type scramKeys struct {
	clientKey []byte
	storedKey []byte
	serverKey []byte
}

func deriveSCRAMKeys(h SCRAMHash, password string, salt []byte, iterations int) scramKeys {
	salted := pbkdf2.Key([]byte(password), salt, iterations, h.keySize(), h.hashFunc())

	clientKey := scramHMAC(h, salted, "Client Key")
	sum := h.hashFunc()()
	sum.Write(clientKey)

	return scramKeys{
		clientKey: clientKey,
		storedKey: sum.Sum(nil),
		serverKey: scramHMAC(h, salted, "Server Key"),
	}
}

func scramHMAC(h SCRAMHash, key []byte, msg string) []byte {
	mac := hmac.New(h.hashFunc(), key)
	mac.Write([]byte(msg))
	return mac.Sum(nil)
}

// parseSCRAMAttributes splits "a=x,b=y" into single-letter attributes.
func parseSCRAMAttributes(msg string) map[byte]string {
	attrs := make(map[byte]string)
	for part := range strings.SplitSeq(msg, ",") {
		if len(part) >= 2 && part[1] == '=' {
			attrs[part[0]] = part[2:]
		}
	}
	return attrs
}

var scramNameEscaper = strings.NewReplacer("=", "=3D", ",", "=2C")

func escapeSCRAMName(name string) string {
	return scramNameEscaper.Replace(name)
}

func generateSCRAMNonce() (string, error) {
	b := make([]byte, 18)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawStdEncoding.EncodeToString(b), nil
}
