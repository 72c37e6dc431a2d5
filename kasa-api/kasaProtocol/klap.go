package kasaProtocol

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const sessionCookieName = "TP_SESSIONID"

type Credentials struct {
	Username string
	Password string
}

// defaultKasaCredentials is the factory login of unprovisioned Kasa devices.
var defaultKasaCredentials = Credentials{Username: "kasa@tp-link.net", Password: "kasaSetup"}

// Transport sends one encoded request and returns the raw response.
type Transport interface {
	Send(ctx context.Context, payload []byte) ([]byte, error)
	Close() error
}

// KlapTransport implements the KLAP v2 transport used by Tapo/Kasa hubs.
type KlapTransport struct {
	Host    string
	baseUrl string
	client  *http.Client
	logger  *zap.SugaredLogger

	authHashes [][]byte
	session    *KlapSession
	cookie     string
}

func NewKlapTransport(host string, creds *Credentials, timeout time.Duration, logger *zap.SugaredLogger) *KlapTransport {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	hashes := [][]byte{}
	if creds != nil {
		hashes = append(hashes, AuthHash(*creds))
	}
	hashes = append(hashes, AuthHash(Credentials{}), AuthHash(defaultKasaCredentials))

	return &KlapTransport{
		Host:    host,
		baseUrl: "http://" + host + "/app",
		client: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 5 * time.Second,
				}).DialContext,
			},
			Timeout: timeout,
		},
		logger:     logger,
		authHashes: hashes,
	}
}

// AuthHash is sha256(sha1(username) + sha1(password)).
func AuthHash(c Credentials) []byte {
	u := sha1.Sum([]byte(c.Username))
	p := sha1.Sum([]byte(c.Password))
	return sha256Sum(u[:], p[:])
}

func sha256Sum(parts ...[]byte) []byte {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

func (t *KlapTransport) post(ctx context.Context, url string, body []byte) (int, []byte, *http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, nil, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if t.cookie != "" {
		req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: t.cookie})
	}
	res, err := t.client.Do(req)
	if err != nil {
		return 0, nil, nil, err
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return res.StatusCode, nil, res, err
	}
	return res.StatusCode, data, res, nil
}

func (t *KlapTransport) handshake(ctx context.Context) error {
	t.session = nil
	t.cookie = ""

	localSeed := make([]byte, 16)
	if _, err := io.ReadFull(randReader, localSeed); err != nil {
		return fmt.Errorf("handshake seed: %w", err)
	}

	t.logger.Debugf("KLAP handshake1 with %s", t.Host)
	status, body, res, err := t.post(ctx, t.baseUrl+"/handshake1", localSeed)
	if err != nil {
		return fmt.Errorf("handshake1: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("handshake1: unexpected HTTP status %d", status)
	}
	if len(body) < 48 {
		return fmt.Errorf("handshake1: short response of %d bytes", len(body))
	}
	remoteSeed := body[:16]
	serverHash := body[16:48]

	for _, c := range res.Cookies() {
		if c.Name == sessionCookieName {
			t.cookie = c.Value
		}
	}

	var authHash []byte
	for _, h := range t.authHashes {
		if bytes.Equal(sha256Sum(localSeed, remoteSeed, h), serverHash) {
			authHash = h
			break
		}
	}
	if authHash == nil {
		return fmt.Errorf("handshake1 with %s: %w", t.Host, ErrAuthentication)
	}

	t.logger.Debugf("KLAP handshake2 with %s", t.Host)
	status, _, _, err = t.post(ctx, t.baseUrl+"/handshake2", sha256Sum(remoteSeed, localSeed, authHash))
	if err != nil {
		return fmt.Errorf("handshake2: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("handshake2: unexpected HTTP status %d", status)
	}

	t.session = NewKlapSession(localSeed, remoteSeed, authHash)
	return nil
}

func (t *KlapTransport) Send(ctx context.Context, payload []byte) ([]byte, error) {
	if t.session == nil {
		if err := t.handshake(ctx); err != nil {
			return nil, err
		}
	}

	seq := t.session.Next()
	body, err := t.session.Seal(payload, seq)
	if err != nil {
		return nil, err
	}

	status, data, _, err := t.post(ctx, fmt.Sprintf("%s/request?seq=%d", t.baseUrl, seq), body)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	if status != http.StatusOK {
		// 403 means the device dropped the session; the next call handshakes again.
		t.session = nil
		if status == http.StatusForbidden {
			return nil, ErrSessionExpired
		}
		return nil, fmt.Errorf("request: unexpected HTTP status %d", status)
	}

	plain, err := t.session.Open(data, seq)
	if err != nil {
		t.session = nil
		return nil, err
	}
	return plain, nil
}

// Reset drops the session so the next Send handshakes again.
func (t *KlapTransport) Reset() {
	t.session = nil
	t.cookie = ""
}

func (t *KlapTransport) Close() error {
	t.session = nil
	t.cookie = ""
	t.client.CloseIdleConnections()
	return nil
}

// KlapSession holds the keys derived from a completed handshake. Both ends
// derive the same session from the two seeds and the auth hash.
type KlapSession struct {
	key []byte
	iv  []byte
	sig []byte
	seq int32
}

func NewKlapSession(localSeed, remoteSeed, authHash []byte) *KlapSession {
	fullIv := sha256Sum([]byte("iv"), localSeed, remoteSeed, authHash)
	return &KlapSession{
		key: sha256Sum([]byte("lsk"), localSeed, remoteSeed, authHash)[:16],
		iv:  fullIv[:12],
		sig: sha256Sum([]byte("ldk"), localSeed, remoteSeed, authHash)[:28],
		seq: int32(binary.BigEndian.Uint32(fullIv[28:])),
	}
}

func (s *KlapSession) Next() int32 {
	s.seq++
	return s.seq
}

func (s *KlapSession) ivFor(seq int32) []byte {
	iv := make([]byte, 16)
	copy(iv, s.iv)
	binary.BigEndian.PutUint32(iv[12:], uint32(seq))
	return iv
}

// Seal encrypts payload and prefixes the 32 byte signature.
func (s *KlapSession) Seal(payload []byte, seq int32) ([]byte, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, err
	}
	padded := pkcs7Pad(payload, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, s.ivFor(seq)).CryptBlocks(ciphertext, padded)

	seqBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(seqBytes, uint32(seq))
	signature := sha256Sum(s.sig, seqBytes, ciphertext)
	return append(signature, ciphertext...), nil
}

func (s *KlapSession) Open(data []byte, seq int32) ([]byte, error) {
	if len(data) < 32+aes.BlockSize || (len(data)-32)%aes.BlockSize != 0 {
		return nil, errors.New("klap: malformed response")
	}
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, err
	}
	ciphertext := data[32:]
	plain := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, s.ivFor(seq)).CryptBlocks(plain, ciphertext)
	return pkcs7Unpad(plain, aes.BlockSize)
}

func pkcs7Pad(b []byte, size int) []byte {
	n := size - len(b)%size
	return append(append([]byte{}, b...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte, size int) ([]byte, error) {
	if len(b) == 0 || len(b)%size != 0 {
		return nil, errors.New("klap: invalid padding")
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, errors.New("klap: invalid padding")
	}
	for _, p := range b[len(b)-n:] {
		if int(p) != n {
			return nil, errors.New("klap: invalid padding")
		}
	}
	return b[:len(b)-n], nil
}
