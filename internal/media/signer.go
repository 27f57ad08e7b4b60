package media

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

var (
	ErrExpired          = errors.New("media url expired")
	ErrInvalidSignature = errors.New("media url signature invalid")
)

// Signer issues time-limited URLs for media objects and verifies them when
// they come back.
type Signer struct {
	baseURL string
	key     []byte
	ttl     time.Duration
	now     func() time.Time
}

func NewSigner(baseURL, key string, ttl time.Duration) *Signer {
	return &Signer{
		baseURL: strings.TrimRight(baseURL, "/"),
		key:     []byte(key),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *Signer) sign(objectKey string, expires int64) string {
	mac := hmac.New(sha256.New, s.key)
	fmt.Fprintf(mac, "%s\n%d", objectKey, expires)
	return hex.EncodeToString(mac.Sum(nil))
}

// URL returns a signed URL for objectKey. An empty key yields "".
func (s *Signer) URL(objectKey string) string {
	if objectKey == "" {
		return ""
	}
	objectKey = strings.TrimLeft(objectKey, "/")
	expires := s.now().Add(s.ttl).Unix()

	q := url.Values{}
	q.Set("expires", strconv.FormatInt(expires, 10))
	q.Set("sig", s.sign(objectKey, expires))
	return s.baseURL + "/" + objectKey + "?" + q.Encode()
}

// Verify checks the expiry and signature carried by a signed URL's query.
func (s *Signer) Verify(objectKey, expiresParam, sig string) error {
	objectKey = strings.TrimLeft(objectKey, "/")
	expires, err := strconv.ParseInt(expiresParam, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	if s.now().Unix() > expires {
		return ErrExpired
	}
	want := s.sign(objectKey, expires)
	if !hmac.Equal([]byte(want), []byte(sig)) {
		return ErrInvalidSignature
	}
	return nil
}
