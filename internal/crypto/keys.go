// Package crypto implements the sample encryption stage and the key sources
// it draws content keys from.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strconv"

	"github.com/pkg/errors"
	"golang.org/x/crypto/hkdf"

	"media-packager/internal/media"
)

const (
	KeySize = 16
	IVSize  = 16
)

var (
	ErrInvalidKey        = errors.New("invalid content key")
	ErrUnsupportedScheme = errors.New("unsupported protection scheme")
)

// Key is one content key with its identifier. IV may be empty, in which case
// the encryptor picks a random one.
type Key struct {
	KeyID      []byte
	Key        []byte
	IV         []byte
	KeySystems []media.KeySystemInfo
}

// Validate checks key and key id sizes and the IV length.
func (k *Key) Validate() error {
	if len(k.KeyID) != KeySize {
		return errors.Wrapf(ErrInvalidKey, "key id is %d bytes", len(k.KeyID))
	}
	if len(k.Key) != KeySize {
		return errors.Wrapf(ErrInvalidKey, "key is %d bytes", len(k.Key))
	}
	if n := len(k.IV); n != 0 && n != 8 && n != 16 {
		return errors.Wrapf(ErrInvalidKey, "iv is %d bytes", n)
	}
	return nil
}

// KeySource hands out the key for each crypto period. Period 0 is the key the
// stream starts with.
type KeySource interface {
	Key(period int64) (*Key, error)
}

// FixedKeySource returns the same key for every period.
type FixedKeySource struct {
	key Key
}

func NewFixedKeySource(key Key) (*FixedKeySource, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	return &FixedKeySource{key: key}, nil
}

// NewFixedKeySourceHex parses hex encoded key material.
func NewFixedKeySourceHex(keyID, key, iv string) (*FixedKeySource, error) {
	var k Key
	var err error
	if k.KeyID, err = hex.DecodeString(keyID); err != nil {
		return nil, errors.Wrap(err, "key id")
	}
	if k.Key, err = hex.DecodeString(key); err != nil {
		return nil, errors.Wrap(err, "key")
	}
	if k.IV, err = hex.DecodeString(iv); err != nil {
		return nil, errors.Wrap(err, "iv")
	}
	return NewFixedKeySource(k)
}

func (s *FixedKeySource) Key(int64) (*Key, error) {
	k := s.key
	return &k, nil
}

// RotatingKeySource derives a distinct key for every crypto period from a
// secret with HKDF-SHA256. The same secret always yields the same keys.
type RotatingKeySource struct {
	secret     []byte
	keySystems []media.KeySystemInfo
}

func NewRotatingKeySource(secret []byte, keySystems []media.KeySystemInfo) (*RotatingKeySource, error) {
	if len(secret) < KeySize {
		return nil, errors.Wrapf(ErrInvalidKey, "rotation secret is %d bytes", len(secret))
	}
	return &RotatingKeySource{
		secret:     append([]byte(nil), secret...),
		keySystems: media.CloneKeySystems(keySystems),
	}, nil
}

func (s *RotatingKeySource) Key(period int64) (*Key, error) {
	if period < 0 {
		return nil, errors.Errorf("negative crypto period %d", period)
	}
	r := hkdf.New(sha256.New, s.secret, nil, []byte("crypto-period-"+strconv.FormatInt(period, 10)))
	buf := make([]byte, 2*KeySize+IVSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, errors.Wrap(err, "derive key")
	}
	return &Key{
		KeyID:      buf[:KeySize],
		Key:        buf[KeySize : 2*KeySize],
		IV:         buf[2*KeySize:],
		KeySystems: media.CloneKeySystems(s.keySystems),
	}, nil
}

func randomIV(n int) ([]byte, error) {
	iv := make([]byte, n)
	if _, err := rand.Read(iv); err != nil {
		return nil, errors.Wrap(err, "random iv")
	}
	return iv, nil
}
