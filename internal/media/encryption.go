package media

import (
	"encoding/binary"
	"encoding/hex"
)

// FourCC is a four character code, used here for protection schemes.
type FourCC uint32

const (
	FourCCNull FourCC = 0
	FourCCCENC FourCC = 'c'<<24 | 'e'<<16 | 'n'<<8 | 'c'
	FourCCCBCS FourCC = 'c'<<24 | 'b'<<16 | 'c'<<8 | 's'
	FourCCCENS FourCC = 'c'<<24 | 'e'<<16 | 'n'<<8 | 's'
	FourCCCBC1 FourCC = 'c'<<24 | 'b'<<16 | 'c'<<8 | '1'
)

// ParseFourCC converts a four character string into a FourCC. Strings of any
// other length yield FourCCNull.
func ParseFourCC(s string) FourCC {
	if len(s) != 4 {
		return FourCCNull
	}
	return FourCC(binary.BigEndian.Uint32([]byte(s)))
}

func (f FourCC) String() string {
	if f == FourCCNull {
		return "null"
	}
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(f))
	return string(b)
}

// KeySystemInfo carries the protection system specific data (a pssh box) for
// one DRM system.
type KeySystemInfo struct {
	SystemID []byte
	PSSH     []byte
}

// EncryptionConfig describes how a stream, or a key period of it, is encrypted.
type EncryptionConfig struct {
	Scheme     FourCC
	KeyID      []byte
	IV         []byte
	ConstantIV []byte

	// Pattern encryption parameters, zero for full sample encryption.
	CryptByteBlock uint8
	SkipByteBlock  uint8

	KeySystems []KeySystemInfo
}

// Clone returns a deep copy. Clone of a nil config is nil.
func (c *EncryptionConfig) Clone() *EncryptionConfig {
	if c == nil {
		return nil
	}
	n := *c
	n.KeyID = cloneBytes(c.KeyID)
	n.IV = cloneBytes(c.IV)
	n.ConstantIV = cloneBytes(c.ConstantIV)
	n.KeySystems = CloneKeySystems(c.KeySystems)
	return &n
}

// KeyIDHex returns the key id as lower-case hex.
func (c *EncryptionConfig) KeyIDHex() string {
	return hex.EncodeToString(c.KeyID)
}

// CloneKeySystems deep-copies a slice of key system records.
func CloneKeySystems(in []KeySystemInfo) []KeySystemInfo {
	if in == nil {
		return nil
	}
	out := make([]KeySystemInfo, len(in))
	for i, k := range in {
		out[i] = KeySystemInfo{SystemID: cloneBytes(k.SystemID), PSSH: cloneBytes(k.PSSH)}
	}
	return out
}

// SubsampleEntry splits a sample into a clear prefix and an encrypted part.
type SubsampleEntry struct {
	ClearBytes     uint16
	EncryptedBytes uint32
}

// DecryptConfig is attached to every encrypted sample.
type DecryptConfig struct {
	KeyID          []byte
	IV             []byte
	Subsamples     []SubsampleEntry
	Scheme         FourCC
	CryptByteBlock uint8
	SkipByteBlock  uint8
}

func (d *DecryptConfig) clone() *DecryptConfig {
	if d == nil {
		return nil
	}
	n := *d
	n.KeyID = cloneBytes(d.KeyID)
	n.IV = cloneBytes(d.IV)
	if d.Subsamples != nil {
		n.Subsamples = append([]SubsampleEntry(nil), d.Subsamples...)
	}
	return &n
}
