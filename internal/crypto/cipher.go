package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"

	"github.com/pkg/errors"

	"media-packager/internal/media"
)

var ErrMalformedSample = errors.New("malformed length-prefixed sample")

// sampleCipher encrypts sample payloads in place for one key.
type sampleCipher struct {
	scheme media.FourCC
	block  cipher.Block
	// iv is the IV of the next sample, or the constant IV for cbcs.
	iv []byte

	cryptBlocks int
	skipBlocks  int
}

func newSampleCipher(scheme media.FourCC, key *Key, pattern bool) (*sampleCipher, error) {
	block, err := aes.NewCipher(key.Key)
	if err != nil {
		return nil, errors.Wrap(err, "aes")
	}
	c := &sampleCipher{scheme: scheme, block: block}

	iv := key.IV
	switch scheme {
	case media.FourCCCENC:
		if len(iv) == 0 {
			if iv, err = randomIV(8); err != nil {
				return nil, err
			}
		}
	case media.FourCCCBCS, media.FourCCCBC1:
		if len(iv) == 0 {
			if iv, err = randomIV(IVSize); err != nil {
				return nil, err
			}
		}
		if len(iv) != IVSize {
			return nil, errors.Wrapf(ErrInvalidKey, "%s needs a %d byte iv", scheme, IVSize)
		}
	default:
		return nil, errors.Wrapf(ErrUnsupportedScheme, "%s", scheme)
	}
	c.iv = append([]byte(nil), iv...)

	c.cryptBlocks, c.skipBlocks = 1, 0
	if scheme == media.FourCCCBCS && pattern {
		c.cryptBlocks, c.skipBlocks = 1, 9
	}
	return c, nil
}

// config describes the key for stream and segment metadata.
func (c *sampleCipher) config(key *Key) *media.EncryptionConfig {
	cfg := &media.EncryptionConfig{
		Scheme:     c.scheme,
		KeyID:      append([]byte(nil), key.KeyID...),
		KeySystems: media.CloneKeySystems(key.KeySystems),
	}
	if c.scheme == media.FourCCCBCS {
		cfg.ConstantIV = append([]byte(nil), c.iv...)
		if c.skipBlocks > 0 {
			cfg.CryptByteBlock = uint8(c.cryptBlocks)
			cfg.SkipByteBlock = uint8(c.skipBlocks)
		}
	} else {
		cfg.IV = append([]byte(nil), c.iv...)
	}
	return cfg
}

// encrypt encrypts s.Data in place and returns the decrypt config to attach.
// subsamples may be nil for full sample encryption.
func (c *sampleCipher) encrypt(keyID []byte, s *media.MediaSample, subsamples []media.SubsampleEntry) (*media.DecryptConfig, error) {
	ranges := encryptedRanges(len(s.Data), subsamples)
	dc := &media.DecryptConfig{
		KeyID:      append([]byte(nil), keyID...),
		IV:         append([]byte(nil), c.iv...),
		Subsamples: subsamples,
		Scheme:     c.scheme,
	}

	switch c.scheme {
	case media.FourCCCENC:
		counter := make([]byte, aes.BlockSize)
		copy(counter, c.iv)
		stream := cipher.NewCTR(c.block, counter)
		for _, r := range ranges {
			stream.XORKeyStream(s.Data[r[0]:r[1]], s.Data[r[0]:r[1]])
		}
		incrementIV(c.iv)
	case media.FourCCCBC1:
		mode := cipher.NewCBCEncrypter(c.block, c.iv)
		for _, r := range ranges {
			n := (r[1] - r[0]) / aes.BlockSize * aes.BlockSize
			mode.CryptBlocks(s.Data[r[0]:r[0]+n], s.Data[r[0]:r[0]+n])
		}
		incrementIV(c.iv)
	case media.FourCCCBCS:
		dc.CryptByteBlock = uint8(c.cryptBlocks)
		dc.SkipByteBlock = uint8(c.skipBlocks)
		for _, r := range ranges {
			c.encryptPattern(s.Data[r[0]:r[1]])
		}
	}
	return dc, nil
}

// encryptPattern applies cbcs pattern encryption to one protected range. The
// chain restarts from the constant IV for every range and a trailing partial
// block stays clear.
func (c *sampleCipher) encryptPattern(data []byte) {
	mode := cipher.NewCBCEncrypter(c.block, c.iv)
	for off := 0; off+aes.BlockSize <= len(data); {
		for i := 0; i < c.cryptBlocks && off+aes.BlockSize <= len(data); i++ {
			mode.CryptBlocks(data[off:off+aes.BlockSize], data[off:off+aes.BlockSize])
			off += aes.BlockSize
		}
		off += c.skipBlocks * aes.BlockSize
	}
}

// encryptedRanges turns subsample entries into [start, end) byte ranges of
// protected data.
func encryptedRanges(size int, subsamples []media.SubsampleEntry) [][2]int {
	if len(subsamples) == 0 {
		return [][2]int{{0, size}}
	}
	var out [][2]int
	pos := 0
	for _, e := range subsamples {
		pos += int(e.ClearBytes)
		if e.EncryptedBytes > 0 {
			out = append(out, [2]int{pos, pos + int(e.EncryptedBytes)})
			pos += int(e.EncryptedBytes)
		}
	}
	return out
}

func incrementIV(iv []byte) {
	if len(iv) == 8 {
		binary.BigEndian.PutUint64(iv, binary.BigEndian.Uint64(iv)+1)
		return
	}
	for i := len(iv) - 1; i >= 0; i-- {
		iv[i]++
		if iv[i] != 0 {
			return
		}
	}
}

// nalSubsamples splits a length-prefixed video sample into subsamples that
// leave the length prefix and NAL header clear. With blockAligned the
// protected part of every NAL unit is trimmed to whole AES blocks.
func nalSubsamples(data []byte, lengthSize, headerSize int, blockAligned bool) ([]media.SubsampleEntry, error) {
	var out []media.SubsampleEntry
	clearBytes := 0
	for pos := 0; pos < len(data); {
		if pos+lengthSize > len(data) {
			return nil, errors.Wrapf(ErrMalformedSample, "truncated length at %d", pos)
		}
		var n int
		for i := 0; i < lengthSize; i++ {
			n = n<<8 | int(data[pos+i])
		}
		end := pos + lengthSize + n
		if end > len(data) {
			return nil, errors.Wrapf(ErrMalformedSample, "nal unit of %d bytes at %d overruns sample", n, pos)
		}

		protected := n - headerSize
		if blockAligned {
			protected = protected / aes.BlockSize * aes.BlockSize
		}
		if protected < aes.BlockSize {
			protected = 0
		}
		clearBytes += lengthSize + n - protected
		if protected > 0 {
			for clearBytes > 0xffff {
				out = append(out, media.SubsampleEntry{ClearBytes: 0xffff})
				clearBytes -= 0xffff
			}
			out = append(out, media.SubsampleEntry{ClearBytes: uint16(clearBytes), EncryptedBytes: uint32(protected)})
			clearBytes = 0
		}
		pos = end
	}
	if clearBytes > 0 {
		for clearBytes > 0xffff {
			out = append(out, media.SubsampleEntry{ClearBytes: 0xffff})
			clearBytes -= 0xffff
		}
		out = append(out, media.SubsampleEntry{ClearBytes: uint16(clearBytes)})
	}
	return out, nil
}
