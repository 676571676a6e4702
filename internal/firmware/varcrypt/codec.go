package varcrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/ccoveille/go-safecast"
	"github.com/go-logr/logr"

	"github.com/bmcpi/varstore/internal/firmware/efi"
)

// PaddingByte fills the last cipher block. The plaintext length is carried
// in the header, so padding is never interpreted.
const PaddingByte = 0x0f

// Codec encrypts and decrypts variable payloads under one root key.
type Codec struct {
	rootKey []byte
	rand    io.Reader
	log     logr.Logger
}

// Option configures a Codec.
type Option func(*Codec)

// WithLogger sets the logger.
func WithLogger(l logr.Logger) Option {
	return func(c *Codec) { c.log = l.WithName("varcrypt") }
}

// WithRandom replaces the IV source.
func WithRandom(r io.Reader) Option {
	return func(c *Codec) { c.rand = r }
}

// NewCodec returns a codec for rootKey.
func NewCodec(rootKey []byte, opts ...Option) (*Codec, error) {
	if len(rootKey) == 0 {
		return nil, fmt.Errorf("root key is empty: %w", efi.ErrInvalidParameter)
	}
	c := &Codec{
		rootKey: append([]byte(nil), rootKey...),
		rand:    rand.Reader,
		log:     logr.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// EncryptedSize is the header plus padded ciphertext size for n plain bytes.
func EncryptedSize(n int) int {
	return HeaderSize + (n+BlockSize-1)/BlockSize*BlockSize
}

// Encrypt returns the cipher header followed by the ciphertext of plain.
func (c *Codec) Encrypt(plain []byte, id efi.Identity, attrs efi.Attributes) ([]byte, error) {
	dst := make([]byte, EncryptedSize(len(plain)))
	n, err := c.EncryptTo(dst, plain, id, attrs)
	if err != nil {
		return nil, err
	}
	return dst[:n], nil
}

// EncryptTo writes the cipher header and ciphertext of plain into dst and
// returns the number of bytes written. When dst is too small it returns the
// required size with efi.ErrBufferTooSmall.
func (c *Codec) EncryptTo(dst, plain []byte, id efi.Identity, attrs efi.Attributes) (int, error) {
	plainSize, err := safecast.ToUint32(len(plain))
	if err != nil {
		return 0, fmt.Errorf("encrypt %s: %w", id, efi.ErrOutOfResources)
	}
	size := EncryptedSize(len(plain))
	if len(dst) < size {
		return size, fmt.Errorf("encrypt %s: need %d bytes: %w", id, size, efi.ErrBufferTooSmall)
	}
	cipherSize, err := safecast.ToUint32(size - HeaderSize)
	if err != nil {
		return 0, fmt.Errorf("encrypt %s: %w", id, efi.ErrOutOfResources)
	}

	info := Info{
		DataType:       DataTypeAES,
		HeaderSize:     HeaderSize,
		PlainDataSize:  plainSize,
		CipherDataSize: cipherSize,
	}
	if _, err := io.ReadFull(c.rand, info.IV[:]); err != nil {
		return 0, fmt.Errorf("encrypt %s: iv: %w", id, err)
	}

	block, err := c.block(id, attrs)
	if err != nil {
		return 0, err
	}

	body := dst[HeaderSize:size]
	n := copy(body, plain)
	for i := n; i < len(body); i++ {
		body[i] = PaddingByte
	}
	cipher.NewCBCEncrypter(block, info.IV[:]).CryptBlocks(body, body)
	putHeader(dst, &info)

	c.log.V(1).Info("encrypted", "variable", id, "plain", plainSize, "cipher", cipherSize)
	return size, nil
}

// Decrypt returns the plaintext of a protected payload in a new slice.
func (c *Codec) Decrypt(data []byte, id efi.Identity, attrs efi.Attributes) ([]byte, error) {
	info, err := GetCipherDataInfo(data)
	if err != nil {
		return nil, err
	}
	dst := make([]byte, info.PlainDataSize)
	if _, err := c.DecryptTo(dst, data, id, attrs); err != nil {
		return nil, err
	}
	return dst, nil
}

// DecryptTo writes the plaintext of a protected payload into dst and
// returns its length. When dst is shorter than the plaintext it returns the
// required size with efi.ErrBufferTooSmall.
func (c *Codec) DecryptTo(dst, data []byte, id efi.Identity, attrs efi.Attributes) (int, error) {
	info, err := GetCipherDataInfo(data)
	if err != nil {
		return 0, err
	}
	plainSize := int(info.PlainDataSize)
	if len(dst) < plainSize {
		return plainSize, fmt.Errorf("decrypt %s: need %d bytes: %w", id, plainSize, efi.ErrBufferTooSmall)
	}

	body := data[info.HeaderSize:info.Size()]
	if info.DataType == DataTypeNull {
		return copy(dst, body[:plainSize]), nil
	}

	out := make([]byte, len(body))
	if err := c.decryptBlocks(out, body, &info, id, attrs); err != nil {
		return 0, err
	}
	return copy(dst, out[:plainSize]), nil
}

// DecryptInPlace consumes b, decrypting its payload over the ciphertext and
// marking the header as plaintext. A buffer that is already plaintext is
// returned as is.
func (c *Codec) DecryptInPlace(b *CipherBuffer, id efi.Identity, attrs efi.Attributes) (*PlainBuffer, error) {
	if b.data == nil {
		return nil, fmt.Errorf("decrypt %s: cipher buffer already consumed: %w", id, efi.ErrInvalidParameter)
	}
	data, info := b.data, b.info
	if info.DataType == DataTypeAES {
		body := data[info.HeaderSize:info.Size()]
		if err := c.decryptBlocks(body, body, &info, id, attrs); err != nil {
			return nil, err
		}
		info.DataType = DataTypeNull
		putHeader(data, &info)
	}
	b.data = nil
	return &PlainBuffer{data: data, info: info}, nil
}

func (c *Codec) decryptBlocks(dst, src []byte, info *Info, id efi.Identity, attrs efi.Attributes) error {
	block, err := c.block(id, attrs)
	if err != nil {
		return err
	}
	cipher.NewCBCDecrypter(block, info.IV[:]).CryptBlocks(dst, src)
	c.log.V(1).Info("decrypted", "variable", id, "plain", info.PlainDataSize, "cipher", info.CipherDataSize)
	return nil
}

func (c *Codec) block(id efi.Identity, attrs efi.Attributes) (cipher.Block, error) {
	key, err := DeriveKey(c.rootKey, id, attrs)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cipher for %s: %w", id, err)
	}
	return block, nil
}
