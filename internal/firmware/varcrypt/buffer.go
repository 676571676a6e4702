package varcrypt

// CipherBuffer owns a protected payload: the cipher header followed by
// ciphertext. Codec.DecryptInPlace consumes it and yields a PlainBuffer
// backed by the same memory.
type CipherBuffer struct {
	data []byte
	info Info
}

// NewCipherBuffer takes ownership of data and validates its header.
func NewCipherBuffer(data []byte) (*CipherBuffer, error) {
	info, err := GetCipherDataInfo(data)
	if err != nil {
		return nil, err
	}
	return &CipherBuffer{data: data, info: info}, nil
}

// Info returns the cipher header.
func (b *CipherBuffer) Info() Info { return b.info }

// Consumed reports whether the buffer was handed to DecryptInPlace.
func (b *CipherBuffer) Consumed() bool { return b.data == nil }

// PlainBuffer is a decrypted payload. Its header carries DataTypeNull, so
// decoding it again yields the plaintext without a key.
type PlainBuffer struct {
	data []byte
	info Info
}

// Info returns the rewritten header.
func (p *PlainBuffer) Info() Info { return p.info }

// Plaintext returns the PlainDataSize bytes after the header.
func (p *PlainBuffer) Plaintext() []byte {
	start := int(p.info.HeaderSize)
	return p.data[start : start+int(p.info.PlainDataSize)]
}

// Bytes returns the whole buffer, header included.
func (p *PlainBuffer) Bytes() []byte { return p.data }
