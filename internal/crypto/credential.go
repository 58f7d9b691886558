package crypto

import (
	"fmt"
)

// SealCredential encrypts a camera source credential (RTSP password, API
// key) for storage in camera_settings.credential_cipher. It packs the
// wrapping key's KID alongside the AES-GCM nonce/tag/ciphertext into one
// blob so the column stays a single BYTEA (the teacher's envelope scheme
// keeps those in separate DEK columns; a single, infrequently rotated
// credential field doesn't need a DEK layer, just the master key directly).
func SealCredential(k *Keyring, plaintext []byte) ([]byte, error) {
	kid, nonce, ciphertext, tag, err := k.WrapDEK(plaintext, []byte("camera_credential"))
	if err != nil {
		return nil, fmt.Errorf("crypto: seal credential: %w", err)
	}
	return packEnvelope(kid, nonce, tag, ciphertext), nil
}

// OpenCredential reverses SealCredential.
func OpenCredential(k *Keyring, blob []byte) ([]byte, error) {
	kid, nonce, tag, ciphertext, err := unpackEnvelope(blob)
	if err != nil {
		return nil, err
	}
	plaintext, err := k.UnwrapDEK(kid, nonce, ciphertext, tag, []byte("camera_credential"))
	if err != nil {
		return nil, fmt.Errorf("crypto: open credential: %w", err)
	}
	return plaintext, nil
}

// packEnvelope lays out [kidLen uint8][kid][nonceLen uint8][nonce][tagLen uint8][tag][ciphertext...].
func packEnvelope(kid string, nonce, tag, ciphertext []byte) []byte {
	buf := make([]byte, 0, 3+len(kid)+len(nonce)+len(tag)+len(ciphertext))
	buf = append(buf, byte(len(kid)))
	buf = append(buf, kid...)
	buf = append(buf, byte(len(nonce)))
	buf = append(buf, nonce...)
	buf = append(buf, byte(len(tag)))
	buf = append(buf, tag...)
	buf = append(buf, ciphertext...)
	return buf
}

func unpackEnvelope(buf []byte) (kid string, nonce, tag, ciphertext []byte, err error) {
	read := func(b []byte) ([]byte, []byte, error) {
		if len(b) < 1 {
			return nil, nil, fmt.Errorf("crypto: truncated envelope")
		}
		n := int(b[0])
		b = b[1:]
		if len(b) < n {
			return nil, nil, fmt.Errorf("crypto: truncated envelope field")
		}
		return b[:n], b[n:], nil
	}

	kidBytes, rest, err := read(buf)
	if err != nil {
		return "", nil, nil, nil, err
	}
	nonce, rest, err = read(rest)
	if err != nil {
		return "", nil, nil, nil, err
	}
	tag, rest, err = read(rest)
	if err != nil {
		return "", nil, nil, nil, err
	}
	return string(kidBytes), nonce, tag, rest, nil
}
