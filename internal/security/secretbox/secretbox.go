// Package secretbox sella blobs chicos (ej: el archivo de sesión del CLI) con
// NaCl secretbox (XSalsa20-Poly1305) y una clave maestra de 32 bytes.
package secretbox

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	keyLen    = 32
	nonceLen  = 24
	sep       = "|" // base64(nonce)|base64(ciphertext)
	envelopeV = "sb1"
)

var ErrMalformed = errors.New("secretbox: formato inválido, esperado sb1|base64(nonce)|base64(ciphertext)")

// Box guarda la clave ya decodificada.
type Box struct {
	key [keyLen]byte
}

// New decodifica la clave (base64 std/raw, hex o 32 bytes crudos).
func New(key string) (*Box, error) {
	kb, err := decodeKey(key)
	if err != nil {
		return nil, err
	}
	b := &Box{}
	copy(b.key[:], kb)
	return b, nil
}

func decodeKey(key string) ([]byte, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, errors.New("secretbox: clave vacía; genere una con: openssl rand -base64 32")
	}
	if b, err := base64.StdEncoding.DecodeString(key); err == nil && len(b) == keyLen {
		return b, nil
	}
	if b, err := base64.RawStdEncoding.DecodeString(key); err == nil && len(b) == keyLen {
		return b, nil
	}
	if len(key) == 2*keyLen {
		if b, err := hex.DecodeString(key); err == nil {
			return b, nil
		}
	}
	if len(key) == keyLen {
		return []byte(key), nil
	}
	return nil, fmt.Errorf("secretbox: clave inválida (requiere %d bytes)", keyLen)
}

// Seal cifra plain y devuelve el sobre en texto.
func (b *Box) Seal(plain []byte) (string, error) {
	var nonce [nonceLen]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("nonce random: %w", err)
	}
	ct := secretbox.Seal(nil, plain, &nonce, &b.key)
	return envelopeV + sep +
		base64.StdEncoding.EncodeToString(nonce[:]) + sep +
		base64.StdEncoding.EncodeToString(ct), nil
}

// Open verifica y descifra un sobre producido por Seal.
func (b *Box) Open(envelope string) ([]byte, error) {
	parts := strings.Split(strings.TrimSpace(envelope), sep)
	if len(parts) != 3 || parts[0] != envelopeV {
		return nil, ErrMalformed
	}
	nonceB, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil || len(nonceB) != nonceLen {
		return nil, ErrMalformed
	}
	ct, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, ErrMalformed
	}
	var nonce [nonceLen]byte
	copy(nonce[:], nonceB)
	pt, ok := secretbox.Open(nil, ct, &nonce, &b.key)
	if !ok {
		return nil, errors.New("secretbox: autenticación fallida (clave incorrecta o dato alterado)")
	}
	return pt, nil
}

// IsSealed indica si data parece un sobre de este paquete.
func IsSealed(data []byte) bool {
	return strings.HasPrefix(strings.TrimSpace(string(data)), envelopeV+sep)
}
