package usecase

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"sql-migration-tool/internal/domain"
)

const dataKeySize = 32 // AES-256 = 256 bits = 32 bytes

// sealedMagic は封緘済みバックアップの先頭に置く識別子。
var sealedMagic = []byte("MGS1")

// KMSClient は暗号化/復号のインターフェース。
type KMSClient interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

// Sealer はバックアップをエンベロープ暗号化する。
// ダンプ毎に生成したデータ鍵でAES-256-GCM暗号化し、データ鍵はKMSで暗号化してヘッダに格納する。
//
// 形式: magic(4) | 暗号化データ鍵の長さ(2, big endian) | 暗号化データ鍵 | nonce(12) | 暗号文
type Sealer struct {
	kmsClient KMSClient
}

// NewSealer は新しいSealerを生成する。
func NewSealer(kmsClient KMSClient) *Sealer {
	return &Sealer{kmsClient: kmsClient}
}

// generateDataKey はAES-256鍵を生成する。
func generateDataKey() ([]byte, error) {
	key := make([]byte, dataKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating random key: %w", err)
	}
	return key, nil
}

// Seal は平文のダンプを封緘する。
func (s *Sealer) Seal(ctx context.Context, plaintext []byte) ([]byte, error) {
	dataKey, err := generateDataKey()
	if err != nil {
		return nil, err
	}

	wrappedKey, err := s.kmsClient.Encrypt(ctx, dataKey)
	if err != nil {
		return nil, fmt.Errorf("encrypting data key: %w", err)
	}
	if len(wrappedKey) > 0xFFFF {
		return nil, fmt.Errorf("wrapped data key too large: %d bytes", len(wrappedKey))
	}

	gcm, err := newGCM(dataKey)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	var buf bytes.Buffer
	buf.Grow(len(sealedMagic) + 2 + len(wrappedKey) + len(nonce) + len(plaintext) + gcm.Overhead())
	buf.Write(sealedMagic)
	var keyLen [2]byte
	binary.BigEndian.PutUint16(keyLen[:], uint16(len(wrappedKey)))
	buf.Write(keyLen[:])
	buf.Write(wrappedKey)
	buf.Write(nonce)
	buf.Write(gcm.Seal(nil, nonce, plaintext, sealedMagic))
	return buf.Bytes(), nil
}

// Open は封緘されたダンプを復号する。形式が不正な場合は ErrInvalidArtifact を返す。
func (s *Sealer) Open(ctx context.Context, sealed []byte) ([]byte, error) {
	if !bytes.HasPrefix(sealed, sealedMagic) {
		return nil, fmt.Errorf("%w: missing header", domain.ErrInvalidArtifact)
	}
	rest := sealed[len(sealedMagic):]
	if len(rest) < 2 {
		return nil, fmt.Errorf("%w: truncated header", domain.ErrInvalidArtifact)
	}
	keyLen := int(binary.BigEndian.Uint16(rest[:2]))
	rest = rest[2:]
	if len(rest) < keyLen {
		return nil, fmt.Errorf("%w: truncated data key", domain.ErrInvalidArtifact)
	}
	wrappedKey := rest[:keyLen]
	rest = rest[keyLen:]

	dataKey, err := s.kmsClient.Decrypt(ctx, wrappedKey)
	if err != nil {
		return nil, fmt.Errorf("decrypting data key: %w", err)
	}

	gcm, err := newGCM(dataKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidArtifact, err)
	}
	if len(rest) < gcm.NonceSize() {
		return nil, fmt.Errorf("%w: truncated nonce", domain.ErrInvalidArtifact)
	}
	nonce, ciphertext := rest[:gcm.NonceSize()], rest[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, sealedMagic)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidArtifact, err)
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return gcm, nil
}
