package crypto_test

import (
	"crypto/rand"
	"testing"

	"github.com/forest6511/diaryctl/pkg/crypto"
)

// BenchmarkDeriveKeyPBKDF2 measures the default unlock cost.
func BenchmarkDeriveKeyPBKDF2(b *testing.B) {
	benchmarkDeriveKey(b, crypto.KDFPBKDF2)
}

// BenchmarkDeriveKeyArgon2id measures Argon2id with 64MB memory cost.
func BenchmarkDeriveKeyArgon2id(b *testing.B) {
	benchmarkDeriveKey(b, crypto.KDFArgon2id)
}

func benchmarkDeriveKey(b *testing.B, kdf crypto.KDF) {
	b.Helper()
	salt, err := crypto.GenerateSalt()
	if err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := crypto.DeriveKey(kdf, "testpassword123!", salt); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkSecureWipe measures secure memory wiping performance.
func BenchmarkSecureWipe(b *testing.B) {
	data := make([]byte, 1024) // 1KB

	b.ReportAllocs()
	b.SetBytes(1024)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		crypto.SecureWipe(data)
	}
}

// Journal entries are mostly a few KB; the larger sizes cover bulk imports.

func BenchmarkEncrypt1KB(b *testing.B) {
	benchmarkEncrypt(b, 1024)
}

func BenchmarkEncrypt10KB(b *testing.B) {
	benchmarkEncrypt(b, 10*1024)
}

func BenchmarkEncrypt1MB(b *testing.B) {
	benchmarkEncrypt(b, 1024*1024)
}

func benchmarkEncrypt(b *testing.B, size int) {
	b.Helper()
	key := make([]byte, crypto.KeyLength)
	if _, err := rand.Read(key); err != nil {
		b.Fatal(err)
	}
	data := make([]byte, size)
	if _, err := rand.Read(data); err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()
	b.SetBytes(int64(size))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, err := crypto.Encrypt(key, data)
		if err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkDecrypt1KB(b *testing.B) {
	benchmarkDecrypt(b, 1024)
}

func BenchmarkDecrypt10KB(b *testing.B) {
	benchmarkDecrypt(b, 10*1024)
}

func BenchmarkDecrypt1MB(b *testing.B) {
	benchmarkDecrypt(b, 1024*1024)
}

func benchmarkDecrypt(b *testing.B, size int) {
	b.Helper()
	key := make([]byte, crypto.KeyLength)
	if _, err := rand.Read(key); err != nil {
		b.Fatal(err)
	}
	data := make([]byte, size)
	if _, err := rand.Read(data); err != nil {
		b.Fatal(err)
	}
	ciphertext, nonce, err := crypto.Encrypt(key, data)
	if err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()
	b.SetBytes(int64(size))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, err := crypto.Decrypt(key, ciphertext, nonce)
		if err != nil {
			b.Fatal(err)
		}
	}
}
