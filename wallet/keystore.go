// Package wallet provides key management and transaction signing helpers.
package wallet

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/pbkdf2"

	"github.com/nerekov/escrowchain/crypto"
)

// defaultKDFIterations is the PBKDF2-SHA256 work factor for newly written
// keystores. The iteration count is recorded in the file so existing
// keystores keep decrypting after the default is raised.
const defaultKDFIterations = 210_000

// minKDFIterations rejects keystore files whose recorded work factor is low
// enough to suggest tampering.
const minKDFIterations = 10_000

type keystoreFile struct {
	PubKey        string `json:"pub_key"`
	KDFIterations int    `json:"kdf_iterations"`
	Salt          string `json:"salt"`
	Nonce         string `json:"nonce"`
	CipherText    string `json:"cipher_text"`
}

// SaveKey encrypts priv with password and writes it to path. The key is
// derived with PBKDF2-SHA256 and the private key sealed with AES-256-GCM.
func SaveKey(path, password string, priv crypto.PrivateKey) error {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return err
	}
	key := deriveKey(password, salt, defaultKDFIterations)

	block, err := aes.NewCipher(key)
	if err != nil {
		return err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return err
	}
	cipherText := gcm.Seal(nil, nonce, priv, nil)

	ks := keystoreFile{
		PubKey:        priv.Public().Hex(),
		KDFIterations: defaultKDFIterations,
		Salt:          hex.EncodeToString(salt),
		Nonce:         hex.EncodeToString(nonce),
		CipherText:    hex.EncodeToString(cipherText),
	}
	data, err := json.MarshalIndent(ks, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// LoadKey decrypts the keystore at path using password. The KDF work factor
// comes from the file itself; files predating the kdf_iterations field fall
// back to the default they were written with.
func LoadKey(path, password string) (crypto.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var ks keystoreFile
	if err := json.Unmarshal(data, &ks); err != nil {
		return nil, err
	}
	iterations := ks.KDFIterations
	if iterations == 0 {
		iterations = defaultKDFIterations
	}
	if iterations < minKDFIterations {
		return nil, fmt.Errorf("keystore kdf_iterations %d below minimum %d", iterations, minKDFIterations)
	}
	salt, err := hex.DecodeString(ks.Salt)
	if err != nil {
		return nil, err
	}
	nonce, err := hex.DecodeString(ks.Nonce)
	if err != nil {
		return nil, err
	}
	cipherText, err := hex.DecodeString(ks.CipherText)
	if err != nil {
		return nil, err
	}

	key := deriveKey(password, salt, iterations)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	privBytes, err := gcm.Open(nil, nonce, cipherText, nil)
	if err != nil {
		return nil, errors.New("wrong password or corrupted keystore")
	}
	return crypto.PrivateKey(privBytes), nil
}

func deriveKey(password string, salt []byte, iterations int) []byte {
	return pbkdf2.Key([]byte(password), salt, iterations, 32, sha256.New)
}
