package service

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"signing-relay/pkg/apperror"

	"golang.org/x/crypto/argon2"
)

// Vault record KDF defaults, matching the Argon2id parameters used for
// password hashing elsewhere in the stack.
const (
	vaultKDFTime    = 1
	vaultKDFMemory  = 64 * 1024 // 64MB
	vaultKDFThreads = 4
	vaultKeyLen     = 32
	vaultSaltLen    = 16

	vaultRecordPrefix  = "$srv$"
	vaultRecordVersion = 2
)

// VaultService seals the exchange secret under an operator password.
//
// Records written by CreateVault have the form
//
//	$srv$v=2$m=65536,t=1,p=4$<salt>$<nonce||ciphertext||tag>
//
// (raw standard base64), key = Argon2id(password, salt), cipher AES-256-GCM
// with the header as additional data. OpenVault also reads legacy records,
// base64(IV||ciphertext) with key = SHA-256(password) under AES-256-CBC and
// count-byte padding; for those a clean unpad is only a heuristic that the
// password was right.
type VaultService struct {
	kdfTime    uint32
	kdfMemory  uint32
	kdfThreads uint8
}

// VaultOption customises a VaultService.
type VaultOption func(*VaultService)

// WithKDFParams overrides the Argon2id cost parameters for new records.
func WithKDFParams(time, memoryKiB uint32, threads uint8) VaultOption {
	return func(s *VaultService) {
		s.kdfTime = time
		s.kdfMemory = memoryKiB
		s.kdfThreads = threads
	}
}

// NewVaultService creates a vault service with the default KDF cost.
func NewVaultService(opts ...VaultOption) *VaultService {
	s := &VaultService{
		kdfTime:    vaultKDFTime,
		kdfMemory:  vaultKDFMemory,
		kdfThreads: vaultKDFThreads,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type vaultKDFParams struct {
	time    uint32
	memory  uint32
	threads uint8
}

// CreateVault encrypts secret under a key derived from password and
// returns the text record to persist.
func (s *VaultService) CreateVault(secret []byte, password string) (string, error) {
	salt := make([]byte, vaultSaltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	params := vaultKDFParams{time: s.kdfTime, memory: s.kdfMemory, threads: s.kdfThreads}
	header := encodeVaultHeader(params, salt)

	aesGCM, err := newVaultGCM(password, salt, params)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aesGCM.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	sealed := aesGCM.Seal(nonce, nonce, secret, []byte(header))
	return header + "$" + base64.RawStdEncoding.EncodeToString(sealed), nil
}

// OpenVault decrypts a record produced by CreateVault or by the legacy tool.
func (s *VaultService) OpenVault(record string, password string) ([]byte, error) {
	record = strings.TrimSpace(record)
	if strings.HasPrefix(record, vaultRecordPrefix) {
		return s.openV2(record, password)
	}
	return openLegacyVault(record, password)
}

// NeedsUpgrade reports whether record uses the legacy unauthenticated format.
func (s *VaultService) NeedsUpgrade(record string) bool {
	return !strings.HasPrefix(strings.TrimSpace(record), vaultRecordPrefix)
}

func (s *VaultService) openV2(record, password string) ([]byte, error) {
	cut := strings.LastIndexByte(record, '$')
	header, body := record[:cut], record[cut+1:]

	params, salt, err := decodeVaultHeader(header)
	if err != nil {
		return nil, apperror.ErrMalformedRecord(err)
	}

	sealed, err := base64.RawStdEncoding.DecodeString(body)
	if err != nil {
		return nil, apperror.ErrMalformedRecord(fmt.Errorf("decoding ciphertext: %w", err))
	}

	aesGCM, err := newVaultGCM(password, salt, params)
	if err != nil {
		return nil, err
	}

	nonceSize := aesGCM.NonceSize()
	if len(sealed) < nonceSize+aesGCM.Overhead() {
		return nil, apperror.ErrMalformedRecord(errors.New("ciphertext too short"))
	}

	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := aesGCM.Open(nil, nonce, ciphertext, []byte(header))
	if err != nil {
		return nil, apperror.ErrVaultAuthFailed(err)
	}
	return plaintext, nil
}

func newVaultGCM(password string, salt []byte, params vaultKDFParams) (cipher.AEAD, error) {
	key := argon2.IDKey([]byte(password), salt, params.time, params.memory, params.threads, vaultKeyLen)
	defer wipe(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return aesGCM, nil
}

func encodeVaultHeader(params vaultKDFParams, salt []byte) string {
	return fmt.Sprintf(
		"%sv=%d$m=%d,t=%d,p=%d$%s",
		vaultRecordPrefix, vaultRecordVersion,
		params.memory, params.time, params.threads,
		base64.RawStdEncoding.EncodeToString(salt),
	)
}

// decodeVaultHeader parses "$srv$v=2$m=..,t=..,p=..$<salt>".
func decodeVaultHeader(header string) (params vaultKDFParams, salt []byte, err error) {
	parts := strings.Split(header, "$")
	if len(parts) != 5 {
		return params, nil, fmt.Errorf("invalid record header: expected 5 parts, got %d", len(parts))
	}
	if parts[1] != "srv" {
		return params, nil, fmt.Errorf("unsupported record type: %s", parts[1])
	}

	var version int
	if _, err = fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return params, nil, fmt.Errorf("parsing version: %w", err)
	}
	if version != vaultRecordVersion {
		return params, nil, fmt.Errorf("unsupported record version: %d", version)
	}

	if _, err = fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.memory, &params.time, &params.threads); err != nil {
		return params, nil, fmt.Errorf("parsing params: %w", err)
	}
	if params.time == 0 || params.memory == 0 || params.threads == 0 {
		return params, nil, fmt.Errorf("invalid KDF params m=%d,t=%d,p=%d", params.memory, params.time, params.threads)
	}

	salt, err = base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return params, nil, fmt.Errorf("decoding salt: %w", err)
	}
	return params, salt, nil
}

func openLegacyVault(record, password string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(record)
	if err != nil {
		return nil, apperror.ErrMalformedRecord(fmt.Errorf("decoding record: %w", err))
	}
	if len(raw) < 2*aes.BlockSize || len(raw)%aes.BlockSize != 0 {
		return nil, apperror.ErrMalformedRecord(fmt.Errorf("record length %d is not IV plus whole blocks", len(raw)))
	}

	key := sha256.Sum256([]byte(password))
	defer wipe(key[:])

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	iv, ciphertext := raw[:aes.BlockSize], raw[aes.BlockSize:]
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	return unpadCount(plaintext, aes.BlockSize)
}

// unpadCount strips padding where every pad byte holds the pad length.
func unpadCount(b []byte, blockSize int) ([]byte, error) {
	if len(b) == 0 {
		return nil, apperror.ErrInvalidPadding()
	}
	n := int(b[len(b)-1])
	if n == 0 || n > blockSize || n > len(b) {
		return nil, apperror.ErrInvalidPadding()
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, apperror.ErrInvalidPadding()
		}
	}
	return b[:len(b)-n], nil
}

// VaultExists reports whether a vault record is present at path.
func VaultExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("checking vault file: %w", err)
}

// ReadVaultFile reads the record stored at path.
func ReadVaultFile(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading vault file: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

// WriteVaultFile replaces the record at path atomically, owner-readable only.
func WriteVaultFile(path, record string) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".vault-*")
	if err != nil {
		return fmt.Errorf("creating temp vault file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod vault file: %w", err)
	}
	if _, err := tmp.WriteString(record + "\n"); err != nil {
		tmp.Close()
		return fmt.Errorf("writing vault file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing vault file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing vault file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replacing vault file: %w", err)
	}
	return nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
