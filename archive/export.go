// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// Compression selects the bundle compression codec. Both codecs emit
// their standard frame formats, so plaintext bundles open with
// ordinary zstd/lz4 tooling.
type Compression string

const (
	// CompressionZstd is the default: best ratio for the JSON records
	// a bundle carries.
	CompressionZstd Compression = "zstd"

	// CompressionLZ4 trades ratio for speed.
	CompressionLZ4 Compression = "lz4"
)

// ExportOptions configures ExportBundle and OpenBundle.
type ExportOptions struct {
	// Compression selects the codec; empty means CompressionZstd.
	Compression Compression

	// Key, when non-empty, encrypts the bundle with
	// XChaCha20-Poly1305 under an HKDF-derived key. Any length of key
	// material is accepted.
	Key []byte
}

// bundleVersion is the version byte prepended to encrypted bundles.
// Included as additional authenticated data, so tampering with it
// causes authentication failure.
const bundleVersion byte = 0x01

// bundleOverhead is the total byte overhead per encrypted bundle:
// 1 (version) + 24 (XChaCha20-Poly1305 nonce) + 16 (Poly1305 tag).
const bundleOverhead = 1 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

// bundleKeyInfo is the HKDF info string for bundle key derivation.
// Changing it invalidates every bundle encrypted so far.
var bundleKeyInfo = []byte("mailroom.archive.bundle.v1")

// bundleZstdEncoder and bundleZstdDecoder are reused across calls to
// avoid repeated initialization overhead. Both are safe for
// concurrent use.
var (
	bundleZstdEncoder *zstd.Encoder
	bundleZstdDecoder *zstd.Decoder
)

func init() {
	var err error
	bundleZstdEncoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
	)
	if err != nil {
		panic("archive: zstd encoder initialization failed: " + err.Error())
	}

	bundleZstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("archive: zstd decoder initialization failed: " + err.Error())
	}
}

// ExportBundle writes a snapshot of the committed chain — the head
// file plus every record at or below it — to w as a compressed tar,
// optionally sealed with the bundle key. The snapshot is consistent:
// records staged while the export runs are beyond the head it read
// and are left out.
func (a *Archive) ExportBundle(ctx context.Context, w io.Writer, opts ExportOptions) error {
	compression := opts.Compression
	if compression == "" {
		compression = CompressionZstd
	}

	head, err := a.Head()
	if err != nil {
		return err
	}
	files, err := a.recordFiles(head.Seq)
	if err != nil {
		return err
	}

	var tarBuffer bytes.Buffer
	tarWriter := tar.NewWriter(&tarBuffer)
	if err := addBundleFile(tarWriter, a.headPath, path.Join(chainDir, headFileName)); err != nil {
		return err
	}
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		relative, err := filepath.Rel(a.dir, file.path)
		if err != nil {
			return fmt.Errorf("resolving bundle path for %s: %w", file.path, err)
		}
		if err := addBundleFile(tarWriter, file.path, filepath.ToSlash(relative)); err != nil {
			return err
		}
	}
	if err := tarWriter.Close(); err != nil {
		return fmt.Errorf("finishing bundle tar: %w", err)
	}

	data, err := compressBundle(tarBuffer.Bytes(), compression)
	if err != nil {
		return err
	}

	if len(opts.Key) > 0 {
		data, err = sealBundle(data, opts.Key, a.slug)
		if err != nil {
			return err
		}
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("writing bundle: %w", err)
	}
	return nil
}

// OpenBundle reads a bundle produced by ExportBundle, reversing the
// encryption and compression per opts, and returns a tar reader over
// the archived files. For encrypted bundles the slug must match the
// exporting project — the ciphertext is bound to it.
func OpenBundle(r io.Reader, slug string, opts ExportOptions) (*tar.Reader, error) {
	compression := opts.Compression
	if compression == "" {
		compression = CompressionZstd
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading bundle: %w", err)
	}
	if len(opts.Key) > 0 {
		data, err = openSealedBundle(data, opts.Key, slug)
		if err != nil {
			return nil, err
		}
	}
	plain, err := decompressBundle(data, compression)
	if err != nil {
		return nil, err
	}
	return tar.NewReader(bytes.NewReader(plain)), nil
}

func addBundleFile(tarWriter *tar.Writer, filePath, name string) error {
	info, err := os.Stat(filePath)
	if err != nil {
		return fmt.Errorf("stating bundle entry %s: %w", name, err)
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("reading bundle entry %s: %w", name, err)
	}
	header := &tar.Header{
		Name:    name,
		Mode:    0o644,
		Size:    int64(len(data)),
		ModTime: info.ModTime(),
	}
	if err := tarWriter.WriteHeader(header); err != nil {
		return fmt.Errorf("writing tar header for %s: %w", name, err)
	}
	if _, err := tarWriter.Write(data); err != nil {
		return fmt.Errorf("writing tar entry for %s: %w", name, err)
	}
	return nil
}

func compressBundle(data []byte, compression Compression) ([]byte, error) {
	switch compression {
	case CompressionZstd:
		return bundleZstdEncoder.EncodeAll(data, nil), nil

	case CompressionLZ4:
		var buffer bytes.Buffer
		writer := lz4.NewWriter(&buffer)
		if _, err := writer.Write(data); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if err := writer.Close(); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		return buffer.Bytes(), nil
	}
	return nil, fmt.Errorf("archive: unknown bundle compression %q", compression)
}

func decompressBundle(data []byte, compression Compression) ([]byte, error) {
	switch compression {
	case CompressionZstd:
		plain, err := bundleZstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		return plain, nil

	case CompressionLZ4:
		plain, err := io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		return plain, nil
	}
	return nil, fmt.Errorf("archive: unknown bundle compression %q", compression)
}

// sealBundle encrypts a compressed bundle:
//
//	[Version: 1 byte (0x01)] [Nonce: 24 bytes (random)] [Ciphertext+Tag]
//
// The version byte and the keyed hash of the project slug are the
// additional authenticated data, binding the ciphertext to both the
// format and the project it came from.
func sealBundle(plaintext, key []byte, slug string) ([]byte, error) {
	bundleKey, err := deriveBundleKey(key)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(bundleKey)
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}

	var nonce [chacha20poly1305.NonceSizeX]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generating random nonce: %w", err)
	}

	output := make([]byte, 1+chacha20poly1305.NonceSizeX, bundleOverhead+len(plaintext))
	output[0] = bundleVersion
	copy(output[1:], nonce[:])
	return aead.Seal(output, nonce[:], plaintext, bundleAAD(slug)), nil
}

func openSealedBundle(sealed, key []byte, slug string) ([]byte, error) {
	if len(sealed) < bundleOverhead {
		return nil, fmt.Errorf("archive: encrypted bundle is %d bytes, minimum is %d (version + nonce + tag)",
			len(sealed), bundleOverhead)
	}
	if sealed[0] != bundleVersion {
		return nil, fmt.Errorf("archive: encrypted bundle version %d is not supported (expected %d)",
			sealed[0], bundleVersion)
	}

	bundleKey, err := deriveBundleKey(key)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(bundleKey)
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}

	nonce := sealed[1 : 1+chacha20poly1305.NonceSizeX]
	ciphertext := sealed[1+chacha20poly1305.NonceSizeX:]
	plaintext, err := aead.Open(nil, nonce, ciphertext, bundleAAD(slug))
	if err != nil {
		return nil, fmt.Errorf("archive: bundle decryption failed (wrong key, tampered data, or wrong project): %w", err)
	}
	return plaintext, nil
}

// bundleAAD builds the additional authenticated data for a sealed
// bundle: the version byte followed by the keyed hash of the project
// slug, so one project's bundle cannot be presented as another's.
func bundleAAD(slug string) []byte {
	identity := keyedSum(bundleDomainKey, []byte(slug))
	aad := make([]byte, 1+len(identity))
	aad[0] = bundleVersion
	copy(aad[1:], identity[:])
	return aad
}

// deriveBundleKey stretches the caller's key material into the AEAD
// key via HKDF-SHA256. The salt is nil per RFC 5869; the info string
// provides the domain separation.
func deriveBundleKey(key []byte) ([]byte, error) {
	if len(key) == 0 {
		return nil, errors.New("archive: bundle key is empty")
	}
	reader := hkdf.New(sha256.New, key, nil, bundleKeyInfo)
	derived := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(reader, derived); err != nil {
		return nil, fmt.Errorf("HKDF key derivation failed: %w", err)
	}
	return derived, nil
}
