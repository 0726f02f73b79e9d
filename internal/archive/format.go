package archive

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// FormatVersion is the current archive file format.
const FormatVersion = 1

// maxPayloadSize caps decompression at 500MB to bound memory on
// corrupted or hostile inputs.
const maxPayloadSize = 500 * 1024 * 1024

// Header is the plain-text first line of an archive file. It can be
// read without decompressing the payload.
type Header struct {
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	Checksum  string    `json:"checksum"`
	RunCount  int       `json:"run_count"`
}

// Write stores an archive at path: a JSON header line followed by the
// gzip-compressed JSON payload, with a SHA-256 checksum of the
// compressed bytes in the header.
func Write(path string, a *Archive) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshaling archive: %w", err)
	}

	var compressed bytes.Buffer
	gzw := gzip.NewWriter(&compressed)
	if _, err := gzw.Write(payload); err != nil {
		return fmt.Errorf("compressing archive: %w", err)
	}
	if err := gzw.Close(); err != nil {
		return fmt.Errorf("closing gzip writer: %w", err)
	}

	hash := sha256.Sum256(compressed.Bytes())
	header := Header{
		Version:   a.Version,
		CreatedAt: a.CreatedAt,
		Checksum:  "sha256:" + hex.EncodeToString(hash[:]),
		RunCount:  len(a.Runs),
	}
	headerBytes, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("marshaling header: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating archive directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating archive file: %w", err)
	}
	if _, err := f.Write(append(headerBytes, '\n')); err != nil {
		f.Close()
		return fmt.Errorf("writing header: %w", err)
	}
	if _, err := f.Write(compressed.Bytes()); err != nil {
		f.Close()
		return fmt.Errorf("writing payload: %w", err)
	}
	return f.Close()
}

// Read loads an archive from path, verifying the payload checksum
// before decompressing.
func Read(path string) (*Archive, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	header, compressed, err := readParts(reader)
	if err != nil {
		return nil, err
	}

	gzr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("opening payload: %w", err)
	}
	defer gzr.Close()

	payload, err := io.ReadAll(io.LimitReader(gzr, maxPayloadSize+1))
	if err != nil {
		return nil, fmt.Errorf("decompressing payload: %w", err)
	}
	if int64(len(payload)) > maxPayloadSize {
		return nil, fmt.Errorf("payload exceeds %d bytes", int64(maxPayloadSize))
	}

	var a Archive
	if err := json.Unmarshal(payload, &a); err != nil {
		return nil, fmt.Errorf("parsing archive: %w", err)
	}
	if a.Version != header.Version {
		return nil, fmt.Errorf("header version %d does not match payload version %d", header.Version, a.Version)
	}
	return &a, nil
}

// ReadHeader reads only the header line, without touching the payload
// checksum. Used by listings.
func ReadHeader(path string) (*Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()

	headerLine, err := bufio.NewReader(f).ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("reading header line: %w", err)
	}
	return parseHeader(headerLine)
}

// Verify checks the payload checksum without decompressing.
func Verify(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()

	_, _, err = readParts(bufio.NewReader(f))
	return err
}

func readParts(reader *bufio.Reader) (*Header, []byte, error) {
	headerLine, err := reader.ReadBytes('\n')
	if err != nil {
		return nil, nil, fmt.Errorf("reading header line: %w", err)
	}
	header, err := parseHeader(headerLine)
	if err != nil {
		return nil, nil, err
	}

	compressed, err := io.ReadAll(reader)
	if err != nil {
		return nil, nil, fmt.Errorf("reading payload: %w", err)
	}
	hash := sha256.Sum256(compressed)
	got := "sha256:" + hex.EncodeToString(hash[:])
	if got != header.Checksum {
		return nil, nil, fmt.Errorf("checksum mismatch: header says %s, payload is %s", header.Checksum, got)
	}
	return header, compressed, nil
}

func parseHeader(line []byte) (*Header, error) {
	var header Header
	if err := json.Unmarshal(bytes.TrimSpace(line), &header); err != nil {
		return nil, fmt.Errorf("parsing header: %w", err)
	}
	if header.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported archive version %d", header.Version)
	}
	return &header, nil
}
