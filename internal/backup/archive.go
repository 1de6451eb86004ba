package backup

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"

	"github.com/BadgerOps/proxysync/internal/safety"
	"github.com/BadgerOps/proxysync/internal/target"
)

const manifestName = "manifest.json"

var (
	// ErrAlreadyCaptured is returned by Import when a capture exists and
	// force was not requested.
	ErrAlreadyCaptured = errors.New("backup already captured")

	// ErrChecksumMismatch is returned when an archive or a snapshot inside it
	// does not match its recorded sha256.
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// ErrUnsupportedArchive is returned for archive names that are neither
	// .tar.zst nor .tar.xz.
	ErrUnsupportedArchive = errors.New("unsupported archive format")
)

// Manifest describes the snapshots inside an exported archive.
type Manifest struct {
	Version    string             `json:"version"`
	Created    time.Time          `json:"created"`
	SourceHost string             `json:"source_host"`
	Snapshots  []ManifestSnapshot `json:"snapshots"`
}

// ManifestSnapshot is one snapshot file in the archive.
type ManifestSnapshot struct {
	Target string `json:"target"`
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
}

// ExportReport summarizes a completed export.
type ExportReport struct {
	Path      string
	Size      int64
	SHA256    string
	Snapshots []target.Kind
}

// ImportReport summarizes a completed import.
type ImportReport struct {
	Snapshots []target.Kind
	Verified  bool // a manifest was present and every checksum matched
}

// Export writes the captured snapshots to a tar.zst archive at path, with a
// manifest as the first entry and a .sha256 sidecar next to the archive.
func (s *Store) Export(ctx context.Context, path string) (*ExportReport, error) {
	if !s.Captured() {
		return nil, ErrNotCaptured
	}

	type entry struct {
		kind target.Kind
		name string
		data []byte
	}
	var entries []entry
	hostname, _ := os.Hostname()
	manifest := Manifest{Version: "1.0", Created: time.Now().UTC(), SourceHost: hostname}

	for _, kind := range target.FileKinds {
		data, err := s.Snapshot(kind)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s snapshot: %w", kind, err)
		}
		sum := sha256.Sum256(data)
		name := snapshotNames[kind]
		entries = append(entries, entry{kind: kind, name: name, data: data})
		manifest.Snapshots = append(manifest.Snapshots, ManifestSnapshot{
			Target: string(kind),
			Name:   name,
			Size:   int64(len(data)),
			SHA256: hex.EncodeToString(sum[:]),
		})
	}

	manifestData, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling manifest: %w", err)
	}

	if err := writeArchive(ctx, path, func(tw *tar.Writer) error {
		if err := addBytesToTar(tw, manifestName, manifestData, manifest.Created); err != nil {
			return err
		}
		for _, e := range entries {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := addBytesToTar(tw, e.name, e.data, manifest.Created); err != nil {
				return fmt.Errorf("adding %s: %w", e.name, err)
			}
		}
		return nil
	}); err != nil {
		return nil, err
	}

	hash, size, err := hashFile(path)
	if err != nil {
		return nil, fmt.Errorf("hashing archive: %w", err)
	}
	sidecar := fmt.Sprintf("%s  %s\n", hash, filepath.Base(path))
	if err := os.WriteFile(path+".sha256", []byte(sidecar), 0o644); err != nil {
		return nil, fmt.Errorf("writing sha256 sidecar: %w", err)
	}

	report := &ExportReport{Path: path, Size: size, SHA256: hash}
	for _, e := range entries {
		report.Snapshots = append(report.Snapshots, e.kind)
	}
	s.logger.Info("exported backup", "path", path, "snapshots", len(entries), "bytes", size)
	return report, nil
}

// writeArchive creates path and streams a zstd-compressed tar into it.
// A partial file is removed on failure.
func writeArchive(ctx context.Context, path string, fill func(*tar.Writer) error) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating archive: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(path)
		}
	}()

	zw, err := zstd.NewWriter(f)
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("creating zstd writer: %w", err)
	}
	tw := tar.NewWriter(zw)

	if err := fill(tw); err != nil {
		_ = tw.Close()
		_ = zw.Close()
		_ = f.Close()
		return err
	}
	if err := tw.Close(); err != nil {
		_ = zw.Close()
		_ = f.Close()
		return fmt.Errorf("closing tar writer: %w", err)
	}
	if err := zw.Close(); err != nil {
		_ = f.Close()
		return fmt.Errorf("closing zstd writer: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing archive file: %w", err)
	}
	return ctx.Err()
}

func addBytesToTar(tw *tar.Writer, name string, data []byte, modTime time.Time) error {
	header := &tar.Header{
		Name:     name,
		Size:     int64(len(data)),
		Mode:     0o600,
		ModTime:  modTime,
		Typeflag: tar.TypeReg,
	}
	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	_, err := tw.Write(data)
	return err
}

// Import installs the snapshots from an archive written by Export, or from a
// hand-made .tar.xz holding the snapshot files. When a .sha256 sidecar sits
// next to the archive it is checked first; when the archive carries a
// manifest every snapshot is checked against it.
func (s *Store) Import(ctx context.Context, path string, force bool) (*ImportReport, error) {
	if s.Captured() && !force {
		return nil, fmt.Errorf("%w in %s", ErrAlreadyCaptured, s.dir)
	}

	if err := verifySidecar(path); err != nil {
		return nil, err
	}

	files, manifest, err := readArchive(ctx, path)
	if err != nil {
		return nil, err
	}

	byName := make(map[string]target.Kind, len(snapshotNames))
	for kind, name := range snapshotNames {
		byName[name] = kind
	}

	report := &ImportReport{}
	if manifest != nil {
		for _, snap := range manifest.Snapshots {
			data, ok := files[snap.Name]
			if !ok {
				return nil, fmt.Errorf("manifest lists %s but the archive does not contain it", snap.Name)
			}
			sum := sha256.Sum256(data)
			if got := hex.EncodeToString(sum[:]); got != snap.SHA256 {
				return nil, fmt.Errorf("%w: %s expected %s, got %s", ErrChecksumMismatch, snap.Name, snap.SHA256, got)
			}
		}
		report.Verified = true
	}

	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating backup dir: %w", err)
	}
	for _, kind := range target.FileKinds {
		data, ok := files[snapshotNames[kind]]
		if !ok {
			continue
		}
		dst, err := s.snapshotPath(kind)
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(dst, data, 0o600); err != nil {
			return nil, fmt.Errorf("writing %s snapshot: %w", kind, err)
		}
		report.Snapshots = append(report.Snapshots, kind)
	}

	s.logger.Info("imported backup", "path", path, "snapshots", len(report.Snapshots), "verified", report.Verified)
	return report, nil
}

// readArchive returns the snapshot files in the archive keyed by name, and
// its manifest when there is one. Unknown names are rejected.
func readArchive(ctx context.Context, path string) (map[string][]byte, *Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening archive: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	var r io.Reader
	switch {
	case strings.HasSuffix(path, ".tar.zst"), strings.HasSuffix(path, ".tzst"):
		zr, err := zstd.NewReader(f)
		if err != nil {
			return nil, nil, fmt.Errorf("creating zstd reader: %w", err)
		}
		defer zr.Close()
		r = zr
	case strings.HasSuffix(path, ".tar.xz"), strings.HasSuffix(path, ".txz"):
		xr, err := xz.NewReader(f)
		if err != nil {
			return nil, nil, fmt.Errorf("creating xz reader: %w", err)
		}
		r = xr
	default:
		return nil, nil, fmt.Errorf("%w: %s", ErrUnsupportedArchive, filepath.Base(path))
	}

	known := make(map[string]bool, len(snapshotNames))
	for _, name := range snapshotNames {
		known[name] = true
	}

	files := make(map[string][]byte)
	var manifest *Manifest
	tr := tar.NewReader(r)
	for {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("reading tar entry: %w", err)
		}
		if header.Typeflag == tar.TypeDir {
			continue
		}
		if header.Typeflag != tar.TypeReg {
			return nil, nil, fmt.Errorf("unsupported tar entry type for %s: %c", header.Name, header.Typeflag)
		}

		name, err := safety.CleanName(strings.TrimPrefix(header.Name, "./"))
		if err != nil {
			return nil, nil, fmt.Errorf("unsafe path in archive %q: %w", header.Name, err)
		}
		data, err := safety.ReadAllWithLimit(tr, safety.MaxConfigFileSize)
		if err != nil {
			return nil, nil, fmt.Errorf("reading %s: %w", name, err)
		}

		switch {
		case name == manifestName:
			manifest = &Manifest{}
			if err := json.Unmarshal(data, manifest); err != nil {
				return nil, nil, fmt.Errorf("parsing manifest: %w", err)
			}
		case known[name]:
			files[name] = data
		default:
			return nil, nil, fmt.Errorf("unexpected file in archive: %s", name)
		}
	}
	return files, manifest, nil
}

// verifySidecar checks path against path.sha256 when the sidecar exists.
func verifySidecar(path string) error {
	data, err := os.ReadFile(path + ".sha256")
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading sha256 sidecar: %w", err)
	}

	fields := bytes.Fields(data)
	if len(fields) == 0 {
		return fmt.Errorf("empty sha256 sidecar for %s", filepath.Base(path))
	}
	want := string(fields[0])

	got, _, err := hashFile(path)
	if err != nil {
		return fmt.Errorf("hashing archive: %w", err)
	}
	if got != want {
		return fmt.Errorf("%w: %s expected %s, got %s", ErrChecksumMismatch, filepath.Base(path), want, got)
	}
	return nil
}

// hashFile computes the SHA256 of a file, returning hex string and size.
func hashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer func() {
		_ = f.Close()
	}()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}
