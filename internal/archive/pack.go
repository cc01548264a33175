package archive

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// Include is one "alias:source" pair from a --include-files style flag:
// everything under source is copied into the archive, rooted at alias.
// When no alias is given the source path is used for both.
type Include struct {
	Alias  string
	Source string
}

// ParseInclude splits "alias:source" pairs the way the CLI layer takes
// them; a bare path with no colon uses itself as both alias and source.
func ParseInclude(spec string) Include {
	if alias, src, ok := strings.Cut(spec, ":"); ok {
		return Include{Alias: alias, Source: src}
	}
	return Include{Alias: spec, Source: spec}
}

// Archive is a packaged, on-disk deployment zip plus the metadata the
// builder and emulator both need without re-reading the binary.
type Archive struct {
	Path         string
	Architecture string
	ModifiedAt   time.Time
}

// SHA256 hashes the archive file's current contents. It is recomputed
// from disk on every call rather than cached, since a caller may have
// re-packed the same path between calls.
func (a Archive) SHA256() (string, error) {
	data, err := os.ReadFile(a.Path)
	if err != nil {
		return "", fmt.Errorf("read binary archive: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Entries lists the names of every file stored inside the archive.
func (a Archive) Entries() ([]string, error) {
	r, err := zip.OpenReader(a.Path)
	if err != nil {
		return nil, fmt.Errorf("open zip archive: %w", err)
	}
	defer r.Close()

	names := make([]string, 0, len(r.File))
	for _, f := range r.File {
		names = append(names, f.Name)
	}
	return names, nil
}

// CreateBinaryArchive finds the binary or zip for data under baseDir and
// returns a ready-to-deploy Archive. If a fresh binary exists at
// baseDir/data.BinaryLocation()/data.BinaryName() it is zipped; otherwise
// an existing data.ZipName() at that location is reused in place.
func CreateBinaryArchive(baseDir string, data BinaryData, include []Include) (Archive, error) {
	bootstrapDir := filepath.Join(baseDir, data.BinaryLocation())
	binaryPath := filepath.Join(bootstrapDir, data.BinaryName())

	if _, err := os.Stat(binaryPath); err == nil {
		return ZipBinary(binaryPath, bootstrapDir, data, include)
	}

	zipPath := filepath.Join(bootstrapDir, data.ZipName())
	if _, err := os.Stat(zipPath); err == nil {
		return useZipInPlace(zipPath, data, include)
	}

	return Archive{}, fmt.Errorf("%w: %s (run `%s`)", ErrBinaryMissing, data.BinaryName(), data.BuildHelp())
}

// ZipBinary creates a new deployment archive containing binaryPath,
// preserving its modification time and unix permissions so repeated
// packs of an unchanged binary produce byte-identical, and therefore
// identically-hashed, zip files.
func ZipBinary(binaryPath, destDir string, data BinaryData, include []Include) (Archive, error) {
	zipPath := filepath.Join(destDir, data.ZipName())

	raw, err := os.ReadFile(binaryPath)
	if err != nil {
		return Archive{}, fmt.Errorf("open binary file %q: %w", binaryPath, err)
	}

	info, err := os.Stat(binaryPath)
	if err != nil {
		return Archive{}, fmt.Errorf("stat binary file %q: %w", binaryPath, err)
	}

	arch, err := readBinaryArch(raw)
	if err != nil {
		return Archive{}, err
	}

	out, err := os.Create(zipPath)
	if err != nil {
		return Archive{}, fmt.Errorf("create zip file %q: %w", zipPath, err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)

	if err := includeFilesInZip(zw, include); err != nil {
		zw.Close()
		return Archive{}, err
	}

	if parent, ok := data.ParentDir(); ok {
		if _, err := zw.CreateHeader(&zip.FileHeader{Name: parent + "/"}); err != nil {
			zw.Close()
			return Archive{}, fmt.Errorf("add directory %q to zip file: %w", parent, err)
		}
	}

	entryName := data.BinaryPathInZip()
	hdr := binaryFileHeader(entryName, info)
	w, err := zw.CreateHeader(hdr)
	if err != nil {
		zw.Close()
		return Archive{}, fmt.Errorf("start zip entry %q: %w", entryName, err)
	}
	if _, err := w.Write(raw); err != nil {
		zw.Close()
		return Archive{}, fmt.Errorf("write zip entry %q: %w", entryName, err)
	}

	if err := zw.Close(); err != nil {
		return Archive{}, fmt.Errorf("finish zip file %q: %w", zipPath, err)
	}

	return Archive{Path: zipPath, Architecture: arch, ModifiedAt: info.ModTime()}, nil
}

// useZipInPlace reuses an already-built zip, optionally appending extra
// include files. archive/zip cannot append to an existing file, so when
// includes are requested the existing entries are copied verbatim into a
// fresh temp file which then atomically replaces the original.
func useZipInPlace(zipPath string, data BinaryData, include []Include) (Archive, error) {
	arch, modAt, err := extractArchMetadata(zipPath, data.BinaryPathInZip())
	if err != nil {
		return Archive{}, err
	}

	if len(include) > 0 {
		if err := rewriteZipWithIncludes(zipPath, include); err != nil {
			return Archive{}, err
		}
	}

	return Archive{Path: zipPath, Architecture: arch, ModifiedAt: modAt}, nil
}

func extractArchMetadata(zipPath, binaryPathInZip string) (string, time.Time, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("open zip file %q: %w", zipPath, err)
	}
	defer r.Close()

	f, err := r.Open(binaryPathInZip)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("find %q in zip file: %w", binaryPathInZip, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("read %q from zip file: %w", binaryPathInZip, err)
	}

	arch, err := readBinaryArch(data)
	if err != nil {
		return "", time.Time{}, err
	}

	var modAt time.Time
	for _, entry := range r.File {
		if entry.Name == binaryPathInZip {
			modAt = entry.Modified
			break
		}
	}

	return arch, modAt, nil
}

func rewriteZipWithIncludes(zipPath string, include []Include) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("open zip file %q: %w", zipPath, err)
	}
	defer r.Close()

	tmp, err := os.CreateTemp(filepath.Dir(zipPath), "*.zip.tmp")
	if err != nil {
		return fmt.Errorf("create temp zip file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	zw := zip.NewWriter(tmp)
	for _, f := range r.File {
		rc, err := f.Open()
		if err != nil {
			zw.Close()
			tmp.Close()
			return fmt.Errorf("read existing entry %q: %w", f.Name, err)
		}
		w, err := zw.CreateHeader(&f.FileHeader)
		if err != nil {
			rc.Close()
			zw.Close()
			tmp.Close()
			return fmt.Errorf("copy existing entry %q: %w", f.Name, err)
		}
		if _, err := io.Copy(w, rc); err != nil {
			rc.Close()
			zw.Close()
			tmp.Close()
			return fmt.Errorf("copy existing entry %q: %w", f.Name, err)
		}
		rc.Close()
	}

	if err := includeFilesInZip(zw, include); err != nil {
		zw.Close()
		tmp.Close()
		return err
	}

	if err := zw.Close(); err != nil {
		tmp.Close()
		return fmt.Errorf("finish temp zip file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp zip file: %w", err)
	}

	return renameReplace(tmpPath, zipPath)
}

// renameReplace swaps the finished archive into place atomically. tmpPath
// is always created in zipPath's own directory, so this is a same-filesystem
// rename rather than a cross-device copy.
func renameReplace(src, dst string) error {
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("replace %q: %w", dst, err)
	}
	return nil
}

// includeFilesInZip walks each Include's source tree and writes every
// file under it into the archive, with its path rewritten so the
// source root is replaced by the include's alias. Walks run
// concurrently since each include is independent of the others,
// mirroring the parallel-prefetch idiom used elsewhere in this corpus.
func includeFilesInZip(zw *zip.Writer, include []Include) error {
	if len(include) == 0 {
		return nil
	}

	type entry struct {
		name string
		dir  bool
		info os.FileInfo
		data []byte
	}

	results := make([][]entry, len(include))
	g := new(errgroup.Group)
	for i, inc := range include {
		i, inc := i, inc
		g.Go(func() error {
			unixAlias := convertToUnixPath(inc.Alias)
			unixSource := convertToUnixPath(inc.Source)
			if unixAlias == "" || unixSource == "" {
				return fmt.Errorf("%w: %s", ErrInvalidUnixFileName, inc.Source)
			}

			var entries []entry
			err := filepath.Walk(inc.Source, func(p string, info os.FileInfo, err error) error {
				if err != nil {
					return err
				}
				unixPath := convertToUnixPath(p)
				if unixPath == "" {
					return fmt.Errorf("%w: %s", ErrInvalidUnixFileName, p)
				}
				dest := strings.Replace(unixPath, unixSource, unixAlias, 1)

				if info.IsDir() {
					entries = append(entries, entry{name: dest, dir: true})
					return nil
				}

				data, err := os.ReadFile(p)
				if err != nil {
					return fmt.Errorf("read file %q: %w", p, err)
				}
				entries = append(entries, entry{name: dest, info: info, data: data})
				return nil
			})
			if err != nil {
				return fmt.Errorf("walk include %q: %w", inc.Source, err)
			}
			results[i] = entries
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// Zip writes must happen sequentially and in a stable order so that
	// identical inputs always produce an identical archive.
	for _, entries := range results {
		sort.Slice(entries, func(a, b int) bool { return entries[a].name < entries[b].name })
		for _, e := range entries {
			if e.dir {
				if _, err := zw.CreateHeader(&zip.FileHeader{Name: e.name + "/"}); err != nil {
					return fmt.Errorf("add directory %q to zip file: %w", e.name, err)
				}
				continue
			}
			hdr := binaryFileHeader(e.name, e.info)
			w, err := zw.CreateHeader(hdr)
			if err != nil {
				return fmt.Errorf("create zip content file %q: %w", e.name, err)
			}
			if _, err := io.Copy(w, bytes.NewReader(e.data)); err != nil {
				return fmt.Errorf("write zip content file %q: %w", e.name, err)
			}
		}
	}

	return nil
}

func binaryFileHeader(name string, info os.FileInfo) *zip.FileHeader {
	hdr := &zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: info.ModTime(),
	}
	hdr.SetMode(info.Mode())
	return hdr
}

// convertToUnixPath normalizes an OS-native path to the forward-slash
// form zip archives always use, regardless of host platform.
func convertToUnixPath(p string) string {
	return filepath.ToSlash(filepath.Clean(p))
}
