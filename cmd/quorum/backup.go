package main

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/mtzanidakis/quorum/internal/config"
)

// runBackup archives the store database and the NATS data directory into a
// zstd-compressed tarball. Run it while the gateway is stopped, or accept
// that the sqlite WAL may be mid-checkpoint.
func runBackup(args []string) error {
	output := ""
	for i := 0; i < len(args); i++ {
		if args[i] == "-f" {
			if i+1 >= len(args) {
				return fmt.Errorf("missing value for -f")
			}
			i++
			output = args[i]
		}
	}
	if output == "" {
		output = fmt.Sprintf("quorum-backup-%s.tar.zst", time.Now().Format("20060102-150405"))
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	f, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f)
	if err != nil {
		return fmt.Errorf("init compressor: %w", err)
	}
	defer zw.Close()

	tw := tar.NewWriter(zw)
	defer tw.Close()

	roots := []string{filepath.Dir(cfg.Store.Path), cfg.NATS.DataDir}
	seen := map[string]bool{}
	for _, root := range roots {
		if root == "" || seen[root] {
			continue
		}
		seen[root] = true
		if err := archiveDir(tw, root); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("finalize archive: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalize compressor: %w", err)
	}

	fmt.Printf("backup written to %s\n", output)
	return nil
}

func archiveDir(tw *tar.Writer, root string) error {
	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat %s: %w", root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", root)
	}

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return fmt.Errorf("header for %s: %w", path, err)
		}
		hdr.Name = filepath.ToSlash(path)

		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("write header for %s: %w", path, err)
		}
		if d.IsDir() {
			return nil
		}

		src, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open %s: %w", path, err)
		}
		defer src.Close()
		if _, err := io.Copy(tw, src); err != nil {
			return fmt.Errorf("archive %s: %w", path, err)
		}
		return nil
	})
}
