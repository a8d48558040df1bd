package executor

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// collectCapturedFiles copies everything the block wrote into its capture
// directory ($PLAYBOOK_FILES) to destDir, preserving relative layout, and
// returns the manifest. An empty capture directory yields a nil manifest.
func collectCapturedFiles(captureDir, destDir string) ([]CapturedFile, error) {
	var files []CapturedFile

	err := filepath.WalkDir(captureDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(captureDir, path)
		if err != nil {
			return err
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		if destDir != "" {
			dest := filepath.Join(destDir, rel)
			if err := copyFile(path, dest); err != nil {
				return err
			}
		}

		files = append(files, CapturedFile{Path: rel, Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("collecting captured files: %w", err)
	}

	return files, nil
}

func copyFile(src, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
