package main

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/mtzanidakis/sminos/internal/config"
)

// backupComponents are the top-level archive directories and the only entry
// prefixes restore will extract.
var backupComponents = map[string]bool{
	"store":      true,
	"workspaces": true,
	"nats":       true,
}

// componentRoots maps each archive component to the directory it restores
// into, derived from the active config.
func componentRoots(cfg *config.Config) map[string]string {
	return map[string]string{
		"store":      filepath.Dir(cfg.Store.Path),
		"workspaces": cfg.Workspace.BasePath,
		"nats":       cfg.NATS.DataDir,
	}
}

func runBackup(args []string) error {
	var outputPath string

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-f":
			if i+1 >= len(args) {
				return fmt.Errorf("missing value for -f")
			}
			i++
			outputPath = args[i]
		}
	}

	if outputPath == "" {
		fmt.Fprintf(os.Stderr, "Usage: sminos backup -f <output.tar.zst>\n")
		return fmt.Errorf("missing -f flag")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f)
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}
	defer zw.Close()

	tw := tar.NewWriter(zw)
	defer tw.Close()

	components := 0

	n, err := backupStore(tw, cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("backup store: %w", err)
	}
	if n > 0 {
		components++
	}

	for _, c := range []struct{ name, root string }{
		{"workspaces", cfg.Workspace.BasePath},
		{"nats", cfg.NATS.DataDir},
	} {
		n, err := backupTree(tw, c.name, c.root)
		if err != nil {
			return fmt.Errorf("backup %s: %w", c.name, err)
		}
		if n > 0 {
			components++
		}
	}

	if components == 0 {
		slog.Warn("no data found, creating empty archive")
	}

	// Close everything explicitly to catch write errors
	if err := tw.Close(); err != nil {
		return fmt.Errorf("close tar: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close zstd: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close file: %w", err)
	}

	info, _ := os.Stat(outputPath)
	size := int64(0)
	if info != nil {
		size = info.Size()
	}

	fmt.Printf("Backup complete: %d components, %s\n", components, formatSize(size))
	return nil
}

// backupStore archives the sqlite database plus any wal/shm sidecars under
// the store/ component.
func backupStore(tw *tar.Writer, storePath string) (int, error) {
	matches, err := filepath.Glob(storePath + "*")
	if err != nil {
		return 0, err
	}

	count := 0
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || info.IsDir() {
			continue
		}
		slog.Info("backing up store file", "path", m)
		if err := addFile(tw, path.Join("store", filepath.Base(m)), m, info); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// backupTree archives a directory tree under the named component. A missing
// root is not an error, the component is simply absent from the archive.
func backupTree(tw *tar.Writer, component, root string) (int, error) {
	if root == "" {
		return 0, nil
	}
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return 0, nil
	}

	slog.Info("backing up directory", "component", component, "path", root)

	count := 0
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		name := path.Join(component, filepath.ToSlash(rel))
		info, err := d.Info()
		if err != nil {
			return err
		}

		if d.IsDir() {
			hdr, err := tar.FileInfoHeader(info, "")
			if err != nil {
				return err
			}
			hdr.Name = name + "/"
			return tw.WriteHeader(hdr)
		}
		if !d.Type().IsRegular() {
			slog.Warn("skipping non-regular file", "path", p)
			return nil
		}

		if err := addFile(tw, name, p, info); err != nil {
			return err
		}
		count++
		return nil
	})
	return count, err
}

func addFile(tw *tar.Writer, name, src string, info os.FileInfo) error {
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = name

	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}

	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(tw, f)
	return err
}

func runRestore(args []string) error {
	var inputPath string
	overwrite := false

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-f":
			if i+1 >= len(args) {
				return fmt.Errorf("missing value for -f")
			}
			i++
			inputPath = args[i]
		case "-overwrite":
			overwrite = true
		}
	}

	if inputPath == "" {
		fmt.Fprintf(os.Stderr, "Usage: sminos restore -f <backup.tar.zst> [-overwrite]\n")
		return fmt.Errorf("missing -f flag")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	roots := componentRoots(cfg)

	// Pre-scan: collect component names without extracting file data.
	components, err := scanArchiveComponents(inputPath)
	if err != nil {
		return fmt.Errorf("scan archive: %w", err)
	}

	if len(components) == 0 {
		fmt.Println("Archive contains no data.")
		return nil
	}

	if !overwrite {
		for _, c := range components {
			if componentExists(cfg, c) {
				return fmt.Errorf("%s data already exists at %s, add -overwrite to replace files", c, roots[c])
			}
		}
	}

	f, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return fmt.Errorf("create zstd reader: %w", err)
	}
	defer zr.Close()

	tr := tar.NewReader(zr)

	files := 0
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read tar entry: %w", err)
		}

		component, rel := splitComponentPath(hdr.Name)
		if component == "" {
			continue
		}

		dest, err := safeJoin(roots[component], rel)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return fmt.Errorf("create directory: %w", err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return fmt.Errorf("create directory: %w", err)
			}
			if err := restoreFile(dest, tr, hdr); err != nil {
				return fmt.Errorf("restore %s: %w", hdr.Name, err)
			}
			files++
		default:
			slog.Warn("skipping unsupported archive entry", "name", hdr.Name, "type", hdr.Typeflag)
		}
	}

	fmt.Printf("Restore complete: %d components, %d files\n", len(components), files)
	return nil
}

func restoreFile(dest string, r io.Reader, hdr *tar.Header) error {
	mode := os.FileMode(hdr.Mode & 0o777)
	if mode == 0 {
		mode = 0o644
	}

	f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// componentExists reports whether restoring the component would overwrite
// existing data.
func componentExists(cfg *config.Config, component string) bool {
	switch component {
	case "store":
		_, err := os.Stat(cfg.Store.Path)
		return err == nil
	case "workspaces":
		return dirHasEntries(cfg.Workspace.BasePath)
	case "nats":
		return dirHasEntries(cfg.NATS.DataDir)
	}
	return false
}

func dirHasEntries(dir string) bool {
	entries, err := os.ReadDir(dir)
	return err == nil && len(entries) > 0
}

// scanArchiveComponents reads tar headers to collect unique component names
// (top-level directories) without extracting file data.
func scanArchiveComponents(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	tr := tar.NewReader(zr)

	seen := make(map[string]bool)
	var names []string

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		component, _ := splitComponentPath(hdr.Name)
		if component != "" && !seen[component] {
			seen[component] = true
			names = append(names, component)
		}
	}

	return names, nil
}

// splitComponentPath splits "workspaces/fixer/notes.md" into ("workspaces",
// "fixer/notes.md"). Returns an empty component for entries outside the known
// component set.
func splitComponentPath(name string) (component, rel string) {
	// Clean leading slashes/dots
	name = strings.TrimLeft(name, "./")
	if name == "" {
		return "", ""
	}

	idx := strings.IndexByte(name, '/')
	if idx < 0 {
		// Directory entry like "workspaces" (no trailing slash was stripped)
		if backupComponents[name] {
			return name, "./"
		}
		return "", ""
	}

	component = name[:idx]
	rel = name[idx+1:]
	if rel == "" {
		rel = "./"
	}

	if !backupComponents[component] {
		return "", ""
	}

	return component, rel
}

// safeJoin joins an archive-relative path onto root, rejecting anything that
// would escape it.
func safeJoin(root, rel string) (string, error) {
	rel = filepath.Clean(filepath.FromSlash(rel))
	if rel == "." {
		return root, nil
	}
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("unsafe path %q in archive", rel)
	}
	return filepath.Join(root, rel), nil
}

func formatSize(bytes int64) string {
	const (
		kb = 1024
		mb = kb * 1024
		gb = mb * 1024
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(gb))
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d bytes", bytes)
	}
}
