package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Writer stores containers under a destination root, one directory per
// session.
type Writer struct {
	root   string
	logger *slog.Logger
}

func NewWriter(root string, logger *slog.Logger) *Writer {
	return &Writer{root: root, logger: logger}
}

// Dir returns the destination directory of session.
func (w *Writer) Dir(session string) string {
	return filepath.Join(w.root, session)
}

// Exists reports whether session already has a manifest.
func (w *Writer) Exists(session string) bool {
	_, err := os.Stat(filepath.Join(w.Dir(session), ManifestFile))
	return err == nil
}

// Write stores c and returns the path of its manifest. The manifest is
// written last so that an existing manifest marks a complete session.
func (w *Writer) Write(c *Container) (string, error) {
	dir := w.Dir(c.Session)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir: %w", err)
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	set := c.DownsampledSignals()
	if err := w.writeEDF(filepath.Join(dir, DownsampledFile), set, c); err != nil {
		if !errors.Is(err, ErrEmptySignals) {
			return "", err
		}
		w.logger.Debug("no downsampled signals to write", "session", c.Session)
	}

	for name, v := range c.Videos {
		if err := copyFile(v.Source, filepath.Join(dir, filepath.FromSlash(v.File))); err != nil {
			return "", fmt.Errorf("video %s: %w", name, err)
		}
	}

	path := filepath.Join(dir, ManifestFile)
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal manifest: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write manifest: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("rename manifest: %w", err)
	}
	w.logger.Info("container written", "session", c.Session, "path", path, "signals", len(set.Labels), "videos", len(c.Videos))
	return path, nil
}

func (w *Writer) writeEDF(path string, set SignalSet, c *Container) (err error) {
	if len(set.Values) == 0 || set.Len() == 0 || set.Rate <= 0 {
		return ErrEmptySignals
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", DownsampledFile, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	info := RecordingInfo{Subject: c.Subject, Session: c.Session, Start: c.Start}
	if err := WriteEDF(f, set, info); err != nil {
		return fmt.Errorf("write %s: %w", DownsampledFile, err)
	}
	return nil
}

func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()
	_, err = io.Copy(out, in)
	return err
}

// ReadManifest loads a manifest written by Write.
func ReadManifest(path string) (*Container, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var c Container
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &c, nil
}
