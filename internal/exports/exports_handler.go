// SPDX-License-Identifier: AGPL-3.0-only
package exports

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/fluffyriot/fbtracker/internal/domain"
	"github.com/fluffyriot/fbtracker/internal/helpers"
	log "github.com/sirupsen/logrus"
)

type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

func WritePostsCSV(w io.Writer, posts []domain.Post) error {
	writer := csv.NewWriter(w)

	if err := writer.Write([]string{
		"id",
		"created_at",
		"source_kind",
		"source_id",
		"source_name",
		"author_id",
		"author_name",
		"message",
		"comment_count",
		"url",
	}); err != nil {
		return err
	}

	for _, p := range posts {
		createdAt := ""
		if !p.CreatedAt.IsZero() {
			createdAt = p.CreatedAt.UTC().Format(time.RFC3339)
		}

		link, err := helpers.ConvPostToURL(p.SourceKind, p.SourceID, p.ID)
		if err != nil {
			link = ""
		}

		record := []string{
			p.ID,
			createdAt,
			string(p.SourceKind),
			p.SourceID,
			p.SourceName,
			p.AuthorID,
			p.AuthorName,
			p.Message,
			strconv.Itoa(p.CommentCount),
			link,
		}

		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// SaveExportFile writes an export into dir and returns its path. Files are
// named export_id_<packageId>_<name>_<timestamp>.<ext>.
func SaveExportFile(dir, packageID, name string, format Format, write func(io.Writer) error) (string, error) {
	if format != FormatJSON && format != FormatCSV {
		return "", fmt.Errorf("unknown export format %q", format)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	filename := fmt.Sprintf("export_id_%s_%s_%s.%s",
		unsafeName.ReplaceAllString(packageID, "-"),
		unsafeName.ReplaceAllString(strings.TrimSpace(name), "-"),
		time.Now().Format("20060102_150405"),
		format,
	)
	path := filepath.Join(dir, filename)

	file, err := os.Create(path)
	if err != nil {
		return "", err
	}

	if err := write(file); err != nil {
		file.Close()
		os.Remove(path)
		log.Printf("Exports: Error writing %s: %v", filename, err)
		return "", err
	}

	if err := file.Close(); err != nil {
		return "", err
	}

	log.Printf("Exports: Saved %s", path)
	return path, nil
}

// DeleteExports removes the saved export files of one package.
func DeleteExports(dir, packageID string) (int, error) {
	pattern := filepath.Join(dir, "export_id_"+unsafeName.ReplaceAllString(packageID, "-")+"_*")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !os.IsNotExist(err) {
			log.Printf("Exports: Error deleting %s: %v", m, err)
			continue
		}
		removed++
	}
	return removed, nil
}
