package library

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dhowden/tag"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/gopxl/beep/v2/flac"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/rs/zerolog"
)

var audioExtensions = map[string]bool{
	".mp3":  true,
	".flac": true,
}

// Importer builds local library items from folders of audio files.
// Each immediate subfolder of the scanned root becomes one item; its audio
// files, sorted by name, become the item's tracks, and per-file boundaries
// become chapters.
type Importer struct {
	log zerolog.Logger
}

// NewImporter creates an importer.
func NewImporter(log zerolog.Logger) *Importer {
	return &Importer{log: log.With().Str("component", "library").Logger()}
}

// Scan imports every item folder under root.
// Folders without audio files are skipped; unreadable files fail the scan.
func (im *Importer) Scan(root string) ([]*Item, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}

	var items []*Item
	var totalSize int64

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(root, entry.Name())
		item, size, err := im.importFolder(dir)
		if err != nil {
			return nil, err
		}
		if item == nil {
			continue
		}
		items = append(items, item)
		totalSize += size
	}

	im.log.Info().
		Int("items", len(items)).
		Str("size", humanize.Bytes(uint64(totalSize))).
		Str("root", root).
		Msg("library scan complete")

	return items, nil
}

// importFolder builds one item from a folder, or returns nil if the folder
// holds no audio files.
func (im *Importer) importFolder(dir string) (*Item, int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, 0, fmt.Errorf("read %s: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if audioExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, 0, nil
	}
	sort.Strings(files)

	item := &Item{
		ID:      uuid.NewString(),
		Title:   filepath.Base(dir),
		AddedAt: time.Now(),
	}

	var size int64
	var offset time.Duration

	for i, path := range files {
		meta, dur, fileSize, err := readAudioFile(path)
		if err != nil {
			return nil, 0, fmt.Errorf("import %s: %w", path, err)
		}
		size += fileSize

		// Book title and author come from the first tagged file
		if i == 0 && meta != nil {
			if meta.Album() != "" {
				item.Title = meta.Album()
			} else if meta.Title() != "" {
				item.Title = meta.Title()
			}
			item.Author = meta.Artist()
		}

		item.Tracks = append(item.Tracks, Track{
			Index:    i,
			Path:     path,
			Duration: dur,
		})

		chapterTitle := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		if meta != nil && meta.Title() != "" {
			chapterTitle = meta.Title()
		}
		item.Chapters = append(item.Chapters, Chapter{
			Start: offset,
			End:   offset + dur,
			Title: chapterTitle,
		})
		offset += dur
	}

	item.Duration = offset

	im.log.Debug().
		Str("title", item.Title).
		Int("tracks", len(item.Tracks)).
		Dur("duration", item.Duration).
		Msg("imported item")

	return item, size, nil
}

// readAudioFile returns the file's tags (nil when untagged), audio duration
// and byte size.
func readAudioFile(path string) (tag.Metadata, time.Duration, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, 0, 0, err
	}

	meta, err := tag.ReadFrom(f)
	if err != nil {
		// Untagged files are fine, we fall back to filenames
		meta = nil
	}

	if _, err := f.Seek(0, 0); err != nil {
		return nil, 0, 0, err
	}

	dur, err := decodeDuration(f, strings.ToLower(filepath.Ext(path)))
	if err != nil {
		return nil, 0, 0, err
	}

	return meta, dur, info.Size(), nil
}

func decodeDuration(f *os.File, ext string) (time.Duration, error) {
	switch ext {
	case ".mp3":
		streamer, format, err := mp3.Decode(f)
		if err != nil {
			return 0, err
		}
		defer streamer.Close()
		return format.SampleRate.D(streamer.Len()), nil
	case ".flac":
		streamer, format, err := flac.Decode(f)
		if err != nil {
			return 0, err
		}
		defer streamer.Close()
		return format.SampleRate.D(streamer.Len()), nil
	default:
		return 0, fmt.Errorf("unsupported format: %s", ext)
	}
}
