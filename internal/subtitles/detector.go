package subtitles

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ExternalSubtitle is a sidecar .srt file found next to a media file.
type ExternalSubtitle struct {
	Path     string `json:"path"`
	Language string `json:"language,omitempty"`
	Title    string `json:"title"`
}

// DiscoverExternal finds sidecar .srt files for a media file. A sidecar
// matches when its name starts with the media file's base name; an extra
// extension before .srt is read as a language tag ("movie.hu.srt"). Results
// are sorted by file name for stable listing order.
func DiscoverExternal(mediaPath string) []ExternalSubtitle {
	dir := filepath.Dir(mediaPath)
	base := strings.TrimSuffix(filepath.Base(mediaPath), filepath.Ext(mediaPath))

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var found []ExternalSubtitle
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.EqualFold(filepath.Ext(name), ".srt") {
			continue
		}
		stem := strings.TrimSuffix(name, filepath.Ext(name))
		if !strings.HasPrefix(stem, base) {
			continue
		}

		sub := ExternalSubtitle{
			Path:  filepath.Join(dir, name),
			Title: name,
		}
		// "movie.hu.srt" -> language "hu"; "movie.srt" -> no language.
		if rest := strings.TrimPrefix(stem, base); strings.HasPrefix(rest, ".") {
			sub.Language = strings.ToLower(strings.TrimPrefix(rest, "."))
		}
		found = append(found, sub)
	}

	sort.Slice(found, func(i, j int) bool { return found[i].Path < found[j].Path })
	return found
}

// ReadExternal loads a sidecar subtitle file and parses it, tolerating
// Latin-1 encoded files.
func ReadExternal(path string) ([]Segment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseSRT(data), nil
}
