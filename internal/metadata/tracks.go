package metadata

import "strings"

// MediaInfo is the probed track layout of one media file. Track indexes are
// type-relative, matching ffmpeg's -map 0:v:N / 0:a:N / 0:s:N addressing.
type MediaInfo struct {
	DurationSeconds float64         `json:"duration_seconds"`
	Container       string          `json:"container"`
	Video           []VideoTrack    `json:"video"`
	Audio           []AudioTrack    `json:"audio"`
	Subtitles       []SubtitleTrack `json:"subtitles"`
}

// VideoTrack describes one video stream.
type VideoTrack struct {
	Index  int    `json:"index"`
	Codec  string `json:"codec"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// AudioTrack describes one audio stream.
type AudioTrack struct {
	Index    int    `json:"index"`
	Codec    string `json:"codec"`
	Language string `json:"language,omitempty"`
	Title    string `json:"title,omitempty"`
	Channels int    `json:"channels"`
	Default  bool   `json:"default"`
}

// SubtitleTrack describes one embedded subtitle stream.
type SubtitleTrack struct {
	Index    int    `json:"index"`
	Codec    string `json:"codec"`
	Language string `json:"language,omitempty"`
	Title    string `json:"title,omitempty"`
	Default  bool   `json:"default"`
}

// languageGroups maps every spelling of a language tag to one canonical
// form, so a request for "hu" matches a track tagged "hun" or "hungarian".
var languageGroups = map[string]string{
	"en": "en", "eng": "en", "english": "en",
	"hu": "hu", "hun": "hu", "hungarian": "hu",
	"de": "de", "ger": "de", "deu": "de", "german": "de",
	"fr": "fr", "fre": "fr", "fra": "fr", "french": "fr",
	"es": "es", "spa": "es", "spanish": "es",
	"it": "it", "ita": "it", "italian": "it",
	"ja": "ja", "jpn": "ja", "jap": "ja", "japanese": "ja",
	"ru": "ru", "rus": "ru", "russian": "ru",
	"pt": "pt", "por": "pt", "portuguese": "pt",
	"pl": "pl", "pol": "pl", "polish": "pl",
	"nl": "nl", "dut": "nl", "nld": "nl", "dutch": "nl",
	"ko": "ko", "kor": "ko", "korean": "ko",
	"zh": "zh", "chi": "zh", "zho": "zh", "chinese": "zh",
}

func canonicalLanguage(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if c, ok := languageGroups[tag]; ok {
		return c
	}
	return tag
}

// LanguageMatches reports whether two language tags name the same language,
// tolerating ISO 639-1/639-2 and full-name spellings.
func LanguageMatches(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return canonicalLanguage(a) == canonicalLanguage(b)
}

// SelectAudioTrack picks the audio track to play. A requested language wins
// if any track is tagged with it; otherwise the stream flagged default;
// otherwise the first track. Returns 0 when the file has no audio at all.
func SelectAudioTrack(tracks []AudioTrack, language string) int {
	if len(tracks) == 0 {
		return 0
	}
	if language != "" {
		for _, t := range tracks {
			if LanguageMatches(t.Language, language) {
				return t.Index
			}
		}
	}
	for _, t := range tracks {
		if t.Default {
			return t.Index
		}
	}
	return tracks[0].Index
}
