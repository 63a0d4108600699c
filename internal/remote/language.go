package remote

import "strings"

// DefaultLanguage is the OCR language used when a document language is
// unknown.
const DefaultLanguage = "eng"

// ocrLanguages maps document language values (English names, native names
// and ISO 639-1 codes) to the provider's OCR language codes.
var ocrLanguages = map[string]string{
	"czech": "ces", "čeština": "ces", "cs": "ces",
	"english": "eng", "angličtina": "eng", "en": "eng",
	"german": "deu", "deutsch": "deu", "němčina": "deu", "de": "deu",
	"french": "fra", "français": "fra", "francouzština": "fra", "fr": "fra",
	"spanish": "spa", "español": "spa", "španělština": "spa", "es": "spa",
	"italian": "ita", "italiano": "ita", "italština": "ita", "it": "ita",
	"polish": "pol", "polski": "pol", "polština": "pol", "pl": "pol",
	"slovak": "slk", "slovenčina": "slk", "slovenština": "slk", "sk": "slk",
	"russian": "rus", "русский": "rus", "ruština": "rus", "ru": "rus",
	"portuguese": "por", "português": "por", "portugalština": "por", "pt": "por",
	"dutch": "nld", "nederlands": "nld", "nizozemština": "nld", "nl": "nld",
	"hungarian": "hun", "magyar": "hun", "maďarština": "hun", "hu": "hun",
	"ukrainian": "ukr", "українська": "ukr", "ukrajinština": "ukr", "uk": "ukr",
	"latin": "lat", "latina": "lat", "la": "lat",
}

// knownCodes are provider codes accepted verbatim.
var knownCodes = func() map[string]bool {
	m := make(map[string]bool)
	for _, code := range ocrLanguages {
		m[code] = true
	}
	return m
}()

// OCRLanguage returns the provider OCR language code for a document
// language, falling back to DefaultLanguage.
func OCRLanguage(language string) string {
	key := strings.ToLower(strings.TrimSpace(language))
	if key == "" {
		return DefaultLanguage
	}
	if knownCodes[key] {
		return key
	}
	if code, ok := ocrLanguages[key]; ok {
		return code
	}
	return DefaultLanguage
}
