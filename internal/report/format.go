package report

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var (
	supported = []language.Tag{language.English, language.French}
	matcher   = language.NewMatcher(supported)
)

// Formatter renders averages for display. This is the only place where
// averages are rounded.
type Formatter struct {
	tag     language.Tag
	printer *message.Printer
}

// NewFormatter picks the best supported language for an Accept-Language
// header value. Unknown or empty input falls back to English.
func NewFormatter(acceptLanguage string) Formatter {
	tag, _ := language.MatchStrings(matcher, acceptLanguage)
	base, _ := tag.Base()
	tag = language.Make(base.String())
	return Formatter{tag: tag, printer: message.NewPrinter(tag)}
}

// Language returns the tag used for formatting.
func (f Formatter) Language() language.Tag {
	if f.printer == nil {
		return language.English
	}
	return f.tag
}

// p returns the printer, treating the zero Formatter as English.
func (f Formatter) p() *message.Printer {
	if f.printer == nil {
		return message.NewPrinter(language.English)
	}
	return f.printer
}

// Average formats a score with two decimals, e.g. "12.35" or "12,35".
func (f Formatter) Average(v float64) string {
	return f.p().Sprintf("%.2f", v)
}

// Percent formats a completion percentage with one decimal.
func (f Formatter) Percent(v float64) string {
	return f.p().Sprintf("%.1f%%", v)
}

// OutOf formats an average on the 20-point scale, e.g. "12.35 / 20".
func (f Formatter) OutOf(v float64) string {
	return f.p().Sprintf("%.2f / %d", v, 20)
}
