package host

import "golang.org/x/text/language"

// matchLanguage picks the supported locale closest to the caller's
// preferences. Tags that do not parse are skipped.
func (e *Engine) matchLanguage(preferred []string) language.Tag {
	tags := make([]language.Tag, 0, len(preferred))
	for _, p := range preferred {
		if tag, err := language.Parse(p); err == nil {
			tags = append(tags, tag)
		}
	}
	if len(tags) == 0 {
		return e.supported[0]
	}
	_, index, _ := e.matcher.Match(tags...)
	return e.supported[index]
}
