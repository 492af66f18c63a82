package signal

import (
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/cases"
)

// Ordered mode rules. The first match wins; short tokens carry word
// boundaries so "new" never matches inside "news" or "renew".
var modeRules = []struct {
	mode Mode
	re   *regexp.Regexp
}{
	{ModeBuild, regexp.MustCompile(`\b(build|create|generate|scaffold|new)\b`)},
	{ModeExecute, regexp.MustCompile(`\b(run|execute|send|trigger|sync|import|export)\b`)},
	{ModeAnalyze, regexp.MustCompile(`\b(analyze|analyse|report|dashboard|metrics|trend|kpi)\b`)},
	{ModeMaintain, regexp.MustCompile(`\b(fix|update|migrate|backup|restore|upgrade|rollback)\b`)},
}

// Ordered genre rules. DIRECT also matches a trailing exclamation mark.
var genreRules = []struct {
	genre Genre
	re    *regexp.Regexp
}{
	{GenreDirect, regexp.MustCompile(`\b(please|do|run|make|send|create)\b`)},
	{GenreCommit, regexp.MustCompile(`\b(i will|i'll|let me|i promise|i commit)\b`)},
	{GenreDecide, regexp.MustCompile(`\b(approve|reject|cancel|confirm|decide|set)\b`)},
	{GenreExpress, regexp.MustCompile(`\b(thanks|love|hate|great|terrible|wow)\b`)},
}

var typeRules = []struct {
	name string
	re   *regexp.Regexp
}{
	{"question", regexp.MustCompile(`\?|\b(what|who|when|where|why|how|which)\b`)},
	{"issue", regexp.MustCompile(`\b(error|bug|broken|fail|failed|crash)\b`)},
	{"scheduling", regexp.MustCompile(`\b(remind|schedule|later|tomorrow)\b`)},
	{"summary", regexp.MustCompile(`\b(summarize|summarise|summary|brief|recap)\b`)},
}

var (
	urgentRe = regexp.MustCompile(`\b(urgent|asap|critical|emergency|immediately|now)\b`)
	noiseRe  = regexp.MustCompile(`\b(hi|ok|okay|hey|sure|thanks|lol|haha|hello)\b`)
)

// channelFormats maps a channel tag to its container format.
var channelFormats = map[string]Format{
	"cli":        FormatCommand,
	"command":    FormatCommand,
	"webhook":    FormatNotification,
	"cron":       FormatNotification,
	"email":      FormatDocument,
	"document":   FormatDocument,
	"voice":      FormatTranscript,
	"transcript": FormatTranscript,
}

// Classifier maps raw text plus a channel tag to a Signal. Classification is
// pure: the same (text, channel) pair always yields the same Signal.
type Classifier struct {
	caser cases.Caser
	now   func() time.Time
}

func NewClassifier() *Classifier {
	return &Classifier{caser: cases.Fold(), now: time.Now}
}

// Classify runs the deterministic rule pipeline. It never calls out of
// process and completes in well under a millisecond.
func (c *Classifier) Classify(raw, channel string) Signal {
	format := FormatMessage
	if f, ok := channelFormats[channel]; ok {
		format = f
	}

	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Signal{
			Mode:      ModeAssist,
			Genre:     GenreInform,
			Type:      "general",
			Format:    FormatMessage,
			Weight:    0.2,
			RawText:   raw,
			Channel:   channel,
			Timestamp: c.now().UTC(),
		}
	}

	// Unicode case folding keeps matching consistent with the rule tables.
	folded := c.caser.String(trimmed)

	sig := Signal{
		Mode:      ModeAssist,
		Genre:     GenreInform,
		Type:      "general",
		Format:    format,
		RawText:   raw,
		Channel:   channel,
		Timestamp: c.now().UTC(),
	}

	for _, r := range modeRules {
		if r.re.MatchString(folded) {
			sig.Mode = r.mode
			break
		}
	}

	if strings.HasSuffix(folded, "!") {
		sig.Genre = GenreDirect
	} else {
		for _, r := range genreRules {
			if r.re.MatchString(folded) {
				sig.Genre = r.genre
				break
			}
		}
	}

	for _, r := range typeRules {
		if r.re.MatchString(folded) {
			sig.Type = r.name
			break
		}
	}

	sig.Weight = weigh(folded)
	return sig
}

// weigh implements the informational-density formula:
// 0.5 + min(len/500, 0.2) + 0.15·[has '?'] + 0.20·[urgent] − 0.30·[noise],
// clamped to [0, 1].
func weigh(folded string) float64 {
	w := 0.5

	length := float64(utf8.RuneCountInString(folded)) / 500
	if length > 0.2 {
		length = 0.2
	}
	w += length

	if strings.Contains(folded, "?") {
		w += 0.15
	}
	if urgentRe.MatchString(folded) {
		w += 0.20
	}
	if noiseRe.MatchString(folded) {
		w -= 0.30
	}

	if w < 0 {
		w = 0
	}
	if w > 1 {
		w = 1
	}
	return w
}
