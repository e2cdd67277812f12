package analyzer

import (
	"math"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/nao1215/politecrawl/internal/model"
)

// WordsPerMinute is the reading speed used for ReadingTime.
const WordsPerMinute = 200

var positiveWords = map[string]struct{}{
	"good": {}, "great": {}, "excellent": {}, "best": {}, "love": {}, "happy": {},
	"amazing": {}, "awesome": {}, "wonderful": {}, "fantastic": {}, "positive": {},
	"success": {}, "easy": {}, "helpful": {}, "useful": {}, "free": {}, "fast": {},
	"reliable": {}, "secure": {}, "improve": {}, "improved": {}, "benefit": {},
}

var negativeWords = map[string]struct{}{
	"bad": {}, "worst": {}, "terrible": {}, "awful": {}, "hate": {}, "sad": {},
	"poor": {}, "negative": {}, "fail": {}, "failed": {}, "failure": {}, "error": {},
	"broken": {}, "slow": {}, "difficult": {}, "problem": {}, "problems": {},
	"bug": {}, "risk": {}, "wrong": {}, "issue": {}, "issues": {},
}

// Words splits text into lower-cased words after NFKC normalization.
func Words(text string) []string {
	text = norm.NFKC.String(text)
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '\'' && r != '-'
	})
}

// Metrics computes word count, reading time and sentiment of text.
func Metrics(text string) model.Analysis {
	words := Words(text)
	return model.Analysis{
		WordCount:   len(words),
		ReadingTime: ReadingTime(len(words)),
		Sentiment:   Sentiment(words),
	}
}

// ReadingTime returns the reading time in seconds, rounded up.
func ReadingTime(words int) int {
	if words <= 0 {
		return 0
	}
	return int(math.Ceil(float64(words) * 60 / WordsPerMinute))
}

// Sentiment scores words against a small lexicon. The result is
// (positive-negative)/(positive+negative), or 0 when no word matches.
func Sentiment(words []string) float64 {
	var pos, neg int
	for _, w := range words {
		if _, ok := positiveWords[w]; ok {
			pos++
		}
		if _, ok := negativeWords[w]; ok {
			neg++
		}
	}
	if pos+neg == 0 {
		return 0
	}
	score := float64(pos-neg) / float64(pos+neg)
	return math.Round(score*100) / 100
}

// Quality scores a page from 0 to 100 on text length, metadata and
// structure.
func Quality(r model.AnalysisResult, links int) int {
	score := 0

	switch wc := r.Analysis.WordCount; {
	case wc >= 1000:
		score += 40
	case wc >= 300:
		score += 30
	case wc >= 100:
		score += 20
	case wc > 0:
		score += 10
	}

	if r.Metadata.Title != "" {
		score += 15
	}
	if r.Metadata.Description != "" {
		score += 15
	}
	if len(r.ExtractedData.Headings) > 0 {
		score += 10
	}
	if r.Metadata.Language != "" {
		score += 5
	}
	if links > 0 {
		score += 10
	}
	if r.Metadata.Author != "" {
		score += 5
	}

	return min(score, 100)
}
