package agent

import (
	"regexp"
	"strconv"
	"strings"

	"pdf-qa/internal/models"
)

var (
	questionHeaderRe    = regexp.MustCompile(models.QuestionHeaderRegex)
	questionDelimiterRe = regexp.MustCompile(models.QuestionDelimiterRegex)
	numberedQuestionRe  = regexp.MustCompile(models.NumberedQuestionRegex)
)

// buildQuestionMap extracts numbered entries such as "3. What is X?" from
// text. A body runs until the next line that starts a numbered entry, or the
// end of the text; later duplicates of a number win.
func buildQuestionMap(text string) map[int]string {
	questions := make(map[int]string)
	pos := 0
	for pos < len(text) {
		loc := questionHeaderRe.FindStringSubmatchIndex(text[pos:])
		if loc == nil {
			break
		}
		number, err := strconv.Atoi(text[pos+loc[2] : pos+loc[3]])
		bodyStart := pos + loc[1]
		if bodyStart >= len(text) {
			break
		}

		// the body is at least one character long
		end := len(text)
		if d := questionDelimiterRe.FindStringIndex(text[bodyStart+1:]); d != nil {
			end = bodyStart + 1 + d[0]
		}
		if err == nil {
			body := strings.TrimSpace(text[bodyStart:end])
			questions[number] = strings.ReplaceAll(body, "\n", " ")
		}
		pos = end
	}
	return questions
}

// questionNumber reports the number in inputs like "5 question".
func questionNumber(input string) (int, bool) {
	m := numberedQuestionRe.FindStringSubmatch(strings.ToLower(strings.TrimSpace(input)))
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}
