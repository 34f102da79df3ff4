package speech

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	numberBaseTen      = 10
	numberBaseTwenty   = 20
	numberBaseHundred  = 100
	numberBaseThousand = 1000
	// maxNumberForWords is the largest integer spelled out; larger ones are read digit by digit by the engine.
	maxNumberForWords = 999999
)

var (
	numberPattern     = regexp.MustCompile(`\d+`)
	whitespacePattern = regexp.MustCompile(`\s+`)
	// repeatedMarks collapses "!!!" and "?!?!" style runs to their first mark.
	repeatedMarks = regexp.MustCompile(`([!?])[!?]+`)
	// longEllipsis keeps a trailing-off pause at three dots.
	longEllipsis = regexp.MustCompile(`\.{4,}`)
)

var abbreviationReplacer = strings.NewReplacer(
	"Mr.", "Mister",
	"Mrs.", "Misses",
	"Ms.", "Miss",
	"Dr.", "Doctor",
	"St.", "Saint",
	"Prof.", "Professor",
	"Sgt.", "Sergeant",
	"Capt.", "Captain",
)

var quoteReplacer = strings.NewReplacer(
	"—", " - ",
	"–", "-",
	"‒", "-",
	"…", "...",
	"“", `"`, "”", `"`,
	"‘", "'", "’", "'",
)

// Normalize prepares a dialogue line for the engine: it expands common
// abbreviations, spells out integers, straightens quotes and dashes, collapses
// whitespace and repeated marks, and ends the line with sentence punctuation.
// It returns "" when nothing speakable remains.
func Normalize(text string) string {
	text = abbreviationReplacer.Replace(text)
	text = quoteReplacer.Replace(text)
	text = numberPattern.ReplaceAllStringFunc(text, func(digits string) string {
		number, err := strconv.Atoi(digits)
		if err != nil {
			return digits
		}

		return integerToWords(number)
	})
	text = repeatedMarks.ReplaceAllString(text, "$1")
	text = longEllipsis.ReplaceAllString(text, "...")
	text = strings.TrimSpace(whitespacePattern.ReplaceAllString(text, " "))

	if !hasSpeakable(text) {
		return ""
	}

	return ensureSentenceEnding(text)
}

func hasSpeakable(text string) bool {
	for _, char := range text {
		if unicode.IsLetter(char) || unicode.IsDigit(char) {
			return true
		}
	}

	return false
}

func ensureSentenceEnding(text string) string {
	lastChar, _ := utf8.DecodeLastRuneInString(text)

	switch lastChar {
	case '.', '!', '?':
		return text
	case '"', '\'':
		return text
	default:
		return text + "."
	}
}

var (
	ones = []string{
		"", "one", "two", "three", "four", "five",
		"six", "seven", "eight", "nine",
	}
	teens = []string{
		"ten", "eleven", "twelve", "thirteen", "fourteen",
		"fifteen", "sixteen", "seventeen", "eighteen", "nineteen",
	}
	tens = []string{
		"", "", "twenty", "thirty", "forty", "fifty",
		"sixty", "seventy", "eighty", "ninety",
	}
)

// integerToWords spells out 0..999999 in English.
func integerToWords(number int) string {
	if number < 0 || number > maxNumberForWords {
		return strconv.Itoa(number)
	}

	if number == 0 {
		return "zero"
	}

	var parts []string

	if thousands := number / numberBaseThousand; thousands > 0 {
		parts = append(parts, underThousand(thousands), "thousand")
	}

	if rest := number % numberBaseThousand; rest > 0 {
		parts = append(parts, underThousand(rest))
	}

	return strings.Join(parts, " ")
}

func underThousand(number int) string {
	var parts []string

	if hundreds := number / numberBaseHundred; hundreds > 0 {
		parts = append(parts, ones[hundreds], "hundred")
	}

	if rest := number % numberBaseHundred; rest > 0 {
		parts = append(parts, underHundred(rest))
	}

	return strings.Join(parts, " ")
}

func underHundred(number int) string {
	switch {
	case number < numberBaseTen:
		return ones[number]
	case number < numberBaseTwenty:
		return teens[number-numberBaseTen]
	case number%numberBaseTen == 0:
		return tens[number/numberBaseTen]
	default:
		return tens[number/numberBaseTen] + "-" + ones[number%numberBaseTen]
	}
}
