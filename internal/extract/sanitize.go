package extract

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Band embeds mentions as <band:refer user_no="...">name</band:refer>
// and similar namespaced tags inside comment bodies. They carry no order
// content and their text would pollute downstream parsing.
var referTagPattern = regexp.MustCompile(`(?s)<band:[a-z]+[^>]*>.*?</band:[a-z]+>`)

// CleanBody strips platform mention markup and any residual inline HTML
// from a comment or post body, returning collapsed plain text.
func CleanBody(raw string) string {
	stripped := referTagPattern.ReplaceAllString(raw, " ")

	text := stripped
	if strings.Contains(stripped, "<") {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(stripped))
		if err == nil {
			text = doc.Text()
		}
	}

	return strings.Join(strings.Fields(text), " ")
}
