package annotate

import (
	"fmt"

	"github.com/menta2k/visual-dictionary/pkg/types"
)

// SinglePrompt asks for a free-form answer in one language
func SinglePrompt(p types.NormalizedPoint, language string) string {
	return fmt.Sprintf("What is at %s? Answer in %s, names in %s.", p, language, language)
}

// DualPrompt asks for the object name in two languages plus its box, as JSON only
func DualPrompt(p types.NormalizedPoint, langs types.Languages) string {
	return fmt.Sprintf(`Analyze the object at %s.
Provide the result in two languages:
- "textFrom": Name in %s
- "textTo": Name in %s
- "bbox": [ymin, xmin, ymax, xmax] (0-1000 scaled).
Respond ONLY with the JSON object.`, p, langs.From, langs.To)
}
