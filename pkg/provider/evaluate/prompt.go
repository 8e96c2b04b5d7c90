package evaluate

import (
	"fmt"
	"strings"
)

// SystemInstruction is the fixed examiner persona shared by all providers.
const SystemInstruction = `You are an experienced oral examiner for language learners.
You listen to a recorded spoken answer and assess it fairly and constructively.
Score each criterion from 0 to 100. Write feedback addressed to the learner,
in the language they practised, with concrete examples from the recording.
Answer with a single JSON object and nothing else.`

// Instruction builds the user-turn instruction that accompanies the audio.
func Instruction(req Request) string {
	var b strings.Builder
	lang := req.Language
	if lang == "" {
		lang = "the language spoken in the recording"
	}
	fmt.Fprintf(&b, "The learner practised %s.\n", lang)

	switch {
	case req.Topic != "":
		fmt.Fprintf(&b, "The assigned topic was: %q.\n", req.Topic)
	case len(req.Candidates) > 0:
		b.WriteString("The learner chose one of these topics:\n")
		for _, c := range req.Candidates {
			fmt.Fprintf(&b, "- %s\n", c)
		}
		b.WriteString("Report the chosen topic verbatim from this list in \"topic\".\n")
	default:
		b.WriteString("The topic was free. Summarise it in a few words in \"topic\".\n")
	}

	if t := strings.TrimSpace(req.Transcript); t != "" {
		fmt.Fprintf(&b, "A rough live caption of the recording, which may contain errors:\n%s\n", t)
	}

	b.WriteString(`Return JSON with this shape:
{"topic": string,
 "scores": {"fluency": int, "vocabulary": int, "grammar": int, "coherence": int, "relevance": int},
 "overall": int,
 "feedback": {"fluency": string, "vocabulary": string, "grammar": string, "coherence": string,
              "relevance": string, "pronunciation": string, "summary": string, "transcription": string}}
"transcription" is your verbatim transcript of the recording.`)
	return b.String()
}
