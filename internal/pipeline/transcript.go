package pipeline

import (
	"sort"
	"strings"

	"github.com/logan676/mindscribe/internal/clinical"
	"github.com/logan676/mindscribe/internal/speech"
)

// TranscriptText flattens segments to "Therapist: ..." / "Client: ..." lines
// in start_time order, seq breaking ties. Blank segments are dropped.
func TranscriptText(segments []clinical.TranscriptSegment) string {
	if len(segments) == 0 {
		return ""
	}
	ordered := make([]clinical.TranscriptSegment, len(segments))
	copy(ordered, segments)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].StartTime != ordered[j].StartTime {
			return ordered[i].StartTime < ordered[j].StartTime
		}
		return ordered[i].Seq < ordered[j].Seq
	})

	var b strings.Builder
	for _, s := range ordered {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		label := "Client"
		if s.Speaker == clinical.SpeakerTherapist {
			label = "Therapist"
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(label)
		b.WriteString(": ")
		b.WriteString(text)
	}
	return b.String()
}

func segmentsFrom(utts []speech.Utterance) []clinical.TranscriptSegment {
	out := make([]clinical.TranscriptSegment, 0, len(utts))
	for _, u := range utts {
		sp := clinical.SpeakerClient
		if u.Role == speech.RoleTherapist {
			sp = clinical.SpeakerTherapist
		}
		out = append(out, clinical.TranscriptSegment{
			Speaker:    sp,
			Text:       u.Text,
			StartTime:  u.Start,
			EndTime:    u.End,
			Confidence: u.Confidence,
		})
	}
	return out
}
