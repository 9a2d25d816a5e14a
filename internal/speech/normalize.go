package speech

type Role string

const (
	RoleTherapist Role = "therapist"
	RoleClient    Role = "client"
)

// Utterance is a provider turn mapped onto a clinical role. Times are seconds.
type Utterance struct {
	Role       Role
	Text       string
	Start      float64
	End        float64
	Confidence float64
}

// NormalizeUtterances maps the first speaker label seen to the therapist and
// every other label to the client, keeping provider order.
func NormalizeUtterances(t *Transcript) []Utterance {
	if t == nil || len(t.Utterances) == 0 {
		return []Utterance{}
	}
	first := t.Utterances[0].Speaker
	out := make([]Utterance, 0, len(t.Utterances))
	for _, u := range t.Utterances {
		role := RoleClient
		if u.Speaker == first {
			role = RoleTherapist
		}
		out = append(out, Utterance{
			Role:       role,
			Text:       u.Text,
			Start:      float64(u.Start) / 1000,
			End:        float64(u.End) / 1000,
			Confidence: u.Confidence,
		})
	}
	return out
}
