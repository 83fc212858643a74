package domain

import "fmt"

type (
	LoopID    string
	LoopState string
)

const (
	LoopTalk    LoopState = "send"
	LoopMonitor LoopState = "recv"
	LoopNone    LoopState = "none"
)

func ParseLoopState(s string) (LoopState, error) {
	switch LoopState(s) {
	case LoopTalk, LoopMonitor, LoopNone:
		return LoopState(s), nil
	}
	return "", fmt.Errorf("unknown loop state %q", s)
}

// Loop is an audio channel as granted to the authorized role.
type Loop struct {
	ID           LoopID    `json:"id"`
	Name         string    `json:"name,omitempty"`
	State        LoopState `json:"state,omitempty"`
	Volume       int       `json:"volume,omitempty"`
	Participants []string  `json:"participants,omitempty"`
}

// ParseLoops decodes the role_loops payload, a map keyed by loop id.
func ParseLoops(raw any) []Loop {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	out := make([]Loop, 0, len(m))
	for _, id := range sortedKeys(m) {
		l := Loop{ID: LoopID(id), State: LoopNone}
		if v, ok := m[id].(map[string]any); ok {
			l.Name, _ = v["name"].(string)
			if s, ok := v["state"].(string); ok {
				if st, err := ParseLoopState(s); err == nil {
					l.State = st
				}
			}
			if vol, ok := v["volume"].(float64); ok {
				l.Volume = int(vol)
			}
			if ps, ok := v["participants"].([]any); ok {
				for _, p := range ps {
					if s, ok := p.(string); ok {
						l.Participants = append(l.Participants, s)
					}
				}
			}
		}
		out = append(out, l)
	}
	return out
}
