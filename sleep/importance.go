package sleep

import (
	"math"

	"github.com/mnemo-agent/mnemod/conversations"
)

// CalculateImportance scores one message for the importance-based strategy.
// Three additive components, each in [0,1]:
//   - recency: linear position in the conversation, newest scoring highest
//   - length: centered on a "substantial but not rambling" message, peaking
//     around 200 characters and decaying either side
//   - role: system carries the most weight, then tool, user, assistant
//
// The result is normalized back into [0,1].
func CalculateImportance(msg conversations.Message, position, total int) float64 {
	recency := 0.0
	if total > 1 {
		recency = float64(position) / float64(total-1)
	}

	const idealLength = 200.0
	length := float64(len(msg.Content))
	lengthScore := 1.0 - math.Min(math.Abs(length-idealLength)/idealLength, 1.0)

	var roleScore float64
	switch msg.Role {
	case "system":
		roleScore = 1.0
	case "tool":
		roleScore = 0.7
	case "user":
		roleScore = 0.5
	default: // assistant and anything unknown
		roleScore = 0.3
	}

	return (recency*0.4 + lengthScore*0.3 + roleScore*0.3)
}
