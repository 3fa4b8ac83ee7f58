package game

import (
	"fmt"
	"strings"

	"github.com/pablobitw/goosegame/board"
	"github.com/pablobitw/goosegame/models"
	"github.com/pablobitw/goosegame/services"
)

func describeSkip(username string, left int) string {
	if left == 0 {
		return fmt.Sprintf("%s sits out this turn", username)
	}
	return fmt.Sprintf("%s sits out this turn (%d more to wait)", username, left)
}

func describeInactivity(username string) string {
	return fmt.Sprintf("%s loses the turn due to inactivity", username)
}

// describeRoll renders a move as text and appends the action markers the
// turn order and replay rely on.
func describeRoll(username string, d1, d2 int, out board.Outcome, lucky *services.LuckyReward) string {
	var b strings.Builder
	if d2 == 0 {
		fmt.Fprintf(&b, "%s rolled %d", username, d1)
	} else {
		fmt.Fprintf(&b, "%s rolled %d+%d", username, d1, d2)
	}

	landed := board.Bounce(out.Raw)
	if out.Raw > board.Goal {
		fmt.Fprintf(&b, ", overshot the goal and bounced back to %d", landed)
	} else {
		fmt.Fprintf(&b, " and moved from %d to %d", out.Start, landed)
	}

	for _, fx := range out.Effects {
		switch fx.Kind {
		case board.Finish:
			b.WriteString(", reached the goal and wins")
		case board.LuckyBox:
			b.WriteString(", opened a lucky box")
		case board.Goose:
			if fx.From == fx.To {
				fmt.Fprintf(&b, ", last goose at %d", fx.From)
			} else {
				fmt.Fprintf(&b, ", from goose to goose %d to %d", fx.From, fx.To)
			}
		case board.Bridge:
			fmt.Fprintf(&b, ", crossed the bridge from %d to %d", fx.From, fx.To)
		case board.Maze:
			fmt.Fprintf(&b, ", got lost in the maze and went back to %d", fx.To)
		case board.Skull:
			b.WriteString(", hit the skull and returns to the start")
		case board.Doubling:
			fmt.Fprintf(&b, ", landed on the dice and advanced to %d", fx.To)
		case board.Inn, board.Well, board.Prison:
			fmt.Fprintf(&b, ", stuck in the %s for %d turn(s)", fx.Kind, out.SkipTurns)
		}
	}

	if out.ExtraTurn {
		b.WriteString(" ")
		b.WriteString(models.MarkerExtraTurn)
	}
	if lucky != nil {
		b.WriteString(" ")
		b.WriteString(lucky.Tag())
	}
	return b.String()
}
