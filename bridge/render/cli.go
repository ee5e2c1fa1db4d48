package render

import "github.com/takopi/takopi/bridge/event"

// RenderEventCLI renders one event as plain-text lines for a terminal
// (rather than the bounded progress frames ExecProgressRenderer builds for
// Telegram). last is the previously rendered event, if any; it is threaded
// through so callers can fold a whole stream with a single running value,
// and is returned updated to evt.
func RenderEventCLI(evt event.TakopiEvent, last *event.TakopiEvent) (*event.TakopiEvent, []string) {
	var lines []string

	switch evt.Kind {
	case event.KindSessionStarted:
		lines = append(lines, string(evt.Engine))

	case event.KindAction:
		switch evt.Phase {
		case event.PhaseStarted:
			lines = append(lines, formatActionLine(evt.Action, actionSymbolStarted, false, false, 0))
		case event.PhaseUpdated:
			lines = append(lines, formatActionLine(evt.Action, actionSymbolUpdated, false, false, 0))
		case event.PhaseCompleted:
			lines = append(lines, formatActionLine(evt.Action, symbolFor(evt.OK), evt.OK, true, 0))
		}

	case event.KindCompleted:
		if evt.OK {
			lines = append(lines, evt.Answer)
		} else {
			lines = append(lines, "✗ "+evt.Error)
		}
	}

	next := evt
	return &next, lines
}
