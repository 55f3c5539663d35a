package kb

import "fmt"

// parseDelimited parses comma-delimited text into rows of fields using
// a character-level state machine. Quoted fields may contain the
// delimiter and embedded newlines; a doubled quote inside a quoted
// field is an escaped literal quote. A split-on-comma approach breaks
// on all three, which is why this is hand-rolled.
func parseDelimited(data string) ([][]string, error) {
	const (
		stateFieldStart = iota // before the first character of a field
		stateUnquoted          // inside an unquoted field
		stateQuoted            // inside a quoted field
		stateQuoteEnd          // just consumed a quote inside a quoted field
	)

	var (
		rows  [][]string
		row   []string
		field []rune
		state = stateFieldStart
		line  = 1
	)

	endField := func() {
		row = append(row, string(field))
		field = field[:0]
		state = stateFieldStart
	}
	endRow := func() {
		endField()
		rows = append(rows, row)
		row = nil
	}

	for _, ch := range data {
		if ch == '\n' {
			line++
		}

		switch state {
		case stateFieldStart:
			switch ch {
			case '"':
				state = stateQuoted
			case ',':
				endField()
			case '\n':
				endRow()
			case '\r':
				// swallowed; the following '\n' ends the row
			default:
				field = append(field, ch)
				state = stateUnquoted
			}

		case stateUnquoted:
			switch ch {
			case ',':
				endField()
			case '\n':
				endRow()
			case '\r':
				// swallowed
			default:
				field = append(field, ch)
			}

		case stateQuoted:
			if ch == '"' {
				state = stateQuoteEnd
			} else {
				// Delimiters and newlines are literal inside quotes.
				field = append(field, ch)
			}

		case stateQuoteEnd:
			switch ch {
			case '"':
				// Doubled quote: one literal quote, still inside quotes.
				field = append(field, '"')
				state = stateQuoted
			case ',':
				endField()
			case '\n':
				endRow()
			case '\r':
				// swallowed
			default:
				return nil, fmt.Errorf("line %d: unexpected character %q after closing quote", line, ch)
			}
		}
	}

	switch state {
	case stateQuoted:
		return nil, fmt.Errorf("line %d: unterminated quoted field", line)
	case stateUnquoted, stateQuoteEnd:
		endRow()
	case stateFieldStart:
		// A trailing comma leaves a pending empty field on the row.
		if len(row) > 0 {
			endRow()
		}
	}

	return rows, nil
}
