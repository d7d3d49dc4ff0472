package agent

import (
	"bufio"
	"fmt"
	"io"

	"github.com/pkg/errors"
)

// Terminal is the scripted speaker: it prints the other side's last
// utterance and reads the reply from an input stream. Useful for local
// testing without a phone.
type Terminal struct {
	out     io.Writer
	scanner *bufio.Scanner
}

// NewTerminal reads replies from in and echoes prompts to out.
func NewTerminal(in io.Reader, out io.Writer) *Terminal {
	return &Terminal{
		out:     out,
		scanner: bufio.NewScanner(in),
	}
}

func (t *Terminal) Respond(transcript []string) (string, error) {
	if len(transcript) > 0 {
		fmt.Fprintln(t.out, transcript[len(transcript)-1])
	}
	fmt.Fprint(t.out, " response > ")
	if !t.scanner.Scan() {
		if err := t.scanner.Err(); err != nil {
			return "", errors.Wrap(err, "agent: read terminal input")
		}
		return "", ErrCallEnded
	}
	return t.scanner.Text(), nil
}
