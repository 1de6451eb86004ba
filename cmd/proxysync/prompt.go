package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/BadgerOps/proxysync/internal/target"
)

// readPassword reads a line from the terminal without echo.
var readPassword = term.ReadPassword

// prompter reads operator answers line by line. Secrets go through
// readSecret so they are never echoed when attached to a terminal.
type prompter struct {
	in         *bufio.Reader
	out        io.Writer
	readSecret func() (string, error)
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	p := &prompter{
		in:  bufio.NewReader(in),
		out: out,
	}
	p.readSecret = p.readLine

	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		p.readSecret = func() (string, error) {
			b, err := readPassword(int(f.Fd()))
			fmt.Fprintln(p.out)
			if err != nil {
				return "", err
			}
			return string(b), nil
		}
	}
	return p
}

// readLine returns the next line without its line ending. A final line
// without a newline is returned as is; io.EOF only when nothing was read.
func (p *prompter) readLine() (string, error) {
	line, err := p.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// ask prints label and returns the trimmed answer.
func (p *prompter) ask(label string) (string, error) {
	fmt.Fprint(p.out, label)
	line, err := p.readLine()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// askSecret prints label and reads an unechoed answer.
func (p *prompter) askSecret(label string) (string, error) {
	fmt.Fprint(p.out, label)
	return p.readSecret()
}

// askEndpoint fills in whatever fields of ep are still empty. An empty
// username answer means no credentials; otherwise the password follows.
func (p *prompter) askEndpoint(ep *target.Endpoint, askCredentials bool) error {
	var err error
	if ep.Host == "" {
		if ep.Host, err = p.ask("HTTP Proxy: "); err != nil {
			return err
		}
	}
	if ep.Port == "" {
		if ep.Port, err = p.ask("Port: "); err != nil {
			return err
		}
	}
	if !askCredentials {
		return nil
	}

	if ep.Username == "" {
		if ep.Username, err = p.ask("Username (empty for none): "); err != nil {
			return err
		}
		if ep.Username == "" {
			return nil
		}
	}
	if ep.Password == "" {
		pw, err := p.askSecret("Password: ")
		if err != nil {
			return err
		}
		ep.Password = target.Secret(pw)
	}
	return nil
}
