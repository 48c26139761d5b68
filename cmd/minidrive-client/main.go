// Command minidrive-client is the interactive shell around client.Client:
// it reads commands from stdin, renders prompts, and prints replies. The
// protocol mechanics (framing, the resume handshake, chunked transfer) all
// live in the client package; this file is just the terminal glue.
package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/gonzalop/minidrive/client"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: minidrive-client [user@]host:port")
		os.Exit(1)
	}

	user, addr, err := parseTarget(os.Args[1])
	if err != nil {
		fmt.Fprintln(os.Stderr, "minidrive-client:", err)
		os.Exit(1)
	}

	c, err := client.Dial(addr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "minidrive-client: connect:", err)
		os.Exit(2)
	}
	defer c.Close()

	stdin := bufio.NewReader(os.Stdin)
	prompter := &stdinPrompter{in: stdin}

	offer, err := c.Authenticate(user, prompter)
	if err != nil {
		fmt.Fprintln(os.Stderr, "minidrive-client: auth:", err)
		os.Exit(2)
	}
	if offer != nil {
		fmt.Printf("Resume upload of %s -> %s at byte %d? (y/n) ", offer.LocalPath, offer.RemotePath, offer.BytesCompleted)
		accept := prompter.readLine() == "y"
		if err := c.AcceptResume(accept); err != nil {
			fmt.Fprintln(os.Stderr, "minidrive-client:", err)
		}
		if accept {
			if _, err := c.ResumeUpload(offer.LocalPath, offer); err != nil {
				fmt.Fprintln(os.Stderr, "minidrive-client: resume:", err)
			}
		}
	}

	resumePendingDownloads(c, prompter)

	runShell(c, stdin)
}

// resumePendingDownloads consults this client's own local journal for
// downloads left unfinished by an earlier process, and offers to continue
// each one with RESUME.
func resumePendingDownloads(c *client.Client, prompter *stdinPrompter) {
	pending, err := c.PendingDownloads()
	if err != nil {
		fmt.Fprintln(os.Stderr, "minidrive-client: pending downloads:", err)
		return
	}
	for _, dl := range pending {
		fmt.Printf("Resume download %s -> %s at byte %d? (y/n) ", dl.RemotePath, dl.LocalPath, dl.BytesCompleted)
		if prompter.readLine() != "y" {
			if err := c.DiscardDownload(dl); err != nil {
				fmt.Fprintln(os.Stderr, "minidrive-client:", err)
			}
			continue
		}
		if err := c.ResumeDownload(dl.RemotePath, dl.BytesCompleted); err != nil {
			fmt.Fprintln(os.Stderr, "minidrive-client: resume download:", err)
		}
	}
}

// parseTarget splits "[user@]host:port" into its user (possibly empty) and
// address parts.
func parseTarget(target string) (user, addr string, err error) {
	if target == "" {
		return "", "", errors.New("empty target")
	}
	if i := strings.IndexByte(target, '@'); i >= 0 {
		user, addr = target[:i], target[i+1:]
	} else {
		addr = target
	}
	if !strings.Contains(addr, ":") {
		return "", "", fmt.Errorf("address %q must be host:port", addr)
	}
	return user, addr, nil
}

type stdinPrompter struct {
	in *bufio.Reader
}

func (p *stdinPrompter) Confirm(prompt string) bool {
	fmt.Print(prompt, " ")
	return p.readLine() == "y"
}

func (p *stdinPrompter) Password(prompt string) string {
	fmt.Print(prompt, " ")
	return p.readLine()
}

func (p *stdinPrompter) readLine() string {
	line, _ := p.in.ReadString('\n')
	return strings.TrimSpace(line)
}

// runShell reads one command per line until EXIT or EOF.
func runShell(c *client.Client, in *bufio.Reader) {
	for {
		fmt.Print("minidrive> ")
		line, err := in.ReadString('\n')
		if err != nil {
			return
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		verb := strings.ToUpper(fields[0])
		args := fields[1:]
		if err := dispatch(c, verb, args); err != nil {
			fmt.Println("error:", err)
		}
		if verb == "EXIT" {
			return
		}
	}
}

func dispatch(c *client.Client, verb string, args []string) error {
	switch verb {
	case "LIST":
		path := ""
		if len(args) > 0 {
			path = args[0]
		}
		body, err := c.List(path)
		if err != nil {
			return err
		}
		fmt.Println(body)
		return nil
	case "CD":
		return requireArgs(args, 1, func() error { return c.CD(args[0]) })
	case "MKDIR":
		return requireArgs(args, 1, func() error { return c.Mkdir(args[0]) })
	case "RMDIR":
		return requireArgs(args, 1, func() error { return c.Rmdir(args[0]) })
	case "DELETE":
		return requireArgs(args, 1, func() error { return c.Delete(args[0]) })
	case "MOVE":
		return requireArgs(args, 2, func() error { return c.Move(args[0], args[1]) })
	case "COPY":
		return requireArgs(args, 2, func() error { return c.Copy(args[0], args[1]) })
	case "UPLOAD":
		if len(args) < 1 {
			return errors.New("UPLOAD requires a local path")
		}
		remote := ""
		if len(args) > 1 {
			remote = args[1]
		}
		reply, err := c.Upload(args[0], remote)
		if err != nil {
			return err
		}
		fmt.Println(reply)
		return nil
	case "DOWNLOAD":
		return requireArgs(args, 1, func() error {
			local, err := c.Download(args[0])
			if err != nil {
				return err
			}
			fmt.Println("saved to", local)
			return nil
		})
	case "EXIT":
		return c.Exit()
	default:
		return fmt.Errorf("unknown command %q", verb)
	}
}

func requireArgs(args []string, n int, fn func() error) error {
	if len(args) < n {
		return fmt.Errorf("expected %d argument(s), got %d", n, len(args))
	}
	return fn()
}
