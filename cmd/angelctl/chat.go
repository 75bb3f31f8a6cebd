package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ashureev/angel-console/internal/angel"
	"github.com/ashureev/angel-console/internal/venture"
)

const replHelp = `Type your answer and press enter. Commands:
  :approve        approve the business plan summary
  :revisit        rework the business plan
  :plan           show the written business plan
  :upload <file>  answer the business plan questions from a document
  :roadmap        show the roadmap
  :edit <file>    replace the roadmap with a file
  :implement      move from roadmap to implementation
  :start          start implementation
  :task           refresh the current task
  :done           complete the current task
  :quit           leave`

// replCommand is one parsed input line. An empty name means a blank line.
type replCommand struct {
	name string
	arg  string
}

func parseLine(line string) replCommand {
	line = strings.TrimSpace(line)
	if line == "" {
		return replCommand{}
	}
	if !strings.HasPrefix(line, ":") {
		return replCommand{name: "answer", arg: line}
	}
	name, arg, _ := strings.Cut(line[1:], " ")
	return replCommand{name: strings.ToLower(name), arg: strings.TrimSpace(arg)}
}

// runREPL drives m from line input until EOF, :quit, or the session ends.
func runREPL(ctx context.Context, m *venture.Machine, in io.Reader, out io.Writer) error {
	renderView(out, m.View())

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}

		cmd := parseLine(scanner.Text())
		switch cmd.name {
		case "":
			continue
		case "quit", "q", "exit":
			return nil
		case "help", "h":
			fmt.Fprintln(out, replHelp)
			continue
		}

		view, err := dispatch(ctx, m, cmd)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if angel.IsUnauthorized(err) {
				return err
			}
			reportError(out, err)
			continue
		}
		if cmd.name == "plan" {
			fmt.Fprintf(out, "\n%s\n", view.BusinessPlan)
			continue
		}
		renderView(out, view)
	}
}

func dispatch(ctx context.Context, m *venture.Machine, cmd replCommand) (venture.View, error) {
	switch cmd.name {
	case "answer":
		return m.Submit(ctx, cmd.arg)
	case "approve":
		return m.Approve(ctx)
	case "revisit":
		return m.Revisit(ctx)
	case "plan":
		return m.GeneratePlan(ctx)
	case "upload":
		if cmd.arg == "" {
			return venture.View{}, errors.New("usage: :upload <file>")
		}
		f, err := os.Open(cmd.arg)
		if err != nil {
			return venture.View{}, fmt.Errorf("open business plan: %w", err)
		}
		defer f.Close()
		return m.UploadBusinessPlan(ctx, filepath.Base(cmd.arg), f)
	case "roadmap":
		return m.GenerateRoadmap(ctx)
	case "edit":
		if cmd.arg == "" {
			return venture.View{}, errors.New("usage: :edit <file>")
		}
		content, err := os.ReadFile(cmd.arg)
		if err != nil {
			return venture.View{}, fmt.Errorf("read roadmap: %w", err)
		}
		return m.EditRoadmap(ctx, string(content))
	case "implement":
		return m.RequestImplementation(ctx)
	case "start":
		return m.StartImplementation(ctx)
	case "task":
		return m.CurrentTask(ctx)
	case "done":
		task := m.View().Task
		if task == nil {
			return venture.View{}, errors.New("there is no current task")
		}
		return m.CompleteTask(ctx, task.ID)
	default:
		return venture.View{}, fmt.Errorf("unknown command :%s (try :help)", cmd.name)
	}
}

// reportError prints local failures. Backend failures were already printed
// by the notifier.
func reportError(out io.Writer, err error) {
	var submitErr *venture.SubmitError
	if errors.As(err, &submitErr) && submitErr.Answer != "" {
		if angel.KindOf(err) == "" {
			fmt.Fprintf(out, "! %v\n", submitErr.Err)
		}
		fmt.Fprintf(out, "  Your answer was not sent: %s\n", submitErr.Answer)
		return
	}
	if angel.KindOf(err) == "" {
		fmt.Fprintf(out, "! %v\n", err)
	}
}
