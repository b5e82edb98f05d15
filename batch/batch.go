// Package batch reads prompt files: one generation per line, written like a
// command line.
//
//	# comments and blank lines are ignored
//	--model sora-2-pro --size 1792x1024 --seconds 12 "a lighthouse in a storm"
//	-s 720x1280 a cat riding a skateboard
package batch

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/shlex"
	"github.com/spf13/pflag"

	"soraq/pricing"
	"soraq/queue"
)

var ErrNoPrompt = errors.New("line has no prompt")

// Defaults fill in whatever a line leaves out.
type Defaults struct {
	Model   pricing.Tier
	Size    string
	Seconds int
}

// Line is one parsed generation. ReferencePath is as written in the file.
type Line struct {
	Number        int
	Request       queue.Request
	ReferencePath string
}

// SplitLine splits a line into words without involving a shell. Quoting
// follows POSIX rules and '#' starts a comment.
func SplitLine(line string) ([]string, error) {
	args, err := shlex.Split(line)
	if err != nil {
		return nil, fmt.Errorf("invalid line syntax: %w", err)
	}
	return args, nil
}

// ParseLine turns one line into a request. ok is false for blank and
// comment-only lines.
func ParseLine(line string, d Defaults) (Line, bool, error) {
	args, err := SplitLine(line)
	if err != nil {
		return Line{}, false, err
	}
	if len(args) == 0 {
		return Line{}, false, nil
	}

	fs := pflag.NewFlagSet("line", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	model := fs.StringP("model", "m", string(d.Model), "")
	size := fs.StringP("size", "s", d.Size, "")
	seconds := fs.IntP("seconds", "d", d.Seconds, "")
	ref := fs.StringP("reference", "r", "", "")
	refVideo := fs.String("reference-video", "", "")
	if err := fs.Parse(args); err != nil {
		return Line{}, false, err
	}

	prompt := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if prompt == "" {
		return Line{}, false, ErrNoPrompt
	}
	tier := pricing.Tier(*model)
	if !pricing.ValidTier(tier) {
		return Line{}, false, fmt.Errorf("%w: %q", queue.ErrInvalidModel, *model)
	}
	if !pricing.ValidSize(*size) {
		return Line{}, false, fmt.Errorf("%w: %q", queue.ErrInvalidSize, *size)
	}
	if !pricing.ValidDuration(*seconds) {
		return Line{}, false, fmt.Errorf("%w: %d", queue.ErrInvalidDuration, *seconds)
	}

	return Line{
		Request: queue.Request{
			Prompt:           prompt,
			Model:            tier,
			Size:             *size,
			Seconds:          *seconds,
			ReferenceVideoID: *refVideo,
		},
		ReferencePath: *ref,
	}, true, nil
}

// Parse reads a whole prompt file. The first bad line stops parsing.
func Parse(r io.Reader, d Defaults) ([]Line, error) {
	var out []Line
	sc := bufio.NewScanner(r)
	n := 0
	for sc.Scan() {
		n++
		l, ok, err := ParseLine(sc.Text(), d)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n, err)
		}
		if !ok {
			continue
		}
		l.Number = n
		out = append(out, l)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
